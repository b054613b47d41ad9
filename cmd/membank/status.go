package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/memorybank"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"health"},
	Short:   "Show backend health, active branch, and index freshness",
	RunE:    runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if err := setupLogging(); err != nil {
		return err
	}
	defer logging.Close()

	fmt.Println("🔍 MemoryBank Status")
	fmt.Println(strings.Repeat("═", 50))

	fmt.Printf("\n📋 Configuration:\n")
	fmt.Printf("  Backend: %s:%d/%s\n", cfg.Backend.Host, cfg.Backend.Port, cfg.Backend.Database)
	fmt.Printf("  Default branch: %s\n", cfg.Branch.Default)
	if len(cfg.Branch.Protected) > 0 {
		fmt.Printf("  Protected branches: %s\n", strings.Join(cfg.Branch.Protected, ", "))
	}
	fmt.Printf("  Embedding provider: %s\n", cfg.Index.Provider)

	bank, err := memorybank.New(ctx, cfg)
	if err != nil {
		fmt.Printf("\n💾 Backend: ❌ unreachable (%v)\n", err)
		return nil
	}
	defer bank.Close(context.Background())

	report := bank.Health(ctx)

	fmt.Printf("\n💾 Backend:\n")
	if report.Backend.Healthy {
		fmt.Printf("  Status: ✅ healthy\n")
	} else {
		fmt.Printf("  Status: ❌ %s\n", report.Backend.Error)
	}
	fmt.Printf("  Active branch: %s", report.ActiveBranch)
	if report.Backend.Dirty {
		fmt.Printf(" (uncommitted changes)")
	}
	fmt.Println()
	fmt.Printf("  Sessions: %d\n", report.Backend.Sessions)

	fmt.Printf("\n🧭 Semantic index:\n")
	if report.Index == nil {
		fmt.Printf("  Status: ⚠️  unavailable\n")
	} else {
		fmt.Printf("  Vectors: %d (branch %s)\n", report.Index.Vectors, report.Index.Branch)
		fmt.Printf("  Provider: %s", report.Index.Provider)
		if report.Index.Model != "" {
			fmt.Printf(" (%s)", report.Index.Model)
		}
		fmt.Println()
		if report.Index.GraphEnabled {
			fmt.Printf("  Graph mirror: enabled\n")
		}
	}
	if report.IndexLag != nil && *report.IndexLag > 0 {
		fmt.Printf("  Pending repairs: %d commits behind\n", *report.IndexLag)
	}

	printOverall(report)
	return nil
}

func printOverall(report memorybank.HealthReport) {
	fmt.Println()
	if report.Healthy {
		fmt.Println("✅ Ready")
	} else {
		fmt.Println("❌ Not ready")
	}
}
