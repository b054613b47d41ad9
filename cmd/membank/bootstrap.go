package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/memorybank"
	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create the database schema, default namespace, and built-in block schemas",
	Long: `Prepare a fresh backend for use. Creates the block, link, namespace,
schema, and proof tables, registers the built-in block-type schemas,
and seeds the default namespace. Safe to run repeatedly; existing
objects are left alone.`,
	RunE: runBootstrap,
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if err := setupLogging(); err != nil {
		return err
	}
	defer logging.Close()

	fmt.Println("🏗️  MemoryBank Bootstrap")
	fmt.Println(strings.Repeat("═", 50))

	fmt.Printf("\nBackend: %s:%d/%s\n", cfg.Backend.Host, cfg.Backend.Port, cfg.Backend.Database)

	logger.WithField("dsn", fmt.Sprintf("%s:%d", cfg.Backend.Host, cfg.Backend.Port)).Debug("connecting")
	bank, err := memorybank.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer bank.Close(context.Background())

	if err := bank.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	fmt.Printf("\n✅ Tables, built-in schemas, and the %q namespace are in place.\n", cfg.Namespace.Default)
	fmt.Printf("   Active branch: %s\n", bank.ActiveBranch())
	fmt.Println("\nNext: membank serve")
	return nil
}
