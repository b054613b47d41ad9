package main

import (
	"context"
	"fmt"

	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/memorybank"
	"github.com/spf13/cobra"
)

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List branches with their head commits",
	RunE:  runBranches,
}

func runBranches(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if err := setupLogging(); err != nil {
		return err
	}
	defer logging.Close()

	bank, err := memorybank.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer bank.Close(context.Background())

	branches, err := bank.Branches(ctx)
	if err != nil {
		return fmt.Errorf("failed to list branches: %w", err)
	}

	for _, br := range branches {
		marker := "  "
		if br.Active {
			marker = "* "
		}
		hash := br.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Printf("%s%-30s %s\n", marker, br.Name, hash)
	}
	return nil
}
