package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/memorybank"
	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the semantic index from the active branch",
	Long: `Drop the vector set for the active branch and re-embed every live
block from the SQL tables. Use after switching embedding models, after
restoring a backup, or when link-mirror sync warnings have piled up.`,
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().String("branch", "", "check out this branch before rebuilding")
	reindexCmd.Flags().String("namespace", "", "restrict the rebuild to one namespace")
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if err := setupLogging(); err != nil {
		return err
	}
	defer logging.Close()

	branch, _ := cmd.Flags().GetString("branch")
	namespace, _ := cmd.Flags().GetString("namespace")

	bank, err := memorybank.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer bank.Close(context.Background())

	if branch != "" {
		if _, err := bank.Checkout(ctx, branch); err != nil {
			return fmt.Errorf("failed to check out %q: %w", branch, err)
		}
		logger.WithField("branch", branch).Debug("checked out for rebuild")
	}

	scope := "all namespaces"
	if namespace != "" {
		scope = fmt.Sprintf("namespace %q", namespace)
	}
	fmt.Printf("🔄 Rebuilding index for branch %s (%s)...\n", bank.ActiveBranch(), scope)

	start := time.Now()
	count, err := bank.RebuildIndex(ctx, namespace)
	if err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}

	fmt.Printf("✅ Indexed %d blocks in %s\n", count, time.Since(start).Round(time.Millisecond))
	return nil
}
