package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rohankatakam/memorybank/internal/logging"
	"github.com/rohankatakam/memorybank/internal/mcp"
	"github.com/rohankatakam/memorybank/internal/memorybank"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP tool server on stdin/stdout",
	Long: `Serve the memory bank to an MCP client over stdio. Stdout carries
protocol frames only; logs go to the configured log file (and stderr
with --verbose).

Run 'membank bootstrap' once before the first serve to create the
database schema and the default namespace.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := setupLogging(); err != nil {
		return err
	}
	defer logging.Close()
	logger := logging.Component("serve")

	bank, err := memorybank.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}
	defer bank.Close(context.Background())

	if err := bank.EnsureReady(ctx); err != nil {
		return fmt.Errorf("backend not ready (run 'membank bootstrap'?): %w", err)
	}
	bank.Start()

	handler := mcp.NewHandler(
		mcp.BuildCatalog(bank),
		mcp.ServerInfo{Name: "membank", Version: Version},
		bank.DefaultDeadline(),
	)

	logger.Info("mcp server ready",
		"branch", bank.ActiveBranch(),
		"version", Version)
	fmt.Fprintf(os.Stderr, "MemoryBank MCP server ready (branch: %s)\n", bank.ActiveBranch())

	if err := mcp.NewStdioTransport(handler).Serve(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("transport failed: %w", err)
	}
	logger.Info("mcp server stopped")
	return nil
}

// setupLogging installs the file logger. Stdout is never a log target here;
// it belongs to the protocol.
func setupLogging() error {
	return logging.Setup(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Console:    cfg.Log.Console,
	})
}
