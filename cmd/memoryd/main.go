// Package main provides the CLI entry point for the claude-mem memory
// daemon: a local background process that turns Claude Code tool events
// into durable, queryable session observations.
//
// # Basic Usage
//
// Start the daemon:
//
//	memoryd serve
//
// Check daemon status:
//
//	memoryd status
//
// Inspect the pending-message queue:
//
//	memoryd queue
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/clmem/memoryd/internal/health"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "memoryd",
		Short: "claude-mem memory daemon",
		Long: `memoryd is a local background process that watches Claude Code tool
events, summarizes them into durable session observations through an LLM
provider, and serves them back over a loopback-only HTTP API.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
		buildQueueCmd(),
		buildVersionCmd(),
	)

	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build and protocol version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "memoryd %s (commit: %s, built: %s, protocol: %s)\n",
				version, commit, date, health.Version)
			return nil
		},
	}
}
