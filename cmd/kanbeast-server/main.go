// Package main is the kanbeast-server entry point: the board service,
// its HTTP API (internal/api), the ticket watchdog, and the hub's
// server-side websocket endpoint (internal/hub), all in one process.
// Workers connect to it over the hub but run as separate processes
// (see cmd/kanbeast-worker).
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "kanbeast-server",
		Short:        "Run the KanBeast board service, API, and hub",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
