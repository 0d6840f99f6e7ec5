package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/convostore"
	"github.com/kanbeast/kanbeast/internal/hub"
	"github.com/kanbeast/kanbeast/internal/llm"
	"github.com/kanbeast/kanbeast/internal/orchestrator"
	"github.com/kanbeast/kanbeast/internal/settings"
)

func buildRunCmd() *cobra.Command {
	var (
		configPath string
		ticketID   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Planner loop for one ticket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTicket(cmd.Context(), configPath, ticketID)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVarP(&ticketID, "ticket", "t", "", "Ticket id to drive (required)")
	cmd.MarkFlagRequired("ticket")
	return cmd
}

// runTicket loads ticketID from the shared board directory and drives
// its Planning conversation. The board service here is a
// second in-process instance over the same on-disk directory the
// server uses (persistence is file-per-ticket, not a client/server
// protocol), so board mutations made by this process land on disk
// immediately and are picked up by the server's own Service on its
// next read of that ticket. Live UI broadcast of those mutations is a
// server-side concern: this process has no Broadcaster wired in, only
// a hub.Client for the control-plane signals the driver actually needs.
func runTicket(ctx context.Context, configPath, ticketID string) error {
	cfg, err := settings.Load(configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	boardSvc, err := board.NewService(cfg.Workspace.BoardDir, nil, slog.Default())
	if err != nil {
		return fmt.Errorf("open board service: %w", err)
	}
	ticket := boardSvc.Get(ticketID)
	if ticket == nil {
		return fmt.Errorf("unknown ticket %q", ticketID)
	}

	store, err := convostore.New(cfg.Workspace.ConvoStoreDir)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}

	registry := llm.NewRegistry(cfg.LLM)

	hubClient, err := hub.Dial(ctx, cfg.Orchestrator.HubURL, ticketID)
	if err != nil {
		return fmt.Errorf("dial hub: %w", err)
	}
	defer hubClient.Close()

	prompts := orchestrator.FilePromptLoader{Dir: cfg.Workspace.PromptsDir}
	if err := orchestrator.WatchPrompts(ctx, cfg.Workspace.PromptsDir, slog.Default()); err != nil {
		slog.Warn("prompt watcher disabled", "error", err)
	}

	o := orchestrator.New(boardSvc, store, registry, prompts, hubClient, cfg.Workspace.ClonesDir, slog.Default())
	o.DefaultStrategy = cfg.Orchestrator.Strategy()
	o.MaxIterations = cfg.Orchestrator.MaxIterations
	o.DispatchConcurrency = cfg.Orchestrator.DispatchConcurrency
	o.CompactionThreshold = cfg.Orchestrator.CompactionThreshold

	if err := boardSvc.UpdateStatus(ticketID, board.StatusActive); err != nil {
		slog.Warn("ticket already active or not eligible", "ticket", ticketID, "error", err)
	}

	summary, err := o.RunPlanner(ctx, ticket)
	if err != nil {
		boardSvc.AppendActivity(ticketID, "Worker: planner failed: %v", err)
		_ = boardSvc.UpdateStatus(ticketID, board.StatusFailed)
		return err
	}

	boardSvc.AppendActivity(ticketID, "Worker: planner completed: %s", summary)
	return boardSvc.UpdateStatus(ticketID, board.StatusDone)
}
