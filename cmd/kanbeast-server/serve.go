package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanbeast/kanbeast/internal/api"
	"github.com/kanbeast/kanbeast/internal/board"
	"github.com/kanbeast/kanbeast/internal/convostore"
	"github.com/kanbeast/kanbeast/internal/hub"
	"github.com/kanbeast/kanbeast/internal/maintenance"
	"github.com/kanbeast/kanbeast/internal/settings"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the board API, hub, and watchdog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := settings.Load(configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	heartbeats := board.NewHeartbeatStore()
	hubSrv := hub.NewServer(heartbeats, slog.Default())

	boardSvc, err := board.NewService(cfg.Workspace.BoardDir, hubSrv, slog.Default())
	if err != nil {
		return fmt.Errorf("open board service: %w", err)
	}

	watchdog := board.NewWatchdog(boardSvc, heartbeats, slog.Default())
	go watchdog.Run(ctx)

	convoStore, err := convostore.New(cfg.Workspace.ConvoStoreDir)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}
	maintSched := maintenance.NewScheduler(boardSvc, convoStore, cfg.Workspace.ClonesDir, slog.Default())
	maintSched.Start()
	defer maintSched.Stop()

	apiSrv := api.New(boardSvc, slog.Default())
	mux := http.NewServeMux()
	apiSrv.Mount(mux)
	mux.Handle("/ws", hubSrv)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("kanbeast-server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down kanbeast-server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
