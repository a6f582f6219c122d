package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wtdbg/wtdbg/internal/config"
	"github.com/wtdbg/wtdbg/internal/control"
	"github.com/wtdbg/wtdbg/internal/debugmanager"
	"github.com/wtdbg/wtdbg/internal/eventlog"
	"github.com/wtdbg/wtdbg/internal/logger"
)

func serveCmd() *cobra.Command {
	var eventlogPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the control API server and idle reaper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), eventlogPath)
		},
	}
	cmd.Flags().StringVar(&eventlogPath, "eventlog", "", "path to the sqlite audit-trail database (disabled if empty)")
	return cmd
}

func runServe(ctx context.Context, eventlogPath string) error {
	path := configPath
	if path == "" {
		path = config.ResolvePath()
	}
	watcher, err := config.NewWatcher(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defer watcher.Close()

	settings := watcher.Get()
	if err := logger.Init(settings.LogLevel, settings.LogFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	var evlog *eventlog.Store
	if eventlogPath != "" {
		evlog, err = eventlog.Open(eventlogPath)
		if err != nil {
			return fmt.Errorf("open eventlog: %w", err)
		}
		defer evlog.Close()
	}

	mgr := debugmanager.New(settings.IdleTimeout, settings.StalePauseRetries, settings.MaxOneShotSlots)
	srv := control.NewServer(watcher, mgr, evlog)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		logger.Info("serve: signal received, disconnecting all sessions")
		mgr.DisconnectAll()
		cancel()
	}()

	go mgr.RunReaper(runCtx, settings.ReaperInterval)

	logger.Info("serve: listening", "addr", settings.ListenAddr)
	return srv.ListenAndServe(runCtx)
}
