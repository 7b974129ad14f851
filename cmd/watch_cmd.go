package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/clawsync/internal/config"
	"github.com/nextlevelbuilder/clawsync/internal/history"
	"github.com/nextlevelbuilder/clawsync/internal/service"
	"github.com/nextlevelbuilder/clawsync/internal/syncer"
)

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the sync daemon (interval, cron and file-change triggers)",
		Run: func(cmd *cobra.Command, args []string) {
			runWatch()
		},
	}
}

func runWatch() {
	cfgPath := resolveConfigPath()
	cfg := loadConfigOrExit()
	mgr := newManager(cfg)
	ctx := context.Background()

	if err := mgr.Init(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	hist, err := history.NewStore(cfg.HistoryDBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening history store: %v\n", err)
		os.Exit(1)
	}
	defer hist.Close()

	// Config hot reload swaps the manager under a lock; the service
	// keeps its trigger schedule from startup.
	var mu sync.Mutex
	current := mgr

	svc := service.New(service.Config{
		Workspace:   cfg.Workspace,
		Interval:    cfg.WatchInterval(),
		CronExpr:    cfg.Watch.Expr,
		OnChange:    cfg.Watch.OnChange,
		Debounce:    cfg.WatchDebounce(),
		HistoryKeep: cfg.HistoryKeepCount(),
	}, func(ctx context.Context) syncer.Result {
		mu.Lock()
		m := current
		mu.Unlock()
		return m.Sync(ctx, "")
	}, hist)

	if err := svc.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting sync service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Stop()

	watcher, err := config.NewWatcher(cfgPath)
	if err == nil {
		watcher.OnChange(func(newCfg *config.SyncConfig) {
			mu.Lock()
			current = newManager(newCfg)
			mu.Unlock()
			slog.Info("sync manager reloaded", "workspace", newCfg.Workspace)
		})
		if err := watcher.Start(); err != nil {
			slog.Warn("config watcher unavailable", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	// SIGHUP forces an immediate sync; SIGINT/SIGTERM shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	slog.Info("clawsync watching", "workspace", cfg.Workspace)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			slog.Info("SIGHUP received, triggering sync")
			svc.TriggerNow()
			continue
		}
		slog.Info("shutting down", "signal", sig.String())
		return
	}
}
