package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cartsync/internal/config"
	"cartsync/internal/intake"
	"cartsync/internal/logging"
)

// runCmd runs the agent until interrupted
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync agent",
	Long: `Starts Chrome (or attaches to browser.debugger_url), then checks Notion
shortly after start and every sync.interval after that. Changes to the
settings file apply without a restart.

With intake.listen_addr set, the agent also accepts events on
POST /events and reports its state on GET /status.`,
	RunE: runAgent,
}

// onceCmd runs a single cycle
var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run one sync cycle and exit",
	Long: `Processes every pending task once, waits for scheduled completions and
page closes, then exits. Auto-sync is ignored.`,
	RunE: runOnce,
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.HasCredentials() {
		logger.Warn("Notion credentials are not set; cycles are skipped until the settings file provides them",
			zap.String("config", configPath))
	}

	a, err := newAgent(cfg, logs)
	if err != nil {
		return err
	}
	defer a.shutdown()

	// The browser outlives ctx so timers can still close their pages while
	// draining.
	if err := a.browser.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	watcher, err := config.NewWatcher(configPath, a.reload, logs.Get(logging.CategoryConfig))
	if err != nil {
		return fmt.Errorf("failed to watch settings: %w", err)
	}
	defer watcher.Stop()

	g, gctx := errgroup.WithContext(ctx)
	if err := watcher.Start(gctx); err != nil {
		logger.Warn("settings hot reload disabled", zap.Error(err))
	}

	g.Go(func() error {
		return a.orch.Run(gctx)
	})

	if addr := cfg.Intake.ListenAddr; addr != "" {
		srv := intake.NewServer(addr, a.registry, a.status, logs.Get(logging.CategoryIntake))
		g.Go(func() error {
			return srv.ListenAndServe(gctx)
		})
	}

	logger.Info("cartsync running",
		zap.Bool("auto_sync", cfg.Sync.AutoSync),
		zap.String("interval", cfg.Sync.Interval),
		zap.String("ledger", cfg.Ledger.Path))

	err = g.Wait()
	logger.Info("shutting down", zap.Int("pending_timers", a.orch.PendingTimers()))
	return err
}

func runOnce(cmd *cobra.Command, args []string) error {
	if !cfg.HasCredentials() {
		return fmt.Errorf("notion credentials are not set (edit %s or set NOTION_API_KEY and NOTION_DATABASE_ID)", configPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a, err := newAgent(cfg, logs)
	if err != nil {
		return err
	}
	defer a.shutdown()

	if err := a.browser.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}

	report, err := a.orch.RunCycle(ctx)
	if err != nil {
		return err
	}
	a.orch.Wait()

	printReport(cmd.OutOrStdout(), report, a.orch.Totals())
	return nil
}
