package orchestrator

import (
	"context"

	"go.uber.org/zap"
)

// Run performs a first cycle after the startup delay and then one cycle per
// interval until ctx is cancelled. Settings updates re-arm the interval.
// Cycles are skipped while auto-sync is off or credentials are missing.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.clock.Sleep(ctx, o.Settings().Timings.StartupDelay); err != nil {
		return nil
	}
	o.tick(ctx)

	for {
		reloaded, done := o.waitInterval(ctx)
		if done {
			return nil
		}
		if reloaded {
			continue
		}
		o.tick(ctx)
	}
}

func (o *Orchestrator) tick(ctx context.Context) {
	s := o.Settings()
	switch {
	case !s.AutoSync:
		o.logger.Debug("auto sync disabled, skipping cycle")
	case !s.HasCredentials:
		o.logger.Debug("notion credentials missing, skipping cycle")
	default:
		// Failures are logged inside RunCycle; the next tick retries.
		_, _ = o.RunCycle(ctx)
	}
}

// waitInterval sleeps for the configured interval. It returns early with
// reloaded set when settings change. An interval that elapsed is never
// reported as reloaded; the new settings apply to the next wait.
func (o *Orchestrator) waitInterval(ctx context.Context) (reloaded, done bool) {
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	woke := make(chan struct{})
	go func() {
		defer close(woke)
		select {
		case <-o.reload:
			reloaded = true
			cancel()
		case <-waitCtx.Done():
		}
	}()

	err := o.clock.Sleep(waitCtx, o.Settings().Timings.Interval)
	cancel()
	<-woke

	if ctx.Err() != nil {
		return false, true
	}
	if err == nil {
		return false, false
	}
	if reloaded {
		o.logger.Debug("sync timer re-armed", zap.Duration("interval", o.Settings().Timings.Interval))
	}
	return reloaded, false
}
