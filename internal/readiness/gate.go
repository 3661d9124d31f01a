// Package readiness waits for the companion script in an opened page to start
// answering probes.
package readiness

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"cartsync/internal/clock"
)

var (
	// ErrNotListening means no companion script answered yet. Keep polling.
	ErrNotListening = errors.New("readiness: no listener in page")
	// ErrSurfaceGone means the page can no longer become ready: the target
	// closed, navigated to an error page or was moved to the back/forward cache.
	ErrSurfaceGone = errors.New("readiness: surface gone")
)

// Prober asks the page once whether it is ready.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) (bool, error)

func (f ProberFunc) Probe(ctx context.Context) (bool, error) { return f(ctx) }

// Gate polls a Prober on an injected clock.
type Gate struct {
	clock  clock.Clock
	logger *zap.Logger
}

// NewGate creates a gate.
func NewGate(clk clock.Clock, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{clock: clk, logger: logger}
}

// AwaitReady probes up to maxAttempts times with interval between probes and
// reports whether the page became ready. It never sleeps after the last probe.
func (g *Gate) AwaitReady(ctx context.Context, p Prober, maxAttempts int, interval time.Duration) bool {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}

		ready, err := p.Probe(ctx)
		switch {
		case err == nil && ready:
			g.logger.Debug("surface ready", zap.Int("attempt", attempt))
			return true
		case errors.Is(err, ErrSurfaceGone):
			g.logger.Info("surface gone while waiting for readiness",
				zap.Int("attempt", attempt), zap.Error(err))
			return false
		case err != nil && !errors.Is(err, ErrNotListening):
			g.logger.Debug("readiness probe failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		if attempt == maxAttempts {
			break
		}
		if err := g.clock.Sleep(ctx, interval); err != nil {
			return false
		}
	}

	g.logger.Info("surface not ready", zap.Int("attempts", maxAttempts))
	return false
}
