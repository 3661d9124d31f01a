// Package logging provides categorized zap loggers for cartsync.
// Each subsystem logs through a named child of one root logger; categories
// switched off in the settings get a no-op logger.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cartsync/internal/config"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup, settings, shutdown
	CategoryOrchestrator Category = "orchestrator" // Sync cycles and per-task state machine
	CategoryLedger       Category = "ledger"       // Claim persistence
	CategoryNotion       Category = "notion"       // Task store requests
	CategoryBrowser      Category = "browser"      // Target surface lifecycle
	CategoryIntake       Category = "intake"       // Inbound events
	CategoryConfig       Category = "config"       // Settings reloads
)

// Set holds the root logger and hands out per-category children.
type Set struct {
	root *zap.Logger
	cfg  config.LoggingConfig

	mu    sync.Mutex
	named map[Category]*zap.Logger
}

// New builds the root logger from the logging settings. verbose forces the
// debug level regardless of the configured one.
func New(cfg config.LoggingConfig, verbose bool) (*Set, error) {
	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.DisableStacktrace = true

	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	if cfg.File != "" {
		zc.OutputPaths = []string{cfg.File}
		zc.ErrorOutputPaths = []string{cfg.File}
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	root, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return FromLogger(root, cfg), nil
}

// FromLogger wraps an existing logger. Used by tests with zaptest/observer.
func FromLogger(root *zap.Logger, cfg config.LoggingConfig) *Set {
	return &Set{root: root, cfg: cfg, named: make(map[Category]*zap.Logger)}
}

// NewNop returns a Set where every category discards its output.
func NewNop() *Set {
	return FromLogger(zap.NewNop(), config.LoggingConfig{})
}

// Root returns the uncategorized logger.
func (s *Set) Root() *zap.Logger {
	return s.root
}

// Get returns the logger for a category.
func (s *Set) Get(category Category) *zap.Logger {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.named[category]; ok {
		return l
	}
	l := zap.NewNop()
	if s.cfg.IsCategoryEnabled(string(category)) {
		l = s.root.Named(string(category))
	}
	s.named[category] = l
	return l
}

// Sync flushes buffered entries.
func (s *Set) Sync() error {
	return s.root.Sync()
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Timer helps measure operation duration
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer begins timing an operation
func StartTimer(logger *zap.Logger, operation string) *Timer {
	return &Timer{logger: logger, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn(t.op+" was slow",
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", threshold))
	} else {
		t.logger.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
