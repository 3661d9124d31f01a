package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"cartsync/internal/config"
)

func TestGet_NamesByCategory(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	set := FromLogger(zap.New(core), config.LoggingConfig{})

	set.Get(CategoryLedger).Info("claim added")
	set.Get(CategoryNotion).Debug("query")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "ledger", entries[0].LoggerName)
	assert.Equal(t, "notion", entries[1].LoggerName)
}

func TestGet_DisabledCategoryIsSilent(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	set := FromLogger(zap.New(core), config.LoggingConfig{
		Categories: map[string]bool{"browser": false},
	})

	set.Get(CategoryBrowser).Error("should not appear")
	set.Get(CategoryIntake).Info("visible")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "visible", logs.All()[0].Message)
}

func TestGet_Cached(t *testing.T) {
	set := NewNop()
	assert.Same(t, set.Get(CategoryBoot), set.Get(CategoryBoot))
}

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartsync.log")
	set, err := New(config.LoggingConfig{Level: "warn", Format: "json", File: path}, false)
	require.NoError(t, err)

	set.Get(CategoryOrchestrator).Info("dropped by level")
	set.Get(CategoryOrchestrator).Warn("kept")
	_ = set.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `"kept"`)
	assert.Contains(t, out, `"orchestrator"`)
	assert.False(t, strings.Contains(out, "dropped by level"))
}

func TestNew_VerboseForcesDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cartsync.log")
	set, err := New(config.LoggingConfig{Level: "error", Format: "json", File: path}, true)
	require.NoError(t, err)

	set.Root().Debug("debug line")
	_ = set.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug line")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty"}, false)
	assert.Error(t, err)
}

func TestTimer_StopWithThreshold(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	timer := StartTimer(logger, "query")
	timer.start = time.Now().Add(-time.Second)
	elapsed := timer.StopWithThreshold(10 * time.Millisecond)

	assert.GreaterOrEqual(t, elapsed, time.Second)
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	StartTimer(logger, "fast").StopWithThreshold(time.Hour)
	assert.Equal(t, 1, logs.FilterMessage("fast completed").Len())
}
