package browser

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cartsync/internal/config"
	"cartsync/internal/readiness"
	"cartsync/internal/types"
)

func TestIsTargetGone(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("{-32000 No target with given id found }"), true},
		{errors.New("Target closed"), true},
		{errors.New("Execution context was destroyed."), false},
		{errors.New("context deadline exceeded"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isTargetGone(tt.err), "%v", tt.err)
	}
}

func TestManager_NotStarted(t *testing.T) {
	m := NewManager(Options{Browser: config.DefaultConfig().Browser}, nil)
	ctx := context.Background()

	_, err := m.Open(ctx, "https://example.com")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, m.IsConnected())
	require.NoError(t, m.Shutdown(ctx))
}

func TestManager_UnknownSurface(t *testing.T) {
	m := NewManager(Options{}, nil)
	ctx := context.Background()

	_, err := m.Probe(ctx, "missing")
	assert.ErrorIs(t, err, readiness.ErrSurfaceGone)

	_, err = m.PerformAction(ctx, "missing", types.Task{ID: "t"})
	assert.ErrorIs(t, err, ErrInjection)

	assert.ErrorIs(t, m.AwaitLoadComplete(ctx, "missing"), ErrUnknown)

	_, err = m.Inspect(ctx, "missing")
	assert.ErrorIs(t, err, ErrUnknown)

	_, err = m.Evaluate(ctx, "missing", "() => 1")
	assert.ErrorIs(t, err, ErrUnknown)

	assert.Empty(t, m.ControlURL(), "not started")

	// Closing twice is harmless.
	m.Close("missing")
	m.Close("missing")
	assert.Empty(t, m.Surfaces())
}
