package readiness

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"cartsync/internal/clock"
)

type scripted struct {
	replies []reply
	calls   int
}

type reply struct {
	ready bool
	err   error
}

func (s *scripted) Probe(context.Context) (bool, error) {
	i := s.calls
	s.calls++
	if i < len(s.replies) {
		return s.replies[i].ready, s.replies[i].err
	}
	return false, ErrNotListening
}

var start = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAwaitReady_ExhaustsAttempts(t *testing.T) {
	for _, n := range []int{1, 2, 30} {
		t.Run(fmt.Sprintf("attempts=%d", n), func(t *testing.T) {
			clk := clock.NewManual(start)
			p := &scripted{}

			ok := NewGate(clk, nil).AwaitReady(context.Background(), p, n, 500*time.Millisecond)

			assert.False(t, ok)
			assert.Equal(t, n, p.calls)
			sleeps := clk.Sleeps()
			assert.Len(t, sleeps, n-1)
			for _, d := range sleeps {
				assert.Equal(t, 500*time.Millisecond, d)
			}
		})
	}
}

func TestAwaitReady_FirstReadyWins(t *testing.T) {
	clk := clock.NewManual(start)
	p := &scripted{replies: []reply{
		{err: ErrNotListening},
		{ready: false},
		{err: errors.New("execution context destroyed")},
		{ready: true},
	}}

	ok := NewGate(clk, nil).AwaitReady(context.Background(), p, 30, 500*time.Millisecond)

	assert.True(t, ok)
	assert.Equal(t, 4, p.calls)
	assert.Len(t, clk.Sleeps(), 3)
	assert.Equal(t, start.Add(1500*time.Millisecond), clk.Now())
}

func TestAwaitReady_SurfaceGoneStopsImmediately(t *testing.T) {
	clk := clock.NewManual(start)
	p := &scripted{replies: []reply{
		{err: ErrNotListening},
		{err: fmt.Errorf("probe: %w", ErrSurfaceGone)},
	}}

	ok := NewGate(clk, nil).AwaitReady(context.Background(), p, 30, 500*time.Millisecond)

	assert.False(t, ok)
	assert.Equal(t, 2, p.calls)
	assert.Len(t, clk.Sleeps(), 1)
}

func TestAwaitReady_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &scripted{}
	ok := NewGate(clock.NewManual(start), nil).AwaitReady(ctx, p, 30, time.Second)

	assert.False(t, ok)
	assert.Zero(t, p.calls)
}

func TestAwaitReady_CancelDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := ProberFunc(func(context.Context) (bool, error) {
		cancel()
		return false, nil
	})

	ok := NewGate(clock.New(), nil).AwaitReady(ctx, p, 30, time.Hour)
	assert.False(t, ok)
}
