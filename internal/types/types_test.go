package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskLocator(t *testing.T) {
	const base = "https://www.amazon.co.jp/dp/"

	tests := []struct {
		name   string
		task   Task
		want   string
		wantOK bool
	}{
		{"direct url wins", Task{URL: "https://example.com/item", ASIN: "B000000001"}, "https://example.com/item", true},
		{"derived from asin", Task{ASIN: "B000000001"}, base + "B000000001", true},
		{"whitespace only", Task{URL: "  ", ASIN: " "}, "", false},
		{"nothing", Task{ID: "x"}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.task.Locator(base)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTaskEffectiveQuantity(t *testing.T) {
	assert.Equal(t, 1, Task{}.EffectiveQuantity())
	assert.Equal(t, 1, Task{Quantity: -3}.EffectiveQuantity())
	assert.Equal(t, 4, Task{Quantity: 4}.EffectiveQuantity())
}

func TestOutcomeTerminal(t *testing.T) {
	assert.True(t, OutcomeCompletedVerified.Terminal())
	assert.True(t, OutcomeFallbackScheduled.Terminal())
	assert.True(t, OutcomeCompletedViaFallback.Terminal())
	assert.False(t, OutcomeFailed.Terminal())
	assert.False(t, OutcomeDataError.Terminal())
	assert.False(t, OutcomeSkipped.Terminal())
}
