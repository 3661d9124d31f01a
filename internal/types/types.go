package types

import (
	"fmt"
	"strings"
)

// Status is the task-store lifecycle state of a Task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusUnknown   Status = "unknown"
)

// Task is one row of the external task store that may need a cart action.
type Task struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	URL      string `json:"url,omitempty"`
	ASIN     string `json:"asin,omitempty"`
	Quantity int    `json:"quantity,omitempty"`
	Status   Status `json:"status"`
}

// Locator returns the address of the product page for the task.
// A direct URL wins; otherwise one is derived from the ASIN using base.
// ok is false when neither is present.
func (t Task) Locator(base string) (locator string, ok bool) {
	if u := strings.TrimSpace(t.URL); u != "" {
		return u, true
	}
	asin := strings.TrimSpace(t.ASIN)
	if asin == "" {
		return "", false
	}
	return base + asin, true
}

// EffectiveQuantity returns the quantity to order, never less than one.
func (t Task) EffectiveQuantity() int {
	if t.Quantity < 1 {
		return 1
	}
	return t.Quantity
}

func (t Task) String() string {
	if t.Title != "" {
		return fmt.Sprintf("%s (%s)", t.Title, t.ID)
	}
	return t.ID
}

// ActionResult is what the companion script reports for a cart action.
type ActionResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ProductInfo is the product summary read from an opened page.
type ProductInfo struct {
	URL       string `json:"url"`
	ASIN      string `json:"asin,omitempty"`
	Title     string `json:"title,omitempty"`
	Price     string `json:"price,omitempty"`
	Image     string `json:"image,omitempty"`
	Available bool   `json:"available"`
}

// Outcome classifies how processing of a single task ended.
type Outcome string

const (
	OutcomeSkipped              Outcome = "skipped"
	OutcomeDataError            Outcome = "data_error"
	OutcomeFailed               Outcome = "failed"
	OutcomeCompletedVerified    Outcome = "completed_verified"
	OutcomeFallbackScheduled    Outcome = "fallback_scheduled"
	OutcomeCompletedViaFallback Outcome = "completed_via_fallback"
)

// Terminal reports whether the outcome leaves the task claimed for good.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeCompletedVerified, OutcomeFallbackScheduled, OutcomeCompletedViaFallback:
		return true
	}
	return false
}
