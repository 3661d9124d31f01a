package types

import (
	"context"
)

// TaskStore is the external store the orchestrator reads tasks from and
// writes statuses back to.
type TaskStore interface {
	QueryPending(ctx context.Context) ([]Task, error)
	UpdateStatus(ctx context.Context, taskID string, status Status) error
}

// Claims is the idempotency ledger as seen by its consumers.
type Claims interface {
	Has(taskID string) bool
	Add(taskID string)
	Remove(taskID string)
}
