package intake

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"cartsync/internal/types"
)

// Ack is the synchronous acknowledgement returned to event senders.
type Ack struct {
	Success bool `json:"success"`
}

// Deps are the operations the default handlers call into.
type Deps struct {
	// WriteBack marks a task completed in the store and ledger.
	WriteBack func(ctx context.Context, taskID string, outcome types.Outcome) error
	// Inspect reads product details from an open surface.
	Inspect func(ctx context.Context, surfaceID string) (types.ProductInfo, error)
}

// RegisterDefaults installs the actionSuccess, actionError and
// getProductInfo handlers.
func RegisterDefaults(r *Registry, deps Deps) {
	r.Register(KindActionSuccess, func(ctx context.Context, msg Message) Reply {
		if deps.WriteBack == nil {
			return Immediate(Ack{Success: false})
		}
		taskID := msg.TaskID
		// Acknowledge now; the store write runs detached from the sender.
		r.Go(func() {
			if err := deps.WriteBack(context.WithoutCancel(ctx), taskID, types.OutcomeCompletedVerified); err != nil {
				r.logger.Error("write-back from event failed", zap.String("task_id", taskID), zap.Error(err))
			}
		})
		return Immediate(Ack{Success: true})
	})

	r.Register(KindActionError, func(ctx context.Context, msg Message) Reply {
		r.logger.Warn("cart action reported failure",
			zap.String("task_id", msg.TaskID),
			zap.String("error", msg.Error))
		return Immediate(Ack{Success: false})
	})

	r.Register(KindGetProductInfo, func(ctx context.Context, msg Message) Reply {
		if msg.SurfaceID == "" || deps.Inspect == nil {
			return Immediate(Ack{Success: true})
		}
		ch := make(chan Result, 1)
		r.Go(func() {
			info, err := deps.Inspect(ctx, msg.SurfaceID)
			if err != nil {
				ch <- Result{Err: errors.Join(errors.New("intake: inspect failed"), err)}
				return
			}
			ch <- Result{Value: info}
		})
		return Future(ch)
	})
}
