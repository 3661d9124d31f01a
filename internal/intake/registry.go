// Package intake accepts events reported from outside the sync loop (the
// companion script, or anything posting to the HTTP endpoint) and routes them
// to registered handlers.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Kind names an event.
type Kind string

const (
	KindActionSuccess  Kind = "actionSuccess"
	KindActionError    Kind = "actionError"
	KindGetProductInfo Kind = "getProductInfo"
)

var (
	ErrUnknownKind = errors.New("intake: unknown event kind")
	ErrInvalid     = errors.New("intake: invalid event")
)

// Message is one inbound event.
type Message struct {
	Action    Kind   `json:"action" validate:"required"`
	TaskID    string `json:"taskId,omitempty" validate:"required_unless=Action getProductInfo"`
	Error     string `json:"error,omitempty"`
	SurfaceID string `json:"surfaceId,omitempty"`
}

// Result is the eventual outcome of a handler.
type Result struct {
	Value interface{}
	Err   error
}

// Reply is returned by a Handler. It is either settled immediately or
// settles later through a channel.
type Reply struct {
	result Result
	future <-chan Result
}

// Immediate returns a settled reply.
func Immediate(v interface{}) Reply {
	return Reply{result: Result{Value: v}}
}

// Failed returns a settled reply carrying err.
func Failed(err error) Reply {
	return Reply{result: Result{Err: err}}
}

// Future returns a reply settled by the first value received from ch.
func Future(ch <-chan Result) Reply {
	return Reply{future: ch}
}

// Pending reports whether the reply has not settled synchronously.
func (r Reply) Pending() bool {
	return r.future != nil
}

// Await returns the reply's value, waiting for a future to settle.
func (r Reply) Await(ctx context.Context) (interface{}, error) {
	if r.future == nil {
		return r.result.Value, r.result.Err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res, ok := <-r.future:
		if !ok {
			return nil, errors.New("intake: reply abandoned")
		}
		return res.Value, res.Err
	}
}

// Handler handles one kind of event.
type Handler func(ctx context.Context, msg Message) Reply

// Registry routes events to handlers by kind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
	validate *validator.Validate
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		handlers: make(map[Kind]Handler),
		validate: validator.New(),
		logger:   logger,
	}
}

// Register installs h for kind, replacing any previous handler.
func (r *Registry) Register(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch validates msg and hands it to its handler.
func (r *Registry) Dispatch(ctx context.Context, msg Message) Reply {
	if err := r.validate.Struct(msg); err != nil {
		r.logger.Warn("rejected event", zap.String("action", string(msg.Action)), zap.Error(err))
		return Failed(fmt.Errorf("%w: %v", ErrInvalid, err))
	}

	r.mu.RLock()
	h, ok := r.handlers[msg.Action]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("unhandled event", zap.String("action", string(msg.Action)))
		return Failed(fmt.Errorf("%w: %s", ErrUnknownKind, msg.Action))
	}

	r.logger.Debug("event received",
		zap.String("action", string(msg.Action)),
		zap.String("task_id", msg.TaskID))
	return h(ctx, msg)
}

// HandleRaw decodes a JSON event, dispatches it and waits for the reply.
// It matches browser.NotifyFunc.
func (r *Registry) HandleRaw(ctx context.Context, payload []byte) (interface{}, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return r.Dispatch(ctx, msg).Await(ctx)
}

// Go runs fn in the background and tracks it for Wait.
func (r *Registry) Go(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

// Wait blocks until background work started through Go has finished.
func (r *Registry) Wait() {
	r.wg.Wait()
}
