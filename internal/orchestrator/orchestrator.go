// Package orchestrator runs sync cycles: it fetches pending tasks, claims each
// one in the ledger, drives the cart action in a browser surface and writes
// completion back to the task store.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cartsync/internal/browser"
	"cartsync/internal/clock"
	"cartsync/internal/config"
	"cartsync/internal/readiness"
	"cartsync/internal/types"
)

// Adapter is the target surface the cart action runs in.
type Adapter interface {
	Open(ctx context.Context, locator string) (*browser.Surface, error)
	AwaitLoadComplete(ctx context.Context, surfaceID string) error
	Probe(ctx context.Context, surfaceID string) (bool, error)
	PerformAction(ctx context.Context, surfaceID string, task types.Task) (types.ActionResult, error)
	Inspect(ctx context.Context, surfaceID string) (types.ProductInfo, error)
	Close(surfaceID string)
}

// Settings are the parts of the configuration the orchestrator reads. They
// can be replaced at runtime with UpdateSettings.
type Settings struct {
	AutoSync          bool
	HasCredentials    bool
	ProductBaseURL    string
	InjectionFallback bool
	Timings           config.Timings
}

// SettingsFrom extracts orchestrator settings from a full configuration.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		AutoSync:          cfg.Sync.AutoSync,
		HasCredentials:    cfg.HasCredentials(),
		ProductBaseURL:    cfg.Sync.ProductBaseURL,
		InjectionFallback: cfg.Sync.InjectionFallback,
		Timings:           cfg.GetTimings(),
	}
}

// CycleReport summarizes one sync cycle.
type CycleReport struct {
	ID         string                `json:"id"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`
	Fetched    int                   `json:"fetched"`
	Outcomes   map[types.Outcome]int `json:"outcomes"`
	Error      string                `json:"error,omitempty"`
}

// writeBackTimeout bounds store writes made from timers, which have no
// caller context.
const writeBackTimeout = 30 * time.Second

// Orchestrator drives tasks through claim, action and write-back.
type Orchestrator struct {
	store   types.TaskStore
	claims  types.Claims
	adapter Adapter
	gate    *readiness.Gate
	clock   clock.Clock
	logger  *zap.Logger

	mu       sync.Mutex
	settings Settings
	last     *CycleReport
	totals   map[types.Outcome]int
	reload   chan struct{}

	cycleMu sync.Mutex
	timers  sync.WaitGroup
	pending atomic.Int32
}

// New creates an orchestrator.
func New(store types.TaskStore, claims types.Claims, adapter Adapter, clk clock.Clock, settings Settings, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:    store,
		claims:   claims,
		adapter:  adapter,
		gate:     readiness.NewGate(clk, logger),
		clock:    clk,
		logger:   logger,
		settings: settings,
		totals:   make(map[types.Outcome]int),
		reload:   make(chan struct{}, 1),
	}
}

// Settings returns the current settings.
func (o *Orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// UpdateSettings replaces the settings and re-arms the Run loop.
func (o *Orchestrator) UpdateSettings(s Settings) {
	o.mu.Lock()
	o.settings = s
	o.mu.Unlock()

	select {
	case o.reload <- struct{}{}:
	default:
	}
	o.logger.Info("settings updated",
		zap.Bool("auto_sync", s.AutoSync),
		zap.Duration("interval", s.Timings.Interval))
}

// LastReport returns the most recent cycle report.
func (o *Orchestrator) LastReport() (CycleReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return CycleReport{}, false
	}
	return *o.last, true
}

// Totals returns outcome counts accumulated since start, including
// completions made later by fallback timers and event intake.
func (o *Orchestrator) Totals() map[types.Outcome]int {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[types.Outcome]int, len(o.totals))
	for k, v := range o.totals {
		out[k] = v
	}
	return out
}

// PendingTimers returns the number of scheduled fallback and close timers
// that have not fired.
func (o *Orchestrator) PendingTimers() int {
	return int(o.pending.Load())
}

func (o *Orchestrator) count(outcome types.Outcome) {
	o.mu.Lock()
	o.totals[outcome]++
	o.mu.Unlock()
}

// RunCycle fetches pending tasks and processes them one at a time.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	report := CycleReport{
		ID:        uuid.NewString(),
		StartedAt: o.clock.Now(),
		Outcomes:  make(map[types.Outcome]int),
	}
	log := o.logger.With(zap.String("cycle", report.ID))

	tasks, err := o.store.QueryPending(ctx)
	if err != nil {
		report.Error = err.Error()
		report.FinishedAt = o.clock.Now()
		o.setLast(report)
		log.Error("failed to query pending tasks", zap.Error(err))
		return report, fmt.Errorf("query pending tasks: %w", err)
	}
	report.Fetched = len(tasks)
	if len(tasks) == 0 {
		log.Debug("no pending tasks")
	} else {
		log.Info("pending tasks found", zap.Int("count", len(tasks)))
	}

	delay := o.Settings().Timings.InterTaskDelay
	for i, task := range tasks {
		if i > 0 {
			if err := o.clock.Sleep(ctx, delay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		outcome := o.ProcessTask(ctx, task)
		report.Outcomes[outcome]++
	}

	report.FinishedAt = o.clock.Now()
	o.setLast(report)
	log.Info("cycle finished",
		zap.Int("fetched", report.Fetched),
		zap.Any("outcomes", report.Outcomes))
	return report, nil
}

func (o *Orchestrator) setLast(r CycleReport) {
	o.mu.Lock()
	o.last = &r
	o.mu.Unlock()
}

// ProcessTask runs one task through the claim, action and write-back steps.
// The claim is taken before any network or surface work and released on
// every path that leaves the task retryable.
func (o *Orchestrator) ProcessTask(ctx context.Context, task types.Task) (outcome types.Outcome) {
	log := o.logger.With(zap.String("task_id", task.ID))

	if o.claims.Has(task.ID) {
		log.Debug("task already claimed, skipping")
		o.count(types.OutcomeSkipped)
		return types.OutcomeSkipped
	}
	o.claims.Add(task.ID)

	surfaceID := ""
	defer func() {
		if r := recover(); r != nil {
			log.Error("task processing panicked", zap.Any("panic", r), zap.Stack("stack"))
			o.release(task.ID, surfaceID)
			outcome = types.OutcomeFailed
		}
		o.count(outcome)
	}()

	s := o.Settings()
	locator, ok := task.Locator(s.ProductBaseURL)
	if !ok {
		o.claims.Remove(task.ID)
		log.Error("task skipped",
			zap.String("title", task.Title),
			zap.Error(&TaskError{Kind: KindData, TaskID: task.ID, Err: ErrNoLocator}))
		return types.OutcomeDataError
	}

	log.Info("processing task", zap.String("title", task.Title), zap.String("locator", locator))
	surface, err := o.adapter.Open(ctx, locator)
	if err != nil {
		return o.fail(log, task.ID, "", &TaskError{Kind: KindTransient, TaskID: task.ID, Err: fmt.Errorf("open surface: %w", err)})
	}
	surfaceID = surface.ID

	loadCtx, cancel := context.WithTimeout(ctx, s.Timings.LoadTimeout)
	err = o.adapter.AwaitLoadComplete(loadCtx, surfaceID)
	cancel()
	if err != nil {
		return o.fail(log, task.ID, surfaceID, &TaskError{Kind: KindTransient, TaskID: task.ID, Err: err})
	}

	prober := readiness.ProberFunc(func(ctx context.Context) (bool, error) {
		return o.adapter.Probe(ctx, surfaceID)
	})
	if !o.gate.AwaitReady(ctx, prober, s.Timings.ReadinessAttempts, s.Timings.ReadinessInterval) {
		if ctx.Err() != nil {
			return o.fail(log, task.ID, surfaceID, &TaskError{Kind: KindTransient, TaskID: task.ID, Err: ctx.Err()})
		}
		log.Warn("page not ready, completing by timer", zap.Duration("delay", s.Timings.FallbackDelay))
		o.scheduleFallback(task.ID, surfaceID, s.Timings.FallbackDelay)
		return types.OutcomeFallbackScheduled
	}

	if info, err := o.adapter.Inspect(ctx, surfaceID); err == nil {
		log.Info("product page",
			zap.String("asin", info.ASIN),
			zap.String("product", info.Title),
			zap.String("price", info.Price),
			zap.Bool("available", info.Available))
	} else {
		log.Debug("could not read product info", zap.Error(err))
	}

	result, err := o.adapter.PerformAction(ctx, surfaceID, task)
	if errors.Is(err, browser.ErrInjection) && s.InjectionFallback {
		log.Warn("action injection failed, completing by timer",
			zap.Error(err), zap.Duration("delay", s.Timings.FallbackDelay))
		o.scheduleFallback(task.ID, surfaceID, s.Timings.FallbackDelay)
		return types.OutcomeFallbackScheduled
	}
	if err != nil {
		return o.fail(log, task.ID, surfaceID, &TaskError{Kind: KindTransient, TaskID: task.ID, Err: err})
	}
	if !result.Success {
		return o.fail(log, task.ID, surfaceID, &TaskError{Kind: KindBusiness, TaskID: task.ID, Err: errors.New(result.Error)})
	}

	// The page needs a moment to register the cart change.
	_ = o.clock.Sleep(ctx, s.Timings.SettleDelay)

	if err := o.writeBack(context.WithoutCancel(ctx), task.ID, types.OutcomeCompletedVerified); err != nil {
		// The cart already holds the item; keep the claim so it is not added twice.
		log.Error("cart updated but status write failed; claim kept", zap.Error(err))
	}
	o.schedule(s.Timings.CloseDelay, func() {
		o.adapter.Close(surfaceID)
	})
	return types.OutcomeCompletedVerified
}

// fail releases the claim, closes the surface and logs err.
func (o *Orchestrator) fail(log *zap.Logger, taskID, surfaceID string, err *TaskError) types.Outcome {
	o.release(taskID, surfaceID)
	log.Warn("task failed, claim released",
		zap.String("kind", err.Kind.String()),
		zap.Bool("retryable", err.Retryable()),
		zap.Error(err.Err))
	return types.OutcomeFailed
}

func (o *Orchestrator) release(taskID, surfaceID string) {
	o.claims.Remove(taskID)
	if surfaceID != "" {
		o.adapter.Close(surfaceID)
	}
}

// WriteBack records taskID as completed: the claim first, then the store.
// It is shared by the cycle, fallback timers and event intake, and is safe
// to repeat.
func (o *Orchestrator) WriteBack(ctx context.Context, taskID string, outcome types.Outcome) error {
	if err := o.writeBack(ctx, taskID, outcome); err != nil {
		return err
	}
	o.count(outcome)
	return nil
}

func (o *Orchestrator) writeBack(ctx context.Context, taskID string, outcome types.Outcome) error {
	o.claims.Add(taskID)
	if err := o.store.UpdateStatus(ctx, taskID, types.StatusCompleted); err != nil {
		return &TaskError{Kind: KindTransient, TaskID: taskID, Err: fmt.Errorf("write back: %w", err)}
	}
	o.logger.Info("task completed",
		zap.String("task_id", taskID),
		zap.String("outcome", string(outcome)))
	return nil
}

func (o *Orchestrator) scheduleFallback(taskID, surfaceID string, delay time.Duration) {
	o.schedule(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
		defer cancel()
		if err := o.WriteBack(ctx, taskID, types.OutcomeCompletedViaFallback); err != nil {
			o.logger.Error("fallback write-back failed", zap.String("task_id", taskID), zap.Error(err))
		}
		o.adapter.Close(surfaceID)
	})
}

func (o *Orchestrator) schedule(d time.Duration, fn func()) {
	o.timers.Add(1)
	o.pending.Add(1)
	o.clock.AfterFunc(d, func() {
		defer o.timers.Done()
		defer o.pending.Add(-1)
		fn()
	})
}

// Wait blocks until every scheduled fallback and close timer has fired.
func (o *Orchestrator) Wait() {
	o.timers.Wait()
}
