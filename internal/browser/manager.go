// Package browser drives the Chrome tabs cart actions run in. Each task gets
// its own surface: a tab with the companion script and the event binding
// installed before the product page loads.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"cartsync/internal/config"
	"cartsync/internal/readiness"
	"cartsync/internal/types"
)

var (
	// ErrInjection means the action script could not be evaluated in the page.
	ErrInjection    = errors.New("browser: action injection failed")
	ErrNotConnected = errors.New("browser: not connected")
	ErrUnknown      = errors.New("browser: unknown surface")
)

// Surface describes one tab opened for a task.
type Surface struct {
	ID       string    `json:"id"`
	TargetID string    `json:"target_id,omitempty"`
	Locator  string    `json:"locator"`
	OpenedAt time.Time `json:"opened_at"`
}

type surfaceRecord struct {
	meta        Surface
	page        *rod.Page
	stopBinding func() error
	closeOnce   sync.Once
}

// NotifyFunc receives companion events delivered through the page binding.
type NotifyFunc func(ctx context.Context, payload []byte) (interface{}, error)

// Options configures a Manager.
type Options struct {
	Browser          config.BrowserConfig
	LoadPollInterval time.Duration
}

// Manager owns the Chrome instance and tracks open surfaces.
type Manager struct {
	opts   Options
	logger *zap.Logger

	mu         sync.RWMutex
	ctx        context.Context
	browser    *rod.Browser
	controlURL string
	attached   bool
	surfaces   map[string]*surfaceRecord
	notify     NotifyFunc
}

// NewManager creates a manager. Start must be called before Open.
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LoadPollInterval <= 0 {
		opts.LoadPollInterval = 100 * time.Millisecond
	}
	return &Manager{
		opts:     opts,
		logger:   logger,
		ctx:      context.Background(),
		surfaces: make(map[string]*surfaceRecord),
	}
}

// SetNotify installs the handler for companion events.
func (m *Manager) SetNotify(fn NotifyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notify = fn
}

// Start connects to an existing Chrome or launches a new one.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browser != nil {
		if _, err := m.browser.Version(); err == nil {
			return nil
		}
		m.logger.Warn("stale browser connection detected, reconnecting")
		m.browser = nil
		m.controlURL = ""
		m.surfaces = make(map[string]*surfaceRecord)
	}

	cfg := m.opts.Browser
	controlURL := cfg.DebuggerURL
	attached := controlURL != ""
	if controlURL == "" {
		launch := launcher.New().Headless(cfg.Headless)
		if cfg.Bin != "" {
			launch = launch.Bin(cfg.Bin)
		}
		if cfg.UserDataDir != "" {
			launch = launch.UserDataDir(cfg.UserDataDir)
		}
		url, err := launch.Launch()
		if err != nil {
			// Fall back to a throwaway profile; the shop session will be missing.
			fallback := launcher.New().Headless(cfg.Headless)
			alt, altErr := fallback.Launch()
			if altErr != nil {
				return fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
			}
			m.logger.Warn("launched chrome without the configured profile", zap.Error(err))
			url = alt
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.ctx = ctx
	m.browser = browser
	m.controlURL = controlURL
	m.attached = attached
	m.logger.Info("browser connected",
		zap.String("control_url", controlURL),
		zap.Bool("attached", attached))
	return nil
}

// ControlURL returns the WebSocket debugger URL.
func (m *Manager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

// IsConnected returns whether the browser is connected.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown closes tracked surfaces and, unless attached to a user's Chrome,
// the browser itself.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	records := make([]*surfaceRecord, 0, len(m.surfaces))
	for id, rec := range m.surfaces {
		records = append(records, rec)
		delete(m.surfaces, id)
	}
	browser := m.browser
	attached := m.attached
	m.browser = nil
	m.controlURL = ""
	m.mu.Unlock()

	for _, rec := range records {
		m.closeRecord(rec)
	}
	if browser == nil || attached {
		return nil
	}
	return browser.Close()
}

// Open creates an active tab, installs the companion script and binding,
// then navigates to locator.
func (m *Manager) Open(ctx context.Context, locator string) (*Surface, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	cfg := m.opts.Browser
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.ViewportWidth,
			Height:            cfg.ViewportHeight,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		}).Call(page); err != nil {
			m.logger.Debug("failed to set viewport", zap.Error(err))
		}
	}

	rec := &surfaceRecord{
		meta: Surface{
			ID:       uuid.NewString(),
			TargetID: string(page.TargetID),
			Locator:  locator,
			OpenedAt: time.Now(),
		},
		page: page,
	}

	if _, err := page.EvalOnNewDocument(companionScript); err != nil {
		m.closeRecord(rec)
		return nil, fmt.Errorf("install companion: %w", err)
	}
	stop, err := page.Expose(bindingName, m.bindingHandler(rec.meta.ID))
	if err != nil {
		m.closeRecord(rec)
		return nil, fmt.Errorf("expose binding: %w", err)
	}
	rec.stopBinding = stop

	if _, err := page.Activate(); err != nil {
		m.logger.Debug("failed to activate tab", zap.Error(err))
	}
	if err := page.Context(ctx).Navigate(locator); err != nil {
		m.closeRecord(rec)
		return nil, fmt.Errorf("navigate to %s: %w", locator, err)
	}
	// Covers a document that committed before the new-document hook applied.
	_, _ = page.Context(ctx).Evaluate(&rod.EvalOptions{JS: "() => {" + companionScript + "}"})

	m.mu.Lock()
	m.surfaces[rec.meta.ID] = rec
	m.mu.Unlock()

	m.logger.Info("surface opened",
		zap.String("surface", rec.meta.ID),
		zap.String("locator", locator))
	meta := rec.meta
	return &meta, nil
}

func (m *Manager) bindingHandler(surfaceID string) func(gson.JSON) (interface{}, error) {
	return func(msg gson.JSON) (interface{}, error) {
		m.mu.RLock()
		notify := m.notify
		ctx := m.ctx
		m.mu.RUnlock()

		payload, err := msg.MarshalJSON()
		if err != nil {
			return nil, err
		}
		m.logger.Debug("companion event",
			zap.String("surface", surfaceID),
			zap.ByteString("payload", payload))
		if notify == nil {
			return map[string]bool{"success": false}, nil
		}
		return notify(ctx, payload)
	}
}

func (m *Manager) page(id string) (*rod.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.surfaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, id)
	}
	return rec.page, nil
}

// AwaitLoadComplete polls document.readyState until it reports "complete".
// A target that disappears ends the wait without error; the readiness probe
// reports it afterwards.
func (m *Manager) AwaitLoadComplete(ctx context.Context, id string) error {
	page, err := m.page(id)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(m.opts.LoadPollInterval)
	defer ticker.Stop()
	for {
		res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{JS: readyStateScript, ByValue: true})
		switch {
		case err == nil && res.Value.Str() == "complete":
			return nil
		case err != nil && isTargetGone(err):
			m.logger.Debug("surface closed while loading", zap.String("surface", id))
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for page load: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

type probeReply struct {
	Gone      bool `json:"gone"`
	Listening bool `json:"listening"`
	Ready     bool `json:"ready"`
}

// Probe asks the companion once whether the page is ready.
func (m *Manager) Probe(ctx context.Context, id string) (bool, error) {
	page, err := m.page(id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", readiness.ErrSurfaceGone, err)
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{JS: probeScript, ByValue: true})
	if err != nil {
		if isTargetGone(err) {
			return false, fmt.Errorf("%w: %v", readiness.ErrSurfaceGone, err)
		}
		return false, fmt.Errorf("%w: %v", readiness.ErrNotListening, err)
	}

	var reply probeReply
	if err := res.Value.Unmarshal(&reply); err != nil {
		return false, fmt.Errorf("decode probe reply: %w", err)
	}
	switch {
	case reply.Gone:
		return false, readiness.ErrSurfaceGone
	case !reply.Listening:
		return false, readiness.ErrNotListening
	}
	return reply.Ready, nil
}

// PerformAction runs the cart action for task in the surface. An evaluation
// failure is ErrInjection; a refusal by the page is an unsuccessful result.
func (m *Manager) PerformAction(ctx context.Context, id string, task types.Task) (types.ActionResult, error) {
	page, err := m.page(id)
	if err != nil {
		return types.ActionResult{}, fmt.Errorf("%w: %v", ErrInjection, err)
	}

	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           performScript,
		JSArgs:       []interface{}{task.ID, task.EffectiveQuantity()},
		ByValue:      true,
		AwaitPromise: true,
		UserGesture:  true,
	})
	if err != nil {
		return types.ActionResult{}, fmt.Errorf("%w: %v", ErrInjection, err)
	}

	var result types.ActionResult
	if err := res.Value.Unmarshal(&result); err != nil {
		return types.ActionResult{}, fmt.Errorf("%w: decode result: %v", ErrInjection, err)
	}
	return result, nil
}

// Inspect reads the product summary from the page.
func (m *Manager) Inspect(ctx context.Context, id string) (types.ProductInfo, error) {
	v, err := m.Evaluate(ctx, id, inspectScript)
	if err != nil {
		return types.ProductInfo{}, fmt.Errorf("inspect page: %w", err)
	}
	if v.Nil() {
		return types.ProductInfo{}, readiness.ErrNotListening
	}

	var info types.ProductInfo
	if err := v.Unmarshal(&info); err != nil {
		return types.ProductInfo{}, fmt.Errorf("decode product info: %w", err)
	}
	return info, nil
}

// Evaluate runs a function expression in the surface and returns its
// awaited value.
func (m *Manager) Evaluate(ctx context.Context, id, js string, args ...interface{}) (gson.JSON, error) {
	page, err := m.page(id)
	if err != nil {
		return gson.JSON{}, err
	}
	res, err := page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		JSArgs:       args,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return gson.JSON{}, err
	}
	return res.Value, nil
}

// Close closes the surface. Unknown or already closed surfaces are ignored.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	rec, ok := m.surfaces[id]
	delete(m.surfaces, id)
	m.mu.Unlock()

	if !ok {
		m.logger.Debug("surface already closed", zap.String("surface", id))
		return
	}
	m.closeRecord(rec)
}

func (m *Manager) closeRecord(rec *surfaceRecord) {
	rec.closeOnce.Do(func() {
		if rec.stopBinding != nil {
			_ = rec.stopBinding()
		}
		if err := rec.page.Close(); err != nil && !isTargetGone(err) {
			m.logger.Debug("failed to close surface", zap.String("surface", rec.meta.ID), zap.Error(err))
			return
		}
		m.logger.Info("surface closed", zap.String("surface", rec.meta.ID))
	})
}

// Surfaces returns the open surfaces.
func (m *Manager) Surfaces() []Surface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Surface, 0, len(m.surfaces))
	for _, rec := range m.surfaces {
		out = append(out, rec.meta)
	}
	return out
}

var goneMarkers = []string{
	"no target with given id",
	"target closed",
	"session with given id not found",
	"page has been closed",
	"websocket: close",
	"back/forward cache",
}

func isTargetGone(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range goneMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
