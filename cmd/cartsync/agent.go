package main

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"cartsync/internal/browser"
	"cartsync/internal/clock"
	"cartsync/internal/config"
	"cartsync/internal/intake"
	"cartsync/internal/ledger"
	"cartsync/internal/logging"
	"cartsync/internal/notion"
	"cartsync/internal/orchestrator"
)

// agent wires the sync components together.
type agent struct {
	logs *logging.Set

	mu  sync.RWMutex
	cfg *config.Config

	notion   *notion.Client
	ledger   *ledger.Ledger
	browser  *browser.Manager
	orch     *orchestrator.Orchestrator
	registry *intake.Registry
}

func newAgent(c *config.Config, logs *logging.Set) (*agent, error) {
	a := &agent{logs: logs, cfg: c}

	l, err := ledger.Open(c.Ledger, logs.Get(logging.CategoryLedger))
	if err != nil {
		return nil, err
	}
	a.ledger = l

	a.notion = notion.NewClient(a.notionSettings, logs.Get(logging.CategoryNotion))
	a.browser = browser.NewManager(browser.Options{
		Browser:          c.Browser,
		LoadPollInterval: c.GetTimings().LoadPollInterval,
	}, logs.Get(logging.CategoryBrowser))

	a.orch = orchestrator.New(a.notion, a.ledger, a.browser, clock.New(),
		orchestrator.SettingsFrom(c), logs.Get(logging.CategoryOrchestrator))

	a.registry = intake.NewRegistry(logs.Get(logging.CategoryIntake))
	intake.RegisterDefaults(a.registry, intake.Deps{
		WriteBack: a.orch.WriteBack,
		Inspect:   a.browser.Inspect,
	})
	a.browser.SetNotify(a.registry.HandleRaw)
	return a, nil
}

func (a *agent) config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *agent) notionSettings() config.NotionConfig {
	return a.config().Notion
}

// reload applies a changed settings file.
func (a *agent) reload(c *config.Config) {
	a.mu.Lock()
	a.cfg = c
	a.mu.Unlock()
	a.orch.UpdateSettings(orchestrator.SettingsFrom(c))
}

type statusReport struct {
	AutoSync   bool                      `json:"auto_sync"`
	Browser    bool                      `json:"browser_connected"`
	ControlURL string                    `json:"control_url,omitempty"`
	Events     []string                  `json:"events"`
	LedgerSize int                       `json:"ledger_size"`
	Pending    int                       `json:"pending_timers"`
	Totals     map[string]int            `json:"totals"`
	LastCycle  *orchestrator.CycleReport `json:"last_cycle,omitempty"`
	Store      *notion.Stats             `json:"store,omitempty"`
}

// status serves GET /status.
func (a *agent) status(ctx context.Context) interface{} {
	r := statusReport{
		AutoSync:   a.orch.Settings().AutoSync,
		Browser:    a.browser.IsConnected(),
		ControlURL: a.browser.ControlURL(),
		LedgerSize: a.ledger.Len(),
		Pending:    a.orch.PendingTimers(),
		Totals:     make(map[string]int),
	}
	for _, k := range a.registry.Kinds() {
		r.Events = append(r.Events, string(k))
	}
	for k, v := range a.orch.Totals() {
		r.Totals[string(k)] = v
	}
	if last, ok := a.orch.LastReport(); ok {
		r.LastCycle = &last
	}
	if a.config().HasCredentials() {
		if st, err := a.notion.Stats(ctx); err == nil {
			r.Store = &st
		}
	}
	return r
}

// shutdown drains timers and in-flight events, then releases the browser and
// flushes the ledger.
func (a *agent) shutdown() {
	a.orch.Wait()
	a.registry.Wait()

	if err := a.browser.Shutdown(context.Background()); err != nil {
		a.logs.Get(logging.CategoryBoot).Warn("failed to shut down browser", zap.Error(err))
	}
	if err := a.ledger.Close(); err != nil {
		a.logs.Get(logging.CategoryBoot).Warn("failed to close ledger", zap.Error(err))
	}
}
