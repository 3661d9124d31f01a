package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cartsync/internal/browser"
	"cartsync/internal/readiness"
	"cartsync/internal/types"
)

// recorder keeps a single ordered event log across all fakes.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) opened() bool {
	for _, e := range r.list() {
		if strings.HasPrefix(e, "open:") {
			return true
		}
	}
	return false
}

func (r *recorder) index(event string) int {
	for i, e := range r.list() {
		if e == event {
			return i
		}
	}
	return -1
}

type fakeStore struct {
	rec       *recorder
	mu        sync.Mutex
	tasks     []types.Task
	queryErr  error
	updateErr error
	updates   []string
	queries   int
}

func (s *fakeStore) QueryPending(context.Context) ([]types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	s.rec.add("query")
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return append([]types.Task(nil), s.tasks...), nil
}

func (s *fakeStore) UpdateStatus(_ context.Context, id string, status types.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.add("update:%s:%s", id, status)
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updates = append(s.updates, id)
	return nil
}

func (s *fakeStore) updated() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.updates...)
}

func (s *fakeStore) queryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries
}

type fakeClaims struct {
	rec *recorder
	mu  sync.Mutex
	ids map[string]bool
}

func newFakeClaims(rec *recorder) *fakeClaims {
	return &fakeClaims{rec: rec, ids: make(map[string]bool)}
}

func (c *fakeClaims) Has(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[id]
}

func (c *fakeClaims) Add(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.add("claim:%s", id)
	c.ids[id] = true
}

func (c *fakeClaims) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.add("release:%s", id)
	delete(c.ids, id)
}

// page configures how the fake adapter behaves for one locator.
// The zero value loads, becomes ready on the first probe and succeeds.
type page struct {
	openErr    error
	loadErr    error
	neverReady bool
	gone       bool
	readyAfter int
	performErr error
	refuse     string
	panics     bool
}

type fakeAdapter struct {
	rec   *recorder
	mu    sync.Mutex
	pages map[string]page

	n        int
	locators map[string]string
	probes   map[string]int
	closes   map[string]int
	actions  []types.Task
}

func newFakeAdapter(rec *recorder) *fakeAdapter {
	return &fakeAdapter{
		rec:      rec,
		pages:    make(map[string]page),
		locators: make(map[string]string),
		probes:   make(map[string]int),
		closes:   make(map[string]int),
	}
}

func (a *fakeAdapter) behavior(surfaceID string) page {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pages[a.locators[surfaceID]]
}

func (a *fakeAdapter) Open(_ context.Context, locator string) (*browser.Surface, error) {
	a.rec.add("open:%s", locator)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.pages[locator].openErr; err != nil {
		return nil, err
	}
	a.n++
	id := fmt.Sprintf("s%d", a.n)
	a.locators[id] = locator
	return &browser.Surface{ID: id, Locator: locator}, nil
}

func (a *fakeAdapter) AwaitLoadComplete(_ context.Context, id string) error {
	a.rec.add("load:%s", id)
	return a.behavior(id).loadErr
}

func (a *fakeAdapter) Probe(_ context.Context, id string) (bool, error) {
	b := a.behavior(id)
	a.mu.Lock()
	a.probes[id]++
	n := a.probes[id]
	a.mu.Unlock()

	switch {
	case b.gone:
		return false, readiness.ErrSurfaceGone
	case b.neverReady:
		return false, readiness.ErrNotListening
	case n <= b.readyAfter:
		return false, readiness.ErrNotListening
	}
	return true, nil
}

func (a *fakeAdapter) PerformAction(_ context.Context, id string, task types.Task) (types.ActionResult, error) {
	a.rec.add("perform:%s", task.ID)
	b := a.behavior(id)
	if b.panics {
		panic("companion exploded")
	}
	a.mu.Lock()
	a.actions = append(a.actions, task)
	a.mu.Unlock()
	if b.performErr != nil {
		return types.ActionResult{}, b.performErr
	}
	if b.refuse != "" {
		return types.ActionResult{Success: false, Error: b.refuse}, nil
	}
	return types.ActionResult{Success: true}, nil
}

func (a *fakeAdapter) Inspect(_ context.Context, id string) (types.ProductInfo, error) {
	return types.ProductInfo{URL: a.locators[id], Available: true}, nil
}

func (a *fakeAdapter) Close(id string) {
	a.rec.add("close:%s", id)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closes[id]++
}

func (a *fakeAdapter) probeCount(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.probes[id]
}

func (a *fakeAdapter) closeCount(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closes[id]
}
