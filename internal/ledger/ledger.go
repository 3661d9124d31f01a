// Package ledger records which task ids have been claimed for processing so a
// task is never dispatched twice, across cycles and across restarts.
package ledger

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backend persists the claimed-id set.
type Backend interface {
	Load() ([]string, error)
	Save(ids []string) error
	Close() error
}

// Ledger is the in-memory claimed-id set backed by durable storage.
// Mutations persist immediately; persistence failures are logged and
// otherwise ignored so callers never see them.
type Ledger struct {
	// persistMu orders saves with the mutations that produced them.
	persistMu sync.Mutex
	mu        sync.Mutex
	ids       map[string]struct{}
	backend   Backend
	logger    *zap.Logger
}

// New creates an empty ledger. Call Restore before use.
func New(backend Backend, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		ids:     make(map[string]struct{}),
		backend: backend,
		logger:  logger,
	}
}

// Restore loads the persisted set. A load failure leaves the ledger empty.
func (l *Ledger) Restore() {
	if l.backend == nil {
		return
	}
	ids, err := l.backend.Load()
	if err != nil {
		l.logger.Error("failed to restore ledger", zap.Error(err))
		return
	}

	l.mu.Lock()
	for _, id := range ids {
		l.ids[id] = struct{}{}
	}
	n := len(l.ids)
	l.mu.Unlock()

	l.logger.Info("ledger restored", zap.Int("claims", n))
}

// Has reports whether the id is claimed.
func (l *Ledger) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.ids[id]
	return ok
}

// Add claims the id.
func (l *Ledger) Add(id string) {
	added := l.mutate(func(ids map[string]struct{}) bool {
		if _, ok := ids[id]; ok {
			return false
		}
		ids[id] = struct{}{}
		return true
	})
	if added {
		l.logger.Debug("claim added", zap.String("task_id", id))
	}
}

// Remove releases the claim on id. Removing an unclaimed id is a no-op.
func (l *Ledger) Remove(id string) {
	removed := l.mutate(func(ids map[string]struct{}) bool {
		if _, ok := ids[id]; !ok {
			return false
		}
		delete(ids, id)
		return true
	})
	if removed {
		l.logger.Debug("claim released", zap.String("task_id", id))
	}
}

// List returns the claimed ids in sorted order.
func (l *Ledger) List() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Len returns the number of claims.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

// Clear releases every claim.
func (l *Ledger) Clear() {
	l.mutate(func(ids map[string]struct{}) bool {
		clear(ids)
		return true
	})
	l.logger.Info("ledger cleared")
}

// timestamped is implemented by backends that record when each claim was
// taken.
type timestamped interface {
	ClaimedAt(id string) (time.Time, bool, error)
}

// ClaimedAt returns when id was claimed, if the backend records it.
func (l *Ledger) ClaimedAt(id string) (time.Time, bool) {
	ts, ok := l.backend.(timestamped)
	if !ok || !l.Has(id) {
		return time.Time{}, false
	}
	at, found, err := ts.ClaimedAt(id)
	if err != nil {
		l.logger.Warn("failed to read claim time", zap.String("task_id", id), zap.Error(err))
		return time.Time{}, false
	}
	return at, found
}

// Persist writes the current set to the backend.
func (l *Ledger) Persist() {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()
	l.save(l.List())
}

// Close flushes the set and closes the backend.
func (l *Ledger) Close() error {
	if l.backend == nil {
		return nil
	}
	l.Persist()
	return l.backend.Close()
}

// mutate applies f under the set lock and, when f reports a change, saves
// the resulting set before the next mutation can start.
func (l *Ledger) mutate(f func(ids map[string]struct{}) bool) bool {
	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	l.mu.Lock()
	changed := f(l.ids)
	var snapshot []string
	if changed {
		snapshot = l.snapshotLocked()
	}
	l.mu.Unlock()

	if changed {
		l.save(snapshot)
	}
	return changed
}

func (l *Ledger) snapshotLocked() []string {
	out := make([]string, 0, len(l.ids))
	for id := range l.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (l *Ledger) save(ids []string) {
	if l.backend == nil {
		return
	}
	if err := l.backend.Save(ids); err != nil {
		l.logger.Error("failed to persist ledger", zap.Int("claims", len(ids)), zap.Error(err))
	}
}
