package ledger

import (
	"fmt"

	"go.uber.org/zap"

	"cartsync/internal/config"
)

// Open builds and restores the ledger described by cfg.
func Open(cfg config.LedgerConfig, logger *zap.Logger) (*Ledger, error) {
	var backend Backend
	switch cfg.Backend {
	case "", "sqlite":
		b, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		backend = b
	case "file":
		backend = NewFileBackend(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}

	l := New(backend, logger)
	l.Restore()
	return l, nil
}
