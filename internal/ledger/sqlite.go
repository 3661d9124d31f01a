package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteBackend stores claims in a single SQLite table.
type SQLiteBackend struct {
	db     *sql.DB
	dbPath string
}

// OpenSQLite creates or opens the ledger database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db, dbPath: path}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) initSchema() error {
	_, err := b.db.Exec(`
	CREATE TABLE IF NOT EXISTS claims (
		task_id TEXT PRIMARY KEY,
		claimed_at DATETIME NOT NULL
	);`)
	return err
}

// Path returns the database file path.
func (b *SQLiteBackend) Path() string {
	return b.dbPath
}

// Load returns every stored claim.
func (b *SQLiteBackend) Load() ([]string, error) {
	rows, err := b.db.Query(`SELECT task_id FROM claims ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Save replaces the stored set with ids. Claims already present keep their
// original claimed_at.
func (b *SQLiteBackend) Save(ids []string) error {
	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TEMP TABLE IF NOT EXISTS keep (task_id TEXT PRIMARY KEY)`); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM keep`); err != nil {
		return err
	}

	keep, err := tx.Prepare(`INSERT OR IGNORE INTO keep (task_id) VALUES (?)`)
	if err != nil {
		return err
	}
	defer keep.Close()
	ins, err := tx.Prepare(`INSERT OR IGNORE INTO claims (task_id, claimed_at) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer ins.Close()

	now := time.Now().UTC()
	for _, id := range ids {
		if _, err := keep.Exec(id); err != nil {
			return fmt.Errorf("failed to stage claim %s: %w", id, err)
		}
		if _, err := ins.Exec(id, now); err != nil {
			return fmt.Errorf("failed to insert claim %s: %w", id, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM claims WHERE task_id NOT IN (SELECT task_id FROM keep)`); err != nil {
		return fmt.Errorf("failed to prune claims: %w", err)
	}
	return tx.Commit()
}

// ClaimedAt returns when id was first claimed.
func (b *SQLiteBackend) ClaimedAt(id string) (time.Time, bool, error) {
	var at time.Time
	err := b.db.QueryRow(`SELECT claimed_at FROM claims WHERE task_id = ?`, id).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
