// Package memory is the learning store: per-repo facts, error solutions,
// task-run history, verification episodes and procedural rules, written on
// every verification outcome and read back as task-scoped context injected
// into agent prompts.
package memory

import (
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/homer-run/homer/internal/dbdriver"
)

//go:embed schema.sql
var schemaSQL string

// Store is the learning store backing one repo's memory database.
type Store struct {
	db *sql.DB

	mu          sync.Mutex
	lastInject  []int64
	closed      bool
}

// Open creates or opens the memory database at path, running the schema
// idempotently. Writes against a closed Store are no-ops, never errors.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create memory db directory: %w", err)
		}
	}

	db, err := sql.Open(dbdriver.Name, path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection. Subsequent writes
// become no-ops; subsequent reads return the empty string/nil slice.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) withTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetLastInjectedRuleIds returns and clears the rule ids injected by the
// most recent BuildTaskMemory call, consumable exactly once per spawn.
func (s *Store) GetLastInjectedRuleIds() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.lastInject
	s.lastInject = nil
	return ids
}

func (s *Store) setLastInjectedRuleIds(ids []int64) {
	s.mu.Lock()
	s.lastInject = ids
	s.mu.Unlock()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
