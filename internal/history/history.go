// Package history records sync run outcomes in a local SQLite
// database so the CLI and daemon can answer "when did memory last
// sync, and did it work".
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry is one recorded sync run.
type Entry struct {
	ID         string   `json:"id"`
	Trigger    string   `json:"trigger"` // "manual", "interval", "cron", "watch"
	StartedAt  int64    `json:"startedAtMs"`
	FinishedAt int64    `json:"finishedAtMs"`
	Success    bool     `json:"success"`
	Pulled     bool     `json:"pulled"`
	Committed  bool     `json:"committed"`
	Pushed     bool     `json:"pushed"`
	Changes    []string `json:"changes,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// Store persists sync run entries.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (or creates) the history database at the given path
// and initializes the schema.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("history store opened", "path", dbPath)
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			trigger_kind TEXT NOT NULL DEFAULT 'manual',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			success INTEGER NOT NULL,
			pulled INTEGER NOT NULL DEFAULT 0,
			committed INTEGER NOT NULL DEFAULT 0,
			pushed INTEGER NOT NULL DEFAULT 0,
			changes TEXT NOT NULL DEFAULT '[]',
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_success ON runs(success)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:min(len(stmt), 60)], err)
		}
	}
	return nil
}

// Record inserts a run entry, assigning an ID if absent.
func (s *Store) Record(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	changesJSON, err := json.Marshal(e.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}

	_, err = s.db.Exec(`INSERT INTO runs (id, trigger_kind, started_at, finished_at, success, pulled, committed, pushed, changes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Trigger, e.StartedAt, e.FinishedAt,
		boolInt(e.Success), boolInt(e.Pulled), boolInt(e.Committed), boolInt(e.Pushed),
		string(changesJSON), e.Error)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`SELECT id, trigger_kind, started_at, finished_at, success, pulled, committed, pushed, changes, error
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// LastSuccess returns the most recent successful run, or false if
// none exists yet.
func (s *Store) LastSuccess() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT id, trigger_kind, started_at, finished_at, success, pulled, committed, pushed, changes, error
		FROM runs WHERE success = 1 ORDER BY started_at DESC LIMIT 1`)

	e, err := scanEntry(row)
	if err != nil {
		return Entry{}, false
	}
	return e, true
}

// Prune deletes all but the newest keep rows.
func (s *Store) Prune(keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep <= 0 {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM runs WHERE id NOT IN (
		SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?)`, keep)
	return err
}

// Count returns the number of recorded runs.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&n)
	return n
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewEntry builds an Entry skeleton for a run starting now.
func NewEntry(trigger string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: time.Now().UnixMilli(),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var e Entry
	var success, pulled, committed, pushed int
	var changesJSON string

	err := row.Scan(&e.ID, &e.Trigger, &e.StartedAt, &e.FinishedAt,
		&success, &pulled, &committed, &pushed, &changesJSON, &e.Error)
	if err != nil {
		return Entry{}, err
	}

	e.Success = success != 0
	e.Pulled = pulled != 0
	e.Committed = committed != 0
	e.Pushed = pushed != 0
	json.Unmarshal([]byte(changesJSON), &e.Changes)
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
