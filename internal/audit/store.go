// Package audit persists proxied LLM traffic for later inspection.
//
// Every request/response pair that passes through the request router is
// appended to a per-run SQLite database. This is a diagnostic record today
// and the seam where feedback collection can attach later.
package audit

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/autominion/minion/internal/llm"
)

// Store records LLM interactions in SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenStore opens or creates an interaction store at the given path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS interactions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			ts          TEXT NOT NULL,
			provider    TEXT NOT NULL,
			model       TEXT NOT NULL,
			status      INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			request     BLOB NOT NULL,
			response    BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_interactions_ts ON interactions(ts);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Record appends one interaction. Implements llm.Recorder.
func (s *Store) Record(in llm.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO interactions (ts, provider, model, status, duration_ms, request, response)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, time.Now().UTC().Format(time.RFC3339Nano),
		in.Provider, in.Model, in.Status, in.Duration.Milliseconds(), in.Request, in.Response)
	if err != nil {
		return fmt.Errorf("inserting interaction: %w", err)
	}
	return nil
}

// Entry is one stored interaction.
type Entry struct {
	ID        int64
	Timestamp time.Time
	Provider  string
	Model     string
	Status    int
	Duration  time.Duration
	Request   []byte
	Response  []byte
}

// List returns all stored interactions in insertion order.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, ts, provider, model, status, duration_ms, request, response
		FROM interactions ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying interactions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		var ms int64
		if err := rows.Scan(&e.ID, &ts, &e.Provider, &e.Model, &e.Status, &ms, &e.Request, &e.Response); err != nil {
			return nil, fmt.Errorf("scanning interaction: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		e.Duration = time.Duration(ms) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
