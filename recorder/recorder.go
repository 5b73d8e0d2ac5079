// Package recorder persists a bounded number of ingested log records to
// SQLite for offline analysis without slowing the ingest path.
package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Recorder inserts ingested records into SQLite up to a total cap. Inserts
// run asynchronously; the ingest path never blocks on the database.
type Recorder struct {
	db    *sql.DB
	limit int

	mu    sync.Mutex
	count int
}

// New opens (or creates) the SQLite database at path and ensures the schema
// exists. The cap counts rows already present so it survives restarts.
func New(path string, limit int) (*Recorder, error) {
	if limit <= 0 {
		return nil, errors.New("recorder: limit must be > 0")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("recorder: ensure dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recorder: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	var count int
	if err := db.QueryRow(`select count(*) from records`).Scan(&count); err != nil {
		db.Close()
		return nil, fmt.Errorf("recorder: count rows: %w", err)
	}
	return &Recorder{db: db, limit: limit, count: count}, nil
}

func initSchema(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    received_at INTEGER,
    text TEXT
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("recorder: schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (r *Recorder) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Record inserts the text if the cap has not been reached. Safe on a nil
// receiver so callers can hold an optional recorder without guards.
func (r *Recorder) Record(text string) {
	if r == nil || r.db == nil {
		return
	}
	r.mu.Lock()
	if r.count >= r.limit {
		r.mu.Unlock()
		return
	}
	r.count++
	r.mu.Unlock()

	go r.insert(text, time.Now().UTC())
}

// Count returns the number of rows accounted for by the cap.
func (r *Recorder) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Recorder) insert(text string, at time.Time) {
	if _, err := r.db.Exec(`INSERT INTO records (received_at, text) VALUES (?, ?)`, at.Unix(), text); err != nil {
		log.Printf("recorder: insert failed: %v", err)
	}
}
