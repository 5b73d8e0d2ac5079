// Package store persists the live log buffer as a single JSON document on
// disk. Every save is a full rewrite of the document; there is no append-only
// log, so a crash between an in-memory append and the next save loses at most
// that one record.
package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store reads and writes the persisted live buffer document.
type Store struct {
	path   string
	strict bool
}

// New returns a store backed by the document at path. When strict is true an
// unreadable document fails Load instead of falling back to an empty buffer.
func New(path string, strict bool) *Store {
	return &Store{path: path, strict: strict}
}

// Path returns the location of the backing document.
func (s *Store) Path() string {
	return s.path
}

// Load reads the persisted document. A missing document is initialized to an
// empty buffer and persisted so the file exists from first startup. A corrupt
// document falls back to an empty buffer unless the store is strict; the file
// itself is left in place until the next Save overwrites it.
func (s *Store) Load() ([]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		records := []string{}
		if err := s.Save(records); err != nil {
			return nil, fmt.Errorf("store: initialize document: %w", err)
		}
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read document: %w", err)
	}

	var records []string
	if err := json.Unmarshal(data, &records); err != nil {
		if s.strict {
			return nil, fmt.Errorf("store: parse document %s: %w", s.path, err)
		}
		log.Printf("store: document %s is unreadable, starting with an empty buffer: %v", s.path, err)
		return []string{}, nil
	}
	if records == nil {
		records = []string{}
	}
	return records, nil
}

// Save serializes the buffer and replaces the document atomically. The
// document is written to a temporary file in the same directory and renamed
// into place so readers never observe a partial write.
func (s *Store) Save(records []string) error {
	if records == nil {
		records = []string{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "logs-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: finalize document: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("store: replace document: %w", err)
	}
	return nil
}
