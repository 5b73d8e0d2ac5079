// Package archive manages immutable, timestamp-named snapshots of the live
// log buffer. Snapshots are plain JSON documents in a dedicated directory;
// they are created by the archival transition and removed only by explicit
// operator action.
//
// Snapshot identifiers double as file names, so identifier validation is a
// security boundary: any name that would resolve outside the archive
// directory is rejected before it touches the filesystem.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidName reports a snapshot identifier that failed validation.
var ErrInvalidName = errors.New("archive: invalid snapshot name")

const (
	snapshotPrefix = "logs-"
	snapshotSuffix = ".json"

	// Colons and periods in the timestamp are replaced for filesystem safety.
	snapshotTimeLayout = "2006-01-02T15:04:05.000Z"
)

var timestampSanitizer = strings.NewReplacer(":", "-", ".", "-")

// Store writes and manages snapshot documents under a single directory.
type Store struct {
	dir string
	now func() time.Time
}

// New ensures the archive directory exists and returns a store for it.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("archive: directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure dir: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Dir returns the archive directory.
func (a *Store) Dir() string {
	return a.dir
}

// Snapshot writes the buffer to a new timestamp-named document and returns
// its identifier. An existing identifier is never overwritten; in the
// unlikely event of a timestamp collision a numeric suffix is appended.
func (a *Store) Snapshot(records []string) (string, error) {
	if records == nil {
		records = []string{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: marshal snapshot: %w", err)
	}

	stamp := timestampSanitizer.Replace(a.now().UTC().Format(snapshotTimeLayout))
	name := snapshotPrefix + stamp + snapshotSuffix
	for n := 2; ; n++ {
		if _, err := os.Stat(filepath.Join(a.dir, name)); errors.Is(err, os.ErrNotExist) {
			break
		}
		name = fmt.Sprintf("%s%s-%d%s", snapshotPrefix, stamp, n, snapshotSuffix)
	}

	if err := os.WriteFile(filepath.Join(a.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("archive: write snapshot: %w", err)
	}
	return name, nil
}

// List returns all snapshot identifiers, newest first. Timestamp-embedding
// names sort chronologically, so a descending lexicographic sort suffices.
func (a *Store) List() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, fmt.Errorf("archive: read dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.HasSuffix(entry.Name(), snapshotSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Delete removes a single snapshot. It returns ErrInvalidName for an
// identifier that fails validation and os.ErrNotExist for an absent one.
func (a *Store) Delete(name string) error {
	path, err := a.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("archive: delete %s: %w", name, err)
	}
	return nil
}

// DeleteAll removes every snapshot and returns the identifiers actually
// deleted. A failure on one snapshot is reported but does not stop the rest.
func (a *Store) DeleteAll() ([]string, error) {
	names, err := a.List()
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0, len(names))
	var firstErr error
	for _, name := range names {
		if err := os.Remove(filepath.Join(a.dir, name)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("archive: delete %s: %w", name, err)
			}
			continue
		}
		deleted = append(deleted, name)
	}
	return deleted, firstErr
}

// Open opens a snapshot for reading, validating the identifier first.
func (a *Store) Open(name string) (*os.File, os.FileInfo, error) {
	path, err := a.resolve(name)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("archive: open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("archive: stat %s: %w", name, err)
	}
	return f, info, nil
}

// Read returns the records stored in a snapshot.
func (a *Store) Read(name string) ([]string, error) {
	path, err := a.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("archive: read %s: %w", name, err)
	}
	var records []string
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("archive: parse %s: %w", name, err)
	}
	return records, nil
}

// resolve validates an identifier and returns its absolute path inside the
// archive directory. A name containing path separators, parent references,
// or anything else that would escape the directory is rejected.
func (a *Store) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrInvalidName
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return "", ErrInvalidName
	}
	if strings.ContainsAny(name, "/\\") || strings.Contains(name, "..") {
		return "", ErrInvalidName
	}

	dirAbs, err := filepath.Abs(a.dir)
	if err != nil {
		return "", fmt.Errorf("archive: resolve dir: %w", err)
	}
	path := filepath.Join(dirAbs, name)
	if filepath.Dir(path) != dirAbs {
		return "", ErrInvalidName
	}
	return path, nil
}
