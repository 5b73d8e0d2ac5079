// Package engine implements the log ingestion, broadcast, and archival state
// machine. The engine exclusively owns the live buffer: every mutation,
// its persistence, and the matching broadcast run as one atomic unit under a
// single mutex, so subscribers either see the pre-archival buffer or the
// post-archival empty state, never a torn view.
package engine

import (
	"log"
	"strings"
	"sync"

	"loghub/archive"
	"loghub/hub"
	"loghub/store"
)

// Sentinel is matched case-insensitively as a substring of the submitted log
// text; a match triggers the archival transition.
const Sentinel = "shutdown"

// Sink receives envelopes produced by the engine. The WebSocket hub is the
// primary sink; optional sinks (e.g. the MQTT feed) attach the same way.
type Sink interface {
	Publish(env hub.Envelope)
}

// RecordFunc receives every accepted record; used by the optional SQLite
// recorder. It must not block.
type RecordFunc func(text string)

// Result describes the outcome of a submission.
type Result struct {
	// Archived is true when the sentinel was detected and the archival
	// transition ran, whether or not it produced a snapshot.
	Archived bool
	// ArchiveID is the snapshot identifier, empty when no file was written.
	ArchiveID string
}

// Engine owns the live buffer and coordinates the durable store, the archive
// store, and the broadcast sinks.
type Engine struct {
	mu      sync.Mutex
	records []string

	store   *store.Store
	archive *archive.Store
	sinks   []Sink
	record  RecordFunc
}

// New creates an engine and loads the live buffer from the durable store.
// A load failure is returned only when the store is strict; the lenient
// store already degraded to an empty buffer.
func New(st *store.Store, ar *archive.Store) (*Engine, error) {
	records, err := st.Load()
	if err != nil {
		return nil, err
	}
	return &Engine{
		records: records,
		store:   st,
		archive: ar,
	}, nil
}

// AttachSink registers a broadcast sink. Not safe to call after the engine
// starts accepting submissions.
func (e *Engine) AttachSink(s Sink) {
	if s == nil {
		return
	}
	e.sinks = append(e.sinks, s)
}

// SetRecordFunc registers the per-record side channel.
func (e *Engine) SetRecordFunc(fn RecordFunc) {
	e.record = fn
}

// Submit appends a validated payload to the live buffer, persists the buffer,
// broadcasts the new record, and runs the archival transition when the
// payload contains the sentinel.
//
// Persistence and archival failures are logged and never propagate: the
// ingest path favors availability over strict durability. The caller has
// already validated that a payload was provided.
func (e *Engine) Submit(payload string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.records = append(e.records, payload)
	if err := e.store.Save(e.records); err != nil {
		log.Printf("engine: persist after append failed: %v", err)
	}
	e.publish(hub.Envelope{Type: hub.TypeNew, Data: []string{payload}})
	if e.record != nil {
		e.record(payload)
	}

	if !strings.Contains(strings.ToLower(payload), Sentinel) {
		return Result{}
	}

	id := e.archiveLocked()
	return Result{Archived: true, ArchiveID: id}
}

// Subscribe runs fn with the engine lock held, passing a copy of the live
// buffer. Because Submit broadcasts under the same lock, a subscriber
// registered inside fn sees every record exactly once: in the snapshot when
// its Submit completed before the subscription, as an incremental envelope
// otherwise.
func (e *Engine) Subscribe(fn func(records []string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(append([]string{}, e.records...))
}

// Records returns a copy of the live buffer.
func (e *Engine) Records() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string{}, e.records...)
}

// Len returns the current live buffer length.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.records)
}

// Reload re-reads the live buffer from the durable store and returns a copy.
// Used by read endpoints so they reflect the persisted document.
func (e *Engine) Reload() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	records, err := e.store.Load()
	if err != nil {
		return nil, err
	}
	e.records = records
	return append([]string{}, records...), nil
}

// archiveLocked runs the archival transition with the engine lock held:
// snapshot, clear, persist, notify. Each step is best-effort; an empty buffer
// aborts with no snapshot and no notification.
func (e *Engine) archiveLocked() string {
	if len(e.records) == 0 {
		log.Printf("engine: archival requested with empty buffer, nothing to archive")
		return ""
	}

	id, err := e.archive.Snapshot(e.records)
	if err != nil {
		log.Printf("engine: snapshot failed: %v", err)
		id = ""
	}

	e.records = []string{}
	if err := e.store.Save(e.records); err != nil {
		log.Printf("engine: persist after archival failed: %v", err)
	}

	notice := hub.ArchiveNotice{Cleared: true}
	if id != "" {
		notice.Archived = &id
	}
	e.publish(hub.Envelope{Type: hub.TypeArchive, Data: notice})
	return id
}

func (e *Engine) publish(env hub.Envelope) {
	for _, sink := range e.sinks {
		sink.Publish(env)
	}
}
