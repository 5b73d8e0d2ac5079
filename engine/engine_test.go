package engine

import (
	"path/filepath"
	"sync"
	"testing"

	"loghub/archive"
	"loghub/hub"
	"loghub/store"
)

type captureSink struct {
	mu        sync.Mutex
	envelopes []hub.Envelope
}

func (c *captureSink) Publish(env hub.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopes = append(c.envelopes, env)
}

func (c *captureSink) all() []hub.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]hub.Envelope{}, c.envelopes...)
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *archive.Store, *captureSink) {
	t.Helper()
	dir := t.TempDir()
	st := store.New(filepath.Join(dir, "logs.json"), false)
	ar, err := archive.New(filepath.Join(dir, "archives"))
	if err != nil {
		t.Fatalf("archive.New() error: %v", err)
	}
	e, err := New(st, ar)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	sink := &captureSink{}
	e.AttachSink(sink)
	return e, st, ar, sink
}

func TestSubmitPreservesOrderAndPersists(t *testing.T) {
	e, st, _, sink := newTestEngine(t)

	want := []string{"first", "second", "third"}
	for _, payload := range want {
		res := e.Submit(payload)
		if res.Archived {
			t.Fatalf("Submit(%q) unexpectedly archived", payload)
		}
	}

	got := e.Records()
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("record %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	persisted, err := st.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(persisted) != len(want) {
		t.Fatalf("persisted state diverged: %v", persisted)
	}
	for i := range want {
		if persisted[i] != want[i] {
			t.Fatalf("persisted record %d: expected %q, got %q", i, want[i], persisted[i])
		}
	}

	envs := sink.all()
	if len(envs) != 3 {
		t.Fatalf("expected 3 envelopes, got %d", len(envs))
	}
	for i, env := range envs {
		if env.Type != hub.TypeNew {
			t.Fatalf("envelope %d: expected type new, got %q", i, env.Type)
		}
		data, ok := env.Data.([]string)
		if !ok || len(data) != 1 || data[0] != want[i] {
			t.Fatalf("envelope %d: expected single record %q, got %#v", i, want[i], env.Data)
		}
	}
}

// Purpose: Verify sentinel detection is a case-insensitive substring match.
// Key aspects: Table of payloads that must and must not trigger archival.
// Upstream: go test.
// Downstream: Submit.
func TestSentinelDetection(t *testing.T) {
	cases := []struct {
		payload  string
		archived bool
	}{
		{"system SHUTDOWN imminent", true},
		{"Shutdown requested by operator", true},
		{"graceful shutdown complete", true},
		{"shutdow", false},
		{"restarting", false},
	}
	for _, tc := range cases {
		e, _, _, _ := newTestEngine(t)
		res := e.Submit(tc.payload)
		if res.Archived != tc.archived {
			t.Fatalf("Submit(%q): archived=%v, expected %v", tc.payload, res.Archived, tc.archived)
		}
	}
}

func TestArchivalTransition(t *testing.T) {
	e, st, ar, sink := newTestEngine(t)

	e.Submit("one")
	e.Submit("two")
	res := e.Submit("shutdown now")
	if !res.Archived || res.ArchiveID == "" {
		t.Fatalf("expected archival with identifier, got %+v", res)
	}

	if got := e.Len(); got != 0 {
		t.Fatalf("expected empty buffer after archival, got %d records", got)
	}
	persisted, err := st.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(persisted) != 0 {
		t.Fatalf("expected empty persisted state, got %v", persisted)
	}

	names, err := ar.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 1 || names[0] != res.ArchiveID {
		t.Fatalf("expected snapshot %q in archive, got %v", res.ArchiveID, names)
	}
	records, err := ar.Read(res.ArchiveID)
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(records) != 3 || records[2] != "shutdown now" {
		t.Fatalf("snapshot missing the triggering record: %v", records)
	}

	envs := sink.all()
	if len(envs) != 4 {
		t.Fatalf("expected 4 envelopes (3 new + 1 archive), got %d", len(envs))
	}
	last := envs[len(envs)-1]
	if last.Type != hub.TypeArchive {
		t.Fatalf("expected final archive envelope, got %q", last.Type)
	}
	notice, ok := last.Data.(hub.ArchiveNotice)
	if !ok {
		t.Fatalf("unexpected archive payload: %#v", last.Data)
	}
	if notice.Archived == nil || *notice.Archived != res.ArchiveID || !notice.Cleared {
		t.Fatalf("unexpected archive notice: %+v", notice)
	}
}

func TestArchivalWithEmptyBufferIsNoOp(t *testing.T) {
	e, _, ar, sink := newTestEngine(t)

	if id := e.archiveLocked(); id != "" {
		t.Fatalf("expected no snapshot for empty buffer, got %q", id)
	}
	names, err := ar.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no snapshot files, got %v", names)
	}
	if envs := sink.all(); len(envs) != 0 {
		t.Fatalf("expected no envelopes, got %d", len(envs))
	}
}

func TestReloadReflectsPersistedDocument(t *testing.T) {
	e, st, _, _ := newTestEngine(t)
	e.Submit("kept")

	// Simulate an external rewrite of the document.
	if err := st.Save([]string{"replaced"}); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	records, err := e.Reload()
	if err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if len(records) != 1 || records[0] != "replaced" {
		t.Fatalf("expected reloaded buffer, got %v", records)
	}

	again, err := e.Reload()
	if err != nil {
		t.Fatalf("Reload() error: %v", err)
	}
	if len(again) != 1 || again[0] != "replaced" {
		t.Fatalf("expected identical content on repeat reload, got %v", again)
	}
}

func TestSubscribeSnapshotIsACopy(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	e.Submit("only")

	var snapshot []string
	e.Subscribe(func(records []string) {
		snapshot = records
	})
	if len(snapshot) != 1 || snapshot[0] != "only" {
		t.Fatalf("unexpected snapshot: %v", snapshot)
	}

	snapshot[0] = "mutated"
	if got := e.Records(); got[0] != "only" {
		t.Fatalf("subscriber snapshot aliased the live buffer: %v", got)
	}
}

func TestEngineSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	st := store.New(filepath.Join(dir, "logs.json"), false)
	ar, err := archive.New(filepath.Join(dir, "archives"))
	if err != nil {
		t.Fatalf("archive.New() error: %v", err)
	}

	first, err := New(st, ar)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	first.Submit("persisted across restarts")

	second, err := New(st, ar)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	records := second.Records()
	if len(records) != 1 || records[0] != "persisted across restarts" {
		t.Fatalf("expected buffer to survive restart, got %v", records)
	}
}
