// Package stats tracks ingest counters for the periodic console summary.
package stats

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker counts submissions by outcome. All counters are atomic so the
// ingest path never takes a lock to increment them.
type Tracker struct {
	ingested atomic.Uint64
	rejected atomic.Uint64
	archived atomic.Uint64
	start    atomic.Int64
}

// NewTracker creates a tracker with the uptime clock started.
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// IncrementIngested counts an accepted submission.
func (t *Tracker) IncrementIngested() {
	t.ingested.Add(1)
}

// IncrementRejected counts a submission rejected for a missing payload.
func (t *Tracker) IncrementRejected() {
	t.rejected.Add(1)
}

// IncrementArchived counts a completed archival transition.
func (t *Tracker) IncrementArchived() {
	t.archived.Add(1)
}

// Ingested returns the cumulative accepted submissions.
func (t *Tracker) Ingested() uint64 {
	return t.ingested.Load()
}

// Rejected returns the cumulative rejected submissions.
func (t *Tracker) Rejected() uint64 {
	return t.rejected.Load()
}

// Archived returns the cumulative archival transitions.
func (t *Tracker) Archived() uint64 {
	return t.archived.Load()
}

// Uptime returns how long the tracker has been running.
func (t *Tracker) Uptime() time.Duration {
	return time.Since(time.Unix(0, t.start.Load()))
}

// SnapshotLine returns a human-readable summary ready for console output.
// Subscriber and drop figures come from the hub, which owns those counters.
func (t *Tracker) SnapshotLine(subscribers int, drops uint64) string {
	return fmt.Sprintf("Stats: %s logs ingested, %s rejected, %s archives, %d subscribers (%s frames dropped), up %s",
		humanize.Comma(int64(t.ingested.Load())),
		humanize.Comma(int64(t.rejected.Load())),
		humanize.Comma(int64(t.archived.Load())),
		subscribers,
		humanize.Comma(int64(drops)),
		t.Uptime().Round(time.Second))
}
