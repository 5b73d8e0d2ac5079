package stats

import (
	"strings"
	"testing"
)

func TestCounters(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 3; i++ {
		tr.IncrementIngested()
	}
	tr.IncrementRejected()
	tr.IncrementArchived()

	if tr.Ingested() != 3 || tr.Rejected() != 1 || tr.Archived() != 1 {
		t.Fatalf("unexpected counters: ingested=%d rejected=%d archived=%d",
			tr.Ingested(), tr.Rejected(), tr.Archived())
	}
}

func TestSnapshotLine(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 1234; i++ {
		tr.IncrementIngested()
	}
	line := tr.SnapshotLine(2, 5)
	if !strings.Contains(line, "1,234 logs ingested") {
		t.Fatalf("expected humanized count in %q", line)
	}
	if !strings.Contains(line, "2 subscribers") {
		t.Fatalf("expected subscriber count in %q", line)
	}
	if !strings.Contains(line, "5 frames dropped") {
		t.Fatalf("expected drop count in %q", line)
	}
}
