package conflict

import (
	"testing"
	"time"
)

func newTestTracker() (*Tracker, time.Time) {
	t0 := time.Unix(1000, 0)
	return NewTracker(Options{SettleWindow: 250 * time.Millisecond}), t0
}

func TestTwoWritersSameFileConflictOnce(t *testing.T) {
	tr, t0 := newTestTracker()
	tr.Register("A", "/work")
	tr.Register("B", "/work")

	tr.OnFSEvent("/work/foo.txt", t0)
	tr.OnFSEvent("/work/foo.txt", t0.Add(100*time.Millisecond))

	// Nothing settles inside the window.
	if events := tr.SettleDue(t0.Add(200 * time.Millisecond)); len(events) != 0 {
		t.Fatalf("settled too early: %v", events)
	}

	events := tr.SettleDue(t0.Add(400 * time.Millisecond))
	if len(events) != 1 {
		t.Fatalf("expected exactly one conflict event, got %d", len(events))
	}
	ev := events[0]
	if ev.Path != "/work/foo.txt" || len(ev.Sessions) != 2 || ev.Sessions[0] != "A" || ev.Sessions[1] != "B" {
		t.Fatalf("unexpected conflict event %+v", ev)
	}

	if len(tr.Conflicts()) != 1 {
		t.Fatal("conflict should appear in the live list")
	}
}

func TestSameOwnershipSetNotReReported(t *testing.T) {
	tr, t0 := newTestTracker()
	tr.Register("A", "/work")
	tr.Register("B", "/work")

	tr.OnFSEvent("/work/foo.txt", t0)
	if events := tr.SettleDue(t0.Add(time.Second)); len(events) != 1 {
		t.Fatalf("expected first report, got %v", events)
	}

	// Same pair touches the same file again: suppressed.
	tr.OnFSEvent("/work/foo.txt", t0.Add(2*time.Second))
	if events := tr.SettleDue(t0.Add(3 * time.Second)); len(events) != 0 {
		t.Fatalf("same combination must not re-report, got %v", events)
	}
}

func TestClosingSessionResolvesConflict(t *testing.T) {
	tr, t0 := newTestTracker()
	tr.Register("A", "/work")
	tr.Register("B", "/work")

	tr.OnFSEvent("/work/foo.txt", t0)
	tr.SettleDue(t0.Add(time.Second))
	if len(tr.Conflicts()) != 1 {
		t.Fatal("expected a conflict before close")
	}

	tr.DropSession("A", t0.Add(time.Second))
	tr.SettleDue(t0.Add(2 * time.Second))
	if len(tr.Conflicts()) != 0 {
		t.Fatalf("closing a session must resolve on next settle, got %v", tr.Conflicts())
	}
}

func TestSingleOwnerNeverConflicts(t *testing.T) {
	tr, t0 := newTestTracker()
	tr.Register("A", "/work")

	tr.OnFSEvent("/work/foo.txt", t0)
	if events := tr.SettleDue(t0.Add(time.Second)); len(events) != 0 {
		t.Fatalf("single owner is never a conflict, got %v", events)
	}
	if len(tr.Conflicts()) != 0 {
		t.Fatal("conflict list should be empty")
	}
}

func TestEventsOutsideSessionDirsIgnored(t *testing.T) {
	tr, t0 := newTestTracker()
	tr.Register("A", "/work/a")
	tr.Register("B", "/work/b")

	if touched := tr.OnFSEvent("/elsewhere/foo.txt", t0); touched != nil {
		t.Fatalf("unrelated path attributed to %v", touched)
	}
	if touched := tr.OnFSEvent("/work/a/foo.txt", t0); len(touched) != 1 || touched[0] != "A" {
		t.Fatalf("expected attribution to A only, got %v", touched)
	}
	// Sibling directory prefix must not match by string prefix alone.
	if touched := tr.OnFSEvent("/work/ab/foo.txt", t0); touched != nil {
		t.Fatalf("prefix sibling should not match, got %v", touched)
	}
}

func TestManualAttribution(t *testing.T) {
	tr, t0 := newTestTracker()
	tr.Register("A", "/a")
	tr.Register("B", "/b")

	tr.Attribute("A", "/shared/foo.txt", t0)
	tr.Attribute("B", "/shared/foo.txt", t0.Add(50*time.Millisecond))

	events := tr.SettleDue(t0.Add(time.Second))
	if len(events) != 1 || len(events[0].Sessions) != 2 {
		t.Fatalf("manual attribution should conflict, got %v", events)
	}
}

func TestOwnershipEvictedAfterSettle(t *testing.T) {
	tr, t0 := newTestTracker()
	tr.Register("A", "/work")

	tr.OnFSEvent("/work/foo.txt", t0)
	tr.SettleDue(t0.Add(time.Second))

	if owners := tr.Owners("/work/foo.txt"); len(owners) != 0 {
		t.Fatalf("idle ownership should be evicted at settle, got %v", owners)
	}
}
