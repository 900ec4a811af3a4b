package progress

import (
	"errors"
	"testing"
	"time"
)

func TestLifecycle(t *testing.T) {
	tr := NewTracker()

	id := tr.Start("acme", "local", "enumerating")
	rec, ok := tr.Snapshot(id)
	if !ok {
		t.Fatal("record not found after Start")
	}
	if rec.Status != StatusStarting {
		t.Errorf("status = %s, want starting", rec.Status)
	}

	tr.SetExpected(id, 10)
	tr.AddStored(id, 4)
	tr.AddStored(id, 6)
	tr.Complete(id)

	rec, _ = tr.Snapshot(id)
	if rec.Status != StatusCompleted {
		t.Errorf("status = %s, want completed", rec.Status)
	}
	if rec.Expected != 10 || rec.Stored != 10 {
		t.Errorf("expected/stored = %d/%d, want 10/10", rec.Expected, rec.Stored)
	}
	if rec.EndedAt.IsZero() {
		t.Error("terminal record must carry ended_at")
	}
}

func TestTerminalIsExclusive(t *testing.T) {
	tr := NewTracker()

	id := tr.Start("acme", "local", "")
	tr.Complete(id)
	tr.Fail(id, errors.New("boom"), ErrKindFailure)

	rec, _ := tr.Snapshot(id)
	if rec.Status != StatusCompleted {
		t.Errorf("first terminal transition must win, got %s", rec.Status)
	}
	if rec.Error != "" {
		t.Errorf("completed record should carry no error, got %q", rec.Error)
	}
}

func TestMonotonicCounters(t *testing.T) {
	tr := NewTracker()

	id := tr.Start("acme", "local", "")
	tr.SetExpected(id, 5)
	tr.AddStored(id, 3)
	tr.AddStored(id, -10) // ignored
	rec, _ := tr.Snapshot(id)
	if rec.Stored != 3 {
		t.Errorf("stored = %d, want 3", rec.Stored)
	}

	// Stored may never exceed expected.
	tr.AddStored(id, 10)
	rec, _ = tr.Snapshot(id)
	if rec.Expected < rec.Stored {
		t.Errorf("expected %d < stored %d", rec.Expected, rec.Stored)
	}

	// Expected may not drop below stored.
	tr.SetExpected(id, 1)
	rec, _ = tr.Snapshot(id)
	if rec.Expected < rec.Stored {
		t.Errorf("expected %d < stored %d after SetExpected", rec.Expected, rec.Stored)
	}
}

func TestFailCarriesCause(t *testing.T) {
	tr := NewTracker()

	id := tr.Start("acme", "docs", "fetching")
	tr.Fail(id, errors.New("context canceled"), ErrKindCancelled)

	rec, _ := tr.Snapshot(id)
	if rec.Status != StatusFailed {
		t.Errorf("status = %s, want failed", rec.Status)
	}
	if rec.ErrorKind != ErrKindCancelled {
		t.Errorf("error kind = %s, want cancelled", rec.ErrorKind)
	}
}

func TestSnapshotScope(t *testing.T) {
	tr := NewTracker()

	tr.Start("acme", "local", "")
	second := tr.Start("acme", "local", "")

	rec, ok := tr.SnapshotScope("acme", "local")
	if !ok {
		t.Fatal("scope snapshot missing")
	}
	if rec.OperationID != second {
		t.Errorf("scope should point at the latest operation")
	}

	if _, ok := tr.SnapshotScope("acme", "missing"); ok {
		t.Error("unknown scope should report not found")
	}
}

func TestForProjectActiveFilter(t *testing.T) {
	tr := NewTracker()

	a := tr.Start("acme", "docs", "")
	tr.Start("acme", "local", "")
	tr.Start("other", "local", "")
	tr.Complete(a)

	all := tr.ForProject("acme", false)
	if len(all) != 2 {
		t.Fatalf("expected 2 records for acme, got %d", len(all))
	}

	active := tr.ForProject("acme", true)
	if len(active) != 1 {
		t.Fatalf("expected 1 active record, got %d", len(active))
	}
	if active[0].Dataset != "local" {
		t.Errorf("active record dataset = %s, want local", active[0].Dataset)
	}
}

func TestEvict(t *testing.T) {
	tr := NewTracker()

	now := time.Now()
	tr.now = func() time.Time { return now }

	done := tr.Start("acme", "docs", "")
	tr.Complete(done)
	running := tr.Start("acme", "local", "")

	// Nothing is old enough yet.
	if n := tr.Evict(); n != 0 {
		t.Errorf("evicted %d records before TTL", n)
	}

	// Advance past the TTL: the terminal record goes, the running one stays.
	tr.now = func() time.Time { return now.Add(DefaultTTL + time.Minute) }
	if n := tr.Evict(); n != 1 {
		t.Errorf("evicted %d records, want 1", n)
	}
	if _, ok := tr.Snapshot(done); ok {
		t.Error("terminal record should have been evicted")
	}
	if _, ok := tr.Snapshot(running); !ok {
		t.Error("running record must survive eviction")
	}
}

func TestClearScope(t *testing.T) {
	tr := NewTracker()

	tr.Start("acme", "docs", "")
	tr.Start("acme", "local", "")

	tr.Clear("acme", "docs")

	if _, ok := tr.SnapshotScope("acme", "docs"); ok {
		t.Error("cleared scope should have no record")
	}
	if _, ok := tr.SnapshotScope("acme", "local"); !ok {
		t.Error("other scopes must be untouched")
	}
}
