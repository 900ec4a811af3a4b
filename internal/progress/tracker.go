// Package progress provides the in-memory progress fabric for long-running
// operations. Updates are O(1) and never block callers; readers get
// snapshots. No locks escape this package.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status of a tracked operation.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusIndexing  Status = "indexing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Error kinds carried by failed records.
const (
	ErrKindCancelled = "cancelled"
	ErrKindTimeout   = "timeout"
	ErrKindFailure   = "failure"
)

// DefaultTTL is how long terminal records are retained.
const DefaultTTL = time.Hour

// Record is a snapshot of a long-running operation's state.
type Record struct {
	OperationID string    `json:"operation_id"`
	Project     string    `json:"project"`
	Dataset     string    `json:"dataset,omitempty"`
	Expected    int       `json:"expected"`
	Stored      int       `json:"stored"`
	Status      Status    `json:"status"`
	Phase       string    `json:"phase,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at,omitzero"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
}

// Terminal reports whether the record reached a final status.
func (r Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// Tracker is the process-wide progress map.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]*Record // operation id -> record
	scopes  map[string]string  // project/dataset -> operation id (indexing ops)
	ttl     time.Duration
	now     func() time.Time
}

// NewTracker creates a tracker with the default TTL.
func NewTracker() *Tracker {
	return &Tracker{
		records: make(map[string]*Record),
		scopes:  make(map[string]string),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
}

func scopeKey(project, dataset string) string {
	return project + "/" + dataset
}

// Start registers a new operation and returns its id.
func (t *Tracker) Start(project, dataset, phase string) string {
	id := uuid.NewString()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec := &Record{
		OperationID: id,
		Project:     project,
		Dataset:     dataset,
		Status:      StatusStarting,
		Phase:       phase,
		StartedAt:   t.now(),
	}
	t.records[id] = rec
	if dataset != "" {
		t.scopes[scopeKey(project, dataset)] = id
	}
	return id
}

// SetPhase updates the free-form phase string and moves the record to the
// indexing status if it was still starting.
func (t *Tracker) SetPhase(id, phase string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok || rec.Terminal() {
		return
	}
	rec.Phase = phase
	if rec.Status == StatusStarting {
		rec.Status = StatusIndexing
	}
}

// SetExpected records the number of units the operation intends to store.
func (t *Tracker) SetExpected(id string, expected int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok || rec.Terminal() {
		return
	}
	if expected < rec.Stored {
		expected = rec.Stored
	}
	rec.Expected = expected
	if rec.Status == StatusStarting {
		rec.Status = StatusIndexing
	}
}

// AddStored increments the stored counter. Stored never decreases and
// expected is raised to keep expected >= stored.
func (t *Tracker) AddStored(id string, n int) {
	if n <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok || rec.Terminal() {
		return
	}
	rec.Stored += n
	if rec.Expected < rec.Stored {
		rec.Expected = rec.Stored
	}
	if rec.Status == StatusStarting {
		rec.Status = StatusIndexing
	}
}

// Complete marks the operation completed. Completion and failure are
// mutually exclusive; the first terminal transition wins.
func (t *Tracker) Complete(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok || rec.Terminal() {
		return
	}
	rec.Status = StatusCompleted
	rec.EndedAt = t.now()
}

// Fail marks the operation failed with the given cause.
func (t *Tracker) Fail(id string, err error, kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok || rec.Terminal() {
		return
	}
	rec.Status = StatusFailed
	rec.EndedAt = t.now()
	if err != nil {
		rec.Error = err.Error()
	}
	if kind == "" {
		kind = ErrKindFailure
	}
	rec.ErrorKind = kind
}

// Snapshot returns a copy of the record for an operation id.
func (t *Tracker) Snapshot(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// SnapshotScope returns the record for the most recent indexing operation on
// a (project, dataset) scope.
func (t *Tracker) SnapshotScope(project, dataset string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.scopes[scopeKey(project, dataset)]
	if !ok {
		return Record{}, false
	}
	rec, ok := t.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ForProject returns snapshots for all operations in a project, newest
// first. With activeOnly, terminal records are excluded.
func (t *Tracker) ForProject(project string, activeOnly bool) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Record
	for _, rec := range t.records {
		if rec.Project != project {
			continue
		}
		if activeOnly && rec.Terminal() {
			continue
		}
		out = append(out, *rec)
	}
	sortRecords(out)
	return out
}

// All returns snapshots for every tracked operation.
func (t *Tracker) All(activeOnly bool) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		if activeOnly && rec.Terminal() {
			continue
		}
		out = append(out, *rec)
	}
	sortRecords(out)
	return out
}

func sortRecords(recs []Record) {
	// Newest first; stable tie-break on operation id for determinism.
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0; j-- {
			a, b := recs[j-1], recs[j]
			if b.StartedAt.After(a.StartedAt) || (b.StartedAt.Equal(a.StartedAt) && b.OperationID < a.OperationID) {
				recs[j-1], recs[j] = b, a
			} else {
				break
			}
		}
	}
}

// Clear removes all records for a scope. Used by explicit clears.
func (t *Tracker) Clear(project, dataset string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, rec := range t.records {
		if rec.Project != project {
			continue
		}
		if dataset != "" && rec.Dataset != dataset {
			continue
		}
		delete(t.records, id)
	}
	if dataset != "" {
		delete(t.scopes, scopeKey(project, dataset))
	}
}

// Evict removes terminal records older than the TTL. Returns the number
// evicted.
func (t *Tracker) Evict() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.ttl)
	evicted := 0
	for id, rec := range t.records {
		if !rec.Terminal() || rec.EndedAt.After(cutoff) {
			continue
		}
		delete(t.records, id)
		if rec.Dataset != "" && t.scopes[scopeKey(rec.Project, rec.Dataset)] == id {
			delete(t.scopes, scopeKey(rec.Project, rec.Dataset))
		}
		evicted++
	}
	return evicted
}

// RunSweeper evicts expired records at the given interval until ctx is done.
func (t *Tracker) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Evict()
		}
	}
}
