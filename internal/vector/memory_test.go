package vector

import (
	"context"
	"testing"

	"github.com/claudecontext/claude-context/internal/embed"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()

	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.EnsureCollection(ctx, "col", 2, true); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	points := []Point{
		{
			ID:      "a",
			Dense:   []float32{1, 0},
			Sparse:  &embed.SparseVector{Indices: []uint32{1}, Values: []float32{2}},
			Payload: Payload{DatasetID: "ds1", SourcePath: "src/a.go", Language: "go"},
		},
		{
			ID:      "b",
			Dense:   []float32{0, 1},
			Payload: Payload{DatasetID: "ds2", SourcePath: "src/b.go", Language: "go"},
		},
		{
			ID:      "c",
			Dense:   []float32{1, 1},
			Payload: Payload{DatasetID: "ds1", SourcePath: "docs/c.md", Language: "markdown"},
		},
	}
	if err := store.Upsert(ctx, "col", points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return store
}

func TestMemoryStoreDatasetIsolation(t *testing.T) {
	store := seedStore(t)

	results, err := store.DenseQuery(context.Background(), "col", QueryRequest{
		Dense:  []float32{1, 1},
		Filter: Filter{DatasetIDs: []string{"ds1"}},
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("DenseQuery: %v", err)
	}

	for _, r := range results {
		if r.Payload.DatasetID != "ds1" {
			t.Errorf("result %s leaked from dataset %s", r.ID, r.Payload.DatasetID)
		}
	}
	if len(results) != 2 {
		t.Errorf("expected 2 ds1 results, got %d", len(results))
	}
}

func TestMemoryStoreCallerFilters(t *testing.T) {
	store := seedStore(t)

	results, err := store.DenseQuery(context.Background(), "col", QueryRequest{
		Dense:  []float32{1, 1},
		Filter: Filter{DatasetIDs: []string{"ds1"}, Language: "go"},
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("DenseQuery: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("language filter failed: %+v", results)
	}

	results, err = store.DenseQuery(context.Background(), "col", QueryRequest{
		Dense:  []float32{1, 1},
		Filter: Filter{DatasetIDs: []string{"ds1"}, PathPrefix: "docs/"},
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("DenseQuery: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c" {
		t.Errorf("path prefix filter failed: %+v", results)
	}
}

func TestMemoryStoreSparseQuery(t *testing.T) {
	store := seedStore(t)

	results, err := store.SparseQuery(context.Background(), "col", QueryRequest{
		Sparse: &embed.SparseVector{Indices: []uint32{1}, Values: []float32{1}},
		Filter: Filter{DatasetIDs: []string{"ds1", "ds2"}},
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("SparseQuery: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Errorf("sparse query should only match points with sparse vectors: %+v", results)
	}
}

func TestMemoryStoreCountAndDelete(t *testing.T) {
	store := seedStore(t)
	ctx := context.Background()

	count, err := store.Count(ctx, "col", "ds1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	if err := store.DeleteByDataset(ctx, "col", "ds1"); err != nil {
		t.Fatalf("DeleteByDataset: %v", err)
	}
	count, _ = store.Count(ctx, "col", "ds1")
	if count != 0 {
		t.Errorf("count after delete = %d, want 0", count)
	}
	count, _ = store.Count(ctx, "col", "ds2")
	if count != 1 {
		t.Errorf("other dataset disturbed, count = %d, want 1", count)
	}
}

func TestMemoryStoreNotHybridCapable(t *testing.T) {
	store := NewMemoryStore()
	if store.HybridCapable() {
		t.Error("memory store must report dense-only")
	}
	if _, err := store.HybridQuery(context.Background(), "col", QueryRequest{}); err == nil {
		t.Error("HybridQuery should fail on a dense-only store")
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw      string
		wantHost string
		wantPort int
		wantTLS  bool
	}{
		{"", "localhost", 6334, false},
		{"http://qdrant:6333", "qdrant", 6334, false},
		{"http://qdrant:6334", "qdrant", 6334, false},
		{"https://cloud.example:7000", "cloud.example", 7000, true},
	}

	for _, tt := range tests {
		cfg, err := ParseURL(tt.raw)
		if err != nil {
			t.Fatalf("ParseURL(%q): %v", tt.raw, err)
		}
		if cfg.Host != tt.wantHost || cfg.Port != tt.wantPort || cfg.UseTLS != tt.wantTLS {
			t.Errorf("ParseURL(%q) = %s:%d tls=%v, want %s:%d tls=%v",
				tt.raw, cfg.Host, cfg.Port, cfg.UseTLS, tt.wantHost, tt.wantPort, tt.wantTLS)
		}
	}
}
