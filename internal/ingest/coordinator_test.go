package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/claudecontext/claude-context/internal/chunker"
	"github.com/claudecontext/claude-context/internal/embed"
	apperrors "github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
	"github.com/claudecontext/claude-context/internal/progress"
	"github.com/claudecontext/claude-context/internal/registry"
	"github.com/claudecontext/claude-context/internal/scope"
	"github.com/claudecontext/claude-context/internal/vector"
)

type harness struct {
	coord   *Coordinator
	reg     *registry.Registry
	store   *vector.MemoryStore
	dense   *embed.FakeDense
	tracker *progress.Tracker
}

func newHarness(t *testing.T, hybrid bool) *harness {
	t.Helper()

	log := logger.New("error", "text")
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), log)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	h := &harness{
		reg:     reg,
		store:   vector.NewMemoryStore(),
		dense:   embed.NewFakeDense(8),
		tracker: progress.NewTracker(),
	}
	var sparse embed.SparseEncoder
	if hybrid {
		sparse = &embed.FakeSparse{}
	}
	gateway := embed.NewGateway(h.dense, sparse, nil, nil, log)
	ch := chunker.NewWithParser(chunker.Config{TargetSize: 512, Overlap: 64, MinSize: 32, MaxSize: 2048}, nil)
	h.coord = NewCoordinator(reg, h.store, gateway, ch, h.tracker, nil, log, Config{Dimension: 8, UpsertBatchSize: 10})
	return h
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	return root
}

func TestIndexLocalEndToEnd(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	root := writeTree(t, map[string]string{
		"main.go":   "func Hello() string { return \"hello\" }\n",
		"docs/a.md": "# Title\n\nSome documentation text.\n",
	})

	sc := scope.Scope{Project: "acme", Dataset: "local"}
	result, err := h.coord.IndexLocal(ctx, sc, root, ModeIncremental)
	if err != nil {
		t.Fatalf("IndexLocal: %v", err)
	}
	if result.ChunksStored == 0 {
		t.Fatal("nothing stored")
	}

	// Invariant: resolve is total after a successful index and the metadata
	// carries the stored point count.
	collectionName, err := h.reg.Resolve(ctx, "acme", "local")
	if err != nil {
		t.Fatalf("Resolve after index: %v", err)
	}
	if collectionName != scope.CollectionName("acme", "local") {
		t.Errorf("collection name = %s", collectionName)
	}
	if result.Collection.PointCount != int64(result.ChunksStored) {
		t.Errorf("point_count %d != chunks stored %d", result.Collection.PointCount, result.ChunksStored)
	}

	count, err := h.store.Count(ctx, collectionName, result.Collection.DatasetID)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if int(count) != result.ChunksStored {
		t.Errorf("vector store holds %d points, result says %d", count, result.ChunksStored)
	}

	// Progress reached terminal completed with expected == stored.
	rec, ok := h.tracker.SnapshotScope("acme", "local")
	if !ok {
		t.Fatal("no progress record")
	}
	if rec.Status != progress.StatusCompleted {
		t.Errorf("progress status = %s", rec.Status)
	}
	if rec.Expected != rec.Stored {
		t.Errorf("expected %d != stored %d at completion", rec.Expected, rec.Stored)
	}
}

func TestIndexEmptyCorpus(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	result, err := h.coord.Index(ctx, Request{
		Scope: scope.Scope{Project: "acme", Dataset: "empty"},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if result.ChunksStored != 0 {
		t.Errorf("stored = %d, want 0", result.ChunksStored)
	}

	// The registry record exists even for an empty corpus.
	if _, err := h.reg.Resolve(ctx, "acme", "empty"); err != nil {
		t.Errorf("Resolve after empty index: %v", err)
	}
	if result.Collection.PointCount != 0 {
		t.Errorf("point_count = %d, want 0", result.Collection.PointCount)
	}
}

func TestIncrementalSkipsUnchanged(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	sc := scope.Scope{Project: "acme", Dataset: "local"}

	docs := []Document{{Path: "main.go", Content: "func A() {}\n"}}

	first, err := h.coord.Index(ctx, Request{Scope: sc, Documents: docs, Mode: ModeIncremental})
	if err != nil {
		t.Fatalf("first Index: %v", err)
	}
	if first.ChunksStored == 0 || first.FilesSkipped != 0 {
		t.Fatalf("first run: %+v", first)
	}
	callsAfterFirst := h.dense.CallCount()

	second, err := h.coord.Index(ctx, Request{Scope: sc, Documents: docs, Mode: ModeIncremental})
	if err != nil {
		t.Fatalf("second Index: %v", err)
	}
	if second.FilesSkipped != 1 || second.ChunksStored != 0 {
		t.Errorf("unchanged file should be skipped: %+v", second)
	}
	if h.dense.CallCount() != callsAfterFirst {
		t.Error("digest short-circuit must avoid re-embedding")
	}

	// Forced mode re-embeds.
	forced, err := h.coord.Index(ctx, Request{Scope: sc, Documents: docs, Mode: ModeForced})
	if err != nil {
		t.Fatalf("forced Index: %v", err)
	}
	if forced.ChunksStored == 0 {
		t.Error("forced mode should re-embed")
	}
	if h.dense.CallCount() == callsAfterFirst {
		t.Error("forced mode did not call the embedder")
	}

	// Deterministic ids: re-index upserts, never duplicates.
	count, _ := h.store.Count(ctx, scope.CollectionName("acme", "local"), forced.Collection.DatasetID)
	if int(count) != first.ChunksStored {
		t.Errorf("point count after forced re-index = %d, want %d", count, first.ChunksStored)
	}
}

func TestChangedContentReindexes(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	sc := scope.Scope{Project: "acme", Dataset: "local"}

	if _, err := h.coord.Index(ctx, Request{Scope: sc, Documents: []Document{{Path: "a.go", Content: "func Old() {}\n"}}}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	result, err := h.coord.Index(ctx, Request{Scope: sc, Documents: []Document{{Path: "a.go", Content: "func New() {}\n"}}})
	if err != nil {
		t.Fatalf("Index changed: %v", err)
	}
	if result.FilesSkipped != 0 || result.ChunksStored == 0 {
		t.Errorf("changed content must be re-indexed: %+v", result)
	}
}

func TestDenseFailureKeepsPriorSnapshot(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	sc := scope.Scope{Project: "acme", Dataset: "local"}
	docs := []Document{{Path: "a.go", Content: "func A() {}\n"}}

	first, err := h.coord.Index(ctx, Request{Scope: sc, Documents: docs})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	h.dense.Err = errors.New("embedder down")
	_, err = h.coord.Index(ctx, Request{Scope: sc, Documents: docs, Mode: ModeForced})
	if err == nil {
		t.Fatal("dense failure must fail the operation")
	}
	if !apperrors.HasCode(err, apperrors.CodePartialIndex) {
		t.Errorf("expected partial index error, got %v", err)
	}

	// Progress is failed, and the registry still shows the prior snapshot.
	rec, _ := h.tracker.SnapshotScope("acme", "local")
	if rec.Status != progress.StatusFailed {
		t.Errorf("progress status = %s, want failed", rec.Status)
	}
	name, err := h.reg.Resolve(ctx, "acme", "local")
	if err != nil || name == "" {
		t.Errorf("prior registry snapshot must survive a failed run: %v", err)
	}

	listings, err := h.reg.ListForProject(ctx, "acme")
	if err != nil {
		t.Fatalf("ListForProject: %v", err)
	}
	if len(listings) != 1 || listings[0].PointCount != int64(first.ChunksStored) {
		t.Errorf("point count changed after failed run: %+v", listings)
	}
}

func TestCancellationMarksProgress(t *testing.T) {
	h := newHarness(t, false)
	sc := scope.Scope{Project: "acme", Dataset: "local"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.coord.Index(ctx, Request{Scope: sc, Documents: []Document{{Path: "a.go", Content: "func A() {}\n"}}})
	if !apperrors.IsCancelled(err) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	rec, _ := h.tracker.SnapshotScope("acme", "local")
	if rec.Status != progress.StatusFailed || rec.ErrorKind != progress.ErrKindCancelled {
		t.Errorf("progress = %+v, want failed/cancelled", rec)
	}
}

func TestEnumerateLocalSkips(t *testing.T) {
	root := writeTree(t, map[string]string{
		"keep.go":             "package main\n",
		".hidden":             "secret\n",
		"node_modules/x/y.js": "skip\n",
		".git/config":         "skip\n",
	})
	// A binary file.
	if err := os.WriteFile(filepath.Join(root, "blob.bin"), []byte{0x00, 0x01, 0x02}, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	docs, err := EnumerateLocal(root)
	if err != nil {
		t.Fatalf("EnumerateLocal: %v", err)
	}
	if len(docs) != 1 || docs[0].Path != "keep.go" {
		t.Errorf("enumeration = %+v, want only keep.go", docs)
	}
}

func TestIndexHybridStoresSparseVectors(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	sc := scope.Scope{Project: "acme", Dataset: "local"}

	_, err := h.coord.Index(ctx, Request{Scope: sc, Documents: []Document{{Path: "a.go", Content: "alpha beta gamma\n"}}})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	// A sparse query for an indexed token finds the chunk.
	fs := &embed.FakeSparse{}
	vecs, _ := fs.Encode(ctx, []string{"alpha"})
	results, err := h.store.SparseQuery(ctx, scope.CollectionName("acme", "local"), vector.QueryRequest{
		Sparse: &vecs[0],
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("SparseQuery: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("sparse vectors were not stored: %d results", len(results))
	}
}
