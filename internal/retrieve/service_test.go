package retrieve

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/claudecontext/claude-context/internal/embed"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
	"github.com/claudecontext/claude-context/internal/registry"
	"github.com/claudecontext/claude-context/internal/retrieve/fusion"
	"github.com/claudecontext/claude-context/internal/scope"
	"github.com/claudecontext/claude-context/internal/vector"
)

type fixture struct {
	reg     *registry.Registry
	store   *vector.MemoryStore
	dense   *embed.FakeDense
	sparse  *embed.FakeSparse
	rerank  *embed.FakeReranker
	gateway *embed.Gateway
	svc     *Service
}

// newFixture builds a retrieval service over the in-memory store with fake
// embedders. hybrid/rerank toggle the optional capabilities.
func newFixture(t *testing.T, hybrid, rerank bool) *fixture {
	t.Helper()

	log := logger.New("error", "text")
	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), log)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	f := &fixture{
		reg:   reg,
		store: vector.NewMemoryStore(),
		dense: embed.NewFakeDense(16),
	}
	var sparseEnc embed.SparseEncoder
	if hybrid {
		f.sparse = &embed.FakeSparse{}
		sparseEnc = f.sparse
	}
	var reranker embed.Reranker
	if rerank {
		f.rerank = &embed.FakeReranker{}
		reranker = f.rerank
	}
	f.gateway = embed.NewGateway(f.dense, sparseEnc, reranker, nil, log)
	f.svc = NewService(reg, f.store, f.gateway, log, Config{DefaultTopK: 10, RerankInitialK: 150})
	return f
}

// seed indexes content chunks into a dataset, creating the project, dataset,
// collection record, and vector points.
func (f *fixture) seed(t *testing.T, project, dataset string, contents map[string]string) {
	t.Helper()
	ctx := context.Background()

	p, err := f.reg.GetOrCreateProject(ctx, project)
	if err != nil {
		t.Fatalf("GetOrCreateProject: %v", err)
	}
	d, err := f.reg.GetOrCreateDataset(ctx, p.ID, dataset)
	if err != nil {
		t.Fatalf("GetOrCreateDataset: %v", err)
	}
	collection := scope.CollectionName(project, dataset)
	if err := f.store.EnsureCollection(ctx, collection, 16, true); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if _, _, err := f.reg.GetOrCreateCollection(ctx, d.ID, collection, registry.VectorKindPrimary, 16, true); err != nil {
		t.Fatalf("GetOrCreateCollection: %v", err)
	}

	var points []vector.Point
	for path, content := range contents {
		dense, err := f.dense.Embed(ctx, []string{content})
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		point := vector.Point{
			ID:    dataset + ":" + path,
			Dense: dense[0],
			Payload: vector.Payload{
				ProjectID:  p.ID,
				DatasetID:  d.ID,
				SourcePath: path,
				Language:   "go",
				Content:    content,
			},
		}
		if f.sparse != nil {
			vecs, err := f.sparse.Encode(ctx, []string{content})
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			point.Sparse = &vecs[0]
		}
		points = append(points, point)
	}
	if err := f.store.Upsert(ctx, collection, points); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func (f *fixture) datasetID(t *testing.T, project, dataset string) string {
	t.Helper()
	d, err := f.reg.GetDataset(context.Background(), project, dataset)
	if err != nil {
		t.Fatalf("GetDataset: %v", err)
	}
	return d.ID
}

func TestSearchExactContentTopOne(t *testing.T) {
	f := newFixture(t, false, false)
	f.seed(t, "acme", "local", map[string]string{
		"main.go":  "func Hello() string { return \"hello\" }",
		"other.go": "func Goodbye() string { return \"bye\" }",
		"third.go": "completely unrelated prose about gardening",
	})

	resp, err := f.svc.Search(context.Background(), Request{
		Project:         "acme",
		DatasetSelector: "local",
		Query:           "func Hello() string { return \"hello\" }",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if len(resp.Results) == 0 {
		t.Fatal("no results")
	}
	if resp.Results[0].SourcePath != "main.go" {
		t.Errorf("exact-content query should rank its chunk first, got %s", resp.Results[0].SourcePath)
	}
	if resp.Results[0].Score < 0.999 {
		t.Errorf("exact match score = %v, want ~1", resp.Results[0].Score)
	}
}

func TestSearchDatasetIsolation(t *testing.T) {
	f := newFixture(t, false, false)
	f.seed(t, "acme", "docs", map[string]string{"auth.md": "auth documentation"})
	f.seed(t, "acme", "github-main", map[string]string{"auth.go": "auth implementation"})
	f.seed(t, "acme", "private", map[string]string{"secret.go": "auth secret"})

	resp, err := f.svc.Search(context.Background(), Request{
		Project:         "acme",
		DatasetSelector: []string{"docs", "github-main"},
		Query:           "auth",
		Threshold:       -1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	for _, r := range resp.Results {
		if r.Dataset != "docs" && r.Dataset != "github-main" {
			t.Errorf("result from excluded dataset %q leaked into results", r.Dataset)
		}
		if r.SourcePath == "secret.go" {
			t.Error("excluded dataset content returned")
		}
	}
	if len(resp.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(resp.Results))
	}
}

func TestSearchGlobAndWildcard(t *testing.T) {
	f := newFixture(t, false, false)
	f.seed(t, "acme", "docs", map[string]string{"a.md": "alpha document"})
	f.seed(t, "acme", "github-main", map[string]string{"b.go": "beta code"})

	resp, err := f.svc.Search(context.Background(), Request{
		Project: "acme", DatasetSelector: "github-*", Query: "beta code",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range resp.Results {
		if r.Dataset != "github-main" {
			t.Errorf("glob github-* matched dataset %s", r.Dataset)
		}
	}
	if len(resp.Results) != 1 {
		t.Errorf("glob search results = %d, want 1", len(resp.Results))
	}

	resp, err = f.svc.Search(context.Background(), Request{
		Project: "acme", DatasetSelector: "*", Query: "document", TopK: 10, Threshold: -1,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Errorf("wildcard should search both datasets, got %d results", len(resp.Results))
	}
}

func TestSearchZeroResolvedDatasets(t *testing.T) {
	f := newFixture(t, false, false)

	resp, err := f.svc.Search(context.Background(), Request{
		Project: "ghost", DatasetSelector: "*", Query: "anything",
	})
	if err != nil {
		t.Fatalf("zero resolved datasets must not error: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("expected empty results, got %d", len(resp.Results))
	}
	// No embedding work happens for an empty expansion.
	if f.dense.CallCount() != 0 {
		t.Errorf("dense embedder called %d times for empty expansion", f.dense.CallCount())
	}
}

func TestSearchSkipsUnregisteredDataset(t *testing.T) {
	f := newFixture(t, false, false)
	f.seed(t, "acme", "docs", map[string]string{"a.md": "alpha"})

	// A dataset that exists but was never indexed has no collection record.
	ctx := context.Background()
	p, _ := f.reg.GetOrCreateProject(ctx, "acme")
	if _, err := f.reg.GetOrCreateDataset(ctx, p.ID, "pending"); err != nil {
		t.Fatalf("GetOrCreateDataset: %v", err)
	}

	resp, err := f.svc.Search(ctx, Request{
		Project: "acme", DatasetSelector: "*", Query: "alpha",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Metadata.DatasetsResolved) != 1 || resp.Metadata.DatasetsResolved[0] != "docs" {
		t.Errorf("unregistered dataset should be dropped, resolved = %v", resp.Metadata.DatasetsResolved)
	}
}

func TestSearchHybridMatchesClientSideRRF(t *testing.T) {
	f := newFixture(t, true, false)
	f.seed(t, "acme", "local", map[string]string{
		"a.go": "database connection pooling helper",
		"b.go": "http request routing table",
		"c.go": "database migration runner",
	})

	ctx := context.Background()
	query := "database connection"
	resp, err := f.svc.Search(ctx, Request{
		Project: "acme", DatasetSelector: "local", Query: query,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !resp.Metadata.Hybrid {
		t.Fatal("hybrid should be active")
	}

	// Reproduce the two single-modality queries and fuse them; the service
	// ordering must match.
	collection := scope.CollectionName("acme", "local")
	dsID := f.datasetID(t, "acme", "local")
	dense, _ := f.dense.Embed(ctx, []string{query})
	sparse, _ := f.sparse.Encode(ctx, []string{query})

	qreq := vector.QueryRequest{
		Dense:  dense[0],
		Sparse: &sparse[0],
		Filter: vector.Filter{DatasetIDs: []string{dsID}},
		Limit:  10,
	}
	denseList, err := f.store.DenseQuery(ctx, collection, qreq)
	if err != nil {
		t.Fatalf("DenseQuery: %v", err)
	}
	sparseList, err := f.store.SparseQuery(ctx, collection, qreq)
	if err != nil {
		t.Fatalf("SparseQuery: %v", err)
	}
	want := fusion.Fuse(sparseList, denseList)

	if len(resp.Results) != len(want) {
		t.Fatalf("result count %d, want %d", len(resp.Results), len(want))
	}
	for i := range want {
		if resp.Results[i].ChunkID != want[i].ID {
			t.Errorf("position %d: %s, want %s", i, resp.Results[i].ChunkID, want[i].ID)
		}
	}
}

func TestSearchRerankReplacesScores(t *testing.T) {
	f := newFixture(t, false, true)
	f.seed(t, "acme", "local", map[string]string{
		"match.go": "target phrase appears here",
		"miss.go":  "nothing relevant at all",
	})

	resp, err := f.svc.Search(context.Background(), Request{
		Project: "acme", DatasetSelector: "local", Query: "target phrase appears here",
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if !resp.Metadata.Reranked {
		t.Fatal("reranking should have been applied")
	}
	if f.rerank.Calls != 1 {
		t.Errorf("reranker called %d times, want 1", f.rerank.Calls)
	}
	if len(resp.Results) == 0 || resp.Results[0].SourcePath != "match.go" {
		t.Errorf("reranker overlap scoring should rank match.go first: %+v", resp.Results)
	}
	// FakeReranker scores are token overlap counts, well above cosine range.
	if resp.Results[0].Score < 2 {
		t.Errorf("score %v does not look like a reranker score", resp.Results[0].Score)
	}
}

func TestSearchRerankerFailureDegrades(t *testing.T) {
	f := newFixture(t, false, true)
	f.rerank.Err = errTest
	f.seed(t, "acme", "local", map[string]string{"a.go": "alpha content"})

	resp, err := f.svc.Search(context.Background(), Request{
		Project: "acme", DatasetSelector: "local", Query: "alpha content",
	})
	if err != nil {
		t.Fatalf("Search should degrade, not fail: %v", err)
	}
	if resp.Metadata.Reranked {
		t.Error("failed reranker must not be reported as applied")
	}
	if len(resp.Results) != 1 {
		t.Errorf("retrieval ordering should be kept, got %d results", len(resp.Results))
	}
}

func TestSearchThresholdAndTopK(t *testing.T) {
	f := newFixture(t, false, false)
	f.seed(t, "acme", "local", map[string]string{
		"a.go": "alpha",
		"b.go": "beta",
		"c.go": "gamma",
	})

	resp, err := f.svc.Search(context.Background(), Request{
		Project: "acme", DatasetSelector: "local", Query: "alpha", TopK: 2,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) > 2 {
		t.Errorf("top_k not honored: %d results", len(resp.Results))
	}

	resp, err = f.svc.Search(context.Background(), Request{
		Project: "acme", DatasetSelector: "local", Query: "alpha", Threshold: 0.999,
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, r := range resp.Results {
		if r.Score < 0.999 {
			t.Errorf("threshold not applied, score %v", r.Score)
		}
	}
}

var errTest = errTestType{}

type errTestType struct{}

func (errTestType) Error() string { return "injected failure" }
