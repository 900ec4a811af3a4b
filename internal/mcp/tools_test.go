package mcp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/claudecontext/claude-context/internal/chunker"
	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/crawl"
	"github.com/claudecontext/claude-context/internal/defaults"
	"github.com/claudecontext/claude-context/internal/embed"
	"github.com/claudecontext/claude-context/internal/ingest"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
	"github.com/claudecontext/claude-context/internal/progress"
	"github.com/claudecontext/claude-context/internal/registry"
	"github.com/claudecontext/claude-context/internal/retrieve"
	"github.com/claudecontext/claude-context/internal/scope"
	"github.com/claudecontext/claude-context/internal/vector"
)

func newTestHandler(t *testing.T) (*Handler, *ingest.Coordinator) {
	t.Helper()

	log := logger.New("error", "text")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}

	reg, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"), log)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	store := vector.NewMemoryStore()
	gateway := embed.NewGateway(embed.NewFakeDense(8), nil, nil, nil, log)
	tracker := progress.NewTracker()
	ch := chunker.NewWithParser(chunker.Config{TargetSize: 512, Overlap: 64, MinSize: 32, MaxSize: 2048}, nil)
	coord := ingest.NewCoordinator(reg, store, gateway, ch, tracker, nil, log, ingest.Config{Dimension: 8, UpsertBatchSize: 50})

	h := NewHandler(HandlerConfig{
		Config:    cfg,
		Registry:  reg,
		Store:     store,
		Coord:     coord,
		Retrieval: retrieve.NewService(reg, store, gateway, log, retrieve.DefaultConfig()),
		Crawler:   crawl.NewStrategy(nil, cfg.Crawl, log),
		Tracker:   tracker,
		Defaults:  defaults.NewStore(filepath.Join(t.TempDir(), "defaults.json")),
		Log:       log,
	})
	return h, coord
}

func call(t *testing.T, h *Handler, tool string, args any) map[string]any {
	t.Helper()

	payload, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	result, err := h.callTool(context.Background(), tool, payload)
	if err != nil {
		t.Fatalf("callTool(%s): %v", tool, err)
	}
	return result
}

func textView(t *testing.T, result map[string]any) string {
	t.Helper()
	content, ok := result["content"].([]map[string]any)
	if !ok || len(content) == 0 {
		t.Fatalf("result has no content: %v", result)
	}
	text, _ := content[0]["text"].(string)
	return text
}

func TestToolsListNamespaced(t *testing.T) {
	h, _ := newTestHandler(t)

	resp := h.handleToolsList(&Request{JSONRPC: "2.0", ID: 1})
	tools, ok := resp.Result.(map[string]any)["tools"].([]Tool)
	if !ok {
		t.Fatalf("tools/list result malformed: %v", resp.Result)
	}

	want := map[string]bool{
		Namespace + "init": false, Namespace + "index": false, Namespace + "indexGitHub": false,
		Namespace + "crawl": false, Namespace + "search": false, Namespace + "query": false,
		Namespace + "smart_query": false, Namespace + "status": false, Namespace + "clear": false,
		Namespace + "listDatasets": false, Namespace + "listScopes": false, Namespace + "getDatasetStats": false,
	}
	for _, tool := range tools {
		if !strings.HasPrefix(tool.Name, Namespace) {
			t.Errorf("tool %s is not namespaced", tool.Name)
		}
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %s missing from tools/list", name)
		}
	}
}

func TestToolInitAutoScope(t *testing.T) {
	h, _ := newTestHandler(t)

	result := call(t, h, Namespace+"init", map[string]any{"path": "/tmp/acme"})

	sc, ok := result["structuredContent"].(scope.Scope)
	if !ok {
		t.Fatalf("structured content = %T", result["structuredContent"])
	}
	if sc.Dataset != "local" {
		t.Errorf("dataset = %s, want local", sc.Dataset)
	}
	if !strings.Contains(sc.Project, "-acme-") {
		t.Errorf("project = %s, want auto-scoped form", sc.Project)
	}

	// Defaults persisted: subsequent tools resolve without a project.
	saved, found, err := h.defaults.Load()
	if err != nil || !found {
		t.Fatalf("defaults not saved: %v", err)
	}
	if saved.Project != sc.Project {
		t.Errorf("saved project = %s, want %s", saved.Project, sc.Project)
	}
}

func TestToolInitRequiresInput(t *testing.T) {
	h, _ := newTestHandler(t)
	if _, err := h.callTool(context.Background(), Namespace+"init", json.RawMessage(`{}`)); err == nil {
		t.Error("init without project or path should fail")
	}
}

func TestToolSearchOverIndexedData(t *testing.T) {
	h, coord := newTestHandler(t)
	ctx := context.Background()

	content := "func Hello() string { return \"hello\" }"
	_, err := coord.Index(ctx, ingest.Request{
		Scope:     scope.Scope{Project: "acme", Dataset: "local"},
		Documents: []ingest.Document{{Path: "main.go", Content: content}},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	result := call(t, h, Namespace+"search", map[string]any{
		"project": "acme",
		"dataset": "local",
		"query":   content,
	})

	resp, ok := result["structuredContent"].(*retrieve.Response)
	if !ok {
		t.Fatalf("structured content = %T", result["structuredContent"])
	}
	if len(resp.Results) == 0 || resp.Results[0].SourcePath != "main.go" {
		t.Errorf("search results = %+v", resp.Results)
	}
	if !strings.Contains(textView(t, result), "main.go") {
		t.Error("text view should mention the source path")
	}
}

func TestToolStatusAndIndexAsync(t *testing.T) {
	h, _ := newTestHandler(t)

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "hello world\n")

	result := call(t, h, Namespace+"index", map[string]any{"path": dir, "project": "acme", "dataset": "local"})
	structured := result["structuredContent"].(map[string]any)
	if structured["status"] != "started" {
		t.Errorf("index should return immediately: %v", structured)
	}

	// The background run lands a progress record for the scope.
	deadline := time.Now().Add(5 * time.Second)
	for {
		rec, ok := h.tracker.SnapshotScope("acme", "local")
		if ok && rec.Terminal() {
			if rec.Status != progress.StatusCompleted {
				t.Errorf("background index ended %s: %s", rec.Status, rec.Error)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("background index never finished")
		}
		time.Sleep(10 * time.Millisecond)
	}

	status := call(t, h, Namespace+"status", map[string]any{"project": "acme"})
	ops := status["structuredContent"].(map[string]any)["operations"].([]progress.Record)
	if len(ops) == 0 {
		t.Error("status should list the operation")
	}
}

func TestToolClearDryRun(t *testing.T) {
	h, coord := newTestHandler(t)
	ctx := context.Background()

	_, err := coord.Index(ctx, ingest.Request{
		Scope:     scope.Scope{Project: "acme", Dataset: "local"},
		Documents: []ingest.Document{{Path: "a.go", Content: "func A() {}"}},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	result := call(t, h, Namespace+"clear", map[string]any{"project": "acme", "dataset": "local", "dryRun": true})
	if !strings.HasPrefix(textView(t, result), "Would delete") {
		t.Errorf("dry run text = %q", textView(t, result))
	}

	// Still resolvable after the dry run.
	if _, err := h.registry.Resolve(ctx, "acme", "local"); err != nil {
		t.Errorf("dry run must not mutate: %v", err)
	}

	call(t, h, Namespace+"clear", map[string]any{"project": "acme", "dataset": "local"})
	if _, err := h.registry.Resolve(ctx, "acme", "local"); err == nil {
		t.Error("clear should remove the collection record")
	}
}

func TestToolGetDatasetStats(t *testing.T) {
	h, coord := newTestHandler(t)
	ctx := context.Background()

	result, err := coord.Index(ctx, ingest.Request{
		Scope:     scope.Scope{Project: "acme", Dataset: "local"},
		Documents: []ingest.Document{{Path: "a.go", Content: "func A() {}"}},
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	stats := call(t, h, Namespace+"getDatasetStats", map[string]any{"project": "acme", "dataset": "local"})
	structured := stats["structuredContent"].(map[string]any)
	if structured["chunk_count"].(int64) != int64(result.ChunksStored) {
		t.Errorf("chunk_count = %v, want %d", structured["chunk_count"], result.ChunksStored)
	}
	if structured["point_count"].(uint64) != uint64(result.ChunksStored) {
		t.Errorf("point_count = %v, want %d", structured["point_count"], result.ChunksStored)
	}
}

func TestUnknownToolAndMethod(t *testing.T) {
	h, _ := newTestHandler(t)

	if _, err := h.callTool(context.Background(), Namespace+"bogus", json.RawMessage(`{}`)); err == nil {
		t.Error("unknown tool should fail")
	}

	resp := h.Handle(context.Background(), &Request{JSONRPC: "2.0", ID: 1, Method: "resources/list"})
	if resp.Error == nil || resp.Error.Code != ErrMethodNotFound {
		t.Errorf("unknown method should return method-not-found, got %+v", resp)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}
