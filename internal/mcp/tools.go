package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/claudecontext/claude-context/internal/crawl"
	"github.com/claudecontext/claude-context/internal/ingest"
	"github.com/claudecontext/claude-context/internal/llm"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/retrieve"
	"github.com/claudecontext/claude-context/internal/scope"
)

// Namespace prefixes every tool name.
const Namespace = "claudeContext."

// statusDeadline bounds status reads so a stalled store cannot hang the
// caller.
const statusDeadline = 10 * time.Second

// indexGitHubWait caps the optional synchronous wait on remote-repo ingest.
const indexGitHubWait = 120 * time.Second

func (h *Handler) defineTools() []Tool {
	return []Tool{
		{
			Name:        Namespace + "init",
			Description: "Set the default project and dataset. Auto-scopes from a path when no project is given; a path always overrides a conflicting explicit project.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": {Type: "string", Description: "Project name"},
					"dataset": {Type: "string", Description: "Dataset name (default: 'local')"},
					"path":    {Type: "string", Description: "Filesystem path to derive the project from"},
				},
			},
		},
		{
			Name:        Namespace + "index",
			Description: "Index a local directory into a (project, dataset) scope. Returns immediately with a progress key; work proceeds asynchronously.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"path":    {Type: "string", Description: "Directory or file to index"},
					"project": {Type: "string", Description: "Project name (defaults to saved scope)"},
					"dataset": {Type: "string", Description: "Dataset name (defaults to saved scope)"},
					"force":   {Type: "boolean", Description: "Re-embed files even when unchanged"},
				},
				Required: []string{"path"},
			},
		},
		{
			Name:        Namespace + "indexGitHub",
			Description: "Clone and index a remote repository. Optionally waits up to 120 seconds for completion.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"url":     {Type: "string", Description: "Repository URL"},
					"branch":  {Type: "string", Description: "Branch to index"},
					"sha":     {Type: "string", Description: "Commit to check out"},
					"project": {Type: "string", Description: "Project name"},
					"dataset": {Type: "string", Description: "Dataset name (default: github-<branch>)"},
					"wait":    {Type: "boolean", Description: "Wait for completion (bounded)"},
				},
				Required: []string{"url"},
			},
		},
		{
			Name:        Namespace + "crawl",
			Description: "Crawl web pages into a dataset. Modes: single, batch, recursive, sitemap. Returns a progress id.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"url":      {Type: "string", Description: "Seed URL"},
					"mode":     {Type: "string", Description: "single | batch | recursive | sitemap"},
					"project":  {Type: "string", Description: "Project name"},
					"dataset":  {Type: "string", Description: "Dataset name (default: 'web')"},
					"maxDepth": {Type: "number", Description: "Recursion depth for recursive mode"},
					"maxPages": {Type: "number", Description: "Page budget"},
				},
				Required: []string{"url", "mode"},
			},
		},
		{
			Name:        Namespace + "search",
			Description: "Hybrid semantic search over one or more datasets. The dataset selector accepts a name, a list, a glob, '*', or a key:value alias.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query":     {Type: "string", Description: "Natural language query"},
					"project":   {Type: "string", Description: "Project name"},
					"dataset":   {Type: "string", Description: "Dataset selector"},
					"top_k":     {Type: "number", Description: "Maximum results (default: 10)"},
					"threshold": {Type: "number", Description: "Minimum score"},
					"language":  {Type: "string", Description: "Filter by language"},
					"path":      {Type: "string", Description: "Filter by path prefix"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        Namespace + "query",
			Description: "Alias of claudeContext.search.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query":   {Type: "string", Description: "Natural language query"},
					"project": {Type: "string", Description: "Project name"},
					"dataset": {Type: "string", Description: "Dataset selector"},
					"top_k":   {Type: "number", Description: "Maximum results (default: 10)"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        Namespace + "smart_query",
			Description: "Retrieve relevant chunks and synthesize a cited natural-language answer.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query":   {Type: "string", Description: "Question to answer"},
					"project": {Type: "string", Description: "Project name"},
					"dataset": {Type: "string", Description: "Dataset selector"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        Namespace + "status",
			Description: "Report in-memory indexing/crawl progress for a project.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": {Type: "string", Description: "Project name"},
					"dataset": {Type: "string", Description: "Restrict to one dataset"},
				},
			},
		},
		{
			Name:        Namespace + "clear",
			Description: "Delete vectors, chunks, and registry entries for a scope. dryRun reports what would be deleted.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": {Type: "string", Description: "Project name"},
					"dataset": {Type: "string", Description: "Dataset name; empty clears the whole project"},
					"dryRun":  {Type: "boolean", Description: "Report counts without deleting"},
				},
			},
		},
		{
			Name:        Namespace + "listDatasets",
			Description: "List the datasets of a project with their collection bindings and point counts.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": {Type: "string", Description: "Project name"},
				},
			},
		},
		{
			Name:        Namespace + "listScopes",
			Description: "List all projects and their datasets.",
			InputSchema: InputSchema{
				Type:       "object",
				Properties: map[string]Property{},
			},
		},
		{
			Name:        Namespace + "getDatasetStats",
			Description: "Report chunk and vector point counts for a dataset.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"project": {Type: "string", Description: "Project name"},
					"dataset": {Type: "string", Description: "Dataset name"},
				},
				Required: []string{"dataset"},
			},
		},
	}
}

func (h *Handler) callTool(ctx context.Context, name string, args json.RawMessage) (map[string]any, error) {
	switch strings.TrimPrefix(name, Namespace) {
	case "init":
		return h.toolInit(args)
	case "index":
		return h.toolIndex(ctx, args)
	case "indexGitHub":
		return h.toolIndexGitHub(ctx, args)
	case "crawl":
		return h.toolCrawl(args)
	case "search", "query":
		return h.toolSearch(ctx, args)
	case "smart_query":
		return h.toolSmartQuery(ctx, args)
	case "status":
		return h.toolStatus(args)
	case "clear":
		return h.toolClear(ctx, args)
	case "listDatasets":
		return h.toolListDatasets(ctx, args)
	case "listScopes":
		return h.toolListScopes(ctx)
	case "getDatasetStats":
		return h.toolGetDatasetStats(ctx, args)
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func (h *Handler) resolveScope(project, dataset, path string) (scope.Scope, error) {
	return h.defaults.Resolve(project, dataset, path)
}

func (h *Handler) toolInit(args json.RawMessage) (map[string]any, error) {
	var params struct {
		Project string `json:"project"`
		Dataset string `json:"dataset"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	if params.Project == "" && params.Path == "" {
		return nil, errors.ValidationError("project or path is required")
	}

	sc, err := h.resolveScope(params.Project, params.Dataset, params.Path)
	if err != nil {
		return nil, err
	}
	if err := h.defaults.Save(sc); err != nil {
		return nil, err
	}

	text := fmt.Sprintf("Defaults set: project=%s dataset=%s", sc.Project, sc.Dataset)
	return toolResult(text, sc), nil
}

func (h *Handler) toolIndex(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var params struct {
		Path    string `json:"path"`
		Project string `json:"project"`
		Dataset string `json:"dataset"`
		Force   bool   `json:"force"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	if params.Path == "" {
		return nil, errors.ValidationError("path is required")
	}

	// Explicit project, then saved defaults; with neither, auto-scope from
	// the path being indexed.
	sc, err := h.resolveScope(params.Project, params.Dataset, "")
	if err != nil {
		sc, err = h.resolveScope("", params.Dataset, params.Path)
		if err != nil {
			return nil, err
		}
	}

	mode := ingest.ModeIncremental
	if params.Force {
		mode = ingest.ModeForced
	}

	// The call returns immediately; the run is visible through the scope's
	// progress record.
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if _, err := h.coord.IndexLocal(runCtx, sc, params.Path, mode); err != nil {
			h.log.Error("Background index failed", "project", sc.Project, "dataset", sc.Dataset, "error", err)
		}
	}()

	result := map[string]any{
		"project":      sc.Project,
		"dataset":      sc.Dataset,
		"progress_key": sc.String(),
		"status":       "started",
	}
	text := fmt.Sprintf("Indexing %s into %s (track with claudeContext.status)", params.Path, sc)
	return toolResult(text, result), nil
}

func (h *Handler) toolIndexGitHub(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var params struct {
		URL     string `json:"url"`
		Branch  string `json:"branch"`
		SHA     string `json:"sha"`
		Project string `json:"project"`
		Dataset string `json:"dataset"`
		Wait    bool   `json:"wait"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	if params.URL == "" {
		return nil, errors.ValidationError("url is required")
	}

	dataset := params.Dataset
	if dataset == "" {
		dataset = "github-main"
		if params.Branch != "" {
			dataset = "github-" + params.Branch
		}
	}
	sc, err := h.resolveScope(params.Project, dataset, "")
	if err != nil {
		return nil, err
	}

	if params.Wait {
		waitCtx, cancel := context.WithTimeout(ctx, indexGitHubWait)
		defer cancel()

		result, err := h.coord.IndexGitHub(waitCtx, sc, params.URL, params.Branch, params.SHA, ingest.ModeIncremental)
		if err != nil {
			return nil, err
		}
		text := fmt.Sprintf("Indexed %s: %d chunks into %s", params.URL, result.ChunksStored, sc)
		return toolResult(text, result), nil
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()
		if _, err := h.coord.IndexGitHub(runCtx, sc, params.URL, params.Branch, params.SHA, ingest.ModeIncremental); err != nil {
			h.log.Error("Background GitHub index failed", "url", params.URL, "error", err)
		}
	}()

	result := map[string]any{
		"project":      sc.Project,
		"dataset":      sc.Dataset,
		"progress_key": sc.String(),
		"status":       "started",
	}
	return toolResult(fmt.Sprintf("Indexing %s into %s", params.URL, sc), result), nil
}

func (h *Handler) toolCrawl(args json.RawMessage) (map[string]any, error) {
	var params struct {
		URL      string `json:"url"`
		Mode     string `json:"mode"`
		Project  string `json:"project"`
		Dataset  string `json:"dataset"`
		MaxDepth int    `json:"maxDepth"`
		MaxPages int    `json:"maxPages"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}
	if params.URL == "" {
		return nil, errors.ValidationError("url is required")
	}
	if params.Mode == "" {
		return nil, errors.ValidationError("mode is required (single, batch, recursive, or sitemap)")
	}

	dataset := params.Dataset
	if dataset == "" {
		dataset = "web"
	}
	sc, err := h.resolveScope(params.Project, dataset, "")
	if err != nil {
		return nil, err
	}

	opID := h.tracker.Start(sc.Project, sc.Dataset, "crawling")
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), time.Hour)
		defer cancel()

		pages, err := h.crawler.Crawl(runCtx, crawl.Options{
			Mode:           crawl.Mode(params.Mode),
			URLs:           []string{params.URL},
			MaxDepth:       params.MaxDepth,
			MaxPages:       params.MaxPages,
			SameDomainOnly: h.cfg.Crawl.SameDomainOnlyByDefault,
			OnPage:         func(crawl.Page) { h.tracker.AddStored(opID, 1) },
		})
		if err != nil {
			h.tracker.Fail(opID, err, "")
			return
		}

		h.tracker.SetPhase(opID, "indexing crawled pages")
		docs := make([]ingest.Document, 0, len(pages))
		for _, p := range pages {
			docs = append(docs, ingest.Document{Path: p.URL, Content: p.Markdown})
		}
		if _, err := h.coord.Index(runCtx, ingest.Request{Scope: sc, Documents: docs}); err != nil {
			h.tracker.Fail(opID, err, "")
			return
		}
		h.tracker.Complete(opID)
	}()

	result := map[string]any{
		"progress_id": opID,
		"project":     sc.Project,
		"dataset":     sc.Dataset,
		"mode":        params.Mode,
	}
	return toolResult(fmt.Sprintf("Crawl started (%s mode): %s", params.Mode, params.URL), result), nil
}

func (h *Handler) searchRequest(args json.RawMessage) (retrieve.Request, error) {
	var params struct {
		Query     string  `json:"query"`
		Project   string  `json:"project"`
		Dataset   any     `json:"dataset"`
		TopK      int     `json:"top_k"`
		Threshold float32 `json:"threshold"`
		Language  string  `json:"language"`
		Path      string  `json:"path"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return retrieve.Request{}, err
	}

	sc, err := h.resolveScope(params.Project, "", "")
	if err != nil {
		return retrieve.Request{}, err
	}

	selector := params.Dataset
	if selector == nil {
		selector = sc.Dataset
	}

	return retrieve.Request{
		Project:         sc.Project,
		DatasetSelector: selector,
		Query:           params.Query,
		TopK:            params.TopK,
		Threshold:       params.Threshold,
		Filters: retrieve.Filters{
			Language:   params.Language,
			PathPrefix: params.Path,
		},
	}, nil
}

func (h *Handler) toolSearch(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	req, err := h.searchRequest(args)
	if err != nil {
		return nil, err
	}

	resp, err := h.retrieval.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	if len(resp.Results) == 0 {
		text.WriteString("No results.")
	}
	for i, r := range resp.Results {
		fmt.Fprintf(&text, "## %d. %s:%d-%d (%s, score %.3f)\n", i+1, r.SourcePath, r.StartLine, r.EndLine, r.Dataset, r.Score)
		if r.SymbolName != "" {
			fmt.Fprintf(&text, "Symbol: %s\n", r.SymbolName)
		}
		fmt.Fprintf(&text, "```%s\n%s\n```\n\n", r.Language, r.Content)
	}

	return toolResult(text.String(), resp), nil
}

func (h *Handler) toolSmartQuery(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	if h.llm == nil {
		return nil, errors.New(errors.CodeLLM, "smart query requires a configured LLM")
	}

	req, err := h.searchRequest(args)
	if err != nil {
		return nil, err
	}

	resp, err := h.retrieval.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	passages := make([]llm.Passage, 0, len(resp.Results))
	for _, r := range resp.Results {
		passages = append(passages, llm.Passage{SourcePath: r.SourcePath, Dataset: r.Dataset, Content: r.Content})
	}

	answer, err := h.llm.Synthesize(ctx, req.Query, passages)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	text.WriteString(answer.Answer)
	if len(answer.Citations) > 0 {
		text.WriteString("\n\nSources:\n")
		for _, c := range answer.Citations {
			fmt.Fprintf(&text, "- %s\n", c)
		}
	}

	result := map[string]any{
		"answer":    answer.Answer,
		"citations": answer.Citations,
		"results":   resp.Results,
	}
	return toolResult(text.String(), result), nil
}

func (h *Handler) toolStatus(args json.RawMessage) (map[string]any, error) {
	var params struct {
		Project string `json:"project"`
		Dataset string `json:"dataset"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	sc, err := h.resolveScope(params.Project, params.Dataset, "")
	if err != nil {
		return nil, err
	}

	if params.Dataset != "" {
		rec, ok := h.tracker.SnapshotScope(sc.Project, sc.Dataset)
		if !ok {
			return toolResult(fmt.Sprintf("No progress recorded for %s", sc), map[string]any{"operations": []any{}}), nil
		}
		text := fmt.Sprintf("%s: %s (%d/%d) %s", sc, rec.Status, rec.Stored, rec.Expected, rec.Phase)
		return toolResult(text, map[string]any{"operations": []any{rec}}), nil
	}

	records := h.tracker.ForProject(sc.Project, false)
	var text strings.Builder
	if len(records) == 0 {
		text.WriteString("No operations recorded.")
	}
	for _, rec := range records {
		fmt.Fprintf(&text, "- %s/%s: %s (%d/%d)\n", rec.Project, rec.Dataset, rec.Status, rec.Stored, rec.Expected)
	}
	return toolResult(text.String(), map[string]any{"operations": records}), nil
}

func (h *Handler) toolClear(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var params struct {
		Project string `json:"project"`
		Dataset string `json:"dataset"`
		DryRun  bool   `json:"dryRun"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	sc, err := h.resolveScope(params.Project, params.Dataset, "")
	if err != nil {
		return nil, err
	}
	dataset := params.Dataset // empty clears the whole project

	counts, err := h.registry.ClearDataset(ctx, sc.Project, dataset, params.DryRun)
	if err != nil {
		return nil, err
	}

	if !params.DryRun {
		for _, collection := range counts.Collections {
			if err := h.store.DeleteCollection(ctx, collection); err != nil {
				h.log.Warn("Failed to delete vector collection", "collection", collection, "error", err)
			}
		}
		h.tracker.Clear(sc.Project, dataset)
	}

	verb := "Deleted"
	if params.DryRun {
		verb = "Would delete"
	}
	text := fmt.Sprintf("%s %d datasets, %d chunks, %d collections", verb, counts.Datasets, counts.Chunks, len(counts.Collections))
	return toolResult(text, map[string]any{"dry_run": params.DryRun, "counts": counts}), nil
}

func (h *Handler) toolListDatasets(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var params struct {
		Project string `json:"project"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	sc, err := h.resolveScope(params.Project, "", "")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, statusDeadline)
	defer cancel()

	listings, err := h.registry.ListForProject(ctx, sc.Project)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.TimeoutError("database unreachable, listing datasets")
		}
		return nil, err
	}

	var text strings.Builder
	if len(listings) == 0 {
		text.WriteString("No datasets.")
	}
	for _, l := range listings {
		fmt.Fprintf(&text, "- %s: %d points", l.DatasetName, l.PointCount)
		if l.LastIndexedAt != nil {
			fmt.Fprintf(&text, " (indexed %s)", l.LastIndexedAt.Format("2006-01-02 15:04:05"))
		}
		text.WriteString("\n")
	}
	return toolResult(text.String(), map[string]any{"project": sc.Project, "datasets": listings}), nil
}

func (h *Handler) toolListScopes(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, statusDeadline)
	defer cancel()

	projects, err := h.registry.ListProjects(ctx)
	if err != nil {
		return nil, err
	}

	type scopeEntry struct {
		Project  string   `json:"project"`
		Datasets []string `json:"datasets"`
	}

	var entries []scopeEntry
	var text strings.Builder
	for _, p := range projects {
		listings, err := h.registry.ListForProject(ctx, p.Name)
		if err != nil {
			return nil, err
		}
		entry := scopeEntry{Project: p.Name}
		for _, l := range listings {
			entry.Datasets = append(entry.Datasets, l.DatasetName)
		}
		entries = append(entries, entry)
		fmt.Fprintf(&text, "- %s: %s\n", p.Name, strings.Join(entry.Datasets, ", "))
	}
	if len(entries) == 0 {
		text.WriteString("No projects.")
	}

	return toolResult(text.String(), map[string]any{"scopes": entries}), nil
}

func (h *Handler) toolGetDatasetStats(ctx context.Context, args json.RawMessage) (map[string]any, error) {
	var params struct {
		Project string `json:"project"`
		Dataset string `json:"dataset"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return nil, err
	}

	sc, err := h.resolveScope(params.Project, params.Dataset, "")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, statusDeadline)
	defer cancel()

	dataset, err := h.registry.GetDataset(ctx, sc.Project, sc.Dataset)
	if err != nil {
		return nil, err
	}
	chunks, err := h.registry.CountChunks(ctx, dataset.ID)
	if err != nil {
		return nil, err
	}

	stats := map[string]any{
		"project":     sc.Project,
		"dataset":     sc.Dataset,
		"status":      dataset.Status,
		"chunk_count": chunks,
	}

	// Cross-check the live vector store when a collection is registered.
	if collection, err := h.registry.Resolve(ctx, sc.Project, sc.Dataset); err == nil {
		if points, err := h.store.Count(ctx, collection, dataset.ID); err == nil {
			stats["point_count"] = points
			stats["collection"] = collection
		} else if ctx.Err() != nil {
			return nil, errors.TimeoutError("database unreachable, counting points")
		}
	}

	text := fmt.Sprintf("%s: %d chunks", sc, chunks)
	if points, ok := stats["point_count"]; ok {
		text = fmt.Sprintf("%s, %d points in %s", text, points, stats["collection"])
	}
	return toolResult(text, stats), nil
}
