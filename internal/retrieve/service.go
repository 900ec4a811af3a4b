// Package retrieve implements the hybrid retrieval pipeline: selector
// expansion, per-collection hybrid search under the mandatory dataset
// filter, RRF fusion, optional reranking, and thresholded top-K.
package retrieve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/claudecontext/claude-context/internal/embed"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
	"github.com/claudecontext/claude-context/internal/registry"
	"github.com/claudecontext/claude-context/internal/retrieve/fusion"
	"github.com/claudecontext/claude-context/internal/scope"
	"github.com/claudecontext/claude-context/internal/vector"
)

// Config tunes the retrieval pipeline.
type Config struct {
	// DefaultTopK is the number of results returned when unspecified.
	DefaultTopK int

	// RerankInitialK is the candidate list size fetched when reranking.
	RerankInitialK int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTopK:    10,
		RerankInitialK: 150,
	}
}

// Service executes queries.
type Service struct {
	registry *registry.Registry
	store    vector.Store
	gateway  *embed.Gateway
	log      *logger.Logger
	cfg      Config
}

// NewService creates a retrieval service.
func NewService(reg *registry.Registry, store vector.Store, gateway *embed.Gateway, log *logger.Logger, cfg Config) *Service {
	if cfg.DefaultTopK == 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		registry: reg,
		store:    store,
		gateway:  gateway,
		log:      log,
		cfg:      cfg,
	}
}

// Filters are the caller-supplied scalar constraints.
type Filters struct {
	Language   string `json:"language,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty"`
	Repo       string `json:"repo,omitempty"`
}

// Request is a retrieval request.
type Request struct {
	Project         string  `json:"project"`
	DatasetSelector any     `json:"dataset,omitempty"`
	Query           string  `json:"query"`
	TopK            int     `json:"top_k,omitempty"`
	Threshold       float32 `json:"threshold,omitempty"`
	Filters         Filters `json:"filters,omitempty"`
}

// Result is one ranked chunk.
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	Score      float32 `json:"score"`
	Dataset    string  `json:"dataset"`
	SourcePath string  `json:"source_path"`
	Language   string  `json:"language,omitempty"`
	SymbolName string  `json:"symbol_name,omitempty"`
	StartLine  int     `json:"start_line,omitempty"`
	EndLine    int     `json:"end_line,omitempty"`
	Content    string  `json:"content"`
}

// Metadata describes how the search executed.
type Metadata struct {
	DatasetsResolved   []string `json:"datasets_resolved"`
	CollectionsQueried int      `json:"collections_queried"`
	Hybrid             bool     `json:"hybrid"`
	Reranked           bool     `json:"reranked"`
	SearchTimeMs       int64    `json:"search_time_ms"`
}

// Response is the search response. Zero resolved datasets yield an empty
// response, never an error.
type Response struct {
	Results  []Result `json:"results"`
	Metadata Metadata `json:"metadata"`
}

// Search runs the pipeline.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	if req.Query == "" {
		return nil, errors.ValidationError("query is required")
	}
	if req.Project == "" {
		return nil, errors.ValidationError("project is required")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = s.cfg.DefaultTopK
	}

	// 1. Expand the dataset selector; empty expansion is a legal empty
	// result.
	sel, err := scope.ParseSelector(req.DatasetSelector)
	if err != nil {
		return nil, errors.ValidationError(err.Error())
	}
	datasets, err := s.registry.ExpandSelector(ctx, req.Project, sel)
	if err != nil {
		return nil, err
	}
	if len(datasets) == 0 {
		return &Response{Results: []Result{}, Metadata: Metadata{DatasetsResolved: []string{}}}, nil
	}

	// 2. Resolve collections. Unregistered datasets are skipped with a
	// warning, never fabricated.
	nameByID := make(map[string]string, len(datasets))
	collections := make(map[string][]string) // collection -> dataset ids
	var resolved []string
	for _, d := range datasets {
		collection, err := s.registry.ResolveDatasetID(ctx, d.ID)
		if err != nil {
			s.log.Warn("Dataset has no collection, skipping", "project", req.Project, "dataset", d.Name)
			continue
		}
		nameByID[d.ID] = d.Name
		collections[collection] = append(collections[collection], d.ID)
		resolved = append(resolved, d.Name)
	}
	if len(collections) == 0 {
		return &Response{Results: []Result{}, Metadata: Metadata{DatasetsResolved: []string{}}}, nil
	}

	// 3. Embed the query. Dense is mandatory; sparse degrades.
	denseVecs, err := s.gateway.Embed(ctx, []string{req.Query})
	if err != nil {
		return nil, err
	}
	dense := denseVecs[0]

	var sparseVec *embed.SparseVector
	if sparseVecs, ok := s.gateway.SparseEncode(ctx, []string{req.Query}); ok && len(sparseVecs) > 0 {
		sv := sparseVecs[0]
		sparseVec = &sv
	}
	hybrid := sparseVec != nil

	// Fetch a larger candidate set when reranking will reorder it.
	fetchK := uint64(topK)
	reranking := s.gateway.RerankEnabled()
	if reranking && s.cfg.RerankInitialK > topK {
		fetchK = uint64(s.cfg.RerankInitialK)
	}

	// 4. Query each collection in parallel under the dataset filter.
	var mu sync.Mutex
	var lists [][]vector.Result

	g, gctx := errgroup.WithContext(ctx)
	for collection, datasetIDs := range collections {
		g.Go(func() error {
			qreq := vector.QueryRequest{
				Dense:  dense,
				Sparse: sparseVec,
				Filter: vector.Filter{
					DatasetIDs: datasetIDs,
					Language:   req.Filters.Language,
					PathPrefix: req.Filters.PathPrefix,
					Repo:       req.Filters.Repo,
				},
				Limit: fetchK,
			}

			results, err := s.queryCollection(gctx, collection, qreq, hybrid)
			if err != nil {
				return err
			}

			mu.Lock()
			lists = append(lists, results)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.VectorStoreError("querying collections", err)
	}

	// 5. Merge across collections, deduplicating by chunk id.
	merged := fusion.MergeRanked(lists...)

	// 6. Optional rerank over "{path}\n{content}" passages, bounded by the
	// initial candidate budget.
	reranked := false
	if reranking && len(merged) > s.cfg.RerankInitialK {
		merged = merged[:s.cfg.RerankInitialK]
	}
	if reranking && len(merged) > 0 {
		passages := make([]string, len(merged))
		for i, r := range merged {
			passages[i] = fmt.Sprintf("%s\n%s", r.Payload.SourcePath, r.Payload.Content)
		}
		if scores, ok := s.gateway.Rerank(ctx, req.Query, passages); ok {
			for i := range merged {
				merged[i].Score = scores[i]
			}
			merged = fusion.MergeRanked(merged)
			reranked = true
		}
	}

	// 7. Threshold and truncate.
	out := make([]Result, 0, topK)
	for _, r := range merged {
		if r.Score < req.Threshold {
			continue
		}
		out = append(out, Result{
			ChunkID:    r.ID,
			Score:      r.Score,
			Dataset:    nameByID[r.Payload.DatasetID],
			SourcePath: r.Payload.SourcePath,
			Language:   r.Payload.Language,
			SymbolName: r.Payload.SymbolName,
			StartLine:  r.Payload.StartLine,
			EndLine:    r.Payload.EndLine,
			Content:    r.Payload.Content,
		})
		if len(out) == topK {
			break
		}
	}

	return &Response{
		Results: out,
		Metadata: Metadata{
			DatasetsResolved:   resolved,
			CollectionsQueried: len(collections),
			Hybrid:             hybrid,
			Reranked:           reranked,
			SearchTimeMs:       time.Since(start).Milliseconds(),
		},
	}, nil
}

// queryCollection issues the per-collection query, branching on the store's
// fusion capability.
func (s *Service) queryCollection(ctx context.Context, collection string, req vector.QueryRequest, hybrid bool) ([]vector.Result, error) {
	if !hybrid {
		return s.store.DenseQuery(ctx, collection, req)
	}

	if s.store.HybridCapable() {
		return s.store.HybridQuery(ctx, collection, req)
	}

	// Dense-only store: issue both queries and fuse client-side.
	denseResults, err := s.store.DenseQuery(ctx, collection, req)
	if err != nil {
		return nil, err
	}
	sparseResults, err := s.store.SparseQuery(ctx, collection, req)
	if err != nil {
		return nil, err
	}
	return fusion.Fuse(sparseResults, denseResults), nil
}
