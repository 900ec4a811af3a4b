// Package embed provides typed clients for the dense, sparse, and reranker
// embedding services. The dense client is a hard dependency; sparse and
// reranker degrade to dense-only retrieval when unavailable.
package embed

import (
	"context"
	"sync"

	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
)

// SparseVector represents a sparse vector with indices and values.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// DenseEmbedder generates dense embeddings.
type DenseEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Health(ctx context.Context) error
}

// SparseEncoder generates sparse vectors.
type SparseEncoder interface {
	Encode(ctx context.Context, texts []string) ([]SparseVector, error)
	Health(ctx context.Context) error
}

// Reranker scores (query, passage) pairs.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float32, error)
	Health(ctx context.Context) error
}

// Gateway bundles the embedding capabilities available to the pipelines.
// Sparse and rerank may be nil (disabled); dense must be present for any
// indexing or querying to succeed.
type Gateway struct {
	dense  DenseEmbedder
	sparse SparseEncoder
	rerank Reranker
	cache  Cache
	log    *logger.Logger

	sparseWarn sync.Once
	rerankWarn sync.Once
}

// NewGateway creates a gateway from explicit components. Any of sparse,
// rerank, and cache may be nil.
func NewGateway(dense DenseEmbedder, sparse SparseEncoder, rerank Reranker, cache Cache, log *logger.Logger) *Gateway {
	return &Gateway{
		dense:  dense,
		sparse: sparse,
		rerank: rerank,
		cache:  cache,
		log:    log,
	}
}

// NewGatewayFromConfig wires HTTP clients according to the feature flags.
func NewGatewayFromConfig(cfg *config.Config, log *logger.Logger) *Gateway {
	dense := NewDenseClient(cfg.Embedding, log)

	var sparse SparseEncoder
	if cfg.EnableHybridSearch {
		sparse = NewSparseClient(cfg.Embedding, log)
	}

	var rerank Reranker
	if cfg.EnableReranking {
		rerank = NewRerankClient(cfg.Embedding, log)
	}

	return NewGateway(dense, sparse, rerank, NewCacheFromConfig(cfg.Cache, log), log)
}

// Dimension returns the dense embedding dimension.
func (g *Gateway) Dimension() int {
	if g.dense == nil {
		return 0
	}
	return g.dense.Dimension()
}

// HybridEnabled reports whether sparse encoding is configured.
func (g *Gateway) HybridEnabled() bool {
	return g.sparse != nil
}

// RerankEnabled reports whether reranking is configured.
func (g *Gateway) RerankEnabled() bool {
	return g.rerank != nil
}

// Embed generates dense embeddings, consulting the cache first. A dense
// failure is fatal to the caller's operation.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.cache == nil {
		return g.dense.Embed(ctx, texts)
	}

	results := make([][]float32, len(texts))
	var uncached []int
	var uncachedTexts []string

	for i, text := range texts {
		if emb, ok := g.cache.Get(text); ok {
			results[i] = emb
		} else {
			uncached = append(uncached, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) > 0 {
		embeddings, err := g.dense.Embed(ctx, uncachedTexts)
		if err != nil {
			return nil, err
		}
		for i, idx := range uncached {
			results[idx] = embeddings[i]
			g.cache.Set(uncachedTexts[i], embeddings[i])
		}
	}

	return results, nil
}

// SparseEncode generates sparse vectors. On failure the pipeline degrades to
// dense-only; the warning is logged once per gateway lifetime.
func (g *Gateway) SparseEncode(ctx context.Context, texts []string) ([]SparseVector, bool) {
	if g.sparse == nil {
		return nil, false
	}

	vectors, err := g.sparse.Encode(ctx, texts)
	if err != nil {
		g.sparseWarn.Do(func() {
			g.log.Warn("Sparse encoder unavailable, degrading to dense-only", "error", err)
		})
		return nil, false
	}
	return vectors, true
}

// Rerank scores passages against a query. On failure the initial ordering is
// kept; the warning is logged once per gateway lifetime.
func (g *Gateway) Rerank(ctx context.Context, query string, passages []string) ([]float32, bool) {
	if g.rerank == nil {
		return nil, false
	}

	scores, err := g.rerank.Rerank(ctx, query, passages)
	if err != nil {
		g.rerankWarn.Do(func() {
			g.log.Warn("Reranker unavailable, keeping retrieval order", "error", err)
		})
		return nil, false
	}
	return scores, true
}

// Health reports per-capability health.
func (g *Gateway) Health(ctx context.Context) map[string]string {
	status := make(map[string]string)

	check := func(name string, fn func(context.Context) error) {
		if err := fn(ctx); err != nil {
			status[name] = err.Error()
		} else {
			status[name] = "ok"
		}
	}

	if g.dense != nil {
		check("dense", g.dense.Health)
	} else {
		status["dense"] = "not configured"
	}
	if g.sparse != nil {
		check("sparse", g.sparse.Health)
	} else {
		status["sparse"] = "disabled"
	}
	if g.rerank != nil {
		check("rerank", g.rerank.Health)
	} else {
		status["rerank"] = "disabled"
	}

	return status
}
