// Package vector wraps the vector database behind a store interface the
// pipelines depend on. The real backend is Qdrant; an in-memory dense-only
// implementation backs tests and hybrid-incapable deployments.
package vector

import (
	"context"

	"github.com/claudecontext/claude-context/internal/embed"
)

// Payload is the metadata stored with every point. A filter on DatasetID is
// sufficient to isolate a dataset even if collection naming disagrees.
type Payload struct {
	ProjectID  string `json:"project_id"`
	DatasetID  string `json:"dataset_id"`
	SourcePath string `json:"source_path"`
	Language   string `json:"language"`
	SymbolName string `json:"symbol_name,omitempty"`
	SymbolKind string `json:"symbol_kind,omitempty"`
	Repo       string `json:"repo,omitempty"`
	Content    string `json:"content"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	Digest     string `json:"digest"`
}

// Point is a vector-store record keyed by chunk id.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  *embed.SparseVector
	Payload Payload
}

// Filter constrains queries and deletes. DatasetIDs is mandatory for
// queries: the scalar filter is authoritative for isolation, collection
// scoping is only a performance optimization.
type Filter struct {
	DatasetIDs []string
	Language   string
	PathPrefix string
	Repo       string
}

// QueryRequest is a single-collection query.
type QueryRequest struct {
	Dense          []float32
	Sparse         *embed.SparseVector
	Filter         Filter
	Limit          uint64
	ScoreThreshold *float32
}

// Result is a scored point.
type Result struct {
	ID      string
	Score   float32
	Payload Payload
}

// Store is the vector database dependency. HybridCapable distinguishes
// backends with server-side RRF fusion from dense-only ones; the retrieval
// pipeline branches on it.
type Store interface {
	HybridCapable() bool

	EnsureCollection(ctx context.Context, name string, dimension uint64, hybrid bool) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	DeleteCollection(ctx context.Context, name string) error

	Upsert(ctx context.Context, collection string, points []Point) error
	DeleteByDataset(ctx context.Context, collection, datasetID string) error
	Count(ctx context.Context, collection, datasetID string) (uint64, error)

	// HybridQuery fuses dense and sparse server-side (RRF). Only valid when
	// HybridCapable reports true.
	HybridQuery(ctx context.Context, collection string, req QueryRequest) ([]Result, error)
	DenseQuery(ctx context.Context, collection string, req QueryRequest) ([]Result, error)
	SparseQuery(ctx context.Context, collection string, req QueryRequest) ([]Result, error)

	Close() error
}
