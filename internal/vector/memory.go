package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store. It is the dense-only variant of the
// vector dependency: no server-side fusion, so the retrieval pipeline fuses
// dense and sparse lists client-side. Also used as the test double.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

type memoryCollection struct {
	dimension uint64
	hybrid    bool
	points    map[string]Point
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memoryCollection),
	}
}

// HybridCapable reports false: fusion happens client-side.
func (m *MemoryStore) HybridCapable() bool { return false }

func (m *MemoryStore) EnsureCollection(_ context.Context, name string, dimension uint64, hybrid bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if col, ok := m.collections[name]; ok {
		if col.dimension != dimension {
			return fmt.Errorf("collection %s exists with dimension %d, requested %d", name, col.dimension, dimension)
		}
		return nil
	}
	m.collections[name] = &memoryCollection{
		dimension: dimension,
		hybrid:    hybrid,
		points:    make(map[string]Point),
	}
	return nil
}

func (m *MemoryStore) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

func (m *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections, name)
	return nil
}

func (m *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[collection]
	if !ok {
		return fmt.Errorf("collection %s not found", collection)
	}
	for _, p := range points {
		col.points[p.ID] = p
	}
	return nil
}

func (m *MemoryStore) DeleteByDataset(_ context.Context, collection, datasetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	col, ok := m.collections[collection]
	if !ok {
		return nil
	}
	for id, p := range col.points {
		if p.Payload.DatasetID == datasetID {
			delete(col.points, id)
		}
	}
	return nil
}

func (m *MemoryStore) Count(_ context.Context, collection, datasetID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[collection]
	if !ok {
		return 0, nil
	}
	var count uint64
	for _, p := range col.points {
		if datasetID == "" || p.Payload.DatasetID == datasetID {
			count++
		}
	}
	return count, nil
}

// HybridQuery is unsupported: the store is dense-only.
func (m *MemoryStore) HybridQuery(context.Context, string, QueryRequest) ([]Result, error) {
	return nil, fmt.Errorf("memory store does not support server-side fusion")
}

func (m *MemoryStore) DenseQuery(_ context.Context, collection string, req QueryRequest) ([]Result, error) {
	if len(req.Dense) == 0 {
		return nil, fmt.Errorf("dense vector is required")
	}
	return m.query(collection, req, func(p Point) (float32, bool) {
		if len(p.Dense) != len(req.Dense) {
			return 0, false
		}
		return cosine(p.Dense, req.Dense), true
	})
}

func (m *MemoryStore) SparseQuery(_ context.Context, collection string, req QueryRequest) ([]Result, error) {
	if req.Sparse == nil || len(req.Sparse.Indices) == 0 {
		return nil, fmt.Errorf("sparse vector is required")
	}
	queryWeights := make(map[uint32]float32, len(req.Sparse.Indices))
	for i, idx := range req.Sparse.Indices {
		queryWeights[idx] = req.Sparse.Values[i]
	}
	return m.query(collection, req, func(p Point) (float32, bool) {
		if p.Sparse == nil {
			return 0, false
		}
		var dot float32
		for i, idx := range p.Sparse.Indices {
			if w, ok := queryWeights[idx]; ok {
				dot += w * p.Sparse.Values[i]
			}
		}
		if dot == 0 {
			return 0, false
		}
		return dot, true
	})
}

func (m *MemoryStore) query(collection string, req QueryRequest, score func(Point) (float32, bool)) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	col, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("collection %s not found", collection)
	}

	var results []Result
	for _, p := range col.points {
		if !matchesFilter(p.Payload, req.Filter) {
			continue
		}
		s, ok := score(p)
		if !ok {
			continue
		}
		if req.ScoreThreshold != nil && s < *req.ScoreThreshold {
			continue
		}
		results = append(results, Result{ID: p.ID, Score: s, Payload: p.Payload})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	limit := req.Limit
	if limit == 0 {
		limit = 10
	}
	if uint64(len(results)) > limit {
		results = results[:limit]
	}
	return results, nil
}

func matchesFilter(p Payload, f Filter) bool {
	if len(f.DatasetIDs) > 0 {
		found := false
		for _, id := range f.DatasetIDs {
			if p.DatasetID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Language != "" && p.Language != f.Language {
		return false
	}
	if f.Repo != "" && p.Repo != f.Repo {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(p.SourcePath, f.PathPrefix) {
		return false
	}
	return true
}

func cosine(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func (m *MemoryStore) Close() error { return nil }
