package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Upsert inserts or updates points keyed by chunk id. On conflict the newer
// content wins; deterministic ids make retries of the same input idempotent.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qdrantPoints = append(qdrantPoints, pointToQdrant(p))
	}

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true), // Wait for indexing
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	return nil
}

// pointToQdrant converts a Point to a Qdrant PointStruct.
func pointToQdrant(p Point) *qdrant.PointStruct {
	payload := map[string]any{
		"project_id":  p.Payload.ProjectID,
		"dataset_id":  p.Payload.DatasetID,
		"source_path": p.Payload.SourcePath,
		"language":    p.Payload.Language,
		"content":     p.Payload.Content,
		"start_line":  p.Payload.StartLine,
		"end_line":    p.Payload.EndLine,
		"digest":      p.Payload.Digest,
	}
	if p.Payload.SymbolName != "" {
		payload["symbol_name"] = p.Payload.SymbolName
	}
	if p.Payload.SymbolKind != "" {
		payload["symbol_kind"] = p.Payload.SymbolKind
	}
	if p.Payload.Repo != "" {
		payload["repo"] = p.Payload.Repo
	}

	vectors := map[string]*qdrant.Vector{
		"dense": {Data: p.Dense},
	}
	if p.Sparse != nil {
		vectors["sparse"] = &qdrant.Vector{
			Data:    p.Sparse.Values,
			Indices: &qdrant.SparseIndices{Data: p.Sparse.Indices},
		}
	}

	return &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(p.ID),
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vectors{
				Vectors: &qdrant.NamedVectors{Vectors: vectors},
			},
		},
		Payload: qdrant.NewValueMap(payload),
	}
}

// DeleteByDataset removes every point belonging to a dataset.
func (c *Client) DeleteByDataset(ctx context.Context, collection, datasetID string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	filter := buildFilter(Filter{DatasetIDs: []string{datasetID}})
	if filter == nil {
		return fmt.Errorf("dataset id is required for delete")
	}

	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: filter,
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete dataset points: %w", err)
	}

	return nil
}

// Count returns the number of points for a dataset in a collection.
func (c *Client) Count(ctx context.Context, collection, datasetID string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return 0, fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	count, err := c.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Exact:          qdrant.PtrOf(true),
		Filter:         buildFilter(Filter{DatasetIDs: []string{datasetID}}),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}

	return count, nil
}
