package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// HybridQuery issues both dense and sparse prefetches and fuses them with
// Qdrant's server-side RRF.
func (c *Client) HybridQuery(ctx context.Context, collection string, req QueryRequest) ([]Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	if len(req.Dense) == 0 || req.Sparse == nil {
		return nil, fmt.Errorf("hybrid query requires both dense and sparse vectors")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	limit := req.Limit
	if limit == 0 {
		limit = 10
	}
	filter := buildFilter(req.Filter)

	prefetch := []*qdrant.PrefetchQuery{
		{
			Query:  qdrant.NewQuerySparse(req.Sparse.Indices, req.Sparse.Values),
			Using:  qdrant.PtrOf("sparse"),
			Limit:  qdrant.PtrOf(limit),
			Filter: filter,
		},
		{
			Query:  qdrant.NewQueryDense(req.Dense),
			Using:  qdrant.PtrOf("dense"),
			Limit:  qdrant.PtrOf(limit),
			Filter: filter,
		},
	}

	queryPoints := &qdrant.QueryPoints{
		CollectionName: collection,
		Prefetch:       prefetch,
		Query:          qdrant.NewQueryFusion(qdrant.Fusion_RRF),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if req.ScoreThreshold != nil {
		queryPoints.ScoreThreshold = req.ScoreThreshold
	}

	results, err := c.client.Query(ctx, queryPoints)
	if err != nil {
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}

	return scoredPointsToResults(results), nil
}

// DenseQuery performs a dense-only vector search.
func (c *Client) DenseQuery(ctx context.Context, collection string, req QueryRequest) ([]Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	if len(req.Dense) == 0 {
		return nil, fmt.Errorf("dense vector is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	limit := req.Limit
	if limit == 0 {
		limit = 10
	}

	queryPoints := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(req.Dense),
		Using:          qdrant.PtrOf("dense"),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(req.Filter),
	}
	if req.ScoreThreshold != nil {
		queryPoints.ScoreThreshold = req.ScoreThreshold
	}

	results, err := c.client.Query(ctx, queryPoints)
	if err != nil {
		return nil, fmt.Errorf("dense search failed: %w", err)
	}

	return scoredPointsToResults(results), nil
}

// SparseQuery performs a sparse-only vector search.
func (c *Client) SparseQuery(ctx context.Context, collection string, req QueryRequest) ([]Result, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	if req.Sparse == nil || len(req.Sparse.Indices) == 0 {
		return nil, fmt.Errorf("sparse vector is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	limit := req.Limit
	if limit == 0 {
		limit = 10
	}

	queryPoints := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuerySparse(req.Sparse.Indices, req.Sparse.Values),
		Using:          qdrant.PtrOf("sparse"),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(req.Filter),
	}
	if req.ScoreThreshold != nil {
		queryPoints.ScoreThreshold = req.ScoreThreshold
	}

	results, err := c.client.Query(ctx, queryPoints)
	if err != nil {
		return nil, fmt.Errorf("sparse search failed: %w", err)
	}

	return scoredPointsToResults(results), nil
}

// buildFilter builds a Qdrant filter. The dataset_id condition is the
// isolation contract and is present whenever DatasetIDs is non-empty; it
// returns nil when no field of the filter is set.
func buildFilter(f Filter) *qdrant.Filter {
	var conditions []*qdrant.Condition

	if len(f.DatasetIDs) > 0 {
		conditions = append(conditions, keywordsCondition("dataset_id", f.DatasetIDs))
	}
	if f.Language != "" {
		conditions = append(conditions, keywordCondition("language", f.Language))
	}
	if f.Repo != "" {
		conditions = append(conditions, keywordCondition("repo", f.Repo))
	}
	if f.PathPrefix != "" {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: "source_path",
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Text{Text: f.PathPrefix},
					},
				},
			},
		})
	}

	if len(conditions) == 0 {
		return nil
	}

	return &qdrant.Filter{Must: conditions}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func keywordsCondition(key string, values []string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keywords{
						Keywords: &qdrant.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}

func scoredPointsToResults(points []*qdrant.ScoredPoint) []Result {
	results := make([]Result, 0, len(points))
	for _, p := range points {
		results = append(results, Result{
			ID:      pointID(p.Id),
			Score:   p.Score,
			Payload: extractPayload(p.Payload),
		})
	}
	return results
}

func pointID(id *qdrant.PointId) string {
	switch v := id.PointIdOptions.(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", v.Num)
	}
	return ""
}

func extractPayload(payload map[string]*qdrant.Value) Payload {
	return Payload{
		ProjectID:  getStringValue(payload, "project_id"),
		DatasetID:  getStringValue(payload, "dataset_id"),
		SourcePath: getStringValue(payload, "source_path"),
		Language:   getStringValue(payload, "language"),
		SymbolName: getStringValue(payload, "symbol_name"),
		SymbolKind: getStringValue(payload, "symbol_kind"),
		Repo:       getStringValue(payload, "repo"),
		Content:    getStringValue(payload, "content"),
		StartLine:  getIntValue(payload, "start_line"),
		EndLine:    getIntValue(payload, "end_line"),
		Digest:     getStringValue(payload, "digest"),
	}
}

func getStringValue(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return sv.StringValue
		}
	}
	return ""
}

func getIntValue(payload map[string]*qdrant.Value, key string) int {
	if v, ok := payload[key]; ok {
		if iv, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
			return int(iv.IntegerValue)
		}
	}
	return 0
}
