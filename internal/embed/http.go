package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/claudecontext/claude-context/internal/config"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
)

// DefaultBatchSize caps the number of texts sent per request.
const DefaultBatchSize = 64

// httpService is the shared HTTP plumbing for the three clients.
type httpService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *logger.Logger
}

func newHTTPService(baseURL, apiKey string, timeoutSec int, log *logger.Logger) httpService {
	if timeoutSec <= 0 {
		timeoutSec = 30
	}
	return httpService{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		log:     log,
	}
}

// postJSON issues a POST with one retry on transport errors. Authentication
// failures are surfaced distinctly and never retried.
func (s httpService) postJSON(ctx context.Context, service, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return errors.InternalError("encoding request", err)
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return errors.InternalError("building request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			// Transport error: retry once.
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return errors.EmbeddingUnauthorizedError(service)
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return fmt.Errorf("%s service returned %d: %s", service, resp.StatusCode, truncate(body, 200))
		case readErr != nil:
			lastErr = readErr
			continue
		}

		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("%s service returned invalid JSON: %w", service, err)
		}
		return nil
	}

	return fmt.Errorf("%s service unreachable: %w", service, lastErr)
}

func (s httpService) health(ctx context.Context, service string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s health check failed: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s health check returned %d", service, resp.StatusCode)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// DenseClient calls the dense embedding service.
type DenseClient struct {
	httpService
	dimension int
	batchSize int
}

// NewDenseClient creates a dense embedding client.
func NewDenseClient(cfg config.EmbeddingConfig, log *logger.Logger) *DenseClient {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &DenseClient{
		httpService: newHTTPService(cfg.DenseURL, cfg.APIKey, cfg.TimeoutSec, log),
		dimension:   cfg.Dimension,
		batchSize:   batch,
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Vectors   [][]float32 `json:"vectors"`
	Dimension int         `json:"dimension"`
}

// Embed generates dense embeddings, batching requests and preserving input
// order. Failures are fatal to indexing and querying.
func (c *DenseClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		var resp embedResponse
		if err := c.postJSON(ctx, "dense", "/embed", embedRequest{Texts: texts[start:end]}, &resp); err != nil {
			if errors.HasCode(err, errors.CodeEmbeddingUnauthorized) {
				return nil, err
			}
			return nil, errors.EmbeddingUnavailableError(err)
		}

		if len(resp.Vectors) != end-start {
			return nil, errors.EmbeddingUnavailableError(
				fmt.Errorf("dense service returned %d vectors for %d texts", len(resp.Vectors), end-start))
		}
		if resp.Dimension > 0 && c.dimension > 0 && resp.Dimension != c.dimension {
			return nil, errors.New(errors.CodeValidation,
				fmt.Sprintf("dense service dimension %d does not match configured %d", resp.Dimension, c.dimension))
		}

		results = append(results, resp.Vectors...)
	}

	return results, nil
}

// Dimension returns the configured embedding dimension.
func (c *DenseClient) Dimension() int {
	return c.dimension
}

// Health verifies the dense service is reachable.
func (c *DenseClient) Health(ctx context.Context) error {
	return c.health(ctx, "dense")
}

// SparseClient calls the sparse encoding service.
type SparseClient struct {
	httpService
	batchSize int
}

// NewSparseClient creates a sparse encoding client.
func NewSparseClient(cfg config.EmbeddingConfig, log *logger.Logger) *SparseClient {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &SparseClient{
		httpService: newHTTPService(cfg.SparseURL, cfg.APIKey, cfg.TimeoutSec, log),
		batchSize:   batch,
	}
}

type sparseBatchRequest struct {
	Texts []string `json:"texts"`
}

type sparseBatchResponse struct {
	Vectors []SparseVector `json:"vectors"`
}

type sparseRequest struct {
	Text string `json:"text"`
}

// Encode generates sparse vectors. The batch endpoint is preferred; servers
// that only expose the single-text endpoint are handled per text.
func (c *SparseClient) Encode(ctx context.Context, texts []string) ([]SparseVector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([]SparseVector, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		var resp sparseBatchResponse
		err := c.postJSON(ctx, "sparse", "/sparse/batch", sparseBatchRequest{Texts: texts[start:end]}, &resp)
		if err == nil {
			if len(resp.Vectors) != end-start {
				return nil, fmt.Errorf("sparse service returned %d vectors for %d texts", len(resp.Vectors), end-start)
			}
			results = append(results, resp.Vectors...)
			continue
		}
		if errors.HasCode(err, errors.CodeEmbeddingUnauthorized) {
			return nil, err
		}

		// Fall back to the single-text endpoint.
		for _, text := range texts[start:end] {
			var vec SparseVector
			if err := c.postJSON(ctx, "sparse", "/sparse", sparseRequest{Text: text}, &vec); err != nil {
				return nil, err
			}
			results = append(results, vec)
		}
	}

	return results, nil
}

// Health verifies the sparse service is reachable.
func (c *SparseClient) Health(ctx context.Context) error {
	return c.health(ctx, "sparse")
}

// RerankClient calls the reranking service.
type RerankClient struct {
	httpService
}

// NewRerankClient creates a reranker client.
func NewRerankClient(cfg config.EmbeddingConfig, log *logger.Logger) *RerankClient {
	return &RerankClient{
		httpService: newHTTPService(cfg.RerankURL, cfg.APIKey, cfg.TimeoutSec, log),
	}
}

type rerankRequest struct {
	Query    string   `json:"query"`
	Passages []string `json:"passages"`
}

type rerankResponse struct {
	Scores []float32 `json:"scores"`
}

// Rerank scores passages against the query, preserving input order.
func (c *RerankClient) Rerank(ctx context.Context, query string, passages []string) ([]float32, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	var resp rerankResponse
	if err := c.postJSON(ctx, "rerank", "/rerank", rerankRequest{Query: query, Passages: passages}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Scores) != len(passages) {
		return nil, fmt.Errorf("rerank service returned %d scores for %d passages", len(resp.Scores), len(passages))
	}
	return resp.Scores, nil
}

// Health verifies the rerank service is reachable.
func (c *RerankClient) Health(ctx context.Context) error {
	return c.health(ctx, "rerank")
}
