package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/claudecontext/claude-context/internal/bus"
	"github.com/claudecontext/claude-context/internal/chunker"
	"github.com/claudecontext/claude-context/internal/embed"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/pkg/hash"
	"github.com/claudecontext/claude-context/internal/pkg/logger"
	"github.com/claudecontext/claude-context/internal/progress"
	"github.com/claudecontext/claude-context/internal/registry"
	"github.com/claudecontext/claude-context/internal/scope"
	"github.com/claudecontext/claude-context/internal/vector"
)

// Mode selects how candidates are filtered.
type Mode string

const (
	// ModeFull indexes every enumerated candidate.
	ModeFull Mode = "full"

	// ModeIncremental skips candidates whose content digest is already
	// indexed.
	ModeIncremental Mode = "incremental"

	// ModeForced re-embeds everything, ignoring digests.
	ModeForced Mode = "forced"
)

// Config tunes the coordinator.
type Config struct {
	// Dimension is the dense embedding dimension used for new collections.
	Dimension int

	// UpsertBatchSize bounds chunks per embed/write batch.
	UpsertBatchSize int

	// VectorKind labels the backing vector store in collection records.
	VectorKind string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(dimension int) Config {
	return Config{
		Dimension:       dimension,
		UpsertBatchSize: 100,
		VectorKind:      registry.VectorKindPrimary,
	}
}

// Coordinator drives the indexing pipeline. Within one (project, dataset)
// scope runs are serialized by an exclusive lock; distinct scopes proceed in
// parallel, each with its own progress record.
type Coordinator struct {
	registry *registry.Registry
	store    vector.Store
	gateway  *embed.Gateway
	chunker  *chunker.Chunker
	tracker  *progress.Tracker
	bus      bus.Bus
	log      *logger.Logger
	cfg      Config

	locks sync.Map // scope key -> *sync.Mutex
}

// NewCoordinator creates a coordinator. eventBus is optional.
func NewCoordinator(reg *registry.Registry, store vector.Store, gateway *embed.Gateway, ch *chunker.Chunker, tracker *progress.Tracker, eventBus bus.Bus, log *logger.Logger, cfg Config) *Coordinator {
	if cfg.UpsertBatchSize <= 0 {
		cfg.UpsertBatchSize = 100
	}
	if cfg.VectorKind == "" {
		cfg.VectorKind = registry.VectorKindPrimary
	}
	return &Coordinator{
		registry: reg,
		store:    store,
		gateway:  gateway,
		chunker:  ch,
		tracker:  tracker,
		bus:      eventBus,
		log:      log,
		cfg:      cfg,
	}
}

// Request describes one indexing run.
type Request struct {
	Scope     scope.Scope
	Documents []Document
	Mode      Mode
	Repo      string
}

// Result reports a completed run.
type Result struct {
	OperationID  string                    `json:"operation_id"`
	ChunksStored int                       `json:"chunks_stored"`
	FilesSkipped int                       `json:"files_skipped"`
	Collection   registry.CollectionRecord `json:"collection"`
}

// IndexLocal enumerates a local path and indexes it into the scope.
func (c *Coordinator) IndexLocal(ctx context.Context, sc scope.Scope, path string, mode Mode) (*Result, error) {
	docs, err := EnumerateLocal(path)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "enumerating source path", err)
	}
	return c.Index(ctx, Request{Scope: sc, Documents: docs, Mode: mode})
}

// IndexGitHub clones a remote repository and indexes its files, recording
// the repo URL on every point.
func (c *Coordinator) IndexGitHub(ctx context.Context, sc scope.Scope, repoURL, branch, sha string, mode Mode) (*Result, error) {
	dir, cleanup, err := CloneRepo(ctx, repoURL, branch, sha)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "cloning repository", err)
	}
	defer cleanup()

	docs, err := EnumerateLocal(dir)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "enumerating clone", err)
	}
	return c.Index(ctx, Request{Scope: sc, Documents: docs, Mode: mode, Repo: repoURL})
}

// Index runs the full pipeline for a batch of documents.
func (c *Coordinator) Index(ctx context.Context, req Request) (*Result, error) {
	if req.Scope.Project == "" || req.Scope.Dataset == "" {
		return nil, errors.ValidationError("project and dataset are required")
	}
	if req.Mode == "" {
		req.Mode = ModeIncremental
	}

	// One run at a time per scope; other scopes proceed independently.
	unlock := c.lockScope(req.Scope)
	defer unlock()

	opID := c.tracker.Start(req.Scope.Project, req.Scope.Dataset, "resolving scope")
	c.publish(ctx, bus.TopicIndexStarted, req.Scope, map[string]any{"operation_id": opID})

	result, err := c.run(ctx, opID, req)
	if err != nil {
		kind := progress.ErrKindFailure
		if ctx.Err() != nil {
			kind = progress.ErrKindCancelled
			err = errors.CancelledError("indexing")
		}
		c.tracker.Fail(opID, err, kind)
		c.publish(ctx, bus.TopicIndexFailed, req.Scope, map[string]any{"operation_id": opID, "error": err.Error()})
		return nil, err
	}

	c.tracker.Complete(opID)
	c.publish(ctx, bus.TopicIndexCompleted, req.Scope, map[string]any{
		"operation_id": opID,
		"stored":       result.ChunksStored,
		"skipped":      result.FilesSkipped,
	})
	result.OperationID = opID
	return result, nil
}

func (c *Coordinator) run(ctx context.Context, opID string, req Request) (*Result, error) {
	project, err := c.registry.GetOrCreateProject(ctx, req.Scope.Project)
	if err != nil {
		return nil, err
	}
	dataset, err := c.registry.GetOrCreateDataset(ctx, project.ID, req.Scope.Dataset)
	if err != nil {
		return nil, err
	}

	collectionName := scope.CollectionName(project.Name, dataset.Name)
	hybrid := c.gateway.HybridEnabled()

	if err := c.store.EnsureCollection(ctx, collectionName, uint64(c.cfg.Dimension), hybrid); err != nil {
		return nil, errors.VectorStoreError("ensuring collection", err)
	}

	// Filter candidates: incremental runs skip unchanged files by digest.
	c.tracker.SetPhase(opID, "enumerating")
	type candidate struct {
		doc    Document
		digest string
	}
	var candidates []candidate
	skipped := 0
	for _, doc := range req.Documents {
		digest := hash.Digest(chunker.Normalize(doc.Content))
		if req.Mode == ModeIncremental {
			seen, err := c.registry.HasFileDigest(ctx, dataset.ID, doc.Path, digest)
			if err != nil {
				return nil, err
			}
			if seen {
				skipped++
				continue
			}
		}
		candidates = append(candidates, candidate{doc: doc, digest: digest})
	}

	// Chunk everything up front so expected counts are exact.
	c.tracker.SetPhase(opID, "chunking")
	var chunks []chunker.Chunk
	fileDigests := make(map[string]string)
	chunkIDsByPath := make(map[string][]string)
	repoByPath := make(map[string]string)
	for _, cand := range candidates {
		fileChunks := c.chunker.ChunkFile(ctx, dataset.ID, cand.doc.Path, cand.doc.Content)
		fileDigests[cand.doc.Path] = cand.digest
		repo := cand.doc.Repo
		if repo == "" {
			repo = req.Repo
		}
		repoByPath[cand.doc.Path] = repo
		for _, ch := range fileChunks {
			chunkIDsByPath[cand.doc.Path] = append(chunkIDsByPath[cand.doc.Path], ch.ID)
		}
		chunks = append(chunks, fileChunks...)
	}
	c.tracker.SetExpected(opID, len(chunks))

	// Dual-write in batches; each batch is retried once.
	stored := 0
	for start := 0; start < len(chunks); start += c.cfg.UpsertBatchSize {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		end := start + c.cfg.UpsertBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		c.tracker.SetPhase(opID, fmt.Sprintf("embedding %d-%d of %d", start+1, end, len(chunks)))
		if err := c.writeBatch(ctx, project.ID, dataset.ID, collectionName, batch, fileDigests, repoByPath); err != nil {
			return nil, err
		}
		stored += len(batch)
		c.tracker.AddStored(opID, len(batch))
	}

	// Prune chunk rows for re-chunked files.
	for path, ids := range chunkIDsByPath {
		if err := c.registry.DeleteChunksForPath(ctx, dataset.ID, path, ids); err != nil {
			return nil, err
		}
	}

	// Registry is only updated after all batches succeeded, so readers keep
	// the previous consistent snapshot on failure.
	c.tracker.SetPhase(opID, "finalizing")
	rec, created, err := c.registry.GetOrCreateCollection(ctx, dataset.ID, collectionName, c.cfg.VectorKind, c.cfg.Dimension, hybrid)
	if err != nil {
		return nil, err
	}
	if created {
		c.log.Info("Registered collection", "collection", collectionName, "dataset", dataset.Name)
	}

	pointCount, err := c.store.Count(ctx, collectionName, dataset.ID)
	if err != nil {
		return nil, errors.VectorStoreError("counting points", err)
	}
	if err := c.registry.UpdateCollectionMetadata(ctx, rec.ID, int64(pointCount), time.Now()); err != nil {
		return nil, err
	}
	rec.PointCount = int64(pointCount)

	c.log.Info("Indexing complete",
		"project", project.Name,
		"dataset", dataset.Name,
		"stored", stored,
		"skipped", skipped,
		"points", pointCount,
	)

	return &Result{
		ChunksStored: stored,
		FilesSkipped: skipped,
		Collection:   rec,
	}, nil
}

// writeBatch embeds one batch and writes it to both stores, retrying once.
func (c *Coordinator) writeBatch(ctx context.Context, projectID, datasetID, collection string, batch []chunker.Chunk, fileDigests, repoByPath map[string]string) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lastErr != nil {
			c.log.Warn("Retrying batch", "error", lastErr)
		}

		lastErr = c.tryBatch(ctx, projectID, datasetID, collection, batch, fileDigests, repoByPath)
		if lastErr == nil {
			return nil
		}
		// Authentication failures will not heal on retry.
		if errors.HasCode(lastErr, errors.CodeEmbeddingUnauthorized) {
			return lastErr
		}
	}
	return errors.PartialIndexError("batch failed after retry", lastErr)
}

func (c *Coordinator) tryBatch(ctx context.Context, projectID, datasetID, collection string, batch []chunker.Chunk, fileDigests, repoByPath map[string]string) error {
	texts := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Content
	}

	dense, err := c.gateway.Embed(ctx, texts)
	if err != nil {
		return err
	}
	sparse, hasSparse := c.gateway.SparseEncode(ctx, texts)

	points := make([]vector.Point, len(batch))
	for i, ch := range batch {
		points[i] = vector.Point{
			ID:    ch.ID,
			Dense: dense[i],
			Payload: vector.Payload{
				ProjectID:  projectID,
				DatasetID:  datasetID,
				SourcePath: ch.SourcePath,
				Language:   ch.Language,
				SymbolName: ch.Symbol.Name,
				SymbolKind: ch.Symbol.Kind,
				Repo:       repoByPath[ch.SourcePath],
				Content:    ch.Content,
				StartLine:  ch.StartLine,
				EndLine:    ch.EndLine,
				Digest:     ch.Digest,
			},
		}
		if hasSparse && i < len(sparse) {
			sv := sparse[i]
			points[i].Sparse = &sv
		}
	}

	if err := c.store.Upsert(ctx, collection, points); err != nil {
		return errors.VectorStoreError("upserting points", err)
	}
	if err := c.registry.UpsertChunks(ctx, batch, fileDigests); err != nil {
		return err
	}
	return nil
}

func (c *Coordinator) lockScope(sc scope.Scope) func() {
	key := sc.String()
	muAny, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (c *Coordinator) publish(ctx context.Context, topic string, sc scope.Scope, payload map[string]any) {
	if c.bus == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	payload["project"] = sc.Project
	payload["dataset"] = sc.Dataset
	if err := c.bus.Publish(ctx, topic, bus.NewEvent(topic, "ingest", payload)); err != nil {
		c.log.Debug("Failed to publish index event", "error", err)
	}
}
