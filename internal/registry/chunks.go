package registry

import (
	"context"
	"database/sql"
	"time"

	"github.com/claudecontext/claude-context/internal/chunker"
	"github.com/claudecontext/claude-context/internal/pkg/errors"
)

// UpsertChunks writes chunk rows in one transaction. On conflict the newer
// content wins; ids are deterministic so retries are idempotent. fileDigests
// maps source paths to their file-level content digest.
func (r *Registry) UpsertChunks(ctx context.Context, chunks []chunker.Chunk, fileDigests map[string]string) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.RegistryError("starting chunk transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (chunk_id, dataset_id, source_path, language, start_line, end_line,
		                     content, digest, file_digest,
		                     symbol_name, symbol_kind, symbol_signature, symbol_parent, symbol_docstring,
		                     indexed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(chunk_id) DO UPDATE SET
		   content = excluded.content,
		   digest = excluded.digest,
		   file_digest = excluded.file_digest,
		   symbol_name = excluded.symbol_name,
		   symbol_kind = excluded.symbol_kind,
		   symbol_signature = excluded.symbol_signature,
		   symbol_parent = excluded.symbol_parent,
		   symbol_docstring = excluded.symbol_docstring,
		   indexed_at = excluded.indexed_at`)
	if err != nil {
		return errors.RegistryError("preparing chunk upsert", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range chunks {
		_, err := stmt.ExecContext(ctx,
			c.ID, c.DatasetID, c.SourcePath, c.Language, c.StartLine, c.EndLine,
			c.Content, c.Digest, fileDigests[c.SourcePath],
			nullable(c.Symbol.Name), nullable(c.Symbol.Kind), nullable(c.Symbol.Signature),
			nullable(c.Symbol.Parent), nullable(c.Symbol.Docstring),
			now)
		if err != nil {
			return errors.RegistryError("upserting chunk", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.RegistryError("committing chunks", err)
	}
	return nil
}

// HasFileDigest reports whether a source path was already indexed with the
// same content digest, allowing incremental runs to skip re-embedding.
func (r *Registry) HasFileDigest(ctx context.Context, datasetID, sourcePath, fileDigest string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE dataset_id = ? AND source_path = ? AND file_digest = ? LIMIT 1`,
		datasetID, sourcePath, fileDigest).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.RegistryError("checking file digest", err)
	}
	return true, nil
}

// DeleteChunksForPath removes stale chunk rows for a source path, keeping
// only the given ids. Used when a re-chunked file yields fewer chunks.
func (r *Registry) DeleteChunksForPath(ctx context.Context, datasetID, sourcePath string, keepIDs []string) error {
	if len(keepIDs) == 0 {
		_, err := r.db.ExecContext(ctx,
			`DELETE FROM chunks WHERE dataset_id = ? AND source_path = ?`, datasetID, sourcePath)
		if err != nil {
			return errors.RegistryError("deleting chunks", err)
		}
		return nil
	}

	args := []any{datasetID, sourcePath}
	placeholders := ""
	for i, id := range keepIDs {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args = append(args, id)
	}

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM chunks WHERE dataset_id = ? AND source_path = ? AND chunk_id NOT IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return errors.RegistryError("deleting stale chunks", err)
	}
	return nil
}

// CountChunks returns the number of chunk rows for a dataset.
func (r *Registry) CountChunks(ctx context.Context, datasetID string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks WHERE dataset_id = ?`, datasetID).Scan(&count)
	if err != nil {
		return 0, errors.RegistryError("counting chunks", err)
	}
	return count, nil
}

// ClearCounts reports what a clear operation would (or did) remove.
type ClearCounts struct {
	Datasets    int      `json:"datasets"`
	Chunks      int64    `json:"chunks"`
	Collections []string `json:"collections"`
}

// ClearDataset removes the chunks, collection record, and dataset rows for a
// scope. With dryRun, it only reports the counts that would be deleted. The
// caller is responsible for deleting the vector collections named in the
// result.
func (r *Registry) ClearDataset(ctx context.Context, projectName, datasetName string, dryRun bool) (ClearCounts, error) {
	p, err := r.GetProject(ctx, projectName)
	if err != nil {
		return ClearCounts{}, err
	}

	// Empty dataset name clears the whole project scope.
	query := `SELECT id, name FROM datasets WHERE project_id = ?`
	args := []any{p.ID}
	if datasetName != "" {
		query += ` AND name = ?`
		args = append(args, datasetName)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return ClearCounts{}, errors.RegistryError("listing datasets to clear", err)
	}
	var ids []string
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return ClearCounts{}, errors.RegistryError("scanning dataset", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return ClearCounts{}, errors.RegistryError("listing datasets to clear", err)
	}

	counts := ClearCounts{Datasets: len(ids)}
	for _, id := range ids {
		n, err := r.CountChunks(ctx, id)
		if err != nil {
			return ClearCounts{}, err
		}
		counts.Chunks += n

		if rec, err := r.collectionByDataset(ctx, id); err == nil {
			counts.Collections = append(counts.Collections, rec.CollectionName)
		}
	}

	if dryRun {
		return counts, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ClearCounts{}, errors.RegistryError("starting clear transaction", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		// Cascades remove chunks, tags, and the collection record.
		if _, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ?`, id); err != nil {
			return ClearCounts{}, errors.RegistryError("deleting dataset", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ClearCounts{}, errors.RegistryError("committing clear", err)
	}
	return counts, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
