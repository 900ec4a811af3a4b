package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claudecontext/claude-context/internal/pkg/errors"
)

// GetOrCreateCollection atomically upserts the (dataset -> collection)
// binding, keyed on dataset_id. It reports whether the record was freshly
// inserted. Concurrent callers are safe: the unique constraint serializes
// them and the loser retries once.
func (r *Registry) GetOrCreateCollection(ctx context.Context, datasetID, collectionName, vectorKind string, dimension int, hybrid bool) (CollectionRecord, bool, error) {
	if vectorKind == "" {
		vectorKind = VectorKindPrimary
	}

	var created bool
	for attempt := 0; attempt < 2; attempt++ {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO collections (id, dataset_id, collection_name, vector_db_kind, embedding_dimension, hybrid_enabled)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(dataset_id) DO NOTHING`,
			uuid.NewString(), datasetID, collectionName, vectorKind, dimension, boolToInt(hybrid))
		if err != nil {
			// A concurrent insert of the same collection_name can still trip
			// the name uniqueness; retry resolves to the winner's row.
			if attempt == 0 && isUniqueViolation(err) {
				continue
			}
			return CollectionRecord{}, false, errors.StoreConflictError("upserting collection record", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created = true
		}
		break
	}

	rec, err := r.collectionByDataset(ctx, datasetID)
	if err != nil {
		return CollectionRecord{}, false, err
	}
	return rec, created, nil
}

// UpdateCollectionMetadata records the final point count and index time.
func (r *Registry) UpdateCollectionMetadata(ctx context.Context, collectionID string, pointCount int64, lastIndexedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE collections SET point_count = ?, last_indexed_at = ? WHERE id = ?`,
		pointCount, lastIndexedAt.UTC(), collectionID)
	if err != nil {
		return errors.RegistryError("updating collection metadata", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundError(fmt.Sprintf("collection %s", collectionID))
	}
	return nil
}

// Resolve maps (project, dataset) to its collection name. This is the sole
// lookup path for the retrieval pipeline; it is total for any dataset that
// has ever been indexed successfully.
func (r *Registry) Resolve(ctx context.Context, projectName, datasetName string) (string, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		`SELECT c.collection_name
		 FROM collections c
		 JOIN datasets d ON d.id = c.dataset_id
		 JOIN projects p ON p.id = d.project_id
		 WHERE p.name = ? AND d.name = ?`,
		projectName, datasetName).Scan(&name)
	if err == sql.ErrNoRows {
		return "", errors.CollectionMissingError(projectName, datasetName)
	}
	if err != nil {
		return "", errors.RegistryError("resolving collection", err)
	}
	return name, nil
}

// ResolveDatasetID maps a dataset id to its collection name.
func (r *Registry) ResolveDatasetID(ctx context.Context, datasetID string) (string, error) {
	rec, err := r.collectionByDataset(ctx, datasetID)
	if err != nil {
		return "", err
	}
	return rec.CollectionName, nil
}

// ListForProject returns the catalog of datasets with their collection
// bindings for a project.
func (r *Registry) ListForProject(ctx context.Context, projectName string) ([]DatasetListing, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT d.name, d.status, c.collection_name, c.point_count, c.last_indexed_at
		 FROM datasets d
		 JOIN projects p ON p.id = d.project_id
		 LEFT JOIN collections c ON c.dataset_id = d.id
		 WHERE p.name = ?
		 ORDER BY d.name`,
		projectName)
	if err != nil {
		return nil, errors.RegistryError("listing datasets", err)
	}
	defer rows.Close()

	var out []DatasetListing
	for rows.Next() {
		var l DatasetListing
		var collectionName sql.NullString
		var pointCount sql.NullInt64
		var lastIndexed sql.NullTime
		if err := rows.Scan(&l.DatasetName, &l.Status, &collectionName, &pointCount, &lastIndexed); err != nil {
			return nil, errors.RegistryError("scanning dataset listing", err)
		}
		l.CollectionName = collectionName.String
		l.PointCount = pointCount.Int64
		if lastIndexed.Valid {
			t := lastIndexed.Time
			l.LastIndexedAt = &t
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *Registry) collectionByDataset(ctx context.Context, datasetID string) (CollectionRecord, error) {
	var rec CollectionRecord
	var hybrid int
	var lastIndexed sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT id, dataset_id, collection_name, vector_db_kind, embedding_dimension, hybrid_enabled, point_count, last_indexed_at
		 FROM collections WHERE dataset_id = ?`, datasetID).
		Scan(&rec.ID, &rec.DatasetID, &rec.CollectionName, &rec.VectorDBKind, &rec.EmbeddingDimension, &hybrid, &rec.PointCount, &lastIndexed)
	if err == sql.ErrNoRows {
		return CollectionRecord{}, errors.NotFoundError(fmt.Sprintf("collection for dataset %s", datasetID))
	}
	if err != nil {
		return CollectionRecord{}, errors.RegistryError("loading collection record", err)
	}
	rec.HybridEnabled = hybrid != 0
	if lastIndexed.Valid {
		t := lastIndexed.Time
		rec.LastIndexedAt = &t
	}
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
