// Package registry is the authoritative relational store: projects,
// datasets, chunks, and the dataset -> collection bindings. It is the single
// source of truth for locating a dataset's vectors.
package registry

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/claudecontext/claude-context/internal/pkg/logger"
)

// Registry wraps the relational store.
type Registry struct {
	db  *sql.DB
	log *logger.Logger
}

// Open opens (creating if necessary) the registry database at the given DSN.
func Open(dsn string, log *logger.Logger) (*Registry, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating registry dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn+"?_fk=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening registry db: %w", err)
	}

	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	r := &Registry{db: db, log: log}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Close closes the database.
func (r *Registry) Close() error {
	return r.db.Close()
}

func (r *Registry) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS datasets (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			status     TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL,
			UNIQUE(project_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS dataset_tags (
			dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			key        TEXT NOT NULL,
			value      TEXT NOT NULL,
			UNIQUE(dataset_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS collections (
			id                  TEXT PRIMARY KEY,
			dataset_id          TEXT NOT NULL UNIQUE REFERENCES datasets(id) ON DELETE CASCADE,
			collection_name     TEXT NOT NULL UNIQUE,
			vector_db_kind      TEXT NOT NULL DEFAULT 'primary',
			embedding_dimension INTEGER NOT NULL,
			hybrid_enabled      INTEGER NOT NULL DEFAULT 0,
			point_count         INTEGER NOT NULL DEFAULT 0,
			last_indexed_at     TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			chunk_id         TEXT PRIMARY KEY,
			dataset_id       TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
			source_path      TEXT NOT NULL,
			language         TEXT,
			start_line       INTEGER,
			end_line         INTEGER,
			content          TEXT NOT NULL,
			digest           TEXT NOT NULL,
			file_digest      TEXT NOT NULL DEFAULT '',
			symbol_name      TEXT,
			symbol_kind      TEXT,
			symbol_signature TEXT,
			symbol_parent    TEXT,
			symbol_docstring TEXT,
			indexed_at       TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_dataset_path ON chunks(dataset_id, source_path)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_file_digest ON chunks(dataset_id, source_path, file_digest)`,
	}

	for _, stmt := range schema {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrating registry schema: %w", err)
		}
	}
	return nil
}

// Project is a logical tenant. Created on first use, never implicitly
// deleted.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Dataset is a named subdivision of a project.
type Dataset struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Dataset statuses.
const (
	DatasetActive   = "active"
	DatasetArchived = "archived"
)

// CollectionRecord binds a dataset to its vector collection. Exactly one
// record exists per dataset after the first successful index.
type CollectionRecord struct {
	ID                 string     `json:"id"`
	DatasetID          string     `json:"dataset_id"`
	CollectionName     string     `json:"collection_name"`
	VectorDBKind       string     `json:"vector_db_kind"`
	EmbeddingDimension int        `json:"embedding_dimension"`
	HybridEnabled      bool       `json:"hybrid_enabled"`
	PointCount         int64      `json:"point_count"`
	LastIndexedAt      *time.Time `json:"last_indexed_at,omitempty"`
}

// Vector db kinds.
const (
	VectorKindPrimary  = "primary"
	VectorKindFallback = "fallback"
)

// DatasetListing is a catalog row for list operations.
type DatasetListing struct {
	DatasetName    string     `json:"dataset_name"`
	Status         string     `json:"status"`
	CollectionName string     `json:"collection_name,omitempty"`
	PointCount     int64      `json:"point_count"`
	LastIndexedAt  *time.Time `json:"last_indexed_at,omitempty"`
}
