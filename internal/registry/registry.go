package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/claudecontext/claude-context/internal/pkg/errors"
	"github.com/claudecontext/claude-context/internal/scope"
)

// GetOrCreateProject returns the project with the given name, creating it on
// first use. Concurrent creators are serialized by the unique constraint.
func (r *Registry) GetOrCreateProject(ctx context.Context, name string) (Project, error) {
	if name == "" {
		return Project{}, errors.ValidationError("project name is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		uuid.NewString(), name, time.Now().UTC())
	if err != nil {
		return Project{}, errors.RegistryError("creating project", err)
	}

	return r.GetProject(ctx, name)
}

// GetProject returns a project by name.
func (r *Registry) GetProject(ctx context.Context, name string) (Project, error) {
	var p Project
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM projects WHERE name = ?`, name).
		Scan(&p.ID, &p.Name, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return Project{}, errors.NotFoundError(fmt.Sprintf("project %s", name))
	}
	if err != nil {
		return Project{}, errors.RegistryError("loading project", err)
	}
	return p, nil
}

// ListProjects returns all projects ordered by name.
func (r *Registry) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, errors.RegistryError("listing projects", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, errors.RegistryError("scanning project", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetOrCreateDataset returns the dataset with the given name under a
// project, creating it on first index.
func (r *Registry) GetOrCreateDataset(ctx context.Context, projectID, name string) (Dataset, error) {
	if name == "" {
		return Dataset{}, errors.ValidationError("dataset name is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO datasets (id, project_id, name, status, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, name) DO NOTHING`,
		uuid.NewString(), projectID, name, DatasetActive, time.Now().UTC())
	if err != nil {
		return Dataset{}, errors.RegistryError("creating dataset", err)
	}

	return r.getDataset(ctx, projectID, name)
}

func (r *Registry) getDataset(ctx context.Context, projectID, name string) (Dataset, error) {
	var d Dataset
	err := r.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, status, created_at FROM datasets
		 WHERE project_id = ? AND name = ?`, projectID, name).
		Scan(&d.ID, &d.ProjectID, &d.Name, &d.Status, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return Dataset{}, errors.NotFoundError(fmt.Sprintf("dataset %s", name))
	}
	if err != nil {
		return Dataset{}, errors.RegistryError("loading dataset", err)
	}
	return d, nil
}

// GetDataset returns a dataset by project and dataset name.
func (r *Registry) GetDataset(ctx context.Context, projectName, datasetName string) (Dataset, error) {
	p, err := r.GetProject(ctx, projectName)
	if err != nil {
		return Dataset{}, err
	}
	return r.getDataset(ctx, p.ID, datasetName)
}

// ArchiveDataset marks a dataset archived; archived datasets are excluded
// from selector expansion.
func (r *Registry) ArchiveDataset(ctx context.Context, datasetID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE datasets SET status = ? WHERE id = ?`, DatasetArchived, datasetID)
	if err != nil {
		return errors.RegistryError("archiving dataset", err)
	}
	return nil
}

// TagDataset sets a semantic alias tag (key -> value) on a dataset.
func (r *Registry) TagDataset(ctx context.Context, datasetID, key, value string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO dataset_tags (dataset_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(dataset_id, key) DO UPDATE SET value = excluded.value`,
		datasetID, key, value)
	if err != nil {
		return errors.RegistryError("tagging dataset", err)
	}
	return nil
}

// ExpandSelector resolves a dataset selector against the active datasets of
// a project. An empty result is legal and yields an empty search.
func (r *Registry) ExpandSelector(ctx context.Context, projectName string, sel scope.Selector) ([]Dataset, error) {
	p, err := r.GetProject(ctx, projectName)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	base := `SELECT d.id, d.project_id, d.name, d.status, d.created_at FROM datasets d`
	where := ` WHERE d.project_id = ? AND d.status = ?`
	args := []any{p.ID, DatasetActive}

	switch sel.Kind {
	case scope.SelectorAll:
		// no extra predicate
	case scope.SelectorLiteral, scope.SelectorList:
		placeholders := ""
		for i, name := range sel.Names {
			if i > 0 {
				placeholders += ", "
			}
			placeholders += "?"
			args = append(args, name)
		}
		where += fmt.Sprintf(" AND d.name IN (%s)", placeholders)
	case scope.SelectorGlob:
		where += ` AND d.name LIKE ? ESCAPE '\'`
		args = append(args, sel.LikePattern())
	case scope.SelectorAlias:
		base += ` JOIN dataset_tags t ON t.dataset_id = d.id`
		where += ` AND t.key = ? AND t.value = ?`
		args = append(args, sel.AliasKey, sel.AliasVal)
	default:
		return nil, errors.ValidationError("unsupported selector kind")
	}

	rows, err := r.db.QueryContext(ctx, base+where+` ORDER BY d.name`, args...)
	if err != nil {
		return nil, errors.RegistryError("expanding selector", err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		var d Dataset
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.Name, &d.Status, &d.CreatedAt); err != nil {
			return nil, errors.RegistryError("scanning dataset", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
