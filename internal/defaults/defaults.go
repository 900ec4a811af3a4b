// Package defaults persists the user's last-used scope to a well-known
// file so tools can run without repeating project and dataset.
package defaults

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/claudecontext/claude-context/internal/scope"
)

// Defaults is the persisted record.
type Defaults struct {
	Project   string    `json:"project"`
	Dataset   string    `json:"dataset"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes the defaults file.
type Store struct {
	path string
}

// NewStore creates a store at the given path, or the well-known location
// under the user's home directory when path is empty.
func NewStore(path string) *Store {
	if path == "" {
		path = DefaultPath()
	}
	return &Store{path: path}
}

// DefaultPath returns ~/.claude-context/defaults.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".claude-context-defaults.json"
	}
	return filepath.Join(home, ".claude-context", "defaults.json")
}

// Load reads the saved defaults. A missing file is not an error; it returns
// the zero value and false.
func (s *Store) Load() (Defaults, bool, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Defaults{}, false, nil
	}
	if err != nil {
		return Defaults{}, false, fmt.Errorf("reading defaults: %w", err)
	}

	var d Defaults
	if err := json.Unmarshal(data, &d); err != nil {
		return Defaults{}, false, fmt.Errorf("parsing defaults: %w", err)
	}
	return d, true, nil
}

// Save writes the defaults, creating the directory as needed.
func (s *Store) Save(sc scope.Scope) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating defaults dir: %w", err)
	}

	d := Defaults{Project: sc.Project, Dataset: sc.Dataset, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

// Resolve determines the effective scope for a tool call: an explicit path
// always wins (auto-scoped), then an explicit project, then the saved
// defaults.
func (s *Store) Resolve(project, dataset, path string) (scope.Scope, error) {
	if path != "" {
		sc, err := scope.AutoScope(path)
		if err != nil {
			return scope.Scope{}, err
		}
		if dataset != "" {
			sc.Dataset = dataset
		}
		return sc, nil
	}

	if project != "" {
		if dataset == "" {
			dataset = scope.DefaultDataset
		}
		return scope.Scope{Project: project, Dataset: dataset}, nil
	}

	saved, ok, err := s.Load()
	if err != nil {
		return scope.Scope{}, err
	}
	if !ok {
		return scope.Scope{}, fmt.Errorf("no project given and no saved defaults; run init first")
	}
	sc := scope.Scope{Project: saved.Project, Dataset: saved.Dataset}
	if dataset != "" {
		sc.Dataset = dataset
	}
	return sc, nil
}
