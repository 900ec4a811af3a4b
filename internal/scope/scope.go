// Package scope implements the naming contract between logical scopes and
// vector collections. Each (project, dataset) pair owns exactly one
// deterministically named collection; a mandatory dataset filter on every
// query enforces isolation independent of naming.
package scope

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/claudecontext/claude-context/internal/pkg/hash"
)

// DefaultDataset is the dataset name used when only a path is given.
const DefaultDataset = "local"

var (
	nonWord       = regexp.MustCompile(`[^A-Za-z0-9]`)
	canonicalName = regexp.MustCompile(`^project_[A-Za-z0-9_]+_dataset_[A-Za-z0-9_]+$`)
)

// Scope identifies a (project, dataset) pair.
type Scope struct {
	Project string `json:"project"`
	Dataset string `json:"dataset"`
}

// String returns the scope in project/dataset form.
func (s Scope) String() string {
	return s.Project + "/" + s.Dataset
}

// Sanitize replaces every character outside [A-Za-z0-9] with an underscore.
func Sanitize(name string) string {
	return nonWord.ReplaceAllString(name, "_")
}

// CollectionName derives the canonical collection name for a scope.
// The result is idempotent and reversible only through the registry.
func CollectionName(project, dataset string) string {
	return fmt.Sprintf("project_%s_dataset_%s", Sanitize(project), Sanitize(dataset))
}

// ValidCollectionName reports whether name matches the canonical form.
func ValidCollectionName(name string) bool {
	return canonicalName.MatchString(name)
}

// AutoProject derives a project name from a filesystem path when no explicit
// project was given. Two independent SHA-256 hashes over the absolute path
// are rendered as 8-character Base58 strings bracketing the sanitized
// basename, making collisions between distinct paths negligible.
func AutoProject(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path %s: %w", path, err)
	}

	base := Sanitize(strings.ToLower(filepath.Base(abs)))
	h1 := hash.Base58Short([]byte(abs), 8)
	h2 := hash.Base58Short([]byte("scope:"+abs), 8)

	return fmt.Sprintf("%s-%s-%s", h1, base, h2), nil
}

// AutoScope derives a full scope from a path, with the default dataset.
func AutoScope(path string) (Scope, error) {
	project, err := AutoProject(path)
	if err != nil {
		return Scope{}, err
	}
	return Scope{Project: project, Dataset: DefaultDataset}, nil
}
