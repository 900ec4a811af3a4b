// Package ingest orchestrates indexing: enumerate -> chunk -> embed ->
// dual-write (vector points + chunk rows) -> registry update, with progress
// emission and per-scope exclusive locking.
package ingest

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Document is a candidate unit of ingestion: a file, or a crawled page
// rendered to markdown.
type Document struct {
	Path    string
	Content string
	Repo    string
}

// MaxFileSize caps enumerated file size; larger files are skipped.
const MaxFileSize = 1 << 20

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"__pycache__":  true,
	".venv":        true,
	".idea":        true,
	".vscode":      true,
}

// EnumerateLocal walks a local directory (or single file) and returns the
// indexable documents with paths relative to root.
func EnumerateLocal(root string) ([]Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}

	if !info.IsDir() {
		content, err := os.ReadFile(root)
		if err != nil {
			return nil, err
		}
		if looksBinary(content) {
			return nil, nil
		}
		return []Document{{Path: filepath.Base(root), Content: string(content)}}, nil
	}

	var docs []Document
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || (strings.HasPrefix(d.Name(), ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		fi, err := d.Info()
		if err != nil || fi.Size() > MaxFileSize || fi.Size() == 0 {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if looksBinary(content) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		docs = append(docs, Document{Path: filepath.ToSlash(rel), Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	return docs, nil
}

// looksBinary sniffs for a null byte in the head of the content.
func looksBinary(content []byte) bool {
	head := content
	if len(head) > 8000 {
		head = head[:8000]
	}
	return bytes.IndexByte(head, 0) >= 0
}
