//go:build !cgo

package ast

import (
	"context"
	"log/slog"
)

// fallbackParser is used when Tree-sitter is unavailable. It reports no
// language support so the chunker's heuristic splitters take over.
type fallbackParser struct{}

// NewParser returns the stub parser.
func NewParser() Parser {
	slog.Warn("Tree-sitter not available (CGO disabled), using heuristic chunking")
	return &fallbackParser{}
}

func (p *fallbackParser) Declarations(context.Context, []byte, string, int) ([]Declaration, error) {
	return nil, nil
}

func (p *fallbackParser) SupportsLanguage(string) bool {
	return false
}
