// Package ast extracts declaration boundaries and symbol metadata from
// source code using Tree-sitter grammars. Builds without cgo fall back to a
// stub and the chunker's heuristic splitters take over.
package ast

import "context"

// Declaration is a top-level (or class-member) declaration with its symbol
// metadata. Fields that cannot be determined are left empty, never guessed.
type Declaration struct {
	Name      string
	Kind      string // function, method, class, module, other
	Signature string
	Parent    string
	Docstring string
	Content   string
	StartByte int
	EndByte   int
	StartLine int // 1-based
	EndLine   int // 1-based
}

// Parser extracts declarations from source code.
type Parser interface {
	// Declarations returns the declarations of a file in source order.
	// Declarations larger than maxBytes that contain member declarations are
	// split into those members, with Parent set to the enclosing
	// declaration's name; a larger declaration without members is returned
	// whole.
	Declarations(ctx context.Context, content []byte, language string, maxBytes int) ([]Declaration, error)

	// SupportsLanguage reports whether a grammar is available.
	SupportsLanguage(language string) bool
}

// Symbol kinds.
const (
	KindFunction = "function"
	KindMethod   = "method"
	KindClass    = "class"
	KindModule   = "module"
	KindOther    = "other"
)
