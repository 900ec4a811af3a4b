//go:build cgo

package ast

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

type treeSitterParser struct {
	parsers map[string]*sitter.Parser
	mu      sync.Mutex
}

// NewParser returns the Tree-sitter backed parser.
func NewParser() Parser {
	return &treeSitterParser{
		parsers: make(map[string]*sitter.Parser),
	}
}

func (p *treeSitterParser) getParser(language string) *sitter.Parser {
	p.mu.Lock()
	defer p.mu.Unlock()

	if parser, ok := p.parsers[language]; ok {
		return parser
	}

	var lang *sitter.Language
	switch language {
	case LangGo:
		lang = golang.GetLanguage()
	case LangPython:
		lang = python.GetLanguage()
	case LangTypeScript:
		lang = typescript.GetLanguage()
	case LangJavaScript:
		lang = javascript.GetLanguage()
	case LangJava:
		lang = java.GetLanguage()
	case LangRust:
		lang = rust.GetLanguage()
	default:
		return nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	p.parsers[language] = parser
	return parser
}

func (p *treeSitterParser) SupportsLanguage(language string) bool {
	return p.getParser(language) != nil
}

// declarationKinds maps node types to symbol kinds across the wired
// grammars.
var declarationKinds = map[string]string{
	// Go
	"function_declaration": KindFunction,
	"method_declaration":   KindMethod,
	"type_declaration":     KindClass,
	// Python
	"function_definition": KindFunction,
	"class_definition":    KindClass,
	// TypeScript / JavaScript / Java
	"class_declaration":     KindClass,
	"interface_declaration": KindClass,
	"enum_declaration":      KindClass,
	"method_definition":     KindMethod,
	// Rust
	"function_item": KindFunction,
	"struct_item":   KindClass,
	"enum_item":     KindClass,
	"trait_item":    KindClass,
	"impl_item":     KindClass,
	"mod_item":      KindModule,
}

func (p *treeSitterParser) Declarations(ctx context.Context, content []byte, language string, maxBytes int) ([]Declaration, error) {
	parser := p.getParser(language)
	if parser == nil {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
	if maxBytes <= 0 {
		maxBytes = 8192
	}

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parsing %s content: %w", language, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("failed to parse content")
	}

	var decls []Declaration
	p.collect(root, content, language, maxBytes, "", &decls)
	return decls, nil
}

// collect walks the tree emitting declarations. Declarations that fit within
// maxBytes are kept whole; larger ones that contain member declarations are
// split into those members with Parent pointing at the container, and larger
// ones without members are also kept whole.
func (p *treeSitterParser) collect(n *sitter.Node, content []byte, language string, maxBytes int, parent string, out *[]Declaration) {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}

		kind, ok := declarationKinds[child.Type()]
		if !ok {
			// Not a declaration; descend (export statements, decorators).
			p.collect(child, content, language, maxBytes, parent, out)
			continue
		}

		name := nodeName(child, content)
		size := int(child.EndByte() - child.StartByte())

		if size > maxBytes && hasDeclarationChildren(child) {
			next := name
			if next == "" {
				next = parent
			}
			p.collect(child, content, language, maxBytes, next, out)
			continue
		}

		if parent != "" && kind == KindFunction {
			kind = KindMethod
		}

		decl := Declaration{
			Name:      name,
			Kind:      kind,
			Parent:    parent,
			Content:   string(content[child.StartByte():child.EndByte()]),
			StartByte: int(child.StartByte()),
			EndByte:   int(child.EndByte()),
			StartLine: int(child.StartPoint().Row) + 1,
			EndLine:   int(child.EndPoint().Row) + 1,
		}
		decl.Signature = firstLine(decl.Content)
		decl.Docstring = docstringBefore(content, decl.StartByte, language)
		*out = append(*out, decl)
	}
}

// nodeName returns the declared identifier, preferring the grammar's name
// field.
func nodeName(n *sitter.Node, content []byte) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return string(content[name.StartByte():name.EndByte()])
	}
	// Go type_declaration wraps a type_spec carrying the name.
	count := int(n.NamedChildCount())
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if child == nil {
			continue
		}
		if name := child.ChildByFieldName("name"); name != nil {
			return string(content[name.StartByte():name.EndByte()])
		}
	}
	return ""
}

func hasDeclarationChildren(n *sitter.Node) bool {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if _, ok := declarationKinds[child.Type()]; ok {
			return true
		}
		if hasDeclarationChildren(child) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimRight(strings.TrimSpace(s), "{")
}

// docstringBefore collects the contiguous comment block immediately above a
// declaration.
func docstringBefore(content []byte, startByte int, language string) string {
	prefix, ok := lineCommentPrefix[language]
	if !ok {
		return ""
	}

	head := string(content[:startByte])
	lines := strings.Split(head, "\n")
	if len(lines) > 0 {
		// Drop the partial line the declaration starts on.
		lines = lines[:len(lines)-1]
	}

	var doc []string
	for i := len(lines) - 1; i >= 0; i-- {
		trimmed := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(trimmed, prefix) {
			break
		}
		doc = append([]string{strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))}, doc...)
	}

	return strings.Join(doc, "\n")
}
