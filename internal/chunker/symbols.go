package chunker

import (
	"regexp"
	"strings"

	"github.com/claudecontext/claude-context/internal/ast"
)

// symbolPattern pairs a declaration regex with the kind it declares. The
// first capture group is the symbol name.
type symbolPattern struct {
	re   *regexp.Regexp
	kind string
}

// Symbol extraction patterns by language, used on the heuristic chunking
// paths where no AST is available.
var symbolPatterns = map[string][]symbolPattern{
	"go": {
		{regexp.MustCompile(`func\s*\([^)]+\)\s*(\w+)\s*\(`), ast.KindMethod},
		{regexp.MustCompile(`func\s+(\w+)\s*\(`), ast.KindFunction},
		{regexp.MustCompile(`type\s+(\w+)\s+(?:struct|interface)`), ast.KindClass},
	},
	"typescript": {
		{regexp.MustCompile(`(?:function|async\s+function)\s+(\w+)\s*\(`), ast.KindFunction},
		{regexp.MustCompile(`(?:class|interface|enum)\s+(\w+)`), ast.KindClass},
	},
	"javascript": {
		{regexp.MustCompile(`(?:function|async\s+function)\s+(\w+)\s*\(`), ast.KindFunction},
		{regexp.MustCompile(`class\s+(\w+)`), ast.KindClass},
	},
	"python": {
		{regexp.MustCompile(`class\s+(\w+)`), ast.KindClass},
		{regexp.MustCompile(`def\s+(\w+)\s*\(`), ast.KindFunction},
	},
	"rust": {
		{regexp.MustCompile(`fn\s+(\w+)\s*[<(]`), ast.KindFunction},
		{regexp.MustCompile(`(?:struct|enum|trait)\s+(\w+)`), ast.KindClass},
		{regexp.MustCompile(`mod\s+(\w+)`), ast.KindModule},
	},
	"java": {
		{regexp.MustCompile(`(?:class|interface|enum)\s+(\w+)`), ast.KindClass},
	},
	"ruby": {
		{regexp.MustCompile(`class\s+(\w+)`), ast.KindClass},
		{regexp.MustCompile(`module\s+(\w+)`), ast.KindModule},
		{regexp.MustCompile(`def\s+(\w+)`), ast.KindFunction},
	},
	"csharp": {
		{regexp.MustCompile(`(?:class|interface|struct)\s+(\w+)`), ast.KindClass},
	},
}

// extractSymbol finds the first declared symbol in a span of text. When
// nothing matches, the zero Symbol is returned and the fields stay absent.
func extractSymbol(content, language string) Symbol {
	patterns, ok := symbolPatterns[language]
	if !ok {
		return Symbol{}
	}

	for _, line := range strings.Split(content, "\n") {
		for _, p := range patterns {
			if m := p.re.FindStringSubmatch(line); m != nil {
				return Symbol{
					Name:      m[1],
					Kind:      p.kind,
					Signature: strings.TrimRight(strings.TrimSpace(line), "{ \t"),
				}
			}
		}
	}
	return Symbol{}
}

// headingSymbol builds the symbol for a markdown section.
func headingSymbol(heading string) Symbol {
	text := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(heading), "#"))
	if text == "" {
		return Symbol{}
	}
	return Symbol{Name: text, Kind: ast.KindOther}
}
