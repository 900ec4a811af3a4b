package chunker

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/claudecontext/claude-context/internal/ast"
)

// Config holds configuration for the chunker.
type Config struct {
	// TargetSize is the target chunk size in tokens (approximate).
	TargetSize int

	// Overlap is the number of tokens to overlap between window chunks.
	Overlap int

	// MinSize is the minimum chunk size.
	MinSize int

	// MaxSize is the maximum chunk size.
	MaxSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TargetSize: 512,
		Overlap:    64,
		MinSize:    32,
		MaxSize:    2048,
	}
}

// Chunker splits files into searchable chunks.
type Chunker struct {
	config Config
	parser ast.Parser
}

// New creates a chunker with the given configuration.
func New(cfg Config) *Chunker {
	if cfg.TargetSize == 0 {
		cfg = DefaultConfig()
	}
	return &Chunker{
		config: cfg,
		parser: ast.NewParser(),
	}
}

// NewWithParser creates a chunker with an explicit parser.
func NewWithParser(cfg Config, parser ast.Parser) *Chunker {
	if cfg.TargetSize == 0 {
		cfg = DefaultConfig()
	}
	return &Chunker{config: cfg, parser: parser}
}

// ChunkFile splits one file into ordered chunks. Content is normalized
// before both embedding and id derivation.
func (c *Chunker) ChunkFile(ctx context.Context, datasetID, path, content string) []Chunk {
	normalized := Normalize(content)
	if strings.TrimSpace(normalized) == "" {
		return nil
	}
	language := DetectLanguage(path)

	// Syntax-aware chunking keeps declarations whole when they fit.
	if c.parser != nil && c.parser.SupportsLanguage(language) {
		decls, err := c.parser.Declarations(ctx, []byte(normalized), language, c.config.MaxSize*4)
		if err == nil && len(decls) > 0 {
			chunks := make([]Chunk, 0, len(decls))
			for _, d := range decls {
				chunks = append(chunks, newChunk(datasetID, path, language, d.Content,
					d.StartLine, d.EndLine, d.StartByte, d.EndByte,
					Symbol{Name: d.Name, Kind: d.Kind, Signature: d.Signature, Parent: d.Parent, Docstring: d.Docstring}))
			}
			return chunks
		}
	}

	lines := strings.Split(normalized, "\n")

	// Small files become a single chunk.
	if c.estimateTokens(normalized) <= c.config.TargetSize {
		return []Chunk{newChunk(datasetID, path, language, normalized,
			1, len(lines), 0, len(normalized), c.spanSymbol(normalized, language))}
	}

	switch language {
	case "go", "rust", "java", "csharp", "kotlin", "scala", "swift", "c", "cpp", "typescript", "javascript":
		return c.splitAt(datasetID, path, language, lines, braceBoundary())
	case "python", "yaml":
		return c.splitAt(datasetID, path, language, lines, indentBoundary(lines))
	case "markdown":
		return c.splitAt(datasetID, path, language, lines, headingBoundary(lines))
	default:
		return c.splitWindow(datasetID, path, language, lines)
	}
}

// boundaryFunc reports whether a chunk may end after line i.
type boundaryFunc func(i int, line string) bool

// braceBoundary closes a chunk when the running brace depth returns to zero
// on a closing brace line.
func braceBoundary() boundaryFunc {
	depth := 0
	return func(_ int, line string) bool {
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		return depth == 0 && strings.TrimSpace(line) == "}"
	}
}

// indentBoundary closes a chunk when the next line starts a new top-level
// block.
func indentBoundary(lines []string) boundaryFunc {
	return func(i int, _ string) bool {
		if i+1 >= len(lines) {
			return false
		}
		next := lines[i+1]
		trimmed := strings.TrimSpace(next)
		return len(trimmed) > 0 && next[0] != ' ' && next[0] != '\t'
	}
}

// headingBoundary closes a chunk right before a markdown heading.
func headingBoundary(lines []string) boundaryFunc {
	return func(i int, _ string) bool {
		if i+1 >= len(lines) {
			return false
		}
		return strings.HasPrefix(strings.TrimSpace(lines[i+1]), "#")
	}
}

// splitAt accumulates lines and emits a chunk at each syntactic boundary
// once the minimum size is reached, or unconditionally at the maximum size.
func (c *Chunker) splitAt(datasetID, path, language string, lines []string, boundary boundaryFunc) []Chunk {
	var chunks []Chunk
	var current strings.Builder
	startLine := 1
	byteOffset := 0

	for i, line := range lines {
		lineNum := i + 1
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)

		tokens := c.estimateTokens(current.String())
		atBoundary := boundary(i, line)
		isLast := lineNum == len(lines)

		if (atBoundary && tokens >= c.config.MinSize) || tokens >= c.config.MaxSize || isLast {
			content := current.String()
			if strings.TrimSpace(content) != "" {
				chunks = append(chunks, newChunk(datasetID, path, language, content,
					startLine, lineNum, byteOffset, byteOffset+len(content),
					c.spanSymbol(content, language)))
			}
			byteOffset += len(content) + 1 // account for the separator newline
			startLine = lineNum + 1
			current.Reset()
		}
	}

	if len(chunks) == 0 {
		content := strings.Join(lines, "\n")
		return []Chunk{newChunk(datasetID, path, language, content,
			1, len(lines), 0, len(content), c.spanSymbol(content, language))}
	}

	return chunks
}

// splitWindow is the fallback splitter for unrecognized formats: fixed-size
// windows with token overlap carried from the previous chunk.
func (c *Chunker) splitWindow(datasetID, path, language string, lines []string) []Chunk {
	var chunks []Chunk
	var current strings.Builder
	var previousOverlap string
	startLine := 1
	byteOffset := 0

	for i, line := range lines {
		lineNum := i + 1
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)

		tokens := c.estimateTokens(current.String())
		isLast := lineNum == len(lines)

		if tokens >= c.config.TargetSize || isLast {
			content := current.String()
			if strings.TrimSpace(content) != "" {
				final := previousOverlap + content
				chunks = append(chunks, newChunk(datasetID, path, language, final,
					startLine, lineNum, byteOffset, byteOffset+len(content),
					c.spanSymbol(final, language)))
				previousOverlap = c.extractOverlap(content)
			}
			byteOffset += len(content) + 1
			startLine = lineNum + 1
			current.Reset()
		}
	}

	if len(chunks) == 0 {
		content := strings.Join(lines, "\n")
		return []Chunk{newChunk(datasetID, path, language, content,
			1, len(lines), 0, len(content), c.spanSymbol(content, language))}
	}

	return chunks
}

// spanSymbol extracts the leading symbol for a heuristic chunk.
func (c *Chunker) spanSymbol(content, language string) Symbol {
	if language == "markdown" {
		for _, line := range strings.Split(content, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "#") {
				return headingSymbol(line)
			}
		}
		return Symbol{}
	}
	return extractSymbol(content, language)
}

// estimateTokens estimates the token count for text.
// Uses a simple heuristic: ~4 characters per token for code.
func (c *Chunker) estimateTokens(text string) int {
	runeCount := utf8.RuneCountInString(text)
	return (runeCount + 3) / 4 // Round up
}

// extractOverlap extracts roughly Overlap tokens from the end of content for
// carry-over into the next window chunk, preferring a newline boundary.
func (c *Chunker) extractOverlap(content string) string {
	if c.config.Overlap == 0 || content == "" {
		return ""
	}

	overlapChars := c.config.Overlap * 4
	if overlapChars > len(content)/2 {
		overlapChars = len(content) / 2
	}

	startPos := len(content) - overlapChars
	if startPos <= 0 {
		return content
	}

	if newlinePos := strings.LastIndex(content[:startPos+overlapChars/2], "\n"); newlinePos > startPos-overlapChars/4 {
		return content[newlinePos+1:]
	}
	if spacePos := strings.LastIndex(content[:startPos+overlapChars/2], " "); spacePos > startPos-overlapChars/4 {
		return content[spacePos+1:]
	}
	return content[startPos:]
}
