// Package chunker splits source text into ordered, retrievable chunks with
// symbol metadata. Declarations found by the AST parser are kept whole when
// they fit the size limit; unrecognized formats fall back to syntactic and
// fixed-window splitting.
package chunker

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/claudecontext/claude-context/internal/pkg/hash"
)

// Symbol is the metadata extracted for a chunk. Every field is optional;
// missing values stay empty rather than being guessed.
type Symbol struct {
	Name      string `json:"name,omitempty"`
	Kind      string `json:"kind,omitempty"` // function, method, class, module, other
	Signature string `json:"signature,omitempty"`
	Parent    string `json:"parent,omitempty"`
	Docstring string `json:"docstring,omitempty"`
}

// Chunk is a unit of retrievable text.
type Chunk struct {
	ID         string `json:"id"`
	DatasetID  string `json:"dataset_id"`
	SourcePath string `json:"source_path"`
	Language   string `json:"language"`
	Content    string `json:"content"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`
	StartByte  int    `json:"start_byte"`
	EndByte    int    `json:"end_byte"`
	Digest     string `json:"digest"`
	Symbol     Symbol `json:"symbol"`
}

// chunkNamespace seeds the deterministic chunk id derivation.
var chunkNamespace = uuid.MustParse("7a1c2b4e-90d3-4c6a-9f3e-2d5b8c1a0e47")

// ComputeChunkID derives the stable chunk id. Identical content at the same
// location always re-indexes to the same id, so retries upsert rather than
// duplicate.
func ComputeChunkID(datasetID, sourcePath string, startByte, endByte int, digest string) string {
	input := fmt.Sprintf("%s:%s:%d:%d:%s", datasetID, sourcePath, startByte, endByte, digest)
	return uuid.NewSHA1(chunkNamespace, []byte(input)).String()
}

// Normalize collapses CRLF to LF and trims trailing whitespace from every
// line. The normalized form feeds both the embedding and the chunk id hash.
func Normalize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// newChunk assembles a chunk, computing digest and id.
func newChunk(datasetID, sourcePath, language, content string, startLine, endLine, startByte, endByte int, sym Symbol) Chunk {
	digest := hash.Digest(content)
	return Chunk{
		ID:         ComputeChunkID(datasetID, sourcePath, startByte, endByte, digest),
		DatasetID:  datasetID,
		SourcePath: sourcePath,
		Language:   language,
		Content:    content,
		StartLine:  startLine,
		EndLine:    endLine,
		StartByte:  startByte,
		EndByte:    endByte,
		Digest:     digest,
		Symbol:     sym,
	}
}

// languageExtensions maps file extensions to language names.
var languageExtensions = map[string]string{
	".go":    "go",
	".ts":    "typescript",
	".tsx":   "typescript",
	".js":    "javascript",
	".jsx":   "javascript",
	".py":    "python",
	".rs":    "rust",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".cs":    "csharp",
	".md":    "markdown",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".sql":   "sql",
	".sh":    "bash",
	".bash":  "bash",
	".html":  "html",
	".htm":   "html",
	".css":   "css",
	".txt":   "text",
}

// DetectLanguage infers the language from a file path.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageExtensions[ext]; ok {
		return lang
	}
	return "text"
}
