package ast

// Language constants used throughout the AST package
const (
	LangGo         = "go"
	LangPython     = "python"
	LangTypeScript = "typescript"
	LangJavaScript = "javascript"
	LangJava       = "java"
	LangRust       = "rust"
)

// SupportedLanguages lists the languages with a Tree-sitter grammar wired.
var SupportedLanguages = []string{
	LangGo,
	LangPython,
	LangTypeScript,
	LangJavaScript,
	LangJava,
	LangRust,
}

// lineCommentPrefix maps languages to their line comment marker, used for
// docstring extraction.
var lineCommentPrefix = map[string]string{
	LangGo:         "//",
	LangPython:     "#",
	LangTypeScript: "//",
	LangJavaScript: "//",
	LangJava:       "//",
	LangRust:       "//",
}
