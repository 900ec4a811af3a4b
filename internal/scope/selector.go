package scope

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SelectorKind enumerates the forms a dataset selector can take.
type SelectorKind int

const (
	// SelectorLiteral matches a single dataset by name.
	SelectorLiteral SelectorKind = iota

	// SelectorList matches an explicit set of dataset names.
	SelectorList

	// SelectorGlob matches dataset names against a pattern containing '*'.
	SelectorGlob

	// SelectorAll matches every active (non-archived) dataset in the project.
	SelectorAll

	// SelectorAlias matches datasets tagged with a key:value pair.
	SelectorAlias
)

// Selector is a parsed dataset selector. The registry executes the
// expansion; this type only classifies the caller's input.
type Selector struct {
	Kind     SelectorKind
	Names    []string // SelectorLiteral (len 1) and SelectorList
	Pattern  string   // SelectorGlob, original form with '*'
	AliasKey string   // SelectorAlias
	AliasVal string   // SelectorAlias
}

// ParseSelector classifies a raw selector value. Accepted forms: a single
// name, a list of names, a glob containing '*', the wildcard "*", or a
// semantic alias "key:value" (e.g. env:dev, src:docs, branch:main).
func ParseSelector(raw any) (Selector, error) {
	switch v := raw.(type) {
	case nil:
		return Selector{Kind: SelectorAll}, nil
	case string:
		return parseSelectorString(v)
	case []string:
		return parseSelectorList(v)
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return Selector{}, fmt.Errorf("dataset selector list contains non-string element %v", item)
			}
			names = append(names, s)
		}
		return parseSelectorList(names)
	case json.RawMessage:
		var any1 any
		if err := json.Unmarshal(v, &any1); err != nil {
			return Selector{}, fmt.Errorf("parsing dataset selector: %w", err)
		}
		return ParseSelector(any1)
	default:
		return Selector{}, fmt.Errorf("unsupported dataset selector type %T", raw)
	}
}

func parseSelectorString(s string) (Selector, error) {
	s = strings.TrimSpace(s)

	switch {
	case s == "" || s == "*":
		return Selector{Kind: SelectorAll}, nil
	case strings.Contains(s, ":"):
		parts := strings.SplitN(s, ":", 2)
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if key == "" || val == "" {
			return Selector{}, fmt.Errorf("invalid alias selector %q", s)
		}
		return Selector{Kind: SelectorAlias, AliasKey: key, AliasVal: val}, nil
	case strings.Contains(s, "*"):
		return Selector{Kind: SelectorGlob, Pattern: s}, nil
	default:
		return Selector{Kind: SelectorLiteral, Names: []string{s}}, nil
	}
}

func parseSelectorList(names []string) (Selector, error) {
	if len(names) == 0 {
		return Selector{Kind: SelectorAll}, nil
	}
	if len(names) == 1 {
		return parseSelectorString(names[0])
	}
	for _, n := range names {
		if strings.ContainsAny(n, "*:") {
			return Selector{}, fmt.Errorf("selector lists accept literal names only, got %q", n)
		}
	}
	return Selector{Kind: SelectorList, Names: names}, nil
}

// LikePattern translates a glob pattern to a SQL LIKE predicate: '*' becomes
// '%' and pre-existing LIKE metacharacters are escaped with backslash.
func (s Selector) LikePattern() string {
	if s.Kind != SelectorGlob {
		return ""
	}
	replaced := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s.Pattern)
	return strings.ReplaceAll(replaced, "*", "%")
}
