package plan

import (
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/russross/blackfriday/v2"
	yaml "gopkg.in/yaml.v2"
)

// scanExtensionsForScope maps a Scope to the non-code file extensions
// the plan engine additionally scans for path-like string literals,
// per spec §4.4.1 step 5.
func scanExtensionsForScope(scope Scope) []string {
	switch scope {
	case ScopeCode:
		return nil
	case ScopeStandard:
		return []string{".md", ".toml", ".yaml", ".yml"}
	case ScopeComments:
		return []string{".md", ".toml", ".yaml", ".yml"}
	case ScopeEverything:
		return []string{".md", ".toml", ".yaml", ".yml"}
	default:
		return []string{".md", ".toml", ".yaml", ".yml"}
	}
}

// looksLikePathLiteral gates substitution per spec §4.4.1 step 5's
// heuristic: only strings containing a path separator or a known file
// extension are candidates; bare prose words are skipped.
func looksLikePathLiteral(s string) bool {
	if strings.ContainsAny(s, "/\\") {
		return true
	}
	knownExts := []string{".go", ".rs", ".toml", ".yaml", ".yml", ".md", ".json", ".txt"}
	for _, ext := range knownExts {
		if strings.HasSuffix(s, ext) {
			return true
		}
	}
	return false
}

// scanStringLiteral reports whether literal contains oldPath and, if
// so, returns the rewritten string.
func scanStringLiteral(literal, oldPath, newPath string) (string, bool) {
	if !looksLikePathLiteral(literal) {
		return "", false
	}
	if !strings.Contains(literal, oldPath) {
		return "", false
	}
	return strings.ReplaceAll(literal, oldPath, newPath), true
}

// scanYAMLStrings walks every string scalar in a YAML document, passing
// each value to fn and substituting what fn returns. Backed by gopkg.in/yaml.v2: the
// engine decodes into a generic interface{} tree rather than a typed
// struct because path-literal scanning must work over arbitrary project
// YAML, not a schema the plugin controls.
func scanYAMLStrings(content []byte, fn func(value string) (string, bool)) ([]byte, bool, error) {
	var doc interface{}
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, false, err
	}
	rewritten, changed := rewriteYAMLNode(doc, fn)
	if !changed {
		return content, false, nil
	}
	out, err := yaml.Marshal(rewritten)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func rewriteYAMLNode(node interface{}, fn func(string) (string, bool)) (interface{}, bool) {
	switch v := node.(type) {
	case string:
		if newV, ok := fn(v); ok {
			return newV, true
		}
		return v, false
	case map[interface{}]interface{}:
		changed := false
		out := make(map[interface{}]interface{}, len(v))
		for k, val := range v {
			newVal, c := rewriteYAMLNode(val, fn)
			out[k] = newVal
			changed = changed || c
		}
		return out, changed
	case []interface{}:
		changed := false
		out := make([]interface{}, len(v))
		for i, val := range v {
			newVal, c := rewriteYAMLNode(val, fn)
			out[i] = newVal
			changed = changed || c
		}
		return out, changed
	default:
		return v, false
	}
}

// scanTOMLStrings performs the same generic string-literal rewrite as
// scanYAMLStrings, backed by pelletier/go-toml/v2.
func scanTOMLStrings(content []byte, fn func(string) (string, bool)) ([]byte, bool, error) {
	var doc map[string]interface{}
	if err := toml.Unmarshal(content, &doc); err != nil {
		return nil, false, err
	}
	rewritten, changed := rewriteTOMLNode(doc, fn)
	if !changed {
		return content, false, nil
	}
	out, err := toml.Marshal(rewritten)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func rewriteTOMLNode(node interface{}, fn func(string) (string, bool)) (interface{}, bool) {
	switch v := node.(type) {
	case string:
		if newV, ok := fn(v); ok {
			return newV, true
		}
		return v, false
	case map[string]interface{}:
		changed := false
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			newVal, c := rewriteTOMLNode(val, fn)
			out[k] = newVal
			changed = changed || c
		}
		return out, changed
	case []interface{}:
		changed := false
		out := make([]interface{}, len(v))
		for i, val := range v {
			newVal, c := rewriteTOMLNode(val, fn)
			out[i] = newVal
			changed = changed || c
		}
		return out, changed
	default:
		return v, false
	}
}

// scanMarkdownPathLiterals finds path-like literals in Markdown prose
// using blackfriday's AST rather than regexing the raw text (spec's
// heuristic gate). Returns the code-span, code-block and link/image
// destination literals that contain oldPath. The caller rewrites only
// occurrences of those literals, so a file whose prose mentions oldPath
// but whose code spans and links do not is left unchanged.
func scanMarkdownPathLiterals(content []byte, oldPath string) []markdownMatch {
	var matches []markdownMatch
	renderer := &literalCollector{oldPath: oldPath}
	parser := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	root := parser.Parse(content)
	root.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		if !entering {
			return blackfriday.GoToNext
		}
		switch node.Type {
		case blackfriday.Code, blackfriday.CodeBlock:
			renderer.collect(node.Literal, &matches)
		case blackfriday.Link, blackfriday.Image:
			renderer.collect(node.LinkData.Destination, &matches)
		}
		return blackfriday.GoToNext
	})
	return matches
}

type markdownMatch struct {
	Literal string
}

type literalCollector struct {
	oldPath string
}

func (l *literalCollector) collect(literal []byte, matches *[]markdownMatch) {
	s := string(literal)
	if looksLikePathLiteral(s) && strings.Contains(s, l.oldPath) {
		*matches = append(*matches, markdownMatch{Literal: s})
	}
}
