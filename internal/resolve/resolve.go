// Package resolve maps extracted import strings to repository-relative
// file paths by per-language candidate probing (§4.C). Unresolved imports
// are not an error: they still produce an `imports` edge, just no
// `resolves_to`/`depends_on` pair (§9 open question).
package resolve

import (
	"path"
	"strings"

	"github.com/riverglass/codegraph/internal/lang"
)

// Exists reports whether a repository-relative path names a tracked or
// on-disk file. The indexer supplies this against the working tree.
type Exists func(relPath string) bool

// Resolved pairs an import string with the repository-relative path it
// resolved to.
type Resolved struct {
	Import string
	Path   string
}

// Resolve attempts to resolve every raw import string extracted from
// importingPath, returning only those that resolve. The importing file's
// own language selects the candidate-generation strategy.
func Resolve(importingPath string, language lang.Language, imports []string, exists Exists) []Resolved {
	out := make([]Resolved, 0, len(imports))
	for _, raw := range imports {
		if candidate, ok := resolveOne(importingPath, language, raw, exists); ok {
			out = append(out, Resolved{Import: raw, Path: candidate})
		}
	}
	return out
}

func resolveOne(importingPath string, language lang.Language, raw string, exists Exists) (string, bool) {
	var candidates []string
	switch language {
	case lang.Rust:
		candidates = rustCandidates(importingPath, raw)
	case lang.Python:
		candidates = pythonCandidates(raw)
	default:
		return "", false
	}
	for _, c := range candidates {
		if exists(c) {
			return c, true
		}
	}
	return "", false
}

// rustCandidates implements the Rust candidate generation of §4.C: strip
// leading path qualifiers, drop a trailing alias, stop at the first `{`
// (a use-group), then for every prefix length of the `::`-split path
// produce both the module-file and mod.rs forms, plus a sibling-file
// fallback keyed off the last path segment.
func rustCandidates(importingPath, raw string) []string {
	s := raw
	for _, prefix := range []string{"crate::", "self::", "super::"} {
		s = strings.TrimPrefix(s, prefix)
	}
	if idx := strings.Index(s, " as "); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.Index(s, "{"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "::")
	if s == "" {
		return nil
	}

	segments := strings.Split(s, "::")
	var out []string
	for length := len(segments); length >= 1; length-- {
		prefix := strings.Join(segments[:length], "/")
		out = append(out, "src/"+prefix+".rs")
		out = append(out, "src/"+prefix+"/mod.rs")
	}

	last := segments[len(segments)-1]
	dir := path.Dir(importingPath)
	if dir == "." {
		out = append(out, last+".rs")
	} else {
		out = append(out, dir+"/"+last+".rs")
	}
	return out
}

// pythonCandidates implements the Python candidate generation of §4.C:
// dotted module path to slash path, then the module-file and package-init
// forms.
func pythonCandidates(raw string) []string {
	if raw == "" {
		return nil
	}
	p := strings.ReplaceAll(raw, ".", "/")
	return []string{p + ".py", p + "/__init__.py"}
}
