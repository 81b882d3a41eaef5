// Package ignore decides which raw traversal paths are excluded before they
// ever become entries.
package ignore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/grafana/regexp"
)

// Pattern matches raw paths. Both the standard library and grafana regexps
// satisfy it.
type Pattern interface {
	MatchString(path string) bool
}

// Default excludes the conventional dependency cache directory. It is always
// part of a Filter.
var Default Pattern = regexp.MustCompile(`node_modules`)

// Filter reports whether a raw path is excluded. Patterns are OR-ed.
type Filter struct {
	patterns []Pattern
}

// New returns a Filter holding Default followed by patterns. Nil patterns are
// skipped.
func New(patterns ...Pattern) *Filter {
	combined := make([]Pattern, 0, len(patterns)+1)
	combined = append(combined, Default)
	for _, pattern := range patterns {
		if pattern != nil {
			combined = append(combined, pattern)
		}
	}
	return &Filter{patterns: combined}
}

// Ignored reports whether any pattern matches path.
func (f *Filter) Ignored(path string) bool {
	if f == nil {
		return false
	}
	for _, pattern := range f.patterns {
		if pattern.MatchString(path) {
			return true
		}
	}
	return false
}

// Len reports the number of patterns including Default.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.patterns)
}

// Compile compiles regular expressions into patterns.
func Compile(exprs []string) ([]Pattern, error) {
	patterns := make([]Pattern, 0, len(exprs))
	for _, expr := range exprs {
		compiled, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("ignore pattern %q: %w", expr, err)
		}
		patterns = append(patterns, compiled)
	}
	return patterns, nil
}

type globPattern struct {
	pattern string
}

// Glob adapts a doublestar pattern into a Pattern. It is matched against the
// forward-slash form of the raw path, with and without its leading slash, so
// patterns for absolute raw paths usually start with "**/".
func Glob(pattern string) (Pattern, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("ignore glob %q: %w", pattern, doublestar.ErrBadPattern)
	}
	return globPattern{pattern: pattern}, nil
}

func (g globPattern) MatchString(path string) bool {
	slashed := filepath.ToSlash(path)
	if doublestar.MatchUnvalidated(g.pattern, slashed) {
		return true
	}
	trimmed := strings.TrimPrefix(slashed, "/")
	return trimmed != slashed && doublestar.MatchUnvalidated(g.pattern, trimmed)
}

func (g globPattern) String() string {
	return g.pattern
}
