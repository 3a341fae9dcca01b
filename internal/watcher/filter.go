package watcher

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPatterns is the include list used when none is configured.
var DefaultPatterns = []string{"**/*.wasm"}

// PathFilter decides which paths under the watch root are components.
// Paths are slash-separated and relative to the root.
type PathFilter struct {
	include []string
	ignore  []string
}

// NewPathFilter validates the doublestar patterns and builds a filter.
// An empty include list falls back to DefaultPatterns.
func NewPathFilter(include, ignore []string) (*PathFilter, error) {
	if len(include) == 0 {
		include = DefaultPatterns
	}
	for _, p := range append(append([]string{}, include...), ignore...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}
	return &PathFilter{
		include: append([]string{}, include...),
		ignore:  append([]string{}, ignore...),
	}, nil
}

// Match reports whether the file at rel should be analyzed.
func (f *PathFilter) Match(rel string) bool {
	if f.ignored(rel) {
		return false
	}
	for _, p := range f.include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// SkipDir reports whether the directory at rel should not be watched.
func (f *PathFilter) SkipDir(rel string) bool {
	if rel == "." || rel == "" {
		return false
	}
	return f.ignored(rel) || f.ignored(rel+"/")
}

func (f *PathFilter) ignored(rel string) bool {
	for _, p := range f.ignore {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		// "vendor/**" should also exclude the directory "vendor" itself.
		if base := strings.TrimSuffix(p, "/**"); base != p {
			if ok, _ := doublestar.Match(base, strings.TrimSuffix(rel, "/")); ok {
				return true
			}
		}
	}
	return false
}

// LogicalName derives a component name from its relative path: the
// slash-separated path without the .wasm extension.
func LogicalName(rel string) string {
	rel = path.Clean(strings.ReplaceAll(rel, "\\", "/"))
	return strings.TrimSuffix(rel, ".wasm")
}
