package merge

import "strings"

// DefaultProtectedPatterns lists paths that are never auto-resolved.
// Conflicts touching these always require a human.
var DefaultProtectedPatterns = []string{
	".github/workflows/**",
	"**/*.pem",
	"**/*.key",
	".env",
	".env.*",
	"secrets/**",
}

// ProtectedPaths matches repository paths against glob patterns with
// `**` support.
type ProtectedPaths struct {
	patterns []string
}

// NewProtectedPaths creates a matcher over the given patterns. A nil
// or empty pattern list matches nothing.
func NewProtectedPaths(patterns []string) *ProtectedPaths {
	return &ProtectedPaths{patterns: patterns}
}

// Match reports whether the path matches any protected pattern.
func (p *ProtectedPaths) Match(path string) bool {
	if p == nil {
		return false
	}
	for _, pattern := range p.patterns {
		if matchGlob(path, pattern) {
			return true
		}
	}
	return false
}

// Filter returns the subset of paths that are protected.
func (p *ProtectedPaths) Filter(paths []string) []string {
	var matched []string
	for _, path := range paths {
		if p.Match(path) {
			matched = append(matched, path)
		}
	}
	return matched
}

// matchGlob matches a slash-separated path against a glob pattern
// supporting `*` within a segment and `**` across segments.
func matchGlob(path, pattern string) bool {
	return matchSegments(strings.Split(path, "/"), strings.Split(pattern, "/"))
}

func matchSegments(path, pattern []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}

	if pattern[0] == "**" {
		if len(pattern) == 1 {
			return true
		}
		for i := 0; i <= len(path); i++ {
			if matchSegments(path[i:], pattern[1:]) {
				return true
			}
		}
		return false
	}

	if len(path) == 0 {
		return false
	}
	if !matchSegment(path[0], pattern[0]) {
		return false
	}
	return matchSegments(path[1:], pattern[1:])
}

// matchSegment matches one path segment against one pattern segment
// with `*` wildcards.
func matchSegment(segment, pattern string) bool {
	if pattern == "*" || pattern == segment {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}

	parts := strings.Split(pattern, "*")
	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		switch {
		case i == 0:
			if !strings.HasPrefix(segment, part) {
				return false
			}
			pos = len(part)
		case i == len(parts)-1 && !strings.HasSuffix(pattern, "*"):
			if len(segment) < pos+len(part) || !strings.HasSuffix(segment, part) {
				return false
			}
		default:
			idx := strings.Index(segment[pos:], part)
			if idx == -1 {
				return false
			}
			pos += idx + len(part)
		}
	}
	return true
}
