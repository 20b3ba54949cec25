// Package glob matches resource paths against filters.
//
// Extends path.Match with ** support for matching any path segments, so
// "docs/**" selects every resource under docs/ regardless of depth. Filters
// without glob metacharacters are treated as plain path prefixes.
package glob

import (
	"path"
	"strings"
)

// Match reports whether p matches the glob pattern.
// Supports standard glob patterns (*, ?, [...]) plus ** for matching any
// path segments. Returns an error if the pattern is malformed.
func Match(pattern, p string) (bool, error) {
	pattern = strings.ReplaceAll(pattern, "\\", "/")

	// Handle ** (match any path segments)
	if strings.Contains(pattern, "**") {
		parts := strings.Split(pattern, "**")
		if len(parts) == 2 {
			prefix := strings.TrimSuffix(parts[0], "/")
			suffix := strings.TrimPrefix(parts[1], "/")

			if prefix != "" && !strings.HasPrefix(p, prefix) {
				return false, nil
			}
			if suffix == "" {
				return true, nil
			}
			// Match suffix as a glob pattern against all path segments
			segments := strings.Split(p, "/")
			for i := range segments {
				tail := strings.Join(segments[i:], "/")
				m, err := path.Match(suffix, tail)
				if err != nil {
					return false, err
				}
				if m {
					return true, nil
				}
			}
			return false, nil
		}
	}

	matched, err := path.Match(pattern, p)
	if err != nil {
		return false, err
	}
	if matched {
		return true, nil
	}

	// Patterns without a directory part also match the base name.
	if !strings.Contains(pattern, "/") {
		return path.Match(pattern, path.Base(p))
	}
	return false, nil
}

// IsPattern reports whether s contains glob metacharacters.
func IsPattern(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// Filter reports whether p is selected by filter: everything for an empty
// filter, a glob match for patterns, a prefix match otherwise.
func Filter(filter, p string) (bool, error) {
	switch {
	case filter == "":
		return true, nil
	case IsPattern(filter):
		return Match(filter, p)
	default:
		return strings.HasPrefix(p, filter), nil
	}
}
