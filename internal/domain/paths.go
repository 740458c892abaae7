package domain

import "strings"

// utilitySuffixes are the helper sub-resources every service exposes. They
// have no independent ownership semantics; routing decisions for them are made
// against the parent service.
var utilitySuffixes = []string{
	"/stats",
	"/subscriptions",
	"/available",
	"/config",
	"/template",
}

// ParentPath returns the path one level up, or "" at the root.
func ParentPath(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

// IsUtilityPath reports whether path points at a helper sub-resource.
func IsUtilityPath(path string) bool {
	for _, suffix := range utilitySuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// LastSegment returns the final path segment.
func LastSegment(path string) string {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// BuildPath joins path segments with single separators.
func BuildPath(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		b.WriteString("/")
		b.WriteString(s)
	}
	return b.String()
}
