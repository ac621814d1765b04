package manifest

import (
	"path/filepath"
	"strings"
)

// NormalizePath converts a path relative to the scan root into its stored
// form: cleaned, forward slashes, no leading "./".
func NormalizePath(rel string) string {
	p := filepath.ToSlash(filepath.Clean(strings.TrimSpace(rel)))
	p = strings.TrimPrefix(p, "./")
	if p == "." {
		return ""
	}
	return p
}

// IsHidden reports whether a base name is a dotfile or dot-directory.
func IsHidden(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, ".")
}

// Ignored reports whether rel (normalized) matches any of the glob patterns,
// either by base name or by full relative path.
func Ignored(rel string, patterns []string) bool {
	base := filepath.Base(rel)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
	}
	return false
}
