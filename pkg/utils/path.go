package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinBase validates that a path is within a base directory.
// Relative paths are resolved against base.
//
// Example usage:
//
//	if err := ValidatePathWithinBase(resultsRoot, indexedPath); err != nil {
//		return fmt.Errorf("refusing to delete: %w", err)
//	}
func ValidatePathWithinBase(base, path string) error {
	if base == "" {
		return fmt.Errorf("base path cannot be empty")
	}
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	cleanPath := filepath.Clean(path)
	if !filepath.IsAbs(cleanPath) {
		cleanPath = filepath.Join(cleanBase, cleanPath)
	}

	if !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) &&
		cleanPath != cleanBase {
		return fmt.Errorf("path %s is outside base directory %s", path, base)
	}
	return nil
}

// DepthBelow returns the number of path elements between base and path,
// or -1 when path is not inside base.
func DepthBelow(base, path string) int {
	if ValidatePathWithinBase(base, path) != nil {
		return -1
	}
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(path))
	if err != nil {
		return -1
	}
	if rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

// WithTrailingSeparator returns the cleaned path with exactly one trailing separator.
func WithTrailingSeparator(path string) string {
	clean := filepath.Clean(path)
	if strings.HasSuffix(clean, string(filepath.Separator)) {
		return clean
	}
	return clean + string(filepath.Separator)
}
