// Package cli provides shared utilities for CLI commands.
package cli

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// MatchPattern returns the indexes of titles matching pattern, ignoring case.
// If the pattern contains glob characters (*?[), it performs glob matching.
// Otherwise, it performs exact matching.
func MatchPattern(pattern string, titles []string) ([]int, error) {
	folded := strings.ToLower(pattern)

	// Validate pattern syntax
	if _, err := filepath.Match(folded, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
	}

	// Check if pattern contains glob characters
	hasGlob := strings.ContainsAny(pattern, "*?[")

	var matches []int
	for i, title := range titles {
		title = strings.ToLower(title)
		if !hasGlob {
			if title == folded {
				matches = append(matches, i)
			}
			continue
		}
		matched, err := filepath.Match(folded, title)
		if err != nil {
			return nil, err
		}
		if matched {
			matches = append(matches, i)
		}
	}

	if len(matches) == 0 {
		if hasGlob {
			return nil, fmt.Errorf("no titles match pattern '%s'", pattern)
		}
		return nil, fmt.Errorf("title '%s' not found", pattern)
	}
	return matches, nil
}

// MatchPatterns matches several patterns against titles and returns the
// union of matching indexes in ascending order.
func MatchPatterns(patterns []string, titles []string) ([]int, error) {
	seen := make(map[int]bool)
	var result []int

	for _, pattern := range patterns {
		matches, err := MatchPattern(pattern, titles)
		if err != nil {
			return nil, err
		}
		for _, i := range matches {
			if !seen[i] {
				seen[i] = true
				result = append(result, i)
			}
		}
	}

	sort.Ints(result)
	return result, nil
}

// MapKeys extracts keys from a map and returns them sorted.
func MapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
