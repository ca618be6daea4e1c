// Package strings provides string-slice helpers for credential and tag lists.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
//	DedupeAndTrim([]string{"  BLS ", "HIPAA", "BLS", "", "  "})
//	// Returns: []string{"BLS", "HIPAA"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower is like DedupeAndTrim but also lowercases each element,
// for case-insensitive comparison of credential names.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

// Missing returns the elements of required that have no case-insensitive match
// in available. Output keeps required's order and original spelling.
func Missing(required, available []string) []string {
	have := make(map[string]struct{}, len(available))
	for _, v := range DedupeAndTrimLower(available) {
		have[v] = struct{}{}
	}
	var missing []string
	for _, v := range DedupeAndTrim(required) {
		if _, ok := have[strings.ToLower(v)]; !ok {
			missing = append(missing, v)
		}
	}
	return missing
}

func dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}

	return result
}
