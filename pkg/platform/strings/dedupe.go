// Package strings holds list normalisation used by configuration parsing.
package strings

import (
	"strings"
)

// DedupeAndTrim drops blanks and duplicates, trimming each element.
// Order is preserved.
func DedupeAndTrim(values []string) []string {
	return normalize(values, false)
}

// DedupeAndTrimLower is DedupeAndTrim with case folding, for engine names.
func DedupeAndTrimLower(values []string) []string {
	return normalize(values, true)
}

// SplitList splits a comma separated value such as KAFKA_BROKERS.
//
//	SplitList(" a:9092, b:9092,,a:9092") // []string{"a:9092", "b:9092"}
func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(value, ","))
}

func normalize(values []string, lower bool) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		// env vars arrive as one comma joined element
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if lower {
				part = strings.ToLower(part)
			}
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			result = append(result, part)
		}
	}
	return result
}
