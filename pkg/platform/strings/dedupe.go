// Package strings holds list helpers for configuration values.
package strings

import (
	"strings"
)

// SplitList splits v on sep and returns the distinct non-blank items,
// trimmed, in first-seen order.
func SplitList(v, sep string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return DedupeAndTrim(strings.Split(v, sep))
}

// DedupeAndTrim drops blank and repeated values after trimming. The result
// is nil when nothing remains.
func DedupeAndTrim(values []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
