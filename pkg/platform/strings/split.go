// Package strings holds small parsing helpers for configuration values.
package strings

import (
	"strings"
)

// SplitList splits a separated list, trims each entry and drops empties and
// repeats. Order of first appearance is kept.
//
//	SplitList(" a:9092, b:9092,,a:9092 ", ",")
//	// []string{"a:9092", "b:9092"}
func SplitList(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
