package listing

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// Near matches tolerate one edit on values at least this long.
const nearMatchMinLength = 4

// MatchAllowedValue checks value against the allowed list case-insensitively and
// returns the canonical spelling. Separators (space, hyphen, underscore) are
// treated alike, and a single edit is tolerated when exactly one candidate is that close.
func MatchAllowedValue(value string, allowed []string) (string, bool) {
	fold := cases.Fold()
	key := taxonomyKey(fold.String(value))
	if key == "" {
		return "", false
	}

	keys := make([]string, len(allowed))
	for i, a := range allowed {
		keys[i] = taxonomyKey(fold.String(a))
		if keys[i] == key {
			return a, true
		}
	}

	if len(key) < nearMatchMinLength {
		return "", false
	}
	best, bestCount := -1, 0
	for i, k := range keys {
		if levenshtein.ComputeDistance(key, k) == 1 {
			best = i
			bestCount++
		}
	}
	if bestCount != 1 {
		return "", false
	}
	return allowed[best], true
}

func taxonomyKey(s string) string {
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
