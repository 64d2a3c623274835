// Package suggest provides fuzzy matching for CLI flag suggestions using
// Levenshtein distance.
package suggest

import (
	"sort"
	"strings"
)

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Flag finds similar flags from a list of valid flags.
// Returns at most three suggestions, best first.
func Flag(unknown string, validFlags []string) []string {
	unknown = strings.TrimLeft(unknown, "-")

	type scored struct {
		flag  string
		score int
	}
	var candidates []scored

	maxDist := max(2, len(unknown)/2)
	for _, valid := range validFlags {
		dist := levenshtein(unknown, strings.TrimLeft(valid, "-"))
		if dist <= maxDist {
			candidates = append(candidates, scored{valid, dist})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	var result []string
	for i := 0; i < len(candidates) && i < 3; i++ {
		result = append(result, candidates[i].flag)
	}
	return result
}

// CommonFlagAliases maps commonly attempted flags to their correct names
var CommonFlagAliases = map[string]string{
	"device-id": "--device (sync) or the <device-id> argument",
	"devid":     "--device (sync) or the <device-id> argument",

	"entity-type": "--type",
	"kind":        "--type",

	"msg":     "--error, -e",
	"message": "--error, -e",
	"reason":  "--error, -e",

	"confirm":     "--yes, -y",
	"no-prompt":   "--yes, -y",
	"max-age":     "--days",
	"retention":   "--days",
	"url":         "--server, -s",
	"host":        "--server, -s",
	"admin-token": "--token",

	"version": "use: fieldsync version",
}

// GetFlagHint returns a hint for a commonly misused flag
func GetFlagHint(flag string) string {
	flag = strings.ToLower(strings.TrimLeft(flag, "-"))
	return CommonFlagAliases[flag]
}
