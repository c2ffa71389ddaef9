// Package suggest proposes corrections for mistyped CLI flags using
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
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// Flag returns up to three flags from validFlags close to unknown, best
// first. Leading dashes are ignored on both sides.
func Flag(unknown string, validFlags []string) []string {
	unknown = strings.ToLower(strings.TrimLeft(unknown, "-"))
	if unknown == "" {
		return nil
	}

	type scored struct {
		flag  string
		score int
	}
	var candidates []scored
	maxDist := max(2, len(unknown)/2)
	for _, valid := range validFlags {
		normalized := strings.TrimLeft(valid, "-")
		dist := levenshtein(unknown, normalized)
		if strings.HasPrefix(normalized, unknown) {
			dist = 0
		}
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

// CommonFlagAliases maps flags people commonly try to what offtask expects
var CommonFlagAliases = map[string]string{
	"note":  "--description, -d",
	"notes": "--description, -d",
	"desc":  "--description, -d",
	"body":  "--description, -d",

	"prio":      "--priority, -p",
	"important": "--priority high",
	"urgent":    "--priority high",

	"tag":     "--category, -c",
	"tags":    "--category, -c",
	"project": "--category, -c",

	"deadline": "--due",
	"due-date": "--due",
	"date":     "--due",

	"done":     "use: offtask toggle <ref>",
	"complete": "use: offtask toggle <ref>",
	"undo":     "use: offtask toggle <ref>",

	"force": "(not supported - delete does not prompt)",
	"yes":   "(not supported - delete does not prompt)",

	"push":    "use: offtask sync --push",
	"pull":    "use: offtask sync --pull",
	"version": "use: offtask version",
}

// GetFlagHint returns a hint for a commonly misused flag
func GetFlagHint(flag string) string {
	flag = strings.ToLower(strings.TrimLeft(flag, "-"))
	return CommonFlagAliases[flag]
}
