package sqlgen

import (
	"regexp"
	"strings"
)

var (
	whereRe   = regexp.MustCompile(`(?is)\bWHERE\b(.*?)(?:\bGROUP\s+BY\b|\bORDER\s+BY\b|\bLIMIT\b|\bHAVING\b|\bRETURNING\b|;|$)`)
	literalRe = regexp.MustCompile(`'(?:[^']|'')*'|\b\d+(?:\.\d+)?\b`)
)

// FilterLiterals returns the quoted strings and numbers that appear in the
// WHERE clauses of sql, in order of first appearance.
func FilterLiterals(sql string) []string {
	seen := map[string]bool{}
	var out []string
	for _, where := range whereRe.FindAllStringSubmatch(sql, -1) {
		for _, lit := range literalRe.FindAllString(where[1], -1) {
			if !seen[lit] {
				seen[lit] = true
				out = append(out, lit)
			}
		}
	}
	return out
}

// MissingFilters returns the WHERE literals of prevSQL that do not appear
// anywhere in nextSQL. It is a heuristic: an empty result does not prove the
// filters are equivalent.
func MissingFilters(prevSQL, nextSQL string) []string {
	var missing []string
	for _, lit := range FilterLiterals(prevSQL) {
		if !strings.Contains(nextSQL, lit) {
			missing = append(missing, lit)
		}
	}
	return missing
}
