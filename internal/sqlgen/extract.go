package sqlgen

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNotSQL is returned by Validate for empty or non-SQL text.
var ErrNotSQL = errors.New("response does not contain a SQL statement")

var (
	fenceRe   = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9_+-]*\\n)?(.*?)```")
	keywordRe = regexp.MustCompile(`(?i)^(SELECT|INSERT|UPDATE|DELETE|WITH|CREATE|ALTER|DROP|EXPLAIN|BEGIN|COMMIT|ROLLBACK)\b`)
)

// Extract pulls one SQL statement out of free-form model output. The first
// fenced code block wins. Otherwise lines are collected from the first one
// that starts with a SQL keyword until a line ends in ";" or the text ends.
func Extract(raw string) string {
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}

	var lines []string
	collecting := false
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if !collecting {
			if !keywordRe.MatchString(trimmed) {
				continue
			}
			collecting = true
		}
		lines = append(lines, strings.TrimRight(line, " \t\r"))
		if strings.HasSuffix(trimmed, ";") {
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// LooksLikeSQL reports whether s starts with a SQL keyword.
func LooksLikeSQL(s string) bool {
	return keywordRe.MatchString(strings.TrimSpace(s))
}

// Validate rejects empty text and text that does not start with a SQL keyword.
func Validate(sql string) error {
	if strings.TrimSpace(sql) == "" || !LooksLikeSQL(sql) {
		return ErrNotSQL
	}
	return nil
}
