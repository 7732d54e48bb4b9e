package querystats

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxQueryLength bounds normalized statements used as statistics keys.
const MaxQueryLength = 200

var (
	stringLiteral = regexp.MustCompile(`'(?:[^']|'')*'`)
	// placeholders ($1) are matched first so they survive untouched
	numericLiteral = regexp.MustCompile(`\$\d+|\b\d+(?:\.\d+)?\b`)
	whitespace     = regexp.MustCompile(`\s+`)
)

// Normalize replaces string and numeric literals with "?" so that executions
// of the same statement shape share one statistics entry. It is a regex
// substitution, not a parser: unusual literal syntax may not be recognised.
func Normalize(sql string) string {
	out := stringLiteral.ReplaceAllString(sql, "?")
	out = numericLiteral.ReplaceAllStringFunc(out, func(m string) string {
		if strings.HasPrefix(m, "$") {
			return m
		}
		return "?"
	})
	out = strings.TrimSpace(whitespace.ReplaceAllString(out, " "))
	return truncate(out, MaxQueryLength)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
