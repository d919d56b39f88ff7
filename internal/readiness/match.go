package readiness

import (
	"regexp"
	"strings"
)

type matchKind int

const (
	kindLiteral matchKind = iota
	kindPattern
	kindPredicate
)

// Match decides whether a stdout line signals readiness. The zero value
// matches nothing.
type Match struct {
	kind    matchKind
	literal string
	pattern *regexp.Regexp
	pred    func(string) bool
}

// Literal matches lines containing s.
func Literal(s string) Match { return Match{kind: kindLiteral, literal: s} }

// Pattern matches lines the expression finds a match in.
func Pattern(re *regexp.Regexp) Match { return Match{kind: kindPattern, pattern: re} }

// MustPattern compiles expr and panics on a bad expression.
func MustPattern(expr string) Match { return Pattern(regexp.MustCompile(expr)) }

// Predicate matches lines for which fn returns true.
func Predicate(fn func(string) bool) Match { return Match{kind: kindPredicate, pred: fn} }

// Test reports whether line satisfies m.
func (m Match) Test(line string) bool {
	switch m.kind {
	case kindLiteral:
		return m.literal != "" && strings.Contains(line, m.literal)
	case kindPattern:
		return m.pattern != nil && m.pattern.MatchString(line)
	case kindPredicate:
		return m.pred != nil && m.pred(line)
	}
	return false
}

// Submatch returns capture group n of a Pattern match against line, or "".
func (m Match) Submatch(line string, n int) string {
	if m.kind != kindPattern || m.pattern == nil {
		return ""
	}
	groups := m.pattern.FindStringSubmatch(line)
	if n < 0 || n >= len(groups) {
		return ""
	}
	return groups[n]
}

func (m Match) String() string {
	switch m.kind {
	case kindLiteral:
		return "literal " + strings.TrimSpace(m.literal)
	case kindPattern:
		if m.pattern != nil {
			return "pattern " + m.pattern.String()
		}
	case kindPredicate:
		return "predicate"
	}
	return "none"
}
