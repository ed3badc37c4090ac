package cuberepo

import (
	"regexp"
	"strings"
	"sync"
)

// Compiled wildcard patterns are process-global; they are immutable once
// compiled and therefore safe to share without locking.
var wildcardPatterns sync.Map // pattern -> *regexp.Regexp

// WildcardToRegex converts a '*'/'?' glob to a compiled, case-insensitive,
// fully-anchored regular expression. Compilation results are cached.
func WildcardToRegex(pattern string) *regexp.Regexp {
	if v, ok := wildcardPatterns.Load(pattern); ok {
		return v.(*regexp.Regexp)
	}
	var b strings.Builder
	b.WriteString("(?i)^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	re := regexp.MustCompile(b.String())
	// The loser of a concurrent compile adopts the winner's value.
	actual, _ := wildcardPatterns.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp)
}

// MatchesWildcard reports whether s matches the '*'/'?' glob pattern,
// case-insensitively.
func MatchesWildcard(pattern, s string) bool {
	return WildcardToRegex(pattern).MatchString(s)
}
