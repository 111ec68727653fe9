package dsl

import (
	"regexp"
	"strings"
)

var (
	classToken = regexp.MustCompile(`\.[A-Za-z_-]`)
	tagPrefix  = regexp.MustCompile(`^(?:input|button|div|span|a|form|select|textarea|label|img|ul|ol|li|table|tr|td|th|nav|header|footer|section|main|article|p|h[1-6]|iframe)(?:$|[#.\[:>])`)
)

// LooksLikeSelector reports whether s reads as a CSS or XPath selector rather than prose: it
// contains an id, class or attribute marker, starts with a known tag name, uses a child
// combinator, or is an XPath expression.
func LooksLikeSelector(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	if strings.ContainsAny(s, "#[]") || classToken.MatchString(s) {
		return true
	}
	if strings.HasPrefix(s, "//") || strings.HasPrefix(s, "(//") || strings.Contains(s, " > ") {
		return true
	}
	return tagPrefix.MatchString(s)
}

// IsXPath reports whether a selector must be evaluated as XPath.
func IsXPath(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "(/")
}
