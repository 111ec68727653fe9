package compiler

import (
	"regexp"
	"strings"

	"github.com/xkilldash9x/testpilot/internal/dsl"
)

// pageBody is checked when a text assertion names no element.
const pageBody = "body"

type assertionRule struct {
	name    string
	match   *regexp.Regexp
	extract func(s sentence) (dsl.Assertion, bool)
}

var (
	// The union has no negative variants; compiling "is not visible" positively would invert it.
	negation = regexp.MustCompile(`\bnot\b|n't\b|\bhidden\b|\babsent\b|\binvisible\b|\bdisappears?\b`)

	equalsWord   = regexp.MustCompile(`\bequals?\b|\bequal\s+to\b`)
	containsWord = regexp.MustCompile(`\bcontains?\b|\bincludes?\b`)
)

var assertionRules = []assertionRule{
	{name: "title", match: regexp.MustCompile(`\btitle\b`), extract: extractTitle},
	{name: "url", match: regexp.MustCompile(`\burl\b`), extract: extractURL},
	{name: "text", match: regexp.MustCompile(`\btext\b|\bequals?\b|\bequal\s+to\b|\bcontains?\b|\bincludes?\b`), extract: extractText},
	{name: "visible", match: regexp.MustCompile(`\bvisible\b|\bdisplayed\b|\bshown\b|\bappears?\b`), extract: extractVisible},
	{name: "exists", match: regexp.MustCompile(`\bexists?\b|\bpresent\b|\bon\s+the\s+page\b`), extract: extractExists},
}

// CompileAssertion translates one assertion sentence into an Assertion. It never fails: text no
// rule can compile becomes UnresolvedAssertion carrying the original text.
func CompileAssertion(text string) dsl.Assertion {
	s := parse(text)
	if negation.MatchString(s.masked) {
		return dsl.UnresolvedAssertion{Raw: text}
	}
	for _, rule := range assertionRules {
		if !rule.match.MatchString(s.masked) {
			continue
		}
		if a, ok := rule.extract(s); ok {
			return a
		}
		// The text rule also claims bare "contains" phrasing, which may still be a
		// visibility or existence check when it cannot pull out a pair.
		if rule.name != "text" {
			break
		}
	}
	return dsl.UnresolvedAssertion{Raw: text}
}

// AssertionRule names the rule that compiles text, or "" when none does.
func AssertionRule(text string) string {
	a := CompileAssertion(text)
	switch a.Kind() {
	case dsl.AssertTitleEquals, dsl.AssertTitleContains:
		return "title"
	case dsl.AssertURLEquals, dsl.AssertURLContains:
		return "url"
	case dsl.AssertTextEquals, dsl.AssertTextContains:
		return "text"
	case dsl.AssertElementVisible:
		return "visible"
	case dsl.AssertElementExists:
		return "exists"
	}
	return ""
}

// wantsEquals reports whether the first comparison word in the sentence is "equals". Without
// either word the comparison defaults to containment.
func wantsEquals(masked string) bool {
	eq := equalsWord.FindStringIndex(masked)
	if eq == nil {
		return false
	}
	co := containsWord.FindStringIndex(masked)
	return co == nil || eq[0] < co[0]
}

func extractTitle(s sentence) (dsl.Assertion, bool) {
	want, ok := s.firstQuote()
	if !ok {
		return nil, false
	}
	if wantsEquals(s.masked) {
		return dsl.TitleEquals{Text: want}, true
	}
	return dsl.TitleContains{Text: want}, true
}

func extractURL(s sentence) (dsl.Assertion, bool) {
	want, ok := s.firstQuote()
	if !ok {
		return nil, false
	}
	want = strings.TrimSpace(want)
	if wantsEquals(s.masked) {
		return dsl.URLEquals{Text: want}, true
	}
	return dsl.URLContains{Text: want}, true
}

func extractText(s sentence) (dsl.Assertion, bool) {
	if !equalsWord.MatchString(s.masked) && !containsWord.MatchString(s.masked) {
		return nil, false
	}
	var selector, want string
	switch {
	case len(s.quotes) >= 2:
		idx := 0
		if sel, i, ok := s.firstSelector(); ok {
			selector, idx = sel, i
		} else {
			selector = s.quotes[0]
		}
		// The expected text is the last quoted span other than the selector.
		for i := len(s.quotes) - 1; i >= 0; i-- {
			if i != idx {
				want = s.quotes[i]
				break
			}
		}
	case len(s.quotes) == 1 && strings.Contains(s.masked, "text"):
		selector, want = pageBody, s.quotes[0]
	default:
		return nil, false
	}
	selector = strings.TrimSpace(selector)
	if selector == "" || want == "" {
		return nil, false
	}
	if wantsEquals(s.masked) {
		return dsl.TextEquals{Selector: selector, Text: want}, true
	}
	return dsl.TextContains{Selector: selector, Text: want}, true
}

func extractVisible(s sentence) (dsl.Assertion, bool) {
	sel, _, ok := s.firstSelector()
	if !ok {
		return nil, false
	}
	return dsl.ElementVisible{Selector: strings.TrimSpace(sel)}, true
}

func extractExists(s sentence) (dsl.Assertion, bool) {
	sel, _, ok := s.firstSelector()
	if !ok {
		return nil, false
	}
	return dsl.ElementExists{Selector: strings.TrimSpace(sel)}, true
}
