package compiler

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/xkilldash9x/testpilot/internal/dsl"
)

// DefaultWaitMs is used for a wait step that names no duration.
const DefaultWaitMs int64 = 2000

// stepRule pairs a dispatch predicate, matched against the masked sentence, with an extractor.
// The first rule whose predicate matches owns the step; if its extractor cannot pull the
// arguments out, the step is Unresolved. Later rules are not consulted.
type stepRule struct {
	name    string
	match   *regexp.Regexp
	extract func(s sentence) (dsl.Action, bool)
}

// stepRules is the dispatch table in priority order.
var stepRules = []stepRule{
	{name: "navigate", match: regexp.MustCompile(`^(?:navigate(?:\s+to)?|go\s+to|visit|browse\s+to)\b`), extract: extractNavigate},
	{name: "click", match: regexp.MustCompile(`^(?:click|tap|double[- ]click)\b`), extract: extractClick},
	{name: "fill", match: regexp.MustCompile(`^(?:fill|enter|type|input)\b`), extract: extractFill},
	{name: "select", match: regexp.MustCompile(`^(?:select|choose|pick)\b`), extract: extractSelect},
	{name: "wait", match: regexp.MustCompile(`^(?:wait|pause|sleep)\b`), extract: extractWait},
	{name: "verify", match: regexp.MustCompile(`^(?:verify|check|assert|ensure|confirm|validate|expect)\b`), extract: extractVerify},
}

// CompileStep translates one step sentence into an Action. It never fails: text no rule can
// compile becomes UnresolvedAction carrying the original text.
func CompileStep(text string) dsl.Action {
	s := parse(text)
	for _, rule := range stepRules {
		if !rule.match.MatchString(s.masked) {
			continue
		}
		if a, ok := rule.extract(s); ok {
			return a
		}
		break
	}
	return dsl.UnresolvedAction{Raw: text}
}

// StepRule names the rule that claims text, or "" when none does.
func StepRule(text string) string {
	s := parse(text)
	for _, rule := range stepRules {
		if rule.match.MatchString(s.masked) {
			return rule.name
		}
	}
	return ""
}

var (
	urlLike  = regexp.MustCompile(`(?i)^(?:[a-z][a-z0-9+.-]*://\S+|about:\S+|/\S*|(?:localhost|[\w-]+(?:\.[\w-]+)+)(?::\d+)?(?:[/?#]\S*)?)$`)
	bareURL  = regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>]+`)
	barePath = regexp.MustCompile(`(?i)^(?:navigate(?:\s+to)?|go\s+to|visit|browse\s+to)\s+(?:the\s+)?(?:page\s+)?(/[^\s"'<>]*)`)
)

func extractNavigate(s sentence) (dsl.Action, bool) {
	for _, q := range s.quotes {
		if q = strings.TrimSpace(q); urlLike.MatchString(q) {
			return dsl.Navigate{URL: q}, true
		}
	}
	if m := bareURL.FindString(s.raw); m != "" {
		return dsl.Navigate{URL: strings.TrimRight(m, ".,;:!?)")}, true
	}
	if m := barePath.FindStringSubmatch(s.raw); m != nil {
		return dsl.Navigate{URL: strings.TrimRight(m[1], ".,;:!?)")}, true
	}
	return nil, false
}

var bareSelector = regexp.MustCompile(`(?:^|\s)((?:[A-Za-z][\w-]*)?(?:#[\w-]+|\.[A-Za-z_][\w-]*|\[[^\]\s]+\])+)(?:[\s,;.!]|$)`)

func extractClick(s sentence) (dsl.Action, bool) {
	if sel, _, ok := s.firstSelector(); ok {
		return dsl.Click{Selector: strings.TrimSpace(sel)}, true
	}
	if text, ok := s.firstQuote(); ok {
		return dsl.Click{Text: text}, true
	}
	if len(s.quotes) == 0 {
		if m := bareSelector.FindStringSubmatch(s.raw); m != nil {
			return dsl.Click{Selector: m[1]}, true
		}
	}
	return nil, false
}

var (
	// "<verb> A with B": A names the field, B is the value.
	fillWith = regexp.MustCompile(`^(?:fill|enter|type|input)(?:\s+in)?(?:\s+the)?\s+` + qtok +
		`(?:\s+(?:field|input|box|textbox|text\s+box))?\s+with\s+(?:the\s+)?(?:value\s+)?` + qtok)
	// "<verb> A in|into B": A is the value, B names the field.
	fillInto = regexp.MustCompile(`^(?:fill|enter|type|input)(?:\s+the)?(?:\s+(?:value|text))?\s+` + qtok +
		`\s+(?:in|into|in\s+to|on)\s+(?:the\s+)?` + qtok)
)

func extractFill(s sentence) (dsl.Action, bool) {
	if m := fillWith.FindStringSubmatch(s.masked); m != nil {
		field, ok1 := s.quoteAt(m[1])
		value, ok2 := s.quoteAt(m[2])
		if ok1 && ok2 && strings.TrimSpace(field) != "" {
			return dsl.Fill{Selector: strings.TrimSpace(field), Value: value}, true
		}
	}
	if m := fillInto.FindStringSubmatch(s.masked); m != nil {
		value, ok1 := s.quoteAt(m[1])
		field, ok2 := s.quoteAt(m[2])
		if ok1 && ok2 && strings.TrimSpace(field) != "" {
			return dsl.Fill{Selector: strings.TrimSpace(field), Value: value}, true
		}
	}
	return nil, false
}

var selectFrom = regexp.MustCompile(`^(?:select|choose|pick)(?:\s+the)?(?:\s+option)?\s+` + qtok +
	`(?:\s+option)?\s+(?:from|in)\s+(?:the\s+)?` + qtok)

func extractSelect(s sentence) (dsl.Action, bool) {
	m := selectFrom.FindStringSubmatch(s.masked)
	if m == nil {
		return nil, false
	}
	option, ok1 := s.quoteAt(m[1])
	field, ok2 := s.quoteAt(m[2])
	if !ok1 || !ok2 || strings.TrimSpace(field) == "" {
		return nil, false
	}
	return dsl.Select{Selector: strings.TrimSpace(field), Option: option}, true
}

// Longer unit spellings come first; the alternation is leftmost-first.
var waitDuration = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(milliseconds?|millisecs?|msecs?|ms|minutes?|mins?|m|seconds?|secs?|s)\b`)

func extractWait(s sentence) (dsl.Action, bool) {
	ms, found, ok := parseDuration(strings.ToLower(s.raw))
	switch {
	case !found:
		return dsl.Wait{DurationMs: DefaultWaitMs}, true
	case !ok:
		// An explicit duration that cannot be honored is a gap, not a default wait.
		return nil, false
	}
	return dsl.Wait{DurationMs: ms}, true
}

// maxWaitMs is the longest wait that still fits in a time.Duration.
const maxWaitMs = math.MaxInt64 / int64(time.Millisecond)

// parseDuration finds the first "<number> <unit>" in text and converts it to milliseconds.
// found reports whether text names a duration at all; ok reports whether it is usable.
func parseDuration(text string) (ms int64, found, ok bool) {
	m := waitDuration.FindStringSubmatch(text)
	if m == nil {
		return 0, false, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, true, false
	}
	var factor float64
	switch unit := m[2]; {
	case strings.HasPrefix(unit, "ms"), strings.HasPrefix(unit, "milli"):
		factor = 1
	case strings.HasPrefix(unit, "m"):
		factor = 60_000
	default:
		factor = 1_000
	}
	rounded := math.Round(value * factor)
	if math.IsInf(rounded, 0) || rounded > float64(maxWaitMs) {
		return 0, true, false
	}
	return int64(rounded), true, true
}

func extractVerify(s sentence) (dsl.Action, bool) {
	return dsl.Verify{Text: s.raw}, true
}
