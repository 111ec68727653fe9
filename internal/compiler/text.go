package compiler

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/xkilldash9x/testpilot/internal/dsl"
)

// Quoted spans are replaced in the masked form by \x01<n>\x02, so keyword predicates never
// match inside user-supplied values and every quote style looks the same to the extractors.
const (
	quoteOpen  = "\x01"
	quoteClose = "\x02"
	// qtok captures the index of one masked quoted span.
	qtok = `\x01(\d+)\x02`
)

var (
	listMarker = regexp.MustCompile(`(?i)^(?:step\s*)?\d+\s*[.):-]\s*|^[-*\x{2022}]\s+`)
	connective = regexp.MustCompile(`(?i)^(?:then|and|next|finally)\s*,?\s+`)
	// controlMarks strips the placeholder delimiters from input text.
	controlMarks = strings.NewReplacer(quoteOpen, "", quoteClose, "")
)

// sentence is one step or assertion prepared for rule matching.
type sentence struct {
	// raw is the normalized text with original casing and quotes.
	raw string
	// masked is raw lowercased with quoted spans replaced by tokens.
	masked string
	quotes []string
}

// normalize trims list markers and leading connectives so "2. Then click X" dispatches like
// "click X".
func normalize(text string) string {
	s := strings.TrimSpace(controlMarks.Replace(text))
	for {
		trimmed := strings.TrimSpace(listMarker.ReplaceAllString(s, ""))
		trimmed = strings.TrimSpace(connective.ReplaceAllString(trimmed, ""))
		if trimmed == s {
			return s
		}
		s = trimmed
	}
}

func parse(text string) sentence {
	raw := normalize(text)
	masked, quotes := mask(raw)
	return sentence{raw: raw, masked: masked, quotes: quotes}
}

// closingQuote returns the closing rune for an opening quote rune.
func closingQuote(r rune) (rune, bool) {
	switch r {
	case '"':
		return '"', true
	case '\'':
		return '\'', true
	case '“':
		return '”', true
	case '‘':
		return '’', true
	case '`':
		return '`', true
	}
	return 0, false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// mask extracts quoted spans and returns the lowercased remainder with placeholders. A single
// quote only opens a span at a word boundary and only closes one before a non-word rune, which
// keeps apostrophes ("don't") from being read as quotes.
func mask(s string) (string, []string) {
	var b strings.Builder
	var quotes []string
	prev := rune(-1)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		closer, isQuote := closingQuote(r)
		if isQuote && (r != '\'' || prev < 0 || !isWordRune(prev)) {
			if end, ok := findClose(s, i+size, r, closer); ok {
				quotes = append(quotes, s[i+size:end])
				b.WriteString(quoteOpen + strconv.Itoa(len(quotes)-1) + quoteClose)
				_, csize := utf8.DecodeRuneInString(s[end:])
				i = end + csize
				prev = closer
				continue
			}
		}
		b.WriteString(strings.ToLower(string(r)))
		prev = r
		i += size
	}
	return b.String(), quotes
}

func findClose(s string, from int, opener, closer rune) (int, bool) {
	for j := from; j < len(s); {
		r, size := utf8.DecodeRuneInString(s[j:])
		if r == closer {
			if opener != '\'' {
				return j, true
			}
			next, _ := utf8.DecodeRuneInString(s[j+size:])
			if j+size >= len(s) || !isWordRune(next) {
				return j, true
			}
		}
		j += size
	}
	return 0, false
}

// quoteAt resolves the token index captured by qtok.
func (s sentence) quoteAt(idx string) (string, bool) {
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 || n >= len(s.quotes) {
		return "", false
	}
	return s.quotes[n], true
}

// firstQuote returns the first non-blank quoted span.
func (s sentence) firstQuote() (string, bool) {
	for _, q := range s.quotes {
		if strings.TrimSpace(q) != "" {
			return q, true
		}
	}
	return "", false
}

// firstSelector returns the first quoted span that looks like a selector, and its position.
func (s sentence) firstSelector() (string, int, bool) {
	for i, q := range s.quotes {
		if dsl.LooksLikeSelector(q) {
			return q, i, true
		}
	}
	return "", -1, false
}
