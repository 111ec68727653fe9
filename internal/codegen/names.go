package codegen

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/dsl"
)

// nameSet hands out unique identifiers within one generated file.
type nameSet map[string]int

func (s nameSet) unique(name string) string {
	s[name]++
	if n := s[name]; n > 1 {
		candidate := fmt.Sprintf("%s_%d", name, n)
		for s[candidate] > 0 {
			s[name]++
			candidate = fmt.Sprintf("%s_%d", name, s[name])
		}
		s[candidate]++
		return candidate
	}
	return name
}

// pyFuncName is test_<slug of title>, or test_case_<id> when the title has no usable characters.
func pyFuncName(tc schemas.TestCase) string {
	slug := schemas.Slugify(tc.Title)
	if slug == "" {
		return fmt.Sprintf("test_case_%d", tc.ID)
	}
	return "test_" + slug
}

// goFuncName is Test<CamelCase title>, or TestCase<id> when the title has no usable characters.
func goFuncName(tc schemas.TestCase) string {
	var b strings.Builder
	b.WriteString("Test")
	for _, word := range strings.Split(schemas.Slugify(tc.Title), "_") {
		if word == "" {
			continue
		}
		r := []rune(word)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	if b.Len() == len("Test") {
		return fmt.Sprintf("TestCase%d", tc.ID)
	}
	name := b.String()
	// A digit right after "Test" still makes a valid identifier, but go test would not
	// treat it as a test function.
	if r := name[len("Test")]; r >= '0' && r <= '9' {
		name = "Test_" + name[len("Test"):]
	}
	return name
}

// oneLine flattens text for use inside a line comment.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// quote renders a double-quoted string literal valid in both Go and Python.
func quote(s string) string {
	return strconv.Quote(s)
}

// pyDoc makes s safe inside a triple-quoted Python docstring.
func pyDoc(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"""`, `\"\"\"`)
}

// stepLabel is the comment that precedes a rendered step.
func stepLabel(kind schemas.StepKind, index int, source string) string {
	label := "Step"
	if kind == schemas.KindAssertion {
		label = "Assertion"
	}
	if source == "" {
		return fmt.Sprintf("%s %d", label, index)
	}
	return fmt.Sprintf("%s %d: %s", label, index, oneLine(source))
}

// sourceText returns the authored text of the index-th (0-based) action or assertion.
func sourceText(ct *dsl.CompiledTest, kind schemas.StepKind, i int) string {
	list := ct.TestCase.Steps
	if kind == schemas.KindAssertion {
		list = ct.TestCase.Assertions
	}
	if i < len(list) {
		return list[i]
	}
	return ""
}

// orDefault returns def for blank s.
func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
