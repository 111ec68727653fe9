package dsl

import "github.com/xkilldash9x/testpilot/api/schemas"

// CompiledTest is a test case translated into canonical actions and assertions. Actions[i] is
// compiled from TestCase.Steps[i] and Assertions[i] from TestCase.Assertions[i].
type CompiledTest struct {
	TestCase   schemas.TestCase
	Actions    []Action
	Assertions []Assertion
	// Hash is the content hash of the source text the sequences were compiled from.
	Hash string
}

// Gap locates one Unresolved item in a compiled test.
type Gap struct {
	Kind  schemas.StepKind
	Index int // 1-based
	Raw   string
}

// Gaps lists every Unresolved action and assertion in source order.
func (ct *CompiledTest) Gaps() []Gap {
	var gaps []Gap
	for i, a := range ct.Actions {
		if u, ok := a.(UnresolvedAction); ok {
			gaps = append(gaps, Gap{Kind: schemas.KindAction, Index: i + 1, Raw: u.Raw})
		}
	}
	for i, a := range ct.Assertions {
		if u, ok := a.(UnresolvedAssertion); ok {
			gaps = append(gaps, Gap{Kind: schemas.KindAssertion, Index: i + 1, Raw: u.Raw})
		}
	}
	return gaps
}
