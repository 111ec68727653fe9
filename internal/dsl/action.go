// Package dsl defines the canonical vocabulary shared by the live interpreter and the code
// generator: a closed set of browser actions and page assertions.
package dsl

import "fmt"

// ActionKind discriminates the Action union.
type ActionKind string

const (
	ActNavigate   ActionKind = "navigate"
	ActClick      ActionKind = "click"
	ActFill       ActionKind = "fill"
	ActSelect     ActionKind = "select"
	ActWait       ActionKind = "wait"
	ActVerify     ActionKind = "verify"
	ActUnresolved ActionKind = "unresolved"
)

// Action is one executable browser operation. The set of implementations is closed.
type Action interface {
	Kind() ActionKind
	String() string
	action()
}

// Navigate loads URL in the current page.
type Navigate struct {
	URL string
}

// Click targets either a selector or an element by its visible text. Exactly one is set.
type Click struct {
	Selector string
	Text     string
}

// Fill types Value into the field identified by Selector. Selector may be a CSS selector or a
// human field name resolved in-page.
type Fill struct {
	Selector string
	Value    string
}

// Select picks Option in the dropdown identified by Selector.
type Select struct {
	Selector string
	Option   string
}

// Wait pauses the test for DurationMs milliseconds.
type Wait struct {
	DurationMs int64
}

// Verify is a verification sentence found among the steps. It is checked by the assertion list,
// so executing it is a no-op.
type Verify struct {
	Text string
}

// UnresolvedAction carries step text no rule could compile.
type UnresolvedAction struct {
	Raw string
}

func (Navigate) Kind() ActionKind         { return ActNavigate }
func (Click) Kind() ActionKind            { return ActClick }
func (Fill) Kind() ActionKind             { return ActFill }
func (Select) Kind() ActionKind           { return ActSelect }
func (Wait) Kind() ActionKind             { return ActWait }
func (Verify) Kind() ActionKind           { return ActVerify }
func (UnresolvedAction) Kind() ActionKind { return ActUnresolved }

func (Navigate) action()         {}
func (Click) action()            {}
func (Fill) action()             {}
func (Select) action()           {}
func (Wait) action()             {}
func (Verify) action()           {}
func (UnresolvedAction) action() {}

func (a Navigate) String() string { return fmt.Sprintf("Navigate(%q)", a.URL) }

func (a Click) String() string {
	if a.Selector != "" {
		return fmt.Sprintf("Click(selector=%q)", a.Selector)
	}
	return fmt.Sprintf("Click(text=%q)", a.Text)
}

func (a Fill) String() string {
	return fmt.Sprintf("Fill(selector=%q, value=%q)", a.Selector, a.Value)
}

func (a Select) String() string {
	return fmt.Sprintf("Select(selector=%q, option=%q)", a.Selector, a.Option)
}

func (a Wait) String() string             { return fmt.Sprintf("Wait(%d)", a.DurationMs) }
func (a Verify) String() string           { return fmt.Sprintf("Verify(%q)", a.Text) }
func (a UnresolvedAction) String() string { return fmt.Sprintf("Unresolved(%q)", a.Raw) }
