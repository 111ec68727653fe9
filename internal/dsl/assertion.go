package dsl

import "fmt"

// AssertionKind discriminates the Assertion union.
type AssertionKind string

const (
	AssertElementExists  AssertionKind = "element_exists"
	AssertElementVisible AssertionKind = "element_visible"
	AssertTextEquals     AssertionKind = "text_equals"
	AssertTextContains   AssertionKind = "text_contains"
	AssertTitleEquals    AssertionKind = "title_equals"
	AssertTitleContains  AssertionKind = "title_contains"
	AssertURLEquals      AssertionKind = "url_equals"
	AssertURLContains    AssertionKind = "url_contains"
	AssertUnresolved     AssertionKind = "unresolved"
)

// Assertion is one checkable page condition. The set of implementations is closed.
type Assertion interface {
	Kind() AssertionKind
	String() string
	assertion()
}

type ElementExists struct{ Selector string }

type ElementVisible struct{ Selector string }

type TextEquals struct {
	Selector string
	Text     string
}

type TextContains struct {
	Selector string
	Text     string
}

type TitleEquals struct{ Text string }

type TitleContains struct{ Text string }

type URLEquals struct{ Text string }

type URLContains struct{ Text string }

// UnresolvedAssertion carries assertion text no rule could compile.
type UnresolvedAssertion struct{ Raw string }

func (ElementExists) Kind() AssertionKind       { return AssertElementExists }
func (ElementVisible) Kind() AssertionKind      { return AssertElementVisible }
func (TextEquals) Kind() AssertionKind          { return AssertTextEquals }
func (TextContains) Kind() AssertionKind        { return AssertTextContains }
func (TitleEquals) Kind() AssertionKind         { return AssertTitleEquals }
func (TitleContains) Kind() AssertionKind       { return AssertTitleContains }
func (URLEquals) Kind() AssertionKind           { return AssertURLEquals }
func (URLContains) Kind() AssertionKind         { return AssertURLContains }
func (UnresolvedAssertion) Kind() AssertionKind { return AssertUnresolved }

func (ElementExists) assertion()       {}
func (ElementVisible) assertion()      {}
func (TextEquals) assertion()          {}
func (TextContains) assertion()        {}
func (TitleEquals) assertion()         {}
func (TitleContains) assertion()       {}
func (URLEquals) assertion()           {}
func (URLContains) assertion()         {}
func (UnresolvedAssertion) assertion() {}

func (a ElementExists) String() string  { return fmt.Sprintf("ElementExists(%q)", a.Selector) }
func (a ElementVisible) String() string { return fmt.Sprintf("ElementVisible(%q)", a.Selector) }
func (a TextEquals) String() string {
	return fmt.Sprintf("TextEquals(selector=%q, text=%q)", a.Selector, a.Text)
}
func (a TextContains) String() string {
	return fmt.Sprintf("TextContains(selector=%q, text=%q)", a.Selector, a.Text)
}
func (a TitleEquals) String() string         { return fmt.Sprintf("TitleEquals(%q)", a.Text) }
func (a TitleContains) String() string       { return fmt.Sprintf("TitleContains(%q)", a.Text) }
func (a URLEquals) String() string           { return fmt.Sprintf("UrlEquals(%q)", a.Text) }
func (a URLContains) String() string         { return fmt.Sprintf("UrlContains(%q)", a.Text) }
func (a UnresolvedAssertion) String() string { return fmt.Sprintf("Unresolved(%q)", a.Raw) }
