// Package failure classifies everything that can go wrong between compiling a test case and
// recording its result.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the failure class recorded on a TestResult.
type Kind string

const (
	// CompilationGap is an Unresolved action or assertion. It never aborts compilation.
	CompilationGap Kind = "CompilationGap"
	// ActionExecution means a live step could not be carried out.
	ActionExecution Kind = "ActionExecutionError"
	// AssertionViolation means the steps ran but an expected condition was false.
	AssertionViolation Kind = "AssertionViolation"
	// Resource covers pool exhaustion and browser or context initialization failures.
	Resource Kind = "ResourceError"
	// SchedulingTimeout means the test exceeded its time budget or its batch was cancelled.
	SchedulingTimeout Kind = "SchedulingTimeout"
)

// Reason strings stored on a TestResult when a scheduling failure has a well-known cause.
const (
	ReasonResourceTimeout = "ResourceTimeout"
	ReasonCancelled       = "Cancelled"
	ReasonGapPolicy       = "UnresolvedSkipped"
)

var (
	ErrResourceTimeout = errors.New("timed out waiting for a browser resource")
	ErrPoolClosed      = errors.New("resource pool closed")
	ErrUnresolved      = errors.New("step could not be compiled")
	ErrElementNotFound = errors.New("element not found")
	ErrConditionFalse  = errors.New("expected condition not met")
)

// Error carries the failure class and the 1-based index of the action or assertion that failed.
// Index is 0 when the failure is not tied to a step.
type Error struct {
	Kind   Kind
	Index  int
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Index > 0 {
		msg = fmt.Sprintf("%s at %d", msg, e.Index)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error without an index.
func New(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// AtStep creates an Error tied to the action or assertion at the 1-based index.
func AtStep(kind Kind, index int, reason string, err error) *Error {
	return &Error{Kind: kind, Index: index, Reason: reason, Err: err}
}

// KindOf returns the failure class of err, or "" if err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, ErrResourceTimeout) || errors.Is(err, ErrPoolClosed) {
		return Resource
	}
	return ""
}

// IsResource reports whether err should put the test in the Error state rather than Failed.
func IsResource(err error) bool {
	switch KindOf(err) {
	case Resource, SchedulingTimeout:
		return true
	}
	return false
}

// ReasonOf returns the Reason of the outermost *Error in err's chain.
func ReasonOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}
