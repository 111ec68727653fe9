package schemas

import (
	"errors"
	"fmt"
	"time"
)

// -- Execution Result Schemas --

// TestStatus is the lifecycle state of a single test execution.
type TestStatus string

const (
	StatusPending TestStatus = "Pending"
	StatusRunning TestStatus = "Running"
	StatusPassed  TestStatus = "Passed"
	StatusFailed  TestStatus = "Failed"
	StatusError   TestStatus = "Error"
	StatusSkipped TestStatus = "Skipped"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s TestStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusError, StatusSkipped:
		return true
	}
	return false
}

// StepStatus is the outcome of a single compiled action or assertion.
type StepStatus string

const (
	StepPending StepStatus = "Pending"
	StepPassed  StepStatus = "Passed"
	StepFailed  StepStatus = "Failed"
)

// StepKind separates action steps from assertion checks in a result.
type StepKind string

const (
	KindAction    StepKind = "action"
	KindAssertion StepKind = "assertion"
)

var (
	// ErrTerminalResult is returned when a finished result is mutated.
	ErrTerminalResult = errors.New("test result already in a terminal state")
	// ErrInvalidTransition is returned for transitions the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid test result transition")
)

// LogEntry is one structured record collected while a test runs.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message"`
}

// PerformanceMetrics are sampled from the page once a run passes. Values are milliseconds,
// except MemoryUsage which is bytes of used JS heap.
type PerformanceMetrics struct {
	LoadTime             float64 `json:"load_time"`
	DOMReady             float64 `json:"dom_ready"`
	FirstPaint           float64 `json:"first_paint"`
	FirstContentfulPaint float64 `json:"first_contentful_paint"`
	MemoryUsage          float64 `json:"memory_usage"`
}

// StepResult records the outcome of one action or assertion.
type StepResult struct {
	Index      int        `json:"index"`
	Kind       StepKind   `json:"kind"`
	SourceText string     `json:"source_text"`
	Status     StepStatus `json:"status"`
	StartTime  time.Time  `json:"start_time,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Note       string     `json:"note,omitempty"`
}

// TestResult is the record of one test case execution within a batch.
type TestResult struct {
	TestCaseID  int64      `json:"test_case_id"`
	Title       string     `json:"title"`
	ExecutionID string     `json:"execution_id"`
	Status      TestStatus `json:"status"`
	StartTime   time.Time  `json:"start_time,omitempty"`
	EndTime     time.Time  `json:"end_time,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	// FailureKind names the failure class (see internal/failure) when Status is Failed or Error.
	FailureKind  string              `json:"failure_kind,omitempty"`
	Reason       string              `json:"reason,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	StackTrace   string              `json:"stack_trace,omitempty"`
	Screenshots  []string            `json:"screenshots"`
	Logs         []LogEntry          `json:"logs"`
	StepResults  []StepResult        `json:"step_results"`
	Performance  *PerformanceMetrics `json:"performance_metrics,omitempty"`
}

// NewTestResult returns a Pending result for the given case.
func NewTestResult(tc TestCase, executionID string) *TestResult {
	return &TestResult{
		TestCaseID:  tc.ID,
		Title:       tc.Title,
		ExecutionID: executionID,
		Status:      StatusPending,
		Screenshots: []string{},
		Logs:        []LogEntry{},
		StepResults: []StepResult{},
	}
}

// Start moves a Pending result to Running.
func (r *TestResult) Start(now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrTerminalResult
	}
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, StatusRunning)
	}
	r.Status = StatusRunning
	r.StartTime = now
	return nil
}

// Finish moves the result into a terminal status. Passed and Failed require a Running result;
// Error and Skipped may also be reached straight from Pending, since resource acquisition and
// cancellation happen before a test starts running.
func (r *TestResult) Finish(status TestStatus, now time.Time) error {
	if r.Status.IsTerminal() {
		return ErrTerminalResult
	}
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	if r.Status == StatusPending && (status == StatusPassed || status == StatusFailed) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, status)
	}
	if r.StartTime.IsZero() {
		r.StartTime = now
	}
	r.Status = status
	r.EndTime = now
	r.DurationMs = now.Sub(r.StartTime).Milliseconds()
	return nil
}

// Duration is DurationMs as a time.Duration.
func (r *TestResult) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// Summary aggregates the results of one batch.
type Summary struct {
	ExecutionID     string  `json:"execution_id"`
	Total           int     `json:"total"`
	Passed          int     `json:"passed"`
	Failed          int     `json:"failed"`
	Errors          int     `json:"errors"`
	Skipped         int     `json:"skipped"`
	PassRate        float64 `json:"pass_rate"`
	TotalDuration   float64 `json:"total_duration"`
	AverageDuration float64 `json:"average_duration"`
	ReportPath      string  `json:"report_path,omitempty"`
}

// AllPassed reports whether every test in the batch passed. Skipped tests count against it, so
// a batch that ran nothing is never green.
func (s Summary) AllPassed() bool {
	return s.Passed == s.Total
}

// Summarize computes the batch summary. Durations are in seconds, PassRate is a percentage.
func Summarize(executionID string, results []*TestResult) Summary {
	s := Summary{ExecutionID: executionID, Total: len(results)}
	var total time.Duration
	for _, r := range results {
		switch r.Status {
		case StatusPassed:
			s.Passed++
		case StatusFailed:
			s.Failed++
		case StatusError:
			s.Errors++
		case StatusSkipped:
			s.Skipped++
		}
		total += r.Duration()
	}
	s.TotalDuration = total.Seconds()
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total) * 100
		s.AverageDuration = s.TotalDuration / float64(s.Total)
	}
	return s
}

// ExecutionStatus is the persisted progress of a batch.
type ExecutionStatus struct {
	ExecutionID string `json:"execution_id"`
	Total       int    `json:"total"`
	Passed      int    `json:"passed"`
	Failed      int    `json:"failed"`
	Errors      int    `json:"errors"`
	Running     int    `json:"running"`
	State       string `json:"status"`
}
