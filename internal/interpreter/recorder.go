// internal/interpreter/recorder.go
package interpreter

import (
	"sync"
	"time"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/dsl"
	"github.com/xkilldash9x/testpilot/internal/failure"
)

// MaxLogEntries bounds the logs kept per result. Later entries are counted, not stored.
const MaxLogEntries = 5000

// Recorder serializes writes to one TestResult. Browser events arrive on CDP goroutines while
// the interpreter updates steps, so every access goes through the mutex. Once the result is
// terminal, further writes are dropped.
type Recorder struct {
	mu          sync.Mutex
	res         *schemas.TestResult
	actions     int
	droppedLogs int
}

// NewRecorder wraps res. The recorder owns res from here on; read it through Snapshot.
func NewRecorder(res *schemas.TestResult) *Recorder {
	return &Recorder{res: res}
}

// Append adds a log entry. It satisfies the browser's LogSink signature.
func (r *Recorder) Append(e schemas.LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.res.Status.IsTerminal() {
		return
	}
	if len(r.res.Logs) >= MaxLogEntries {
		r.droppedLogs++
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	r.res.Logs = append(r.res.Logs, e)
}

// Log appends an entry produced by the engine itself.
func (r *Recorder) Log(level, source, msg string) {
	r.Append(schemas.LogEntry{Level: level, Source: source, Message: msg})
}

// InitSteps creates a Pending StepResult for every action and assertion, actions first. It does
// nothing if steps were already initialized.
func (r *Recorder) InitSteps(ct *dsl.CompiledTest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.res.StepResults) > 0 {
		return
	}
	steps := make([]schemas.StepResult, 0, len(ct.Actions)+len(ct.Assertions))
	for i := range ct.Actions {
		steps = append(steps, schemas.StepResult{
			Index:      i + 1,
			Kind:       schemas.KindAction,
			SourceText: sourceText(ct.TestCase.Steps, i, ct.Actions[i].String()),
			Status:     schemas.StepPending,
		})
	}
	for i := range ct.Assertions {
		steps = append(steps, schemas.StepResult{
			Index:      i + 1,
			Kind:       schemas.KindAssertion,
			SourceText: sourceText(ct.TestCase.Assertions, i, ct.Assertions[i].String()),
			Status:     schemas.StepPending,
		})
	}
	r.actions = len(ct.Actions)
	r.res.StepResults = steps
}

func sourceText(src []string, i int, fallback string) string {
	if i < len(src) {
		return src[i]
	}
	return fallback
}

func (r *Recorder) stepLocked(kind schemas.StepKind, index int) *schemas.StepResult {
	pos := index - 1
	if kind == schemas.KindAssertion {
		pos += r.actions
	}
	if pos < 0 || pos >= len(r.res.StepResults) {
		return nil
	}
	return &r.res.StepResults[pos]
}

// BeginStep stamps the start time of a step.
func (r *Recorder) BeginStep(kind schemas.StepKind, index int, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.stepLocked(kind, index); s != nil && !r.res.Status.IsTerminal() {
		s.StartTime = now
	}
}

// EndStep records a step's outcome.
func (r *Recorder) EndStep(kind schemas.StepKind, index int, status schemas.StepStatus, d time.Duration, note string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.res.Status.IsTerminal() {
		return
	}
	if s := r.stepLocked(kind, index); s != nil {
		s.Status = status
		s.DurationMs = d.Milliseconds()
		s.Note = note
	}
}

// AddScreenshot records the path of a capture.
func (r *Recorder) AddScreenshot(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.res.Status.IsTerminal() {
		r.res.Screenshots = append(r.res.Screenshots, path)
	}
}

// SetPerformance stores sampled page metrics.
func (r *Recorder) SetPerformance(m *schemas.PerformanceMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.res.Status.IsTerminal() {
		r.res.Performance = m
	}
}

// Start moves the result to Running.
func (r *Recorder) Start(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.res.Start(now)
}

// Pass finishes the result as Passed.
func (r *Recorder) Pass(now time.Time) error {
	return r.finish(schemas.StatusPassed, nil, "", now)
}

// Finish moves the result into status, copying the failure class, reason and message from err.
func (r *Recorder) Finish(status schemas.TestStatus, err error, stack string, now time.Time) error {
	return r.finish(status, err, stack, now)
}

func (r *Recorder) finish(status schemas.TestStatus, err error, stack string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.droppedLogs > 0 && !r.res.Status.IsTerminal() {
		r.res.Logs = append(r.res.Logs, schemas.LogEntry{
			Timestamp: now.UTC(),
			Level:     "warning",
			Source:    SourceInterpreter,
			Message:   "log limit reached; later entries were dropped",
		})
	}
	if ferr := r.res.Finish(status, now); ferr != nil {
		return ferr
	}
	if err != nil {
		r.res.FailureKind = string(failure.KindOf(err))
		r.res.Reason = failure.ReasonOf(err)
		r.res.ErrorMessage = err.Error()
		r.res.StackTrace = stack
	}
	return nil
}

// Status is the current lifecycle state.
func (r *Recorder) Status() schemas.TestStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.res.Status
}

// ExecutionID is the batch the result belongs to.
func (r *Recorder) ExecutionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.res.ExecutionID
}

// Snapshot returns a deep copy of the result.
func (r *Recorder) Snapshot() schemas.TestResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := *r.res
	out.Screenshots = append([]string{}, r.res.Screenshots...)
	out.Logs = append([]schemas.LogEntry{}, r.res.Logs...)
	out.StepResults = append([]schemas.StepResult{}, r.res.StepResults...)
	if r.res.Performance != nil {
		p := *r.res.Performance
		out.Performance = &p
	}
	return out
}
