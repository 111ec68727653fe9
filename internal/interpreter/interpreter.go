// internal/interpreter/interpreter.go
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/dsl"
	"github.com/xkilldash9x/testpilot/internal/failure"
)

// SourceInterpreter tags log entries written by the interpreter.
const SourceInterpreter = "interpreter"

const (
	screenshotTimeout  = 10 * time.Second
	performanceTimeout = 5 * time.Second
	verifyNote         = "verification step; checked by the assertions"
	maxWaitMs          = math.MaxInt64 / int64(time.Millisecond)
)

// Options tune live execution.
type Options struct {
	// StepTimeout bounds each action and assertion. Waits are bounded by the test context only.
	StepTimeout time.Duration
	// StepDelay is slept between consecutive actions.
	StepDelay time.Duration
	// BaseURL resolves relative navigation targets and URL assertions.
	BaseURL            string
	PerformanceMetrics bool
	ScreenshotOnSteps  bool
}

// Interpreter runs compiled tests. It holds no per-test state and is safe for concurrent use.
type Interpreter struct {
	opts   Options
	shots  ScreenshotSaver
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Interpreter. shots may be nil, in which case captures are not persisted.
func New(opts Options, shots ScreenshotSaver, logger *zap.Logger) *Interpreter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Interpreter{
		opts:   opts,
		shots:  shots,
		logger: logger.Named("interpreter"),
		now:    time.Now,
	}
}

// Run executes ct's actions, then its assertions, strictly in order, stopping at the first
// failure. rec must hold a Running result; Run leaves it terminal. The returned error is the
// failure recorded on the result, or nil when the test passed.
func (in *Interpreter) Run(ctx context.Context, page Page, ct *dsl.CompiledTest, rec *Recorder) error {
	rec.InitSteps(ct)
	logger := in.logger.With(zap.Int64("test_case_id", ct.TestCase.ID), zap.String("execution_id", rec.ExecutionID()))
	started := false

	for i, action := range ct.Actions {
		idx := i + 1
		if err := ctx.Err(); err != nil {
			return in.cancelled(rec, started, err)
		}
		if i > 0 && in.opts.StepDelay > 0 {
			if err := sleep(ctx, in.opts.StepDelay); err != nil {
				return in.cancelled(rec, started, err)
			}
		}
		started = true

		begin := in.now()
		rec.BeginStep(schemas.KindAction, idx, begin)
		note, err := in.execAction(ctx, page, action)
		elapsed := in.now().Sub(begin)

		if err != nil {
			rec.EndStep(schemas.KindAction, idx, schemas.StepFailed, elapsed, err.Error())
			ferr := in.classifyAction(ctx, idx, action, err)
			logger.Info("Action failed.", zap.Int("step", idx), zap.Stringer("action", action), zap.Error(err))
			return in.fail(ctx, page, ct, rec, schemas.KindAction, idx, ferr)
		}
		rec.EndStep(schemas.KindAction, idx, schemas.StepPassed, elapsed, note)
		rec.Log("info", SourceInterpreter, fmt.Sprintf("step %d passed: %s", idx, action))

		if in.opts.ScreenshotOnSteps && action.Kind() != dsl.ActVerify && action.Kind() != dsl.ActWait {
			in.capture(ctx, page, rec, fmt.Sprintf("step_%d_%d_%s.png", idx, ct.TestCase.ID, in.stamp()))
		}
	}

	for i, assertion := range ct.Assertions {
		idx := i + 1
		if err := ctx.Err(); err != nil {
			return in.cancelled(rec, started, err)
		}
		started = true

		begin := in.now()
		rec.BeginStep(schemas.KindAssertion, idx, begin)
		err := in.check(ctx, page, assertion)
		elapsed := in.now().Sub(begin)

		if err != nil {
			rec.EndStep(schemas.KindAssertion, idx, schemas.StepFailed, elapsed, err.Error())
			ferr := in.classifyAssertion(ctx, idx, assertion, err)
			logger.Info("Assertion failed.", zap.Int("assertion", idx), zap.Stringer("check", assertion), zap.Error(err))
			return in.fail(ctx, page, ct, rec, schemas.KindAssertion, idx, ferr)
		}
		rec.EndStep(schemas.KindAssertion, idx, schemas.StepPassed, elapsed, "")
		rec.Log("info", SourceInterpreter, fmt.Sprintf("assertion %d passed: %s", idx, assertion))
	}

	if in.opts.PerformanceMetrics {
		in.samplePerformance(ctx, page, rec, logger)
	}
	if err := rec.Pass(in.now()); err != nil {
		return fmt.Errorf("finishing result: %w", err)
	}
	return nil
}

func (in *Interpreter) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if in.opts.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, in.opts.StepTimeout)
}

func (in *Interpreter) execAction(ctx context.Context, page Page, action dsl.Action) (string, error) {
	if w, ok := action.(dsl.Wait); ok {
		if w.DurationMs < 0 || w.DurationMs > maxWaitMs {
			return "", fmt.Errorf("wait of %d ms is out of range", w.DurationMs)
		}
		return "", sleep(ctx, time.Duration(w.DurationMs)*time.Millisecond)
	}

	sctx, cancel := in.stepContext(ctx)
	defer cancel()

	switch a := action.(type) {
	case dsl.Navigate:
		target := ResolveURL(in.opts.BaseURL, a.URL)
		if target == "" {
			return "", errors.New("empty navigation target")
		}
		return "", page.Navigate(sctx, target)
	case dsl.Click:
		if a.Selector != "" {
			return "", page.Click(sctx, a.Selector)
		}
		return "", page.ClickText(sctx, a.Text)
	case dsl.Fill:
		return "", page.Fill(sctx, a.Selector, a.Value)
	case dsl.Select:
		return "", page.Select(sctx, a.Selector, a.Option)
	case dsl.Verify:
		return verifyNote, nil
	case dsl.UnresolvedAction:
		return "", failure.ErrUnresolved
	default:
		return "", fmt.Errorf("unsupported action %T", action)
	}
}

func (in *Interpreter) check(ctx context.Context, page Page, assertion dsl.Assertion) error {
	sctx, cancel := in.stepContext(ctx)
	defer cancel()

	switch a := assertion.(type) {
	case dsl.ElementExists:
		ok, err := page.ElementExists(sctx, a.Selector)
		if err != nil {
			return err
		}
		return expect(ok, "element %s does not exist", a.Selector)
	case dsl.ElementVisible:
		ok, err := page.ElementVisible(sctx, a.Selector)
		if err != nil {
			return err
		}
		return expect(ok, "element %s is not visible", a.Selector)
	case dsl.TextEquals:
		got, err := page.TextContent(sctx, a.Selector)
		if err != nil {
			return err
		}
		return expect(collapse(got) == collapse(a.Text), "text of %s is %q, want %q", a.Selector, clip(got), a.Text)
	case dsl.TextContains:
		got, err := page.TextContent(sctx, a.Selector)
		if err != nil {
			return err
		}
		return expect(strings.Contains(collapse(got), collapse(a.Text)), "text of %s does not contain %q", a.Selector, a.Text)
	case dsl.TitleEquals:
		got, err := page.Title(sctx)
		if err != nil {
			return err
		}
		return expect(strings.TrimSpace(got) == a.Text, "title is %q, want %q", got, a.Text)
	case dsl.TitleContains:
		got, err := page.Title(sctx)
		if err != nil {
			return err
		}
		return expect(strings.Contains(got, a.Text), "title %q does not contain %q", got, a.Text)
	case dsl.URLEquals:
		got, err := page.URL(sctx)
		if err != nil {
			return err
		}
		ok := got == a.Text || got == ResolveURL(in.opts.BaseURL, a.Text)
		return expect(ok, "url is %q, want %q", got, a.Text)
	case dsl.URLContains:
		got, err := page.URL(sctx)
		if err != nil {
			return err
		}
		return expect(strings.Contains(got, a.Text), "url %q does not contain %q", got, a.Text)
	case dsl.UnresolvedAssertion:
		return failure.ErrUnresolved
	default:
		return fmt.Errorf("unsupported assertion %T", assertion)
	}
}

func expect(ok bool, format string, args ...interface{}) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%w: %s", failure.ErrConditionFalse, fmt.Sprintf(format, args...))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func clip(s string) string {
	s = collapse(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

// classifyAction maps an action error onto the failure taxonomy. An error caused by the test
// context ending is a scheduling failure, not the step's fault.
func (in *Interpreter) classifyAction(ctx context.Context, idx int, action dsl.Action, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return schedulingError(idx, ctxErr)
	}
	if errors.Is(err, failure.ErrUnresolved) {
		return failure.AtStep(failure.CompilationGap, idx, action.String(), err)
	}
	return failure.AtStep(failure.ActionExecution, idx, action.String(), err)
}

func (in *Interpreter) classifyAssertion(ctx context.Context, idx int, assertion dsl.Assertion, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return schedulingError(idx, ctxErr)
	}
	if errors.Is(err, failure.ErrUnresolved) {
		return failure.AtStep(failure.CompilationGap, idx, assertion.String(), err)
	}
	return failure.AtStep(failure.AssertionViolation, idx, assertion.String(), err)
}

func schedulingError(idx int, ctxErr error) error {
	reason := failure.ReasonCancelled
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		reason = "TestTimeout"
	}
	return failure.AtStep(failure.SchedulingTimeout, idx, reason, ctxErr)
}

// cancelled finishes a test whose context ended between steps: Skipped if nothing ran yet,
// Error otherwise.
func (in *Interpreter) cancelled(rec *Recorder, started bool, ctxErr error) error {
	status := schemas.StatusError
	if !started {
		status = schemas.StatusSkipped
	}
	ferr := failure.New(failure.SchedulingTimeout, failure.ReasonCancelled, ctxErr)
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		ferr.Reason = "TestTimeout"
	}
	if err := rec.Finish(status, ferr, "", in.now()); err != nil {
		return errors.Join(ferr, err)
	}
	return ferr
}

// fail captures a screenshot, then finishes the result. Scheduling failures end in Error,
// everything else in Failed.
func (in *Interpreter) fail(ctx context.Context, page Page, ct *dsl.CompiledTest, rec *Recorder, kind schemas.StepKind, idx int, ferr error) error {
	prefix := "step"
	if kind == schemas.KindAssertion {
		prefix = "assertion"
	}
	in.capture(ctx, page, rec, fmt.Sprintf("%s_%d_failure_%d_%s.png", prefix, idx, ct.TestCase.ID, in.stamp()))
	rec.Log("error", SourceInterpreter, ferr.Error())

	status := schemas.StatusFailed
	if failure.IsResource(ferr) {
		status = schemas.StatusError
	}
	if err := rec.Finish(status, ferr, StackTrace(ferr), in.now()); err != nil {
		return errors.Join(ferr, err)
	}
	return ferr
}

// capture takes a screenshot even when ctx has already ended, so failures caused by a timeout
// still leave a picture behind.
func (in *Interpreter) capture(ctx context.Context, page Page, rec *Recorder, name string) {
	if in.shots == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	png, err := page.Screenshot(sctx)
	if err != nil {
		rec.Log("warning", SourceInterpreter, fmt.Sprintf("screenshot %s failed: %v", name, err))
		return
	}
	path, err := in.shots.SaveScreenshot(rec.ExecutionID(), name, png)
	if err != nil {
		rec.Log("warning", SourceInterpreter, fmt.Sprintf("saving screenshot %s failed: %v", name, err))
		return
	}
	rec.AddScreenshot(path)
}

func (in *Interpreter) samplePerformance(ctx context.Context, page Page, rec *Recorder, logger *zap.Logger) {
	pctx, cancel := context.WithTimeout(ctx, performanceTimeout)
	defer cancel()
	m, err := page.PerformanceMetrics(pctx)
	if err != nil || m == nil {
		logger.Debug("Performance metrics unavailable.", zap.Error(err))
		rec.Log("debug", SourceInterpreter, "performance metrics unavailable")
		return
	}
	rec.SetPerformance(m)
}

func (in *Interpreter) stamp() string {
	return in.now().UTC().Format("20060102_150405")
}

// StackTrace renders err's wrap chain followed by the goroutine stack at the point of failure.
func StackTrace(err error) string {
	var b strings.Builder
	depth := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "%s%T: %s\n", strings.Repeat("  ", depth), e, e.Error())
		depth++
	}
	b.WriteString("\n")
	b.Write(debug.Stack())
	return b.String()
}

var hostLike = regexp.MustCompile(`(?i)^(?:localhost|[\w-]+(?:\.[\w-]+)+)(?::\d+)?(?:[/?#]|$)`)

// ResolveURL resolves ref against base. Absolute refs are returned unchanged. A ref that starts
// with "www." or "localhost", or any host-looking ref when there is no base, gets a scheme.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	lower := strings.ToLower(ref)
	if strings.Contains(ref, "://") || strings.HasPrefix(lower, "about:") || strings.HasPrefix(lower, "data:") {
		return ref
	}
	r, err := url.Parse(ref)
	switch {
	case strings.HasPrefix(lower, "localhost"):
		return "http://" + ref
	case strings.HasPrefix(lower, "www."):
		return "https://" + ref
	case base == "" && hostLike.MatchString(ref):
		return "https://" + ref
	}
	if base == "" || err != nil {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ref
	}
	return b.ResolveReference(r).String()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
