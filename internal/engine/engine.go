// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/browser"
	"github.com/xkilldash9x/testpilot/internal/config"
	"github.com/xkilldash9x/testpilot/internal/dsl"
	"github.com/xkilldash9x/testpilot/internal/failure"
	"github.com/xkilldash9x/testpilot/internal/interpreter"
	"github.com/xkilldash9x/testpilot/internal/metrics"
)

const (
	persistTimeout   = 30 * time.Second
	pageCloseTimeout = 15 * time.Second
)

// -- Interfaces for Dependency Inversion --

// Page is a live, isolated page leased to exactly one test.
type Page interface {
	interpreter.Page
	Close(ctx context.Context) error
}

// Browser spawns isolated pages. Pool resources implement it.
type Browser interface {
	NewPage(ctx context.Context, sink browser.LogSink) (Page, error)
}

// Compiler turns a test case into canonical actions and assertions.
type Compiler interface {
	Compile(tc schemas.TestCase) *dsl.CompiledTest
}

// Runner executes a compiled test on a page and leaves the recorder terminal.
type Runner interface {
	Run(ctx context.Context, page interpreter.Page, ct *dsl.CompiledTest, rec *interpreter.Recorder) error
}

// Store is the write sink for execution records. Persistence errors are logged, never fatal.
type Store interface {
	RecordStart(ctx context.Context, res *schemas.TestResult) error
	RecordResult(ctx context.Context, res *schemas.TestResult) error
}

// ProgressFunc is called once per test case as soon as its result is terminal. It may be called
// from several goroutines at once.
type ProgressFunc func(res schemas.TestResult)

// Options bound the scheduler.
type Options struct {
	Parallelism    int
	AcquireTimeout time.Duration
	TestTimeout    time.Duration
	GapPolicy      string
}

// OptionsFromConfig reads the scheduler settings.
func OptionsFromConfig(cfg config.EngineConfig) Options {
	return Options{
		Parallelism:    cfg.Parallelism,
		AcquireTimeout: cfg.AcquireTimeout,
		TestTimeout:    cfg.TestTimeout,
		GapPolicy:      cfg.GapPolicy,
	}
}

// Batch is the outcome of one Run.
type Batch struct {
	ExecutionID string
	Results     []*schemas.TestResult
	Summary     schemas.Summary
	// MaxRunning is the highest number of results observed in the Running state at once.
	MaxRunning int
	Started    time.Time
	Finished   time.Time
}

// Engine schedules test cases onto a pool of browsers. Each admitted case holds one pooled
// browser for its whole run, in one isolated page, and always releases it.
type Engine struct {
	opts     Options
	logger   *zap.Logger
	pool     *browser.Pool[Browser]
	compiler Compiler
	runner   Runner

	store    Store
	metrics  *metrics.Collector
	progress ProgressFunc
	now      func() time.Time

	running    atomic.Int32
	maxRunning atomic.Int32
	runMu      sync.Mutex
}

// Option customizes an Engine.
type Option func(*Engine)

// WithStore persists every result as it starts and finishes.
func WithStore(s Store) Option { return func(e *Engine) { e.store = s } }

// WithMetrics records outcomes into c.
func WithMetrics(c *metrics.Collector) Option { return func(e *Engine) { e.metrics = c } }

// WithProgress registers a per-result callback.
func WithProgress(f ProgressFunc) Option { return func(e *Engine) { e.progress = f } }

// New creates an Engine.
func New(opts Options, pool *browser.Pool[Browser], compiler Compiler, runner Runner, logger *zap.Logger, options ...Option) (*Engine, error) {
	if pool == nil || compiler == nil || runner == nil {
		return nil, errors.New("engine requires a pool, a compiler and a runner")
	}
	if opts.Parallelism <= 0 {
		return nil, fmt.Errorf("parallelism must be positive, got %d", opts.Parallelism)
	}
	switch opts.GapPolicy {
	case "":
		opts.GapPolicy = config.GapPolicyFail
	case config.GapPolicyFail, config.GapPolicySkip:
	default:
		return nil, fmt.Errorf("unknown gap policy %q", opts.GapPolicy)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		opts:     opts,
		logger:   logger.With(zap.String("component", "engine")),
		pool:     pool,
		compiler: compiler,
		runner:   runner,
		now:      time.Now,
	}
	for _, o := range options {
		o(e)
	}
	return e, nil
}

// Limit is the effective degree of parallelism: the configured bound clamped to the pool size.
func (e *Engine) Limit() int {
	return min(e.opts.Parallelism, e.pool.Size())
}

// Run executes cases and returns when every one of them is terminal. Per-test failures are
// recorded on the results; the returned error is non-nil only when the batch could not run at
// all. Cancelling ctx skips cases that have not started and cuts running ones short.
func (e *Engine) Run(ctx context.Context, cases []schemas.TestCase) (*Batch, error) {
	if !e.runMu.TryLock() {
		return nil, errors.New("engine is already running a batch")
	}
	defer e.runMu.Unlock()

	executionID := uuid.New().String()
	e.running.Store(0)
	e.maxRunning.Store(0)

	limit := e.Limit()
	if limit < e.opts.Parallelism {
		e.logger.Warn("Parallelism exceeds pool size; clamping.",
			zap.Int("parallelism", e.opts.Parallelism), zap.Int("pool_size", e.pool.Size()))
	}
	logger := e.logger.With(zap.String("execution_id", executionID))
	logger.Info("Starting batch.", zap.Int("cases", len(cases)), zap.Int("parallelism", limit))

	batch := &Batch{
		ExecutionID: executionID,
		Results:     make([]*schemas.TestResult, len(cases)),
		Started:     e.now(),
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, tc := range cases {
		g.Go(func() error {
			batch.Results[i] = e.runCase(ctx, executionID, tc, logger)
			return nil
		})
	}
	_ = g.Wait()

	batch.Finished = e.now()
	batch.MaxRunning = int(e.maxRunning.Load())
	batch.Summary = schemas.Summarize(executionID, batch.Results)
	logger.Info("Batch finished.",
		zap.Int("passed", batch.Summary.Passed),
		zap.Int("failed", batch.Summary.Failed),
		zap.Int("errors", batch.Summary.Errors),
		zap.Int("skipped", batch.Summary.Skipped),
		zap.Int("max_running", batch.MaxRunning))
	return batch, nil
}

// runCase drives one case from Pending to a terminal status. It never panics past its caller.
func (e *Engine) runCase(ctx context.Context, executionID string, tc schemas.TestCase, batchLogger *zap.Logger) (out *schemas.TestResult) {
	logger := batchLogger.With(zap.Int64("test_case_id", tc.ID))
	rec := interpreter.NewRecorder(schemas.NewTestResult(tc, executionID))

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Test execution panicked.", zap.Any("panic", p), zap.Stack("stack"))
			if !rec.Status().IsTerminal() {
				err := failure.New(failure.Resource, "panic", fmt.Errorf("%v", p))
				_ = rec.Finish(schemas.StatusError, err, interpreter.StackTrace(err), e.now())
			}
		}
		snap := rec.Snapshot()
		e.complete(&snap, logger)
		out = &snap
	}()

	if err := ctx.Err(); err != nil {
		_ = rec.Finish(schemas.StatusSkipped, failure.New(failure.SchedulingTimeout, failure.ReasonCancelled, err), "", e.now())
		return
	}

	ct := e.compiler.Compile(tc)
	gaps := ct.Gaps()
	for _, g := range gaps {
		if e.metrics != nil {
			e.metrics.ObserveGap(g.Kind)
		}
	}
	rec.InitSteps(ct)
	if len(gaps) > 0 && e.opts.GapPolicy == config.GapPolicySkip {
		err := failure.New(failure.CompilationGap, failure.ReasonGapPolicy, errors.New(describeGaps(gaps)))
		_ = rec.Finish(schemas.StatusSkipped, err, "", e.now())
		logger.Info("Skipping test with unresolved steps.", zap.Int("gaps", len(gaps)))
		return
	}

	lease, err := e.pool.Acquire(ctx, e.opts.AcquireTimeout)
	if err != nil {
		if ctx.Err() != nil {
			_ = rec.Finish(schemas.StatusSkipped, failure.New(failure.SchedulingTimeout, failure.ReasonCancelled, ctx.Err()), "", e.now())
			return
		}
		logger.Warn("Could not acquire a browser.", zap.Error(err))
		_ = rec.Finish(schemas.StatusError, err, "", e.now())
		return
	}
	defer lease.Release()
	if e.metrics != nil {
		e.metrics.ObservePoolWait(lease.Waited)
	}

	if err := rec.Start(e.now()); err != nil {
		logger.Error("Could not start result.", zap.Error(err))
		_ = rec.Finish(schemas.StatusError, failure.New(failure.Resource, "invalid state", err), "", e.now())
		return
	}
	e.enterRunning()
	defer e.leaveRunning()
	e.persist(logger, "start", func(pctx context.Context) error {
		snap := rec.Snapshot()
		return e.store.RecordStart(pctx, &snap)
	})

	testCtx, cancel := e.testContext(ctx)
	defer cancel()

	page, err := lease.Resource().NewPage(testCtx, rec.Append)
	if err != nil {
		ferr := err
		if failure.KindOf(err) == "" {
			ferr = failure.New(failure.Resource, "browser context creation failed", err)
		}
		logger.Warn("Could not open an isolated page.", zap.Int("browser", lease.Index()), zap.Error(err))
		_ = rec.Finish(schemas.StatusError, ferr, "", e.now())
		return
	}
	defer func() {
		cctx, ccancel := context.WithTimeout(context.WithoutCancel(ctx), pageCloseTimeout)
		defer ccancel()
		if err := page.Close(cctx); err != nil {
			logger.Warn("Closing page failed.", zap.Error(err))
		}
	}()

	runErr := e.runner.Run(testCtx, page, ct, rec)
	if !rec.Status().IsTerminal() {
		ferr := runErr
		if ferr == nil {
			ferr = failure.New(failure.Resource, "runner returned without a terminal status", nil)
		}
		_ = rec.Finish(schemas.StatusError, ferr, "", e.now())
	}
	return
}

func (e *Engine) testContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.TestTimeout > 0 {
		return context.WithTimeout(ctx, e.opts.TestTimeout)
	}
	return context.WithCancel(ctx)
}

// complete publishes a terminal result to the store, metrics and progress callback.
func (e *Engine) complete(res *schemas.TestResult, logger *zap.Logger) {
	if e.metrics != nil {
		e.metrics.ObserveResult(res)
	}
	e.persist(logger, "result", func(pctx context.Context) error {
		return e.store.RecordResult(pctx, res)
	})
	logger.Info("Test finished.",
		zap.String("status", string(res.Status)),
		zap.String("failure_kind", res.FailureKind),
		zap.Int64("duration_ms", res.DurationMs))
	if e.progress != nil {
		e.progress(*res)
	}
}

// persist writes with its own timeout so records survive batch cancellation.
func (e *Engine) persist(logger *zap.Logger, what string, fn func(context.Context) error) {
	if e.store == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := fn(pctx); err != nil {
		logger.Error("Failed to persist execution record.", zap.String("record", what), zap.Error(err))
	}
}

func (e *Engine) enterRunning() {
	n := e.running.Add(1)
	for {
		m := e.maxRunning.Load()
		if n <= m || e.maxRunning.CompareAndSwap(m, n) {
			break
		}
	}
	e.publishRunning(n)
}

func (e *Engine) leaveRunning() {
	e.publishRunning(e.running.Add(-1))
}

func (e *Engine) publishRunning(n int32) {
	if e.metrics != nil {
		e.metrics.SetRunning(int(n), int(e.maxRunning.Load()))
	}
}

// Running is the number of results currently in the Running state.
func (e *Engine) Running() int {
	return int(e.running.Load())
}

func describeGaps(gaps []dsl.Gap) string {
	parts := make([]string, len(gaps))
	for i, g := range gaps {
		parts[i] = fmt.Sprintf("%s %d %q", g.Kind, g.Index, g.Raw)
	}
	return fmt.Sprintf("%d unresolved: %s", len(gaps), strings.Join(parts, "; "))
}
