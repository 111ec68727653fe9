// internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/artifacts"
	"github.com/xkilldash9x/testpilot/internal/engine"
)

// -- Mock Implementations for Testing --

type mockSource struct {
	cases []schemas.TestCase
	err   error
	ids   []int64
}

func (m *mockSource) GetTestCases(_ context.Context, ids []int64) ([]schemas.TestCase, error) {
	m.ids = ids
	return m.cases, m.err
}

type mockScheduler struct {
	mu     sync.Mutex
	called bool
	got    []schemas.TestCase
	err    error
}

func (m *mockScheduler) Run(_ context.Context, cases []schemas.TestCase) (*engine.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called = true
	m.got = cases
	if m.err != nil {
		return nil, m.err
	}
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	results := make([]*schemas.TestResult, len(cases))
	for i, tc := range cases {
		status := schemas.StatusPassed
		var kind string
		if i%2 == 1 {
			status = schemas.StatusFailed
			kind = "AssertionViolation"
		}
		results[i] = &schemas.TestResult{
			TestCaseID:  tc.ID,
			Title:       tc.Title,
			ExecutionID: "exec-1",
			Status:      status,
			FailureKind: kind,
			StartTime:   start,
			EndTime:     start.Add(2 * time.Second),
			DurationMs:  2000,
		}
	}
	return &engine.Batch{
		ExecutionID: "exec-1",
		Results:     results,
		Summary:     schemas.Summarize("exec-1", results),
		Started:     start,
		Finished:    start.Add(4 * time.Second),
	}, nil
}

type mockReportStore struct {
	mu    sync.Mutex
	saved map[string]string
	err   error
}

func (m *mockReportStore) SaveReport(_ context.Context, _ schemas.Summary, reportType, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]string{}
	}
	m.saved[reportType] = path
	return m.err
}

type mockMetrics struct {
	data []byte
	err  error
}

func (m mockMetrics) Bytes() ([]byte, error) { return m.data, m.err }

// -- Test Fixture Setup --

type orchestratorTestFixture struct {
	Logger    *zap.Logger
	Source    *mockSource
	Scheduler *mockScheduler
	Artifacts *artifacts.Writer
}

func setupTest(t *testing.T) *orchestratorTestFixture {
	t.Helper()
	dir := t.TempDir()
	w, err := artifacts.NewWriter(filepath.Join(dir, "reports"), filepath.Join(dir, "screenshots"))
	require.NoError(t, err)
	return &orchestratorTestFixture{
		Logger: zaptest.NewLogger(t),
		Source: &mockSource{cases: []schemas.TestCase{
			{ID: 1, Title: "Login works"},
			{ID: 2, Title: "Checkout"},
		}},
		Scheduler: &mockScheduler{},
		Artifacts: w,
	}
}

// -- Test Cases --

func TestNewOrchestrator(t *testing.T) {
	t.Parallel()
	fixture := setupTest(t)

	t.Run("should create orchestrator with valid dependencies", func(t *testing.T) {
		orch, err := New(fixture.Logger, fixture.Source, fixture.Scheduler, fixture.Artifacts)
		require.NoError(t, err)
		assert.Equal(t, []string{"json", "html"}, orch.formats)
	})

	t.Run("should return error with nil dependencies", func(t *testing.T) {
		_, err := New(nil, fixture.Source, fixture.Scheduler, fixture.Artifacts)
		assert.Error(t, err, "Should fail with nil logger")

		_, err = New(fixture.Logger, nil, fixture.Scheduler, fixture.Artifacts)
		assert.Error(t, err, "Should fail with nil source")

		_, err = New(fixture.Logger, fixture.Source, nil, fixture.Artifacts)
		assert.Error(t, err, "Should fail with nil scheduler")

		_, err = New(fixture.Logger, fixture.Source, fixture.Scheduler, nil)
		assert.Error(t, err, "Should fail with nil artifact writer")
	})

	t.Run("should reject unknown report formats", func(t *testing.T) {
		_, err := New(fixture.Logger, fixture.Source, fixture.Scheduler, fixture.Artifacts, WithFormats("csv"))
		assert.ErrorContains(t, err, "unsupported output format: csv")
	})
}

func TestOrchestrator_Execute(t *testing.T) {
	t.Run("should run the batch and write every artifact", func(t *testing.T) {
		fixture := setupTest(t)
		reports := &mockReportStore{}
		var gotSummary schemas.Summary
		var gotPath string
		calls := 0

		orch, err := New(fixture.Logger, fixture.Source, fixture.Scheduler, fixture.Artifacts,
			WithReportStore(reports),
			WithMetrics(mockMetrics{data: []byte("testpilot_tests_total{status=\"Passed\"} 1\n")}),
			WithCompletion(func(s schemas.Summary, path string) {
				calls++
				gotSummary, gotPath = s, path
			}))
		require.NoError(t, err)

		out, err := orch.Execute(context.Background(), []int64{2, 1})
		require.NoError(t, err)

		assert.Equal(t, []int64{2, 1}, fixture.Source.ids)
		assert.Len(t, fixture.Scheduler.got, 2)

		runDir := fixture.Artifacts.RunDir("exec-1")
		assert.Equal(t, filepath.Join(runDir, "report.json"), out.ReportPath, "the first format is the primary report")
		assert.Equal(t, filepath.Join(runDir, "report.html"), out.Reports["html"])
		assert.Equal(t, filepath.Join(runDir, "metrics.prom"), out.MetricsPath)
		for _, p := range []string{out.ReportPath, out.Reports["html"], out.MetricsPath} {
			_, err := os.Stat(p)
			assert.NoError(t, err, "%s should exist", p)
		}

		assert.Equal(t, 1, calls)
		assert.Equal(t, out.ReportPath, gotPath)
		assert.Equal(t, 2, gotSummary.Total)
		assert.Equal(t, 1, gotSummary.Passed)
		assert.Equal(t, 1, gotSummary.Failed)
		assert.Equal(t, out.ReportPath, gotSummary.ReportPath)
		assert.Equal(t, out.ReportPath, out.Batch.Summary.ReportPath)

		assert.Equal(t, out.Reports, reports.saved)
	})

	t.Run("should keep going when recording or metrics fail", func(t *testing.T) {
		fixture := setupTest(t)
		orch, err := New(fixture.Logger, fixture.Source, fixture.Scheduler, fixture.Artifacts,
			WithFormats("html"),
			WithReportStore(&mockReportStore{err: errors.New("db down")}),
			WithMetrics(mockMetrics{err: errors.New("gather failed")}))
		require.NoError(t, err)

		out, err := orch.Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(fixture.Artifacts.RunDir("exec-1"), "report.html"), out.ReportPath)
		assert.Empty(t, out.MetricsPath)
	})

	t.Run("should propagate source errors", func(t *testing.T) {
		fixture := setupTest(t)
		srcErr := errors.New("unknown test case ids: 9")
		fixture.Source.err = srcErr

		orch, err := New(fixture.Logger, fixture.Source, fixture.Scheduler, fixture.Artifacts)
		require.NoError(t, err)
		_, err = orch.Execute(context.Background(), []int64{9})
		assert.ErrorIs(t, err, srcErr)
		assert.False(t, fixture.Scheduler.called, "nothing should be scheduled")
	})

	t.Run("should refuse an empty batch", func(t *testing.T) {
		fixture := setupTest(t)
		fixture.Source.cases = nil

		orch, err := New(fixture.Logger, fixture.Source, fixture.Scheduler, fixture.Artifacts)
		require.NoError(t, err)
		_, err = orch.Execute(context.Background(), nil)
		assert.ErrorIs(t, err, ErrNoCases)
	})

	t.Run("should propagate scheduler errors", func(t *testing.T) {
		fixture := setupTest(t)
		runErr := errors.New("engine is already running a batch")
		fixture.Scheduler.err = runErr

		orch, err := New(fixture.Logger, fixture.Source, fixture.Scheduler, fixture.Artifacts)
		require.NoError(t, err)
		_, err = orch.Execute(context.Background(), nil)
		assert.ErrorIs(t, err, runErr)
	})
}
