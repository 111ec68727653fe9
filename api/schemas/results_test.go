package schemas_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/testpilot/api/schemas"
)

func newPending(t *testing.T) *schemas.TestResult {
	t.Helper()
	r := schemas.NewTestResult(schemas.TestCase{ID: 7, Title: "Login works"}, "exec-1")
	require.Equal(t, schemas.StatusPending, r.Status)
	return r
}

func TestNewTestResult(t *testing.T) {
	r := newPending(t)
	assert.Equal(t, int64(7), r.TestCaseID)
	assert.Equal(t, "Login works", r.Title)
	assert.Equal(t, "exec-1", r.ExecutionID)

	// Empty collections serialize as arrays, never null.
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"screenshots":[]`)
	assert.Contains(t, string(data), `"logs":[]`)
	assert.Contains(t, string(data), `"step_results":[]`)
	assert.NotContains(t, string(data), "performance_metrics")
}

func TestTestResult_Lifecycle(t *testing.T) {
	start := getTestTime(t)

	t.Run("pending to running to passed", func(t *testing.T) {
		r := newPending(t)
		require.NoError(t, r.Start(start))
		assert.Equal(t, schemas.StatusRunning, r.Status)
		assert.Equal(t, start, r.StartTime)

		require.NoError(t, r.Finish(schemas.StatusPassed, start.Add(1500*time.Millisecond)))
		assert.Equal(t, schemas.StatusPassed, r.Status)
		assert.Equal(t, int64(1500), r.DurationMs)
		assert.Equal(t, 1500*time.Millisecond, r.Duration())
		assert.Equal(t, start.Add(1500*time.Millisecond), r.EndTime)
	})

	t.Run("passed and failed require running", func(t *testing.T) {
		for _, status := range []schemas.TestStatus{schemas.StatusPassed, schemas.StatusFailed} {
			r := newPending(t)
			err := r.Finish(status, start)
			assert.ErrorIs(t, err, schemas.ErrInvalidTransition, "status %s", status)
			assert.Equal(t, schemas.StatusPending, r.Status)
		}
	})

	t.Run("error and skipped are reachable from pending", func(t *testing.T) {
		for _, status := range []schemas.TestStatus{schemas.StatusError, schemas.StatusSkipped} {
			r := newPending(t)
			require.NoError(t, r.Finish(status, start))
			assert.Equal(t, status, r.Status)
			assert.Equal(t, start, r.StartTime, "start time is filled in when the test never ran")
			assert.Zero(t, r.DurationMs)
		}
	})

	t.Run("terminal results are frozen", func(t *testing.T) {
		r := newPending(t)
		require.NoError(t, r.Start(start))
		require.NoError(t, r.Finish(schemas.StatusFailed, start.Add(time.Second)))

		assert.ErrorIs(t, r.Finish(schemas.StatusPassed, start.Add(2*time.Second)), schemas.ErrTerminalResult)
		assert.ErrorIs(t, r.Start(start), schemas.ErrTerminalResult)
		assert.Equal(t, schemas.StatusFailed, r.Status)
		assert.Equal(t, int64(1000), r.DurationMs)
	})

	t.Run("cannot start twice", func(t *testing.T) {
		r := newPending(t)
		require.NoError(t, r.Start(start))
		assert.ErrorIs(t, r.Start(start), schemas.ErrInvalidTransition)
	})

	t.Run("finish requires a terminal status", func(t *testing.T) {
		r := newPending(t)
		require.NoError(t, r.Start(start))
		assert.ErrorIs(t, r.Finish(schemas.StatusRunning, start), schemas.ErrInvalidTransition)
		assert.ErrorIs(t, r.Finish(schemas.StatusPending, start), schemas.ErrInvalidTransition)
	})
}

func TestSummarize(t *testing.T) {
	mk := func(status schemas.TestStatus, ms int64) *schemas.TestResult {
		return &schemas.TestResult{Status: status, DurationMs: ms}
	}

	t.Run("counts and durations", func(t *testing.T) {
		results := []*schemas.TestResult{
			mk(schemas.StatusPassed, 1000),
			mk(schemas.StatusPassed, 2000),
			mk(schemas.StatusFailed, 500),
			mk(schemas.StatusError, 500),
			mk(schemas.StatusSkipped, 0),
		}
		s := schemas.Summarize("exec-9", results)

		assert.Equal(t, "exec-9", s.ExecutionID)
		assert.Equal(t, 5, s.Total)
		assert.Equal(t, 2, s.Passed)
		assert.Equal(t, 1, s.Failed)
		assert.Equal(t, 1, s.Errors)
		assert.Equal(t, 1, s.Skipped)
		assert.InDelta(t, 40.0, s.PassRate, 1e-9)
		assert.InDelta(t, 4.0, s.TotalDuration, 1e-9)
		assert.InDelta(t, 0.8, s.AverageDuration, 1e-9)
		assert.False(t, s.AllPassed())
	})

	t.Run("empty batch", func(t *testing.T) {
		s := schemas.Summarize("exec-0", nil)
		assert.Zero(t, s.Total)
		assert.Zero(t, s.PassRate)
		assert.Zero(t, s.AverageDuration)
		assert.True(t, s.AllPassed())
	})

	t.Run("skipped counts against success", func(t *testing.T) {
		s := schemas.Summarize("exec-2", []*schemas.TestResult{
			mk(schemas.StatusPassed, 10),
			mk(schemas.StatusSkipped, 0),
		})
		assert.False(t, s.AllPassed())
		assert.InDelta(t, 50.0, s.PassRate, 1e-9)
	})

	t.Run("all skipped is not a pass", func(t *testing.T) {
		s := schemas.Summarize("exec-3", []*schemas.TestResult{mk(schemas.StatusSkipped, 0)})
		assert.Zero(t, s.Failed)
		assert.Zero(t, s.Errors)
		assert.False(t, s.AllPassed())
	})

	t.Run("every test passed", func(t *testing.T) {
		s := schemas.Summarize("exec-4", []*schemas.TestResult{mk(schemas.StatusPassed, 10), mk(schemas.StatusPassed, 20)})
		assert.True(t, s.AllPassed())
	})
}
