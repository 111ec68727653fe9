// internal/interpreter/recorder_test.go
package interpreter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/dsl"
	"github.com/xkilldash9x/testpilot/internal/failure"
)

func TestRecorder_InitStepsOnce(t *testing.T) {
	ct := &dsl.CompiledTest{
		TestCase:   schemas.TestCase{Steps: []string{"go to /"}, Assertions: []string{"title contains \"x\""}},
		Actions:    []dsl.Action{dsl.Navigate{URL: "/"}},
		Assertions: []dsl.Assertion{dsl.TitleContains{Text: "x"}},
	}
	rec := NewRecorder(schemas.NewTestResult(ct.TestCase, "e"))
	rec.InitSteps(ct)
	rec.EndStep(schemas.KindAssertion, 1, schemas.StepPassed, time.Second, "")
	rec.InitSteps(ct)

	res := rec.Snapshot()
	require.Len(t, res.StepResults, 2)
	assert.Equal(t, "go to /", res.StepResults[0].SourceText)
	assert.Equal(t, schemas.StepPassed, res.StepResults[1].Status)
	assert.Equal(t, int64(1000), res.StepResults[1].DurationMs)

	rec.EndStep(schemas.KindAction, 9, schemas.StepFailed, 0, "out of range is ignored")
}

func TestRecorder_TerminalResultIsFrozen(t *testing.T) {
	rec := NewRecorder(schemas.NewTestResult(schemas.TestCase{ID: 1}, "e"))
	require.NoError(t, rec.Start(time.Now()))
	require.NoError(t, rec.Finish(schemas.StatusFailed, failure.AtStep(failure.ActionExecution, 1, "", errors.New("x")), "trace", time.Now()))

	rec.Append(schemas.LogEntry{Message: "late"})
	rec.AddScreenshot("late.png")
	assert.ErrorIs(t, rec.Pass(time.Now()), schemas.ErrTerminalResult)

	res := rec.Snapshot()
	assert.Empty(t, res.Logs)
	assert.Empty(t, res.Screenshots)
	assert.Equal(t, "ActionExecutionError", res.FailureKind)
	assert.Equal(t, "trace", res.StackTrace)
}

func TestRecorder_ConcurrentAppend(t *testing.T) {
	rec := NewRecorder(schemas.NewTestResult(schemas.TestCase{ID: 1}, "e"))
	require.NoError(t, rec.Start(time.Now()))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				rec.Log("info", "console", "hello")
			}
		}()
	}
	wg.Wait()
	res := rec.Snapshot()
	assert.Len(t, res.Logs, 800)
	assert.False(t, res.Logs[0].Timestamp.IsZero())
}

func TestRecorder_LogLimit(t *testing.T) {
	rec := NewRecorder(schemas.NewTestResult(schemas.TestCase{ID: 1}, "e"))
	require.NoError(t, rec.Start(time.Now()))
	for i := 0; i < MaxLogEntries+10; i++ {
		rec.Log("info", "network", "request")
	}
	require.NoError(t, rec.Pass(time.Now()))

	res := rec.Snapshot()
	assert.Len(t, res.Logs, MaxLogEntries+1)
	assert.Contains(t, res.Logs[len(res.Logs)-1].Message, "dropped")
}

func TestRecorder_SnapshotIsIndependent(t *testing.T) {
	rec := NewRecorder(schemas.NewTestResult(schemas.TestCase{ID: 1}, "e"))
	require.NoError(t, rec.Start(time.Now()))
	rec.AddScreenshot("a.png")
	rec.SetPerformance(&schemas.PerformanceMetrics{LoadTime: 1})

	snap := rec.Snapshot()
	snap.Screenshots[0] = "mutated"
	snap.Performance.LoadTime = 99

	again := rec.Snapshot()
	assert.Equal(t, "a.png", again.Screenshots[0])
	assert.Equal(t, 1.0, again.Performance.LoadTime)
}
