package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/testpilot/api/schemas"
)

func TestCollector_ObserveResult(t *testing.T) {
	c := NewCollector()
	c.ObserveResult(&schemas.TestResult{
		Status:     schemas.StatusFailed,
		DurationMs: 1500,
		StepResults: []schemas.StepResult{
			{Kind: schemas.KindAction, Status: schemas.StepPassed},
			{Kind: schemas.KindAction, Status: schemas.StepPassed},
			{Kind: schemas.KindAction, Status: schemas.StepFailed},
			{Kind: schemas.KindAssertion, Status: schemas.StepPending},
		},
	})
	c.ObserveResult(&schemas.TestResult{Status: schemas.StatusPassed})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.testsTotal.WithLabelValues("Failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.testsTotal.WithLabelValues("Passed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("action", "Passed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("action", "Failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("assertion", "Pending")))
}

func TestCollector_Write(t *testing.T) {
	c := NewCollector()
	c.ObserveGap(schemas.KindAssertion)
	c.ObservePoolWait(250 * time.Millisecond)
	c.SetRunning(0, 3)

	path := filepath.Join(t.TempDir(), "metrics.prom")
	require.NoError(t, c.Write(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	text := string(data)
	assert.Contains(t, text, `testpilot_compilation_gaps_total{kind="assertion"} 1`)
	assert.Contains(t, text, "testpilot_tests_running_max 3")
	assert.Contains(t, text, "testpilot_pool_acquire_wait_seconds_count 1")
	assert.Contains(t, text, "# TYPE testpilot_tests_running gauge")
}
