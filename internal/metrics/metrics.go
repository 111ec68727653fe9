// Package metrics collects per-batch execution metrics and writes them in the Prometheus text
// format, ready for a node-exporter textfile collector.
package metrics

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/xkilldash9x/testpilot/api/schemas"
)

// Collector holds one registry per batch. All methods are safe for concurrent use.
type Collector struct {
	registry     *prometheus.Registry
	testsTotal   *prometheus.CounterVec
	stepsTotal   *prometheus.CounterVec
	gapsTotal    *prometheus.CounterVec
	testDuration *prometheus.HistogramVec
	poolWait     prometheus.Histogram
	running      prometheus.Gauge
	maxRunning   prometheus.Gauge
}

// NewCollector initializes a new metrics registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		testsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "testpilot_tests_total", Help: "Tests finished, by terminal status."},
			[]string{"status"},
		),
		stepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "testpilot_steps_total", Help: "Actions and assertions executed, by outcome."},
			[]string{"kind", "status"},
		),
		gapsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "testpilot_compilation_gaps_total", Help: "Steps no compiler rule matched."},
			[]string{"kind"},
		),
		testDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "testpilot_test_duration_seconds",
				Help:    "Test duration in seconds.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		poolWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "testpilot_pool_acquire_wait_seconds",
			Help:    "Time spent waiting for a browser from the pool.",
			Buckets: prometheus.DefBuckets,
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "testpilot_tests_running",
			Help: "Tests currently in the Running state.",
		}),
		maxRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "testpilot_tests_running_max",
			Help: "Highest number of tests observed running at once.",
		}),
	}
	registry.MustRegister(c.testsTotal, c.stepsTotal, c.gapsTotal, c.testDuration, c.poolWait, c.running, c.maxRunning)
	return c
}

// ObserveResult records a finished test and its steps. Pending steps were never executed and are
// not counted.
func (c *Collector) ObserveResult(r *schemas.TestResult) {
	c.testsTotal.WithLabelValues(string(r.Status)).Inc()
	c.testDuration.WithLabelValues(string(r.Status)).Observe(r.Duration().Seconds())
	for _, s := range r.StepResults {
		if s.Status == schemas.StepPending {
			continue
		}
		c.stepsTotal.WithLabelValues(string(s.Kind), string(s.Status)).Inc()
	}
}

// ObserveGap counts one Unresolved action or assertion.
func (c *Collector) ObserveGap(kind schemas.StepKind) {
	c.gapsTotal.WithLabelValues(string(kind)).Inc()
}

// ObservePoolWait records how long a test waited for a browser.
func (c *Collector) ObservePoolWait(d time.Duration) {
	c.poolWait.Observe(d.Seconds())
}

// SetRunning reports the current and peak number of running tests.
func (c *Collector) SetRunning(current, peak int) {
	c.running.Set(float64(current))
	c.maxRunning.Set(float64(peak))
}

// Registry exposes the underlying registry, e.g. for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Encode writes all metrics in the text exposition format.
func (c *Collector) Encode(w io.Writer) error {
	families, err := c.registry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return err
		}
	}
	return nil
}

// Bytes renders the metrics as a text file body.
func (c *Collector) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write writes all metrics to a Prometheus text file.
func (c *Collector) Write(path string) error {
	data, err := c.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
