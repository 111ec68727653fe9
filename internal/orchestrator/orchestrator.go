// File: internal/orchestrator/orchestrator.go
// Description: Drives one execution batch end to end. It is injected with the case source, the
// scheduler and the artifact sinks via interfaces, making it decoupled and testable.

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/engine"
	"github.com/xkilldash9x/testpilot/internal/reporting"
)

const (
	persistTimeout  = 30 * time.Second
	metricsFileName = "metrics.prom"
)

// ErrNoCases is returned when the source yields nothing to run.
var ErrNoCases = errors.New("no test cases to run")

// CaseSource supplies test cases. No ids means every Ready case.
type CaseSource interface {
	GetTestCases(ctx context.Context, ids []int64) ([]schemas.TestCase, error)
}

// Scheduler runs a batch to completion.
type Scheduler interface {
	Run(ctx context.Context, cases []schemas.TestCase) (*engine.Batch, error)
}

// ArtifactWriter stores a file under an execution's report directory and returns its path.
type ArtifactWriter interface {
	WriteBytes(executionID, name string, data []byte) (string, error)
}

// ReportStore records where a batch's reports were written.
type ReportStore interface {
	SaveReport(ctx context.Context, summary schemas.Summary, reportType, path string) error
}

// MetricsSource renders the batch metrics in the Prometheus text format.
type MetricsSource interface {
	Bytes() ([]byte, error)
}

// CompletionFunc receives the aggregate summary and the path of the primary report.
type CompletionFunc func(summary schemas.Summary, reportPath string)

// Outcome is everything a finished batch produced.
type Outcome struct {
	Batch *engine.Batch
	// Reports maps a report format to the file written for it.
	Reports     map[string]string
	ReportPath  string
	MetricsPath string
}

// Orchestrator loads cases, schedules them and writes the batch reports.
type Orchestrator struct {
	logger    *zap.Logger
	source    CaseSource
	scheduler Scheduler
	artifacts ArtifactWriter

	formats    []string
	reports    ReportStore
	metrics    MetricsSource
	onComplete CompletionFunc
	now        func() time.Time
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithFormats selects the report formats. The first one is the primary report.
func WithFormats(formats ...string) Option {
	return func(o *Orchestrator) { o.formats = formats }
}

// WithReportStore records report locations, typically in the database.
func WithReportStore(s ReportStore) Option { return func(o *Orchestrator) { o.reports = s } }

// WithMetrics writes the batch metrics next to the reports.
func WithMetrics(m MetricsSource) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithCompletion registers the callback invoked once per finished batch.
func WithCompletion(f CompletionFunc) Option { return func(o *Orchestrator) { o.onComplete = f } }

// New creates a new Orchestrator with its dependencies provided as interfaces.
func New(logger *zap.Logger, source CaseSource, scheduler Scheduler, artifacts ArtifactWriter, opts ...Option) (*Orchestrator, error) {
	if logger == nil ||
		source == nil ||
		scheduler == nil ||
		artifacts == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	o := &Orchestrator{
		logger:    logger.Named("orchestrator"),
		source:    source,
		scheduler: scheduler,
		artifacts: artifacts,
		formats:   []string{"json", "html"},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	for _, f := range o.formats {
		if _, err := reporting.New(f); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Execute runs the cases with the given ids, or every Ready case when ids is empty. Test
// failures are part of the outcome; an error means the batch could not run at all.
func (o *Orchestrator) Execute(ctx context.Context, ids []int64) (*Outcome, error) {
	cases, err := o.source.GetTestCases(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading test cases: %w", err)
	}
	if len(cases) == 0 {
		return nil, ErrNoCases
	}
	o.logger.Info("Orchestrator starting batch.", zap.Int("cases", len(cases)), zap.Int64s("requested_ids", ids))

	batch, err := o.scheduler.Run(ctx, cases)
	if err != nil {
		return nil, fmt.Errorf("running batch: %w", err)
	}
	logger := o.logger.With(zap.String("execution_id", batch.ExecutionID))

	out := &Outcome{Batch: batch, Reports: make(map[string]string, len(o.formats))}
	report := reporting.Build(batch.Summary, batch.Results, o.now())
	for _, format := range o.formats {
		path, err := o.writeReport(report, format)
		if err != nil {
			logger.Error("Failed to write report.", zap.String("format", format), zap.Error(err))
			continue
		}
		out.Reports[format] = path
		if out.ReportPath == "" {
			out.ReportPath = path
		}
		o.recordReport(logger, batch.Summary, format, path)
	}

	if o.metrics != nil {
		if path, err := o.writeMetrics(batch.ExecutionID); err != nil {
			logger.Warn("Failed to write metrics textfile.", zap.Error(err))
		} else {
			out.MetricsPath = path
		}
	}

	batch.Summary.ReportPath = out.ReportPath
	logger.Info("Batch complete.",
		zap.Int("total", batch.Summary.Total),
		zap.Float64("pass_rate", batch.Summary.PassRate),
		zap.String("report", out.ReportPath))
	if o.onComplete != nil {
		o.onComplete(batch.Summary, out.ReportPath)
	}
	return out, nil
}

func (o *Orchestrator) writeReport(report *reporting.Report, format string) (string, error) {
	r, err := reporting.New(format)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := r.Render(&buf, report); err != nil {
		return "", fmt.Errorf("rendering %s report: %w", format, err)
	}
	return o.artifacts.WriteBytes(report.ExecutionID, "report."+r.Extension(), buf.Bytes())
}

// recordReport persists the report location. The batch has already finished, so this runs on a
// context of its own.
func (o *Orchestrator) recordReport(logger *zap.Logger, summary schemas.Summary, format, path string) {
	if o.reports == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := o.reports.SaveReport(ctx, summary, format, path); err != nil {
		logger.Warn("Failed to record report.", zap.String("format", format), zap.Error(err))
	}
}

func (o *Orchestrator) writeMetrics(executionID string) (string, error) {
	data, err := o.metrics.Bytes()
	if err != nil {
		return "", fmt.Errorf("encoding metrics: %w", err)
	}
	return o.artifacts.WriteBytes(executionID, metricsFileName, data)
}
