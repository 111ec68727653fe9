// internal/reporting/reporter.go
package reporting

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/testpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Report is everything known about one batch execution.
type Report struct {
	ExecutionID string                `json:"execution_id"`
	GeneratedAt time.Time             `json:"generated_at"`
	Summary     schemas.Summary       `json:"summary"`
	Failures    map[string]int        `json:"failures_by_kind"`
	Results     []*schemas.TestResult `json:"results"`
}

// Build assembles a report. Results keep their input order; Failures counts failed and errored
// results by failure kind.
func Build(summary schemas.Summary, results []*schemas.TestResult, now time.Time) *Report {
	failures := make(map[string]int)
	for _, r := range results {
		if r.Status != schemas.StatusFailed && r.Status != schemas.StatusError {
			continue
		}
		kind := r.FailureKind
		if kind == "" {
			kind = "Unclassified"
		}
		failures[kind]++
	}
	return &Report{
		ExecutionID: summary.ExecutionID,
		GeneratedAt: now.UTC(),
		Summary:     summary,
		Failures:    failures,
		Results:     results,
	}
}

// FailureKinds returns the failure kinds present, most frequent first.
func (r *Report) FailureKinds() []string {
	kinds := make([]string, 0, len(r.Failures))
	for k := range r.Failures {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if r.Failures[kinds[i]] != r.Failures[kinds[j]] {
			return r.Failures[kinds[i]] > r.Failures[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	return kinds
}

// Reporter renders a report in one output format.
type Reporter interface {
	// Render writes the report to w.
	Render(w io.Writer, report *Report) error
	// Extension is the file extension of the format, without the dot.
	Extension() string
}

// New creates a reporter for the named format.
func New(format string) (Reporter, error) {
	switch format {
	case "json":
		return JSONReporter{}, nil
	case "html":
		return newHTMLReporter()
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// JSONReporter writes the report as indented JSON.
type JSONReporter struct{}

func (JSONReporter) Render(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func (JSONReporter) Extension() string { return "json" }

// WriteFile renders report into path, or to stdout when path is empty or "stdout".
func WriteFile(r Reporter, report *Report, path string) error {
	if path == "" || path == "stdout" {
		return r.Render(os.Stdout, report)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	if err := r.Render(f, report); err != nil {
		f.Close()
		return fmt.Errorf("rendering report: %w", err)
	}
	return f.Close()
}
