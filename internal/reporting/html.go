package reporting

import (
	"fmt"
	"html/template"
	"io"
	"path/filepath"
	"strings"
)

// HTMLReporter renders a self-contained HTML page.
type HTMLReporter struct {
	tmpl *template.Template
}

func newHTMLReporter() (*HTMLReporter, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"statusClass": func(s any) string { return strings.ToLower(fmt.Sprint(s)) },
		"base":        filepath.Base,
		"pct":         func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
		"secs":        func(v float64) string { return fmt.Sprintf("%.2fs", v) },
		"ms":          func(v int64) string { return fmt.Sprintf("%d ms", v) },
	}).Parse(htmlTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing report template: %w", err)
	}
	return &HTMLReporter{tmpl: tmpl}, nil
}

type htmlView struct {
	*Report
	Kinds []string
}

func (h *HTMLReporter) Render(w io.Writer, report *Report) error {
	return h.tmpl.Execute(w, htmlView{Report: report, Kinds: report.FailureKinds()})
}

func (h *HTMLReporter) Extension() string { return "html" }

var (
	_ Reporter = (*HTMLReporter)(nil)
	_ Reporter = JSONReporter{}
)

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Test execution {{.ExecutionID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; width: 100%; margin-bottom: 1.5em; }
th, td { border: 1px solid #ccc; padding: 4px 8px; text-align: left; vertical-align: top; }
.passed { color: #1a7f37; } .failed { color: #cf222e; } .error { color: #9a6700; }
.skipped, .pending { color: #6e7781; }
pre { white-space: pre-wrap; font-size: 0.85em; }
</style>
</head>
<body>
<h1>Test execution {{.ExecutionID}}</h1>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 MST"}}</p>
<table>
<tr><th>Total</th><th>Passed</th><th>Failed</th><th>Errors</th><th>Skipped</th><th>Pass rate</th><th>Total duration</th><th>Average</th></tr>
<tr><td>{{.Summary.Total}}</td><td>{{.Summary.Passed}}</td><td>{{.Summary.Failed}}</td><td>{{.Summary.Errors}}</td><td>{{.Summary.Skipped}}</td><td>{{pct .Summary.PassRate}}</td><td>{{secs .Summary.TotalDuration}}</td><td>{{secs .Summary.AverageDuration}}</td></tr>
</table>
{{if .Kinds}}<h2>Failures by kind</h2>
<ul>{{range .Kinds}}<li>{{.}}: {{index $.Failures .}}</li>{{end}}</ul>{{end}}
{{range .Results}}
<h2 id="case-{{.TestCaseID}}">#{{.TestCaseID}} {{.Title}} <span class="{{statusClass .Status}}">{{.Status}}</span></h2>
<p>Duration {{ms .DurationMs}}{{if .FailureKind}}, {{.FailureKind}}{{end}}{{if .Reason}} ({{.Reason}}){{end}}</p>
{{if .ErrorMessage}}<pre>{{.ErrorMessage}}</pre>{{end}}
{{if .StepResults}}<table>
<tr><th>Kind</th><th>#</th><th>Step</th><th>Status</th><th>Duration</th><th>Note</th></tr>
{{range .StepResults}}<tr><td>{{.Kind}}</td><td>{{.Index}}</td><td>{{.SourceText}}</td><td class="{{statusClass .Status}}">{{.Status}}</td><td>{{ms .DurationMs}}</td><td>{{.Note}}</td></tr>
{{end}}</table>{{end}}
{{if .Screenshots}}<p>Screenshots: {{range .Screenshots}}<a href="{{.}}">{{base .}}</a> {{end}}</p>{{end}}
{{with .Performance}}<p>Load {{.LoadTime}} ms, DOM ready {{.DOMReady}} ms, first contentful paint {{.FirstContentfulPaint}} ms</p>{{end}}
{{end}}
</body>
</html>
`
