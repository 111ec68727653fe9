package codegen

import (
	"bufio"
	"bytes"
	"fmt"
	"go/format"
	"strings"
	"text/template"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/browser"
	"github.com/xkilldash9x/testpilot/internal/dsl"
	"github.com/xkilldash9x/testpilot/internal/interpreter"
)

const (
	chromedpTargetName = "chromedp"
	chromedpVersion    = "v0.14.2"
	generatedPackage   = "generated"
)

// chromedpTarget renders Go tests driving Chrome through chromedp.
type chromedpTarget struct{}

func (chromedpTarget) Name() string { return chromedpTargetName }

// goActions maps every action variant to a call into the generated helpers.
var goActions = map[dsl.ActionKind]func(a dsl.Action, opts Options) []string{
	dsl.ActNavigate: func(a dsl.Action, opts Options) []string {
		return []string{fmt.Sprintf("navigate(ctx, t, %s)", quote(interpreter.ResolveURL(opts.BaseURL, a.(dsl.Navigate).URL)))}
	},
	dsl.ActClick: func(a dsl.Action, _ Options) []string {
		c := a.(dsl.Click)
		if c.Selector != "" {
			return []string{fmt.Sprintf("click(ctx, t, %s)", quote(c.Selector))}
		}
		return []string{fmt.Sprintf("clickText(ctx, t, %s)", quote(c.Text))}
	},
	dsl.ActFill: func(a dsl.Action, _ Options) []string {
		f := a.(dsl.Fill)
		if dsl.LooksLikeSelector(f.Selector) {
			return []string{fmt.Sprintf("fill(ctx, t, %s, %s)", quote(f.Selector), quote(f.Value))}
		}
		return []string{fmt.Sprintf("fillField(ctx, t, %s, %s)", quote(f.Selector), quote(f.Value))}
	},
	dsl.ActSelect: func(a dsl.Action, _ Options) []string {
		s := a.(dsl.Select)
		if dsl.LooksLikeSelector(s.Selector) {
			return []string{fmt.Sprintf("selectOption(ctx, t, %s, %s)", quote(s.Selector), quote(s.Option))}
		}
		return []string{fmt.Sprintf("selectField(ctx, t, %s, %s)", quote(s.Selector), quote(s.Option))}
	},
	dsl.ActWait: func(a dsl.Action, _ Options) []string {
		return []string{fmt.Sprintf("wait(ctx, t, %d)", a.(dsl.Wait).DurationMs)}
	},
	dsl.ActVerify: func(a dsl.Action, _ Options) []string {
		return []string{"// Verification step, checked by the assertions below: " + oneLine(a.(dsl.Verify).Text)}
	},
	dsl.ActUnresolved: func(a dsl.Action, _ Options) []string {
		return []string{
			"// UNRESOLVED: no rule could compile " + quote(oneLine(a.(dsl.UnresolvedAction).Raw)),
			"_ = ctx // placeholder, implement by hand",
		}
	},
}

var goAssertions = map[dsl.AssertionKind]func(a dsl.Assertion, opts Options) []string{
	dsl.AssertElementExists: func(a dsl.Assertion, _ Options) []string {
		return []string{fmt.Sprintf("assertElement(ctx, t, %s, false)", quote(a.(dsl.ElementExists).Selector))}
	},
	dsl.AssertElementVisible: func(a dsl.Assertion, _ Options) []string {
		return []string{fmt.Sprintf("assertElement(ctx, t, %s, true)", quote(a.(dsl.ElementVisible).Selector))}
	},
	dsl.AssertTextEquals: func(a dsl.Assertion, _ Options) []string {
		x := a.(dsl.TextEquals)
		return []string{fmt.Sprintf("assertText(ctx, t, %s, %s, true)", quote(x.Selector), quote(x.Text))}
	},
	dsl.AssertTextContains: func(a dsl.Assertion, _ Options) []string {
		x := a.(dsl.TextContains)
		return []string{fmt.Sprintf("assertText(ctx, t, %s, %s, false)", quote(x.Selector), quote(x.Text))}
	},
	dsl.AssertTitleEquals: func(a dsl.Assertion, _ Options) []string {
		return []string{fmt.Sprintf("assertTitle(ctx, t, %s, true)", quote(a.(dsl.TitleEquals).Text))}
	},
	dsl.AssertTitleContains: func(a dsl.Assertion, _ Options) []string {
		return []string{fmt.Sprintf("assertTitle(ctx, t, %s, false)", quote(a.(dsl.TitleContains).Text))}
	},
	dsl.AssertURLEquals: func(a dsl.Assertion, opts Options) []string {
		want := a.(dsl.URLEquals).Text
		return []string{fmt.Sprintf("assertURL(ctx, t, %s, %s, true)", quote(want), quote(interpreter.ResolveURL(opts.BaseURL, want)))}
	},
	dsl.AssertURLContains: func(a dsl.Assertion, _ Options) []string {
		want := a.(dsl.URLContains).Text
		return []string{fmt.Sprintf("assertURL(ctx, t, %s, %s, false)", quote(want), quote(want))}
	},
	dsl.AssertUnresolved: func(a dsl.Assertion, _ Options) []string {
		return []string{
			"// UNRESOLVED: no rule could compile " + quote(oneLine(a.(dsl.UnresolvedAssertion).Raw)),
			"_ = ctx // placeholder, implement by hand",
		}
	},
}

type goTest struct {
	Func          string
	ID            int64
	Title         string
	Description   string
	Priority      string
	Type          string
	Environment   string
	Preconditions []string
	Expected      string
	Body          []string
}

func (chromedpTarget) Render(group Group, opts Options) (File, error) {
	names := nameSet{}
	tests := make([]goTest, 0, len(group.Tests))
	for _, ct := range group.Tests {
		tc := ct.TestCase
		body, err := goBody(ct, opts)
		if err != nil {
			return File{}, fmt.Errorf("test case %d: %w", tc.ID, err)
		}
		var pre []string
		for _, line := range strings.Split(tc.Preconditions, "\n") {
			if line = oneLine(line); line != "" {
				pre = append(pre, line)
			}
		}
		tests = append(tests, goTest{
			Func:          names.unique(goFuncName(tc)),
			ID:            tc.ID,
			Title:         oneLine(tc.Title),
			Description:   oneLine(tc.Description),
			Priority:      orDefault(tc.Priority, "Medium"),
			Type:          orDefault(tc.Type, schemas.DefaultTestType),
			Environment:   orDefault(tc.Environment, "Testing"),
			Preconditions: pre,
			Expected:      oneLine(tc.ExpectedResult),
			Body:          body,
		})
	}

	var buf bytes.Buffer
	err := goTestFileTmpl.Execute(&buf, struct {
		Package string
		Tests   []goTest
	}{generatedPackage, tests})
	if err != nil {
		return File{}, err
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return File{}, fmt.Errorf("formatting generated source: %w", err)
	}
	// The trailing "_group" keeps a slug like "regression_windows" from reading as a GOOS
	// build constraint, and keeps group files apart from helpers_test.go.
	return File{Name: group.Name + "_group_test.go", Content: src}, nil
}

func goBody(ct *dsl.CompiledTest, opts Options) ([]string, error) {
	var body []string
	usesCtx := false
	add := func(label string, lines []string) {
		body = append(body, "// "+label)
		for _, l := range lines {
			if strings.Contains(l, "ctx") && !strings.HasPrefix(l, "//") {
				usesCtx = true
			}
		}
		body = append(body, lines...)
	}
	for i, a := range ct.Actions {
		rule, ok := goActions[a.Kind()]
		if !ok {
			return nil, fmt.Errorf("no chromedp rendering for action %s", a.Kind())
		}
		add(stepLabel(schemas.KindAction, i+1, sourceText(ct, schemas.KindAction, i)), rule(a, opts))
	}
	for i, a := range ct.Assertions {
		rule, ok := goAssertions[a.Kind()]
		if !ok {
			return nil, fmt.Errorf("no chromedp rendering for assertion %s", a.Kind())
		}
		add(stepLabel(schemas.KindAssertion, i+1, sourceText(ct, schemas.KindAssertion, i)), rule(a, opts))
	}
	if !usesCtx {
		body = append(body, "_ = ctx")
	}
	return body, nil
}

func (chromedpTarget) Preamble(opts Options) ([]File, error) {
	width, height := opts.ViewportWidth, opts.ViewportHeight
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	var buf bytes.Buffer
	err := goHelpersTmpl.Execute(&buf, map[string]interface{}{
		"Package":    generatedPackage,
		"Headless":   opts.Headless,
		"Width":      width,
		"Height":     height,
		"TargetAttr": quote(browser.TargetAttr),
		"FieldJS":    quote(browser.FieldResolverJS),
		"TextJS":     quote(browser.TextResolverJS),
		"SelectJS":   quote(browser.SelectOptionJS),
		"QueryJS":    quote(browser.QueryJS),
		"XPathJS":    quote(browser.MarkXPathJS),
	})
	if err != nil {
		return nil, err
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("formatting generated helpers: %w", err)
	}
	gomod := fmt.Sprintf("module testpilot/%s\n\ngo 1.23\n\nrequire github.com/chromedp/chromedp %s\n", generatedPackage, chromedpVersion)
	return []File{
		{Name: "go.mod", Content: []byte(gomod)},
		{Name: "helpers_test.go", Content: src},
	}, nil
}

func (chromedpTarget) Commands(Options) []Command {
	return []Command{
		{Name: "go", Args: []string{"mod", "tidy"}},
		{Name: "go", Args: []string{"test", "-json", "-count=1", "."}},
	}
}

type testEvent struct {
	Action  string  `json:"Action"`
	Test    string  `json:"Test"`
	Elapsed float64 `json:"Elapsed"`
}

// Summarize counts top-level test outcomes in a go test -json stream.
func (chromedpTarget) Summarize(_ string, stdout []byte) (RunSummary, error) {
	return parseTestEvents(stdout)
}

func parseTestEvents(stream []byte) (RunSummary, error) {
	var s RunSummary
	sc := bufio.NewScanner(bytes.NewReader(stream))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	events := 0
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev testEvent
		if err := jsoniter.Unmarshal(line, &ev); err != nil {
			continue
		}
		events++
		if ev.Test == "" {
			if ev.Action == "pass" || ev.Action == "fail" {
				s.Duration += ev.Elapsed
			}
			continue
		}
		if strings.Contains(ev.Test, "/") {
			continue
		}
		switch ev.Action {
		case "pass":
			s.Passed++
		case "fail":
			s.Failed++
		case "skip":
			s.Skipped++
		default:
			continue
		}
		s.Total++
	}
	if err := sc.Err(); err != nil {
		return s, fmt.Errorf("reading test events: %w", err)
	}
	if events == 0 {
		return s, fmt.Errorf("no test events in output")
	}
	s.computePassRate()
	return s, nil
}

var goTestFileTmpl = template.Must(template.New("gotest").Parse(`// Code generated by testpilot. DO NOT EDIT.

package {{.Package}}

import "testing"
{{range .Tests}}
// {{.Func}} covers test case {{.ID}}: {{.Title}}
{{- if .Description}}
//
// {{.Description}}
{{- end}}
//
// Priority: {{.Priority}}
// Type: {{.Type}}
// Environment: {{.Environment}}
func {{.Func}}(t *testing.T) {
	ctx := newPage(t)
{{- range .Preconditions}}
	// Precondition: {{.}}
{{- end}}
{{- if .Expected}}
	// Expected result: {{.Expected}}
{{- end}}
{{- range .Body}}
	{{.}}
{{- end}}
}
{{end}}`))

var goHelpersTmpl = template.Must(template.New("helpers").Parse(`// Code generated by testpilot. DO NOT EDIT.

package {{.Package}}

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	headless      = {{.Headless}}
	stepTimeout   = 10 * time.Second
	screenshotDir = "screenshots"
	targetAttr    = {{.TargetAttr}}
	targetSel     = "[" + targetAttr + "]"
)

const (
	fieldJS  = {{.FieldJS}}
	textJS   = {{.TextJS}}
	selectJS = {{.SelectJS}}
	queryJS  = {{.QueryJS}}
	xpathJS  = {{.XPathJS}}
)

func newPage(t *testing.T) context.Context {
	t.Helper()
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.WindowSize({{.Width}}, {{.Height}}))
	if !headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)
	t.Cleanup(func() {
		if t.Failed() {
			saveScreenshot(ctx, t)
		}
		cancel()
		cancelAlloc()
	})
	if err := chromedp.Run(ctx); err != nil {
		t.Fatalf("starting browser: %v", err)
	}
	return ctx
}

func run(ctx context.Context, t *testing.T, what string, actions ...chromedp.Action) {
	t.Helper()
	stepCtx, cancel := context.WithTimeout(ctx, stepTimeout)
	defer cancel()
	if err := chromedp.Run(stepCtx, actions...); err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}

func isXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(/")
}

func by(sel string) chromedp.QueryOption {
	if isXPath(sel) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

func call(fn string, args ...interface{}) string {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, _ := json.Marshal(a)
		encoded[i] = string(b)
	}
	return fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ", "))
}

func poll(ctx context.Context, t *testing.T, what, script string) {
	t.Helper()
	deadline := time.Now().Add(stepTimeout)
	for {
		var ok bool
		run(ctx, t, what, chromedp.Evaluate(script, &ok))
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s: timed out", what)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func mark(ctx context.Context, t *testing.T, script, arg string) string {
	t.Helper()
	poll(ctx, t, fmt.Sprintf("locate %q", arg), call(script, arg, targetAttr))
	return targetSel
}

func navigate(ctx context.Context, t *testing.T, url string) {
	t.Helper()
	run(ctx, t, "navigate to "+url, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
}

func click(ctx context.Context, t *testing.T, sel string) {
	t.Helper()
	run(ctx, t, "click "+sel, chromedp.Click(sel, chromedp.NodeVisible, by(sel)))
}

func clickText(ctx context.Context, t *testing.T, text string) {
	t.Helper()
	sel := mark(ctx, t, textJS, text)
	run(ctx, t, fmt.Sprintf("click %q", text), chromedp.Click(sel, chromedp.NodeVisible, chromedp.ByQuery))
}

func fill(ctx context.Context, t *testing.T, sel, value string) {
	t.Helper()
	run(ctx, t, "fill "+sel, chromedp.Clear(sel, by(sel)), chromedp.SendKeys(sel, value, by(sel)))
}

func fillField(ctx context.Context, t *testing.T, label, value string) {
	t.Helper()
	fill(ctx, t, mark(ctx, t, fieldJS, label), value)
}

func selectOption(ctx context.Context, t *testing.T, sel, option string) {
	t.Helper()
	if isXPath(sel) {
		sel = mark(ctx, t, xpathJS, sel)
	}
	var problem string
	run(ctx, t, "select in "+sel, chromedp.Evaluate(call(selectJS, sel, option), &problem))
	if problem != "" {
		t.Fatalf("select %q in %s: %s", option, sel, problem)
	}
}

func selectField(ctx context.Context, t *testing.T, label, option string) {
	t.Helper()
	selectOption(ctx, t, mark(ctx, t, fieldJS, label), option)
}

func wait(ctx context.Context, t *testing.T, ms int64) {
	t.Helper()
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
	case <-ctx.Done():
		t.Fatalf("wait interrupted: %v", ctx.Err())
	}
}

func assertElement(ctx context.Context, t *testing.T, sel string, visible bool) {
	t.Helper()
	what := "element " + sel + " exists"
	if visible {
		what = "element " + sel + " is visible"
	}
	poll(ctx, t, what, call(queryJS, sel, isXPath(sel), visible))
}

func norm(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func assertText(ctx context.Context, t *testing.T, sel, want string, exact bool) {
	t.Helper()
	var got string
	run(ctx, t, "read text of "+sel, chromedp.Text(sel, &got, chromedp.NodeVisible, by(sel)))
	got, want = norm(got), norm(want)
	if exact && got != want {
		t.Fatalf("text of %s: want %q, got %q", sel, want, got)
	}
	if !exact && !strings.Contains(got, want) {
		t.Fatalf("text of %s: %q does not contain %q", sel, got, want)
	}
}

func assertTitle(ctx context.Context, t *testing.T, want string, exact bool) {
	t.Helper()
	var got string
	run(ctx, t, "read title", chromedp.Title(&got))
	if exact && got != want {
		t.Fatalf("title: want %q, got %q", want, got)
	}
	if !exact && !strings.Contains(got, want) {
		t.Fatalf("title: %q does not contain %q", got, want)
	}
}

func assertURL(ctx context.Context, t *testing.T, want, resolved string, exact bool) {
	t.Helper()
	var got string
	run(ctx, t, "read URL", chromedp.Location(&got))
	if exact && got != want && got != resolved {
		t.Fatalf("URL: want %q, got %q", want, got)
	}
	if !exact && !strings.Contains(got, want) {
		t.Fatalf("URL: %q does not contain %q", got, want)
	}
}

func saveScreenshot(ctx context.Context, t *testing.T) {
	shotCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var png []byte
	if err := chromedp.Run(shotCtx, chromedp.FullScreenshot(&png, 100)); err != nil {
		t.Logf("failed to take screenshot: %v", err)
		return
	}
	name := fmt.Sprintf("%s_failure_%s.png", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().Format("20060102_150405"))
	if err := os.MkdirAll(screenshotDir, 0o755); err == nil {
		_ = os.WriteFile(filepath.Join(screenshotDir, name), png, 0o644)
	}
}
`))
