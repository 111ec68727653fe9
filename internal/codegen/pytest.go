package codegen

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/browser"
	"github.com/xkilldash9x/testpilot/internal/dsl"
	"github.com/xkilldash9x/testpilot/internal/interpreter"
)

const (
	pytestTargetName = "pytest"
	pytestReportFile = "pytest_report.json"
)

// pytestTarget renders async Playwright tests for pytest.
type pytestTarget struct{}

func (pytestTarget) Name() string { return pytestTargetName }

type pyActionRule func(a dsl.Action, opts Options) []string

type pyAssertionRule func(a dsl.Assertion, opts Options) []string

// pyActions maps every action variant to its Playwright snippet.
var pyActions = map[dsl.ActionKind]pyActionRule{
	dsl.ActNavigate: func(a dsl.Action, opts Options) []string {
		nav := a.(dsl.Navigate)
		return []string{
			fmt.Sprintf("await page.goto(%s)", quote(interpreter.ResolveURL(opts.BaseURL, nav.URL))),
			"await wait_for_page_load(page)",
		}
	},
	dsl.ActClick: func(a dsl.Action, _ Options) []string {
		c := a.(dsl.Click)
		if c.Selector != "" {
			return []string{fmt.Sprintf("await safe_click(page, %s)", quote(c.Selector))}
		}
		return []string{fmt.Sprintf("await click_text(page, %s)", quote(c.Text))}
	},
	dsl.ActFill: func(a dsl.Action, _ Options) []string {
		f := a.(dsl.Fill)
		if dsl.LooksLikeSelector(f.Selector) {
			return []string{fmt.Sprintf("await safe_fill(page, %s, %s)", quote(f.Selector), quote(f.Value))}
		}
		return []string{fmt.Sprintf("await fill_field(page, %s, %s)", quote(f.Selector), quote(f.Value))}
	},
	dsl.ActSelect: func(a dsl.Action, _ Options) []string {
		s := a.(dsl.Select)
		if dsl.LooksLikeSelector(s.Selector) {
			return []string{fmt.Sprintf("await safe_select(page, %s, %s)", quote(s.Selector), quote(s.Option))}
		}
		return []string{fmt.Sprintf("await select_field(page, %s, %s)", quote(s.Selector), quote(s.Option))}
	},
	dsl.ActWait: func(a dsl.Action, _ Options) []string {
		return []string{fmt.Sprintf("await page.wait_for_timeout(%d)", a.(dsl.Wait).DurationMs)}
	},
	dsl.ActVerify: func(a dsl.Action, _ Options) []string {
		return []string{"# Verification step, checked by the assertions below: " + oneLine(a.(dsl.Verify).Text)}
	},
	dsl.ActUnresolved: func(a dsl.Action, _ Options) []string {
		return []string{
			"# UNRESOLVED: no rule could compile " + quote(oneLine(a.(dsl.UnresolvedAction).Raw)),
			"pass  # placeholder, implement by hand",
		}
	},
}

// pyAssertions maps every assertion variant to its Playwright snippet.
var pyAssertions = map[dsl.AssertionKind]pyAssertionRule{
	dsl.AssertElementExists: func(a dsl.Assertion, _ Options) []string {
		return []string{fmt.Sprintf("await assert_element_exists(page, %s)", quote(a.(dsl.ElementExists).Selector))}
	},
	dsl.AssertElementVisible: func(a dsl.Assertion, _ Options) []string {
		return []string{fmt.Sprintf("await assert_element_visible(page, %s)", quote(a.(dsl.ElementVisible).Selector))}
	},
	dsl.AssertTextEquals: func(a dsl.Assertion, _ Options) []string {
		t := a.(dsl.TextEquals)
		return []string{fmt.Sprintf("await assert_text_content(page, %s, %s, exact=True)", quote(t.Selector), quote(t.Text))}
	},
	dsl.AssertTextContains: func(a dsl.Assertion, _ Options) []string {
		t := a.(dsl.TextContains)
		return []string{fmt.Sprintf("await assert_text_content(page, %s, %s)", quote(t.Selector), quote(t.Text))}
	},
	dsl.AssertTitleEquals: func(a dsl.Assertion, _ Options) []string {
		return []string{fmt.Sprintf("await assert_title(page, %s, exact=True)", quote(a.(dsl.TitleEquals).Text))}
	},
	dsl.AssertTitleContains: func(a dsl.Assertion, _ Options) []string {
		return []string{fmt.Sprintf("await assert_title(page, %s)", quote(a.(dsl.TitleContains).Text))}
	},
	dsl.AssertURLEquals: func(a dsl.Assertion, opts Options) []string {
		want := a.(dsl.URLEquals).Text
		return []string{fmt.Sprintf("assert_url(page, %s, %s, exact=True)", quote(want), quote(interpreter.ResolveURL(opts.BaseURL, want)))}
	},
	dsl.AssertURLContains: func(a dsl.Assertion, _ Options) []string {
		want := a.(dsl.URLContains).Text
		return []string{fmt.Sprintf("assert_url(page, %s, %s)", quote(want), quote(want))}
	},
	dsl.AssertUnresolved: func(a dsl.Assertion, _ Options) []string {
		return []string{
			"# UNRESOLVED: no rule could compile " + quote(oneLine(a.(dsl.UnresolvedAssertion).Raw)),
			"pass  # placeholder, implement by hand",
		}
	},
}

type pyTest struct {
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

func (pytestTarget) Render(group Group, opts Options) (File, error) {
	names := nameSet{}
	tests := make([]pyTest, 0, len(group.Tests))
	for _, ct := range group.Tests {
		tc := ct.TestCase
		body, err := pyBody(ct, opts)
		if err != nil {
			return File{}, fmt.Errorf("test case %d: %w", tc.ID, err)
		}
		var pre []string
		for _, line := range strings.Split(tc.Preconditions, "\n") {
			if line = oneLine(line); line != "" {
				pre = append(pre, line)
			}
		}
		tests = append(tests, pyTest{
			Func:          names.unique(pyFuncName(tc)),
			ID:            tc.ID,
			Title:         pyDoc(oneLine(tc.Title)),
			Description:   pyDoc(oneLine(tc.Description)),
			Priority:      pyDoc(orDefault(tc.Priority, "Medium")),
			Type:          pyDoc(orDefault(tc.Type, schemas.DefaultTestType)),
			Environment:   pyDoc(orDefault(tc.Environment, "Testing")),
			Preconditions: pre,
			Expected:      oneLine(tc.ExpectedResult),
			Body:          body,
		})
	}

	var buf bytes.Buffer
	err := pyTestFileTmpl.Execute(&buf, struct {
		Group string
		Tests []pyTest
	}{group.Name, tests})
	if err != nil {
		return File{}, err
	}
	return File{Name: "test_" + group.Name + ".py", Content: buf.Bytes()}, nil
}

func pyBody(ct *dsl.CompiledTest, opts Options) ([]string, error) {
	var body []string
	for i, a := range ct.Actions {
		rule, ok := pyActions[a.Kind()]
		if !ok {
			return nil, fmt.Errorf("no pytest rendering for action %s", a.Kind())
		}
		body = append(body, "# "+stepLabel(schemas.KindAction, i+1, sourceText(ct, schemas.KindAction, i)))
		body = append(body, rule(a, opts)...)
	}
	for i, a := range ct.Assertions {
		rule, ok := pyAssertions[a.Kind()]
		if !ok {
			return nil, fmt.Errorf("no pytest rendering for assertion %s", a.Kind())
		}
		body = append(body, "# "+stepLabel(schemas.KindAssertion, i+1, sourceText(ct, schemas.KindAssertion, i)))
		body = append(body, rule(a, opts)...)
	}
	return body, nil
}

func (pytestTarget) Preamble(opts Options) ([]File, error) {
	width, height := opts.ViewportWidth, opts.ViewportHeight
	if width <= 0 || height <= 0 {
		width, height = 1920, 1080
	}
	var buf bytes.Buffer
	err := conftestTmpl.Execute(&buf, map[string]interface{}{
		"BaseURL":    quote(opts.BaseURL),
		"Headless":   pyBool(opts.Headless),
		"Width":      width,
		"Height":     height,
		"TargetAttr": quote(browser.TargetAttr),
		"FieldJS":    browser.FieldResolverJS,
		"TextJS":     browser.TextResolverJS,
		"SelectJS":   browser.SelectOptionJS,
		"QueryJS":    browser.QueryJS,
	})
	if err != nil {
		return nil, err
	}
	return []File{
		{Name: "conftest.py", Content: buf.Bytes()},
		{Name: "requirements.txt", Content: []byte(pytestRequirements)},
	}, nil
}

func (pytestTarget) Commands(opts Options) []Command {
	python := orDefault(opts.Python, "python")
	return []Command{{
		Name: python,
		Args: []string{"-m", "pytest", "--tb=short", "-v", "--json-report", "--json-report-file=" + pytestReportFile},
	}}
}

type pytestReport struct {
	Duration float64 `json:"duration"`
	Summary  struct {
		Total   int `json:"total"`
		Passed  int `json:"passed"`
		Failed  int `json:"failed"`
		Skipped int `json:"skipped"`
		Error   int `json:"error"`
	} `json:"summary"`
}

// Summarize reads the pytest-json-report file written next to the tests.
func (pytestTarget) Summarize(dir string, _ []byte) (RunSummary, error) {
	data, err := os.ReadFile(filepath.Join(dir, pytestReportFile))
	if err != nil {
		return RunSummary{}, fmt.Errorf("reading pytest report: %w", err)
	}
	return parsePytestReport(data)
}

func parsePytestReport(data []byte) (RunSummary, error) {
	var rep pytestReport
	if err := jsoniter.Unmarshal(data, &rep); err != nil {
		return RunSummary{}, fmt.Errorf("parsing pytest report: %w", err)
	}
	s := RunSummary{
		Total:    rep.Summary.Total,
		Passed:   rep.Summary.Passed,
		Failed:   rep.Summary.Failed,
		Skipped:  rep.Summary.Skipped,
		Errors:   rep.Summary.Error,
		Duration: rep.Duration,
	}
	s.computePassRate()
	return s, nil
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

const pytestRequirements = `pytest>=7.0.0
pytest-asyncio>=0.24.0
pytest-json-report>=1.5.0
pytest-timeout>=2.1.0
playwright>=1.40.0
`

var pyTestFileTmpl = template.Must(template.New("pytest").Parse(`"""
Generated pytest tests for the {{.Group}} group.
"""

import pytest
from playwright.async_api import Page

from conftest import (
    wait_for_page_load,
    safe_click,
    click_text,
    safe_fill,
    fill_field,
    safe_select,
    select_field,
    assert_element_exists,
    assert_element_visible,
    assert_text_content,
    assert_title,
    assert_url,
)
{{range .Tests}}

@pytest.mark.asyncio(loop_scope="session")
async def {{.Func}}(page: Page):
    """
    {{.Title}}
{{- if .Description}}

    {{.Description}}
{{- end}}

    Priority: {{.Priority}}
    Type: {{.Type}}
    Environment: {{.Environment}}
    """
    # Test case ID: {{.ID}}
{{- range .Preconditions}}
    # Precondition: {{.}}
{{- end}}
{{- if .Expected}}
    # Expected result: {{.Expected}}
{{- end}}
{{- range .Body}}
    {{.}}
{{- end}}
{{end}}`))

var conftestTmpl = template.Must(template.New("conftest").Parse(`"""
Shared fixtures and helpers for the generated tests.
"""

import asyncio
from datetime import datetime
from pathlib import Path

import pytest
import pytest_asyncio
from playwright.async_api import async_playwright

BASE_URL = {{.BaseURL}}
HEADLESS = {{.Headless}}
VIEWPORT = {"width": {{.Width}}, "height": {{.Height}}}
SCREENSHOT_DIR = Path("screenshots")
STEP_TIMEOUT_MS = 10000
TARGET_ATTR = {{.TargetAttr}}

FIELD_JS = r"""{{.FieldJS}}"""

TEXT_JS = r"""{{.TextJS}}"""

SELECT_JS = r"""{{.SelectJS}}"""

QUERY_JS = r"""{{.QueryJS}}"""


@pytest_asyncio.fixture(scope="session", loop_scope="session")
async def browser():
    playwright = await async_playwright().start()
    browser = await playwright.chromium.launch(headless=HEADLESS)
    yield browser
    await browser.close()
    await playwright.stop()


@pytest_asyncio.fixture(loop_scope="session")
async def page(browser, request):
    context = await browser.new_context(viewport=VIEWPORT)
    page = await context.new_page()
    yield page
    report = getattr(request.node, "rep_call", None)
    if report is not None and report.failed:
        SCREENSHOT_DIR.mkdir(parents=True, exist_ok=True)
        stamp = datetime.now().strftime("%Y%m%d_%H%M%S")
        path = SCREENSHOT_DIR / f"{request.node.name}_failure_{stamp}.png"
        try:
            await page.screenshot(path=str(path), full_page=True)
        except Exception as exc:
            print(f"Failed to take screenshot: {exc}")
    await context.close()


@pytest.hookimpl(tryfirst=True, hookwrapper=True)
def pytest_runtest_makereport(item, call):
    outcome = yield
    rep = outcome.get_result()
    setattr(item, "rep_" + rep.when, rep)


def is_xpath(selector):
    return selector.startswith("/") or selector.startswith("(/")


def _sel(selector):
    return ("xpath=" + selector) if is_xpath(selector) else selector


def _norm(text):
    return " ".join((text or "").split())


async def _poll(check, message, timeout=STEP_TIMEOUT_MS):
    deadline = asyncio.get_running_loop().time() + timeout / 1000
    while True:
        if await check():
            return
        if asyncio.get_running_loop().time() > deadline:
            raise AssertionError(message)
        await asyncio.sleep(0.1)


async def _mark(page, script, arg, what):
    async def check():
        return await page.evaluate("([a, attr]) => (" + script + ")(a, attr)", [arg, TARGET_ATTR])
    await _poll(check, f"no {what} matching {arg!r}")
    return f"[{TARGET_ATTR}]"


async def _select(page, selector, option):
    problem = await page.evaluate("([s, o]) => (" + SELECT_JS + ")(s, o)", [selector, option])
    if problem:
        raise AssertionError(problem)


async def wait_for_page_load(page, timeout=30000):
    await page.wait_for_load_state("load", timeout=timeout)


async def safe_click(page, selector, timeout=STEP_TIMEOUT_MS):
    await page.click(_sel(selector), timeout=timeout)


async def click_text(page, text, timeout=STEP_TIMEOUT_MS):
    await page.click(await _mark(page, TEXT_JS, text, "element with text"), timeout=timeout)


async def safe_fill(page, selector, value, timeout=STEP_TIMEOUT_MS):
    await page.fill(_sel(selector), value, timeout=timeout)


async def fill_field(page, label, value, timeout=STEP_TIMEOUT_MS):
    await page.fill(await _mark(page, FIELD_JS, label, "field"), value, timeout=timeout)


async def safe_select(page, selector, option):
    if is_xpath(selector):
        await page.locator(_sel(selector)).first.evaluate(
            "(el, attr) => { document.querySelectorAll('[' + attr + ']').forEach((o) => o.removeAttribute(attr)); el.setAttribute(attr, '1'); }",
            TARGET_ATTR, timeout=STEP_TIMEOUT_MS)
        selector = f"[{TARGET_ATTR}]"
    await _select(page, selector, option)


async def select_field(page, label, option):
    await _select(page, await _mark(page, FIELD_JS, label, "field"), option)


async def _query(page, selector, visible):
    return await page.evaluate(
        "([s, x, v]) => (" + QUERY_JS + ")(s, x, v)", [selector, is_xpath(selector), visible])


async def assert_element_exists(page, selector):
    async def check():
        return await _query(page, selector, False)
    await _poll(check, f"Element {selector} does not exist")


async def assert_element_visible(page, selector):
    async def check():
        return await _query(page, selector, True)
    await _poll(check, f"Element {selector} is not visible")


async def assert_text_content(page, selector, expected, exact=False):
    locator = page.locator(_sel(selector)).first
    actual = _norm(await locator.inner_text(timeout=STEP_TIMEOUT_MS))
    expected = _norm(expected)
    if exact:
        assert actual == expected, f"Expected text {expected!r}, got {actual!r}"
    else:
        assert expected in actual, f"Expected {expected!r} not found in {actual!r}"


async def assert_title(page, expected, exact=False):
    actual = await page.title()
    if exact:
        assert actual == expected, f"Expected title {expected!r}, got {actual!r}"
    else:
        assert expected in actual, f"Expected {expected!r} in title {actual!r}"


def assert_url(page, expected, resolved, exact=False):
    actual = page.url
    if exact:
        assert actual in (expected, resolved), f"Expected URL {expected!r}, got {actual!r}"
    else:
        assert expected in actual, f"Expected {expected!r} in URL {actual!r}"
`))
