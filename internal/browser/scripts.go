// internal/browser/scripts.go
package browser

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// targetAttr marks the element a field or text lookup resolved to, so the follow-up action can
// address it with a plain CSS selector.
const targetAttr = "data-testpilot-target"

// jsCall renders an immediately invoked function with JSON-encoded arguments.
func jsCall(fn string, args ...interface{}) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encoding script argument %d: %w", i, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf("(%s)(%s)", fn, strings.Join(encoded, ", ")), nil
}

// resolveFieldJS finds a form control by id, name, placeholder, aria-label, label text or
// visible text, in that order, and tags it with the target attribute. Returns false on no match.
const resolveFieldJS = `function(name, attr) {
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	const want = norm(name);
	const controls = 'input:not([type=hidden]), textarea, select, [contenteditable=""], [contenteditable="true"]';
	document.querySelectorAll('[' + attr + ']').forEach((el) => el.removeAttribute(attr));
	const all = Array.from(document.querySelectorAll(controls));
	const byAttr = (a) => all.find((el) => norm(el.getAttribute(a)) === want);
	let el = null;
	const byId = document.getElementById(name);
	if (byId && byId.matches(controls)) el = byId;
	el = el || byAttr('name') || byAttr('placeholder') || byAttr('aria-label');
	if (!el) {
		const label = Array.from(document.querySelectorAll('label')).find((l) => norm(l.textContent) === want)
			|| Array.from(document.querySelectorAll('label')).find((l) => norm(l.textContent).includes(want));
		if (label) {
			el = label.control || (label.htmlFor && document.getElementById(label.htmlFor)) || label.querySelector(controls);
		}
	}
	if (!el) {
		el = all.find((c) => norm(c.innerText || c.value) === want);
	}
	if (!el) return false;
	el.setAttribute(attr, '1');
	return true;
}`

// resolveTextJS tags the innermost visible element whose text equals the wanted text, falling
// back to the innermost one that contains it. Clickable elements win over plain ones.
const resolveTextJS = `function(text, attr) {
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	const want = norm(text);
	document.querySelectorAll('[' + attr + ']').forEach((el) => el.removeAttribute(attr));
	const visible = (el) => {
		const r = el.getBoundingClientRect();
		const s = getComputedStyle(el);
		return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none';
	};
	const clickable = 'a, button, [role=button], [role=link], [role=menuitem], [role=tab], input[type=button], input[type=submit], summary, label, [onclick]';
	const textOf = (el) => norm(el.matches('input') ? el.value : el.innerText);
	const nodes = Array.from(document.body ? document.body.querySelectorAll('*') : []).filter(visible);
	const innermost = (list) => list.filter((el) => !list.some((o) => o !== el && el.contains(o)));
	const pick = (pred) => {
		const hits = nodes.filter(pred);
		if (!hits.length) return null;
		const click = hits.filter((el) => el.matches(clickable));
		return innermost(click.length ? click : hits)[0] || null;
	};
	const el = pick((el) => textOf(el) === want) || pick((el) => textOf(el).includes(want));
	if (!el) return false;
	el.setAttribute(attr, '1');
	return true;
}`

// selectOptionJS picks the option whose label or value matches and fires the events a user
// selection would.
const selectOptionJS = `function(sel, option) {
	const el = document.querySelector(sel);
	if (!el || el.tagName !== 'SELECT') return 'not a select element';
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
	const want = norm(option);
	const opt = Array.from(el.options).find((o) => norm(o.textContent) === want || norm(o.value) === want);
	if (!opt) return 'no option ' + JSON.stringify(option);
	el.value = opt.value;
	el.dispatchEvent(new Event('input', { bubbles: true }));
	el.dispatchEvent(new Event('change', { bubbles: true }));
	return '';
}`

// queryJS reports existence, or visibility when visible is set, of a CSS or XPath match.
const queryJS = `function(sel, xpath, visible) {
	const el = xpath
		? document.evaluate(sel, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue
		: document.querySelector(sel);
	if (!el) return false;
	if (!visible) return true;
	if (el.nodeType !== Node.ELEMENT_NODE) return false;
	const r = el.getBoundingClientRect();
	const s = getComputedStyle(el);
	return r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none' && s.opacity !== '0';
}`

// performanceJS reads navigation and paint timings relative to navigation start.
const performanceJS = `function() {
	const nav = performance.getEntriesByType('navigation')[0];
	const paint = {};
	performance.getEntriesByType('paint').forEach((p) => { paint[p.name] = p.startTime; });
	return {
		load_time: nav ? Math.max(0, nav.loadEventEnd - nav.startTime) : 0,
		dom_ready: nav ? Math.max(0, nav.domContentLoadedEventEnd - nav.startTime) : 0,
		first_paint: paint['first-paint'] || 0,
		first_contentful_paint: paint['first-contentful-paint'] || 0,
		memory_usage: (performance.memory && performance.memory.usedJSHeapSize) || 0,
	};
}`

// markXPathJS tags the first node matching an XPath expression.
const markXPathJS = `function(xpath, attr) {
	document.querySelectorAll('[' + attr + ']').forEach((el) => el.removeAttribute(attr));
	const el = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el || el.nodeType !== Node.ELEMENT_NODE) return false;
	el.setAttribute(attr, '1');
	return true;
}`

// Exported for generated chromedp and pytest suites, which resolve fields and text targets with
// the same scripts as live runs.
const (
	TargetAttr      = targetAttr
	FieldResolverJS = resolveFieldJS
	TextResolverJS  = resolveTextJS
	SelectOptionJS  = selectOptionJS
	QueryJS         = queryJS
	MarkXPathJS     = markXPathJS
)
