// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/dsl"
	"github.com/xkilldash9x/testpilot/internal/failure"
)

const pollInterval = 100 * time.Millisecond

var targetSelector = "[" + targetAttr + "]"

// Session is one tab in its own browser context. A session serves exactly one test.
type Session struct {
	id       string
	instance *Instance
	logger   *zap.Logger

	ctx              context.Context
	cancel           context.CancelFunc
	browserContextID cdp.BrowserContextID
	harvester        *Harvester

	closeOnce sync.Once
}

func newSession(inst *Instance, ctx context.Context, cancel context.CancelFunc, bcID cdp.BrowserContextID, sink LogSink) *Session {
	id := uuid.New().String()
	logger := inst.logger.With(zap.String("session_id", id))
	return &Session{
		id:               id,
		instance:         inst,
		logger:           logger,
		ctx:              ctx,
		cancel:           cancel,
		browserContextID: bcID,
		harvester:        NewHarvester(ctx, logger, sink),
	}
}

// initialize attaches to the tab, applies the viewport and starts event harvesting.
func (s *Session) initialize(ctx context.Context) error {
	cfg := s.instance.cfg
	var actions []chromedp.Action
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		actions = append(actions,
			emulation.SetDeviceMetricsOverride(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight), 1, false))
	}

	// Attaching happens on the first Run against the tab context, which must outlive ctx.
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(s.ctx, actions...) }()
	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("attaching to tab: %w", err)
		}
	case <-ctx.Done():
		s.cancel()
		<-errc
		return ctx.Err()
	}

	if err := s.harvester.Start(); err != nil {
		return err
	}
	if cfg.DisableCache {
		if err := chromedp.Run(s.ctx, network.SetCacheDisabled(true)); err != nil {
			return fmt.Errorf("disabling cache: %w", err)
		}
	}
	s.logger.Debug("Session initialized.")
	return nil
}

// ID is a random identifier for log correlation.
func (s *Session) ID() string {
	return s.id
}

// Close closes the tab and disposes its browser context. It is safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.harvester.Stop()
		s.cancel()
		s.instance.disposeBrowserContext(s.browserContextID)
		s.instance.sessionClosed()
		s.logger.Debug("Session closed.")
	})
	return nil
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// notFound turns a query that ran out of time into ErrElementNotFound. Cancellation passes through.
func notFound(ctx context.Context, selector string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", failure.ErrElementNotFound, selector)
	}
	return err
}

func queryBy(selector string) chromedp.QueryOption {
	if dsl.IsXPath(selector) {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// poll evaluates expr until it returns true. A deadline yields (false, nil); cancellation is
// returned as an error.
func (s *Session) poll(ctx context.Context, expr string) (bool, error) {
	opCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		var ok bool
		err := chromedp.Run(opCtx, chromedp.Evaluate(expr, &ok))
		if err != nil && opCtx.Err() == nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		select {
		case <-opCtx.Done():
			if ctx.Err() == context.Canceled || s.ctx.Err() != nil {
				return false, context.Canceled
			}
			return false, nil
		case <-ticker.C:
		}
	}
}

// resolveField returns a CSS selector for a field given as a selector or a human name.
func (s *Session) resolveField(ctx context.Context, field string) (string, error) {
	if dsl.LooksLikeSelector(field) && !dsl.IsXPath(field) {
		return field, nil
	}
	fn := resolveFieldJS
	if dsl.IsXPath(field) {
		fn = markXPathJS
	}
	expr, err := jsCall(fn, field, targetAttr)
	if err != nil {
		return "", err
	}
	ok, err := s.poll(ctx, expr)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %q", failure.ErrElementNotFound, field)
	}
	return targetSelector, nil
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery))
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// Click clicks the first visible element matching a CSS or XPath selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	err := s.run(ctx, chromedp.Click(selector, queryBy(selector), chromedp.NodeVisible))
	return notFound(ctx, selector, err)
}

// ClickText clicks the element whose visible text matches text.
func (s *Session) ClickText(ctx context.Context, text string) error {
	expr, err := jsCall(resolveTextJS, text, targetAttr)
	if err != nil {
		return err
	}
	ok, err := s.poll(ctx, expr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: text %q", failure.ErrElementNotFound, text)
	}
	err = s.run(ctx, chromedp.Click(targetSelector, chromedp.ByQuery, chromedp.NodeVisible))
	return notFound(ctx, text, err)
}

// Fill replaces the value of a field with value.
func (s *Session) Fill(ctx context.Context, field, value string) error {
	sel, err := s.resolveField(ctx, field)
	if err != nil {
		return err
	}
	err = s.run(ctx,
		chromedp.Clear(sel, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.SendKeys(sel, value, chromedp.ByQuery, chromedp.NodeVisible),
	)
	return notFound(ctx, field, err)
}

// Select chooses the option with a matching label or value in a select element.
func (s *Session) Select(ctx context.Context, field, option string) error {
	sel, err := s.resolveField(ctx, field)
	if err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.WaitReady(sel, chromedp.ByQuery)); err != nil {
		return notFound(ctx, field, err)
	}
	expr, err := jsCall(selectOptionJS, sel, option)
	if err != nil {
		return err
	}
	var problem string
	if err := s.run(ctx, chromedp.Evaluate(expr, &problem)); err != nil {
		return err
	}
	if problem != "" {
		return fmt.Errorf("selecting %q in %s: %s", option, field, problem)
	}
	return nil
}

func (s *Session) query(ctx context.Context, selector string, visible bool) (bool, error) {
	expr, err := jsCall(queryJS, selector, dsl.IsXPath(selector), visible)
	if err != nil {
		return false, err
	}
	return s.poll(ctx, expr)
}

// ElementExists waits for a match of selector until ctx's deadline.
func (s *Session) ElementExists(ctx context.Context, selector string) (bool, error) {
	return s.query(ctx, selector, false)
}

// ElementVisible waits for a visible match of selector until ctx's deadline.
func (s *Session) ElementVisible(ctx context.Context, selector string) (bool, error) {
	return s.query(ctx, selector, true)
}

// TextContent returns the rendered text of the first match of selector.
func (s *Session) TextContent(ctx context.Context, selector string) (string, error) {
	var text string
	err := s.run(ctx, chromedp.Text(selector, &text, queryBy(selector)))
	if err != nil {
		return "", notFound(ctx, selector, err)
	}
	return text, nil
}

// Title returns document.title.
func (s *Session) Title(ctx context.Context) (string, error) {
	var title string
	if err := s.run(ctx, chromedp.Title(&title)); err != nil {
		return "", err
	}
	return title, nil
}

// URL returns the current location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Screenshot captures the full page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}
	return buf, nil
}

// PerformanceMetrics samples navigation and paint timings from the current page.
func (s *Session) PerformanceMetrics(ctx context.Context) (*schemas.PerformanceMetrics, error) {
	expr, err := jsCall(performanceJS)
	if err != nil {
		return nil, err
	}
	var m schemas.PerformanceMetrics
	if err := s.run(ctx, chromedp.Evaluate(expr, &m)); err != nil {
		return nil, fmt.Errorf("reading performance timings: %w", err)
	}
	return &m, nil
}
