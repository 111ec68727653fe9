// internal/browser/instance.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/testpilot/internal/config"
	"github.com/xkilldash9x/testpilot/internal/failure"
)

const (
	defaultLaunchTimeout = 60 * time.Second
	shutdownTimeout      = 15 * time.Second
)

// Instance is one browser process. It hands out isolated sessions, each in its own browser
// context, so cookies and storage never leak between tests sharing the process.
type Instance struct {
	id     int
	logger *zap.Logger
	cfg    config.BrowserConfig

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	limiter *rate.Limiter
	// creationLock serializes context creation; concurrent CreateBrowserContext calls on one
	// connection are prone to racing target attachment.
	creationLock sync.Mutex

	mu       sync.Mutex
	sessions int
	closed   bool
}

// ExecOptions builds the allocator options for a browser process from configuration.
func ExecOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("enable-automation", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-popup-blocking", true),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(arg, true))
		}
	}
	return opts
}

// Launch starts a browser process. The process lives until Close or until parent is cancelled.
func Launch(parent context.Context, id int, cfg config.BrowserConfig, logger *zap.Logger) (*Instance, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, ExecOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	timeout := cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}

	// The first Run allocates the browser and ties it to browserCtx, so it must not carry
	// a deadline of its own. The timeout is enforced from outside instead.
	errc := make(chan error, 1)
	go func() { errc <- chromedp.Run(browserCtx) }()

	select {
	case err := <-errc:
		if err != nil {
			browserCancel()
			allocCancel()
			return nil, failure.New(failure.Resource, "browser launch failed", err)
		}
	case <-time.After(timeout):
		browserCancel()
		allocCancel()
		<-errc
		return nil, failure.New(failure.Resource, "browser launch timed out", fmt.Errorf("no browser after %s", timeout))
	}

	limit := rate.Inf
	if cfg.ContextRate > 0 {
		limit = rate.Limit(cfg.ContextRate)
	}
	burst := cfg.ContextBurst
	if burst <= 0 {
		burst = 1
	}

	inst := &Instance{
		id:            id,
		logger:        logger.Named("browser").With(zap.Int("instance", id)),
		cfg:           cfg,
		allocCtx:      allocCtx,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		limiter:       rate.NewLimiter(limit, burst),
	}
	inst.logger.Info("Browser instance launched.", zap.Bool("headless", cfg.Headless))
	return inst, nil
}

// LaunchAll starts n browser processes concurrently. If any launch fails, the ones that
// started are closed again.
func LaunchAll(ctx context.Context, n int, cfg config.BrowserConfig, logger *zap.Logger) ([]*Instance, error) {
	if n <= 0 {
		return nil, errors.New("browser pool size must be positive")
	}
	instances := make([]*Instance, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			inst, err := Launch(ctx, i, cfg, logger)
			if err != nil {
				return fmt.Errorf("launching browser %d: %w", i, err)
			}
			instances[i] = inst
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		for _, inst := range instances {
			if inst != nil {
				inst.Close()
			}
		}
		return nil, err
	}
	return instances, nil
}

// ID is the instance's position in the pool.
func (i *Instance) ID() int {
	return i.id
}

// ActiveSessions is the number of sessions opened and not yet closed.
func (i *Instance) ActiveSessions() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sessions
}

// controllerContext targets browser-level CDP commands at the browser rather than a tab.
func (i *Instance) controllerContext() context.Context {
	c := chromedp.FromContext(i.browserCtx)
	if c == nil || c.Browser == nil {
		return i.browserCtx
	}
	return cdp.WithExecutor(i.browserCtx, c.Browser)
}

// NewSession opens an isolated browser context with one blank tab and starts forwarding its
// events to sink. Context creation is rate limited per instance.
func (i *Instance) NewSession(ctx context.Context, sink LogSink) (*Session, error) {
	i.mu.Lock()
	closed := i.closed
	i.mu.Unlock()
	if closed {
		return nil, failure.New(failure.Resource, "browser instance closed", failure.ErrPoolClosed)
	}

	if err := i.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting to create browser context: %w", err)
	}

	browserContextID, targetID, err := i.createTarget(ctx)
	if err != nil {
		return nil, failure.New(failure.Resource, "browser context creation failed", err)
	}

	tabCtx, tabCancel := chromedp.NewContext(i.browserCtx, chromedp.WithTargetID(targetID))
	s := newSession(i, tabCtx, tabCancel, browserContextID, sink)

	if err := s.initialize(ctx); err != nil {
		s.Close(Detach(ctx))
		return nil, failure.New(failure.Resource, "session initialization failed", err)
	}

	i.mu.Lock()
	i.sessions++
	i.mu.Unlock()
	return s, nil
}

func (i *Instance) createTarget(ctx context.Context) (cdp.BrowserContextID, target.ID, error) {
	i.creationLock.Lock()
	defer i.creationLock.Unlock()

	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	controller, cancel := CombineContext(i.controllerContext(), ctx)
	defer cancel()

	browserContextID, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(controller)
	if err != nil {
		return "", "", fmt.Errorf("creating browser context: %w", err)
	}
	targetID, err := target.CreateTarget("about:blank").WithBrowserContextID(browserContextID).Do(controller)
	if err != nil {
		i.disposeBrowserContext(browserContextID)
		return "", "", fmt.Errorf("creating target: %w", err)
	}
	return browserContextID, targetID, nil
}

func (i *Instance) disposeBrowserContext(id cdp.BrowserContextID) {
	if i.browserCtx.Err() != nil || id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(i.controllerContext(), 10*time.Second)
	defer cancel()
	if err := target.DisposeBrowserContext(id).Do(ctx); err != nil {
		i.logger.Warn("Failed to dispose browser context. It may be orphaned.",
			zap.String("browser_context_id", string(id)), zap.Error(err))
	}
}

func (i *Instance) sessionClosed() {
	i.mu.Lock()
	if i.sessions > 0 {
		i.sessions--
	}
	i.mu.Unlock()
}

// Close shuts the browser process down, waiting up to a grace period for it to exit.
func (i *Instance) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- chromedp.Cancel(i.browserCtx) }()

	var err error
	select {
	case err = <-done:
		if errors.Is(err, context.Canceled) {
			err = nil
		}
	case <-time.After(shutdownTimeout):
		err = fmt.Errorf("browser %d did not exit within %s", i.id, shutdownTimeout)
	}
	i.browserCancel()
	i.allocCancel()
	i.logger.Debug("Browser instance closed.")
	return err
}
