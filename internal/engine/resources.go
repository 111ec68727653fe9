// internal/engine/resources.go
package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/internal/browser"
)

// chromeBrowser adapts a browser instance to the engine's Browser contract.
type chromeBrowser struct {
	inst *browser.Instance
}

func (c chromeBrowser) NewPage(ctx context.Context, sink browser.LogSink) (Page, error) {
	s, err := c.inst.NewSession(ctx, sink)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewBrowserPool pools launched browser instances for the scheduler.
func NewBrowserPool(instances []*browser.Instance, logger *zap.Logger) (*browser.Pool[Browser], error) {
	resources := make([]Browser, len(instances))
	for i, inst := range instances {
		resources[i] = chromeBrowser{inst: inst}
	}
	return browser.NewPool(resources, logger)
}

// CloseBrowser shuts down the instance behind a pooled Browser. It is the closeFn for
// Pool.Close.
func CloseBrowser(b Browser) error {
	if c, ok := b.(chromeBrowser); ok {
		return c.inst.Close()
	}
	return nil
}
