// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext derives a context from session, which carries the chromedp target, that is
// also cancelled when op is done and inherits op's deadline if it is earlier. Operations get
// the caller's step timeout and cancellation without losing the CDP values.
func CombineContext(session, op context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(session)
	var cancelDeadline context.CancelFunc = func() {}
	if d, ok := op.Deadline(); ok {
		if sd, sok := session.Deadline(); !sok || d.Before(sd) {
			ctx, cancelDeadline = context.WithDeadline(ctx, d)
		}
	}
	stop := context.AfterFunc(op, cancel)
	return ctx, func() {
		stop()
		cancelDeadline()
		cancel()
	}
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context carrying ctx's values but none of its cancellation. Cleanup such as
// disposing a browser context must still run after the test's context is cancelled.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
