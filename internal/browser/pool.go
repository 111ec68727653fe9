// internal/browser/pool.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/testpilot/internal/failure"
)

type slot[R any] struct {
	index    int
	resource R
	busy     bool
	leases   int64
}

// Pool is a fixed set of resources handed out one lease at a time. A weighted semaphore sized to
// the pool gates Acquire, so a caller blocks until a resource is free rather than polling. Under
// the mutex, the free resource with the fewest past leases is picked, with ties broken
// round-robin from the slot after the last one handed out.
type Pool[R any] struct {
	logger *zap.Logger
	sem    *semaphore.Weighted

	mu     sync.Mutex
	slots  []*slot[R]
	cursor int
	inUse  int
	closed bool
}

// Lease is exclusive use of one pooled resource until Release.
type Lease[R any] struct {
	pool *Pool[R]
	slot *slot[R]
	// Waited is how long Acquire blocked before the lease was granted.
	Waited time.Duration
	once   sync.Once
}

// NewPool creates a pool over resources. The pool does not own their lifecycle until Close.
func NewPool[R any](resources []R, logger *zap.Logger) (*Pool[R], error) {
	if len(resources) == 0 {
		return nil, errors.New("resource pool needs at least one resource")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	slots := make([]*slot[R], len(resources))
	for i, r := range resources {
		slots[i] = &slot[R]{index: i, resource: r}
	}
	return &Pool[R]{
		logger: logger.Named("pool"),
		sem:    semaphore.NewWeighted(int64(len(resources))),
		slots:  slots,
	}, nil
}

// Size is the number of pooled resources.
func (p *Pool[R]) Size() int {
	return len(p.slots)
}

// InUse is the number of resources currently leased.
func (p *Pool[R]) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// LeaseCounts returns how many times each resource has been leased, by pool index.
func (p *Pool[R]) LeaseCounts() []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make([]int64, len(p.slots))
	for i, s := range p.slots {
		counts[i] = s.leases
	}
	return counts
}

// Acquire blocks until a resource is free, ctx is done, or timeout elapses. A timeout yields a
// Resource failure with reason ResourceTimeout; cancellation of ctx is returned as ctx.Err().
// A non-positive timeout waits on ctx alone.
func (p *Pool[R]) Acquire(ctx context.Context, timeout time.Duration) (*Lease[R], error) {
	start := time.Now()
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.New(failure.Resource, failure.ReasonResourceTimeout,
			fmt.Errorf("%w after %s", failure.ErrResourceTimeout, timeout))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.sem.Release(1)
		return nil, failure.New(failure.Resource, "", failure.ErrPoolClosed)
	}
	s := p.pickLocked()
	if s == nil {
		// The semaphore admits at most len(slots) holders, so a free slot must exist.
		p.sem.Release(1)
		return nil, failure.New(failure.Resource, "", errors.New("no free resource despite semaphore admission"))
	}
	s.busy = true
	s.leases++
	p.inUse++
	p.cursor = (s.index + 1) % len(p.slots)

	return &Lease[R]{pool: p, slot: s, Waited: time.Since(start)}, nil
}

func (p *Pool[R]) pickLocked() *slot[R] {
	var best *slot[R]
	n := len(p.slots)
	for i := 0; i < n; i++ {
		s := p.slots[(p.cursor+i)%n]
		if s.busy {
			continue
		}
		if best == nil || s.leases < best.leases {
			best = s
		}
	}
	return best
}

// Resource is the leased resource.
func (l *Lease[R]) Resource() R {
	return l.slot.resource
}

// Index is the pool position of the leased resource.
func (l *Lease[R]) Index() int {
	return l.slot.index
}

// Release returns the resource to the pool. Calling it more than once is a no-op.
func (l *Lease[R]) Release() {
	l.once.Do(func() {
		p := l.pool
		p.mu.Lock()
		l.slot.busy = false
		p.inUse--
		p.mu.Unlock()
		p.sem.Release(1)
	})
}

// Close stops new leases, waits for outstanding ones until ctx is done, then calls closeFn on
// every resource. Errors from closeFn are joined.
func (p *Pool[R]) Close(ctx context.Context, closeFn func(R) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	drained := true
	if err := p.sem.Acquire(ctx, int64(len(p.slots))); err != nil {
		drained = false
		p.logger.Warn("Closing pool with resources still leased.", zap.Int("in_use", p.InUse()), zap.Error(err))
	}

	var errs []error
	if closeFn != nil {
		for _, s := range p.slots {
			if err := closeFn(s.resource); err != nil {
				errs = append(errs, fmt.Errorf("closing resource %d: %w", s.index, err))
			}
		}
	}
	if drained {
		p.sem.Release(int64(len(p.slots)))
	}
	return errors.Join(errs...)
}
