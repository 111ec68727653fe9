// internal/browser/pool_test.go
package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/testpilot/internal/failure"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeResource counts concurrent holders so double acquisition is observable.
type fakeResource struct {
	id      int
	holders atomic.Int32
	maxSeen atomic.Int32
	closed  atomic.Bool
}

func (f *fakeResource) enter() {
	n := f.holders.Add(1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			return
		}
	}
}

func (f *fakeResource) exit() { f.holders.Add(-1) }

func newFakes(n int) []*fakeResource {
	out := make([]*fakeResource, n)
	for i := range out {
		out[i] = &fakeResource{id: i}
	}
	return out
}

func TestNewPool_RequiresResources(t *testing.T) {
	_, err := NewPool[*fakeResource](nil, nil)
	assert.Error(t, err)
}

func TestPool_NoDoubleAcquire(t *testing.T) {
	fakes := newFakes(3)
	pool, err := NewPool(fakes, zaptest.NewLogger(t))
	require.NoError(t, err)

	var running, maxRunning atomic.Int32
	var completed atomic.Int32

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(3)
	for i := 0; i < 10; i++ {
		g.Go(func() error {
			lease, err := pool.Acquire(ctx, 5*time.Second)
			if err != nil {
				return err
			}
			defer lease.Release()

			n := running.Add(1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			res := lease.Resource()
			res.enter()
			time.Sleep(5 * time.Millisecond)
			res.exit()
			running.Add(-1)
			completed.Add(1)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(10), completed.Load())
	assert.LessOrEqual(t, maxRunning.Load(), int32(3))
	for _, f := range fakes {
		assert.LessOrEqual(t, f.maxSeen.Load(), int32(1), "resource %d was held twice at once", f.id)
	}
	assert.Equal(t, 0, pool.InUse())

	var total int64
	for _, c := range pool.LeaseCounts() {
		total += c
	}
	assert.Equal(t, int64(10), total)
}

func TestPool_RoundRobinWhenIdle(t *testing.T) {
	pool, err := NewPool(newFakes(3), nil)
	require.NoError(t, err)

	var order []int
	for i := 0; i < 6; i++ {
		lease, err := pool.Acquire(context.Background(), time.Second)
		require.NoError(t, err)
		order = append(order, lease.Index())
		lease.Release()
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, order, "sequential leases must not pile onto the first resource")
}

func TestPool_LeastBusyPreferred(t *testing.T) {
	pool, err := NewPool(newFakes(3), nil)
	require.NoError(t, err)
	ctx := context.Background()

	// Lease 0, 1 and 2 once each, then hold 0 and lease 1 again.
	for i := 0; i < 3; i++ {
		l, err := pool.Acquire(ctx, time.Second)
		require.NoError(t, err)
		l.Release()
	}
	held, err := pool.Acquire(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, held.Index())

	next, err := pool.Acquire(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Index())
	next.Release()

	// Slot 1 now has two leases; slot 2 has one, so it wins.
	again, err := pool.Acquire(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Index())
	again.Release()
	held.Release()
}

func TestPool_AcquireTimeout(t *testing.T) {
	pool, err := NewPool(newFakes(1), nil)
	require.NoError(t, err)

	lease, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer lease.Release()

	_, err = pool.Acquire(context.Background(), 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrResourceTimeout))
	assert.Equal(t, failure.Resource, failure.KindOf(err))
	assert.Equal(t, failure.ReasonResourceTimeout, failure.ReasonOf(err))
}

func TestPool_AcquireCancelled(t *testing.T) {
	pool, err := NewPool(newFakes(1), nil)
	require.NoError(t, err)

	lease, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer lease.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err = pool.Acquire(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLease_ReleaseIsIdempotent(t *testing.T) {
	pool, err := NewPool(newFakes(2), nil)
	require.NoError(t, err)

	lease, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	lease.Release()
	lease.Release()
	assert.Equal(t, 0, pool.InUse())

	// Both slots must still be available.
	a, err := pool.Acquire(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	_, err = pool.Acquire(context.Background(), 20*time.Millisecond)
	assert.Error(t, err)
	a.Release()
	b.Release()
}

func TestPool_Close(t *testing.T) {
	fakes := newFakes(2)
	pool, err := NewPool(fakes, nil)
	require.NoError(t, err)

	lease, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var closeErr error
	go func() {
		defer wg.Done()
		closeErr = pool.Close(context.Background(), func(f *fakeResource) error {
			f.closed.Store(true)
			if f.id == 1 {
				return errors.New("stuck")
			}
			return nil
		})
	}()

	time.Sleep(10 * time.Millisecond)
	assert.False(t, fakes[0].closed.Load(), "close must wait for outstanding leases")
	lease.Release()
	wg.Wait()

	require.Error(t, closeErr)
	assert.Contains(t, closeErr.Error(), "closing resource 1: stuck")
	assert.True(t, fakes[0].closed.Load())

	_, err = pool.Acquire(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, failure.ErrPoolClosed)
	assert.NoError(t, pool.Close(context.Background(), nil), "second close is a no-op")
}
