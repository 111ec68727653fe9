// internal/browser/context_utils_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCombineContext(t *testing.T) {
	type ctxKey string
	const key ctxKey = "target"

	t.Run("inherits values from the session", func(t *testing.T) {
		session := context.WithValue(context.Background(), key, "tab-1")
		ctx, cancel := CombineContext(session, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", ctx.Value(key))
		assert.NoError(t, ctx.Err())
	})

	t.Run("cancelled by the session", func(t *testing.T) {
		session, cancelSession := context.WithCancel(context.Background())
		ctx, cancel := CombineContext(session, context.Background())
		defer cancel()

		cancelSession()
		assert.ErrorIs(t, ctx.Err(), context.Canceled)
	})

	t.Run("cancelled by the operation", func(t *testing.T) {
		op, cancelOp := context.WithCancel(context.Background())
		ctx, cancel := CombineContext(context.Background(), op)
		defer cancel()

		cancelOp()
		assert.Eventually(t, func() bool { return ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("takes the earlier operation deadline", func(t *testing.T) {
		op, cancelOp := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancelOp()
		ctx, cancel := CombineContext(context.Background(), op)
		defer cancel()

		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		opDeadline, _ := op.Deadline()
		assert.Equal(t, opDeadline, deadline)

		<-ctx.Done()
		assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
	})

	t.Run("keeps the earlier session deadline", func(t *testing.T) {
		session, cancelSession := context.WithTimeout(context.Background(), time.Minute)
		defer cancelSession()
		op, cancelOp := context.WithTimeout(context.Background(), time.Hour)
		defer cancelOp()

		ctx, cancel := CombineContext(session, op)
		defer cancel()

		deadline, _ := ctx.Deadline()
		sessionDeadline, _ := session.Deadline()
		assert.Equal(t, sessionDeadline, deadline)
	})
}

func TestDetach(t *testing.T) {
	type ctxKey string
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey("k"), "v"))
	cancel()

	detached := Detach(parent)
	assert.NoError(t, detached.Err())
	assert.Nil(t, detached.Done())
	assert.Equal(t, "v", detached.Value(ctxKey("k")))
	_, ok := detached.Deadline()
	assert.False(t, ok)
}
