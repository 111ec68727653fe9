package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/config"
)

func TestStartResultConsumer(t *testing.T) {
	t.Run("DeliversInOrder", func(t *testing.T) {
		ch := make(chan schemas.TestResult, 10)
		wg := &sync.WaitGroup{}
		var got []int64

		StartResultConsumer(wg, ch, func(res schemas.TestResult) {
			got = append(got, res.TestCaseID)
		}, zap.NewNop())

		for i := int64(1); i <= 5; i++ {
			ch <- schemas.TestResult{TestCaseID: i}
		}
		close(ch)
		wg.Wait()

		assert.Equal(t, []int64{1, 2, 3, 4, 5}, got)
	})

	t.Run("NilHandlerDrains", func(t *testing.T) {
		ch := make(chan schemas.TestResult, 2)
		wg := &sync.WaitGroup{}
		StartResultConsumer(wg, ch, nil, zap.NewNop())
		ch <- schemas.TestResult{TestCaseID: 1}
		close(ch)
		wg.Wait()
		assert.Empty(t, ch)
	})

	t.Run("PanickingHandler", func(t *testing.T) {
		core, logs := observer.New(zap.ErrorLevel)
		ch := make(chan schemas.TestResult, 2)
		wg := &sync.WaitGroup{}
		var got []int64

		StartResultConsumer(wg, ch, func(res schemas.TestResult) {
			if res.TestCaseID == 1 {
				panic("boom")
			}
			got = append(got, res.TestCaseID)
		}, zap.New(core))

		ch <- schemas.TestResult{TestCaseID: 1}
		ch <- schemas.TestResult{TestCaseID: 2}
		close(ch)
		wg.Wait()

		assert.Equal(t, []int64{2}, got, "a panicking callback must not stop delivery")
		require.Equal(t, 1, logs.FilterMessage("Result callback panicked.").Len())
	})
}

func TestInitializeDBPool(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	t.Run("MissingURL", func(t *testing.T) {
		_, err := InitializeDBPool(ctx, config.DatabaseConfig{}, logger)
		assert.ErrorContains(t, err, "database URL is not configured")
	})

	t.Run("MalformedURL", func(t *testing.T) {
		_, err := InitializeDBPool(ctx, config.DatabaseConfig{URL: "postgres://user:pw@host:notaport/db"}, logger)
		assert.ErrorContains(t, err, "unable to parse PGX pool config")
	})
}
