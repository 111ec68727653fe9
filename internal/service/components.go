// File: internal/service/components.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/artifacts"
	"github.com/xkilldash9x/testpilot/internal/browser"
	"github.com/xkilldash9x/testpilot/internal/compiler"
	"github.com/xkilldash9x/testpilot/internal/engine"
	"github.com/xkilldash9x/testpilot/internal/interpreter"
	"github.com/xkilldash9x/testpilot/internal/metrics"
	"github.com/xkilldash9x/testpilot/internal/observability"
	"github.com/xkilldash9x/testpilot/internal/orchestrator"
	"github.com/xkilldash9x/testpilot/internal/store"
)

const (
	poolShutdownTimeout     = 30 * time.Second
	consumerShutdownTimeout = 10 * time.Second
)

// Components holds all the initialized services required for a live run.
// This struct centralizes the lifecycle management of run-related dependencies.
type Components struct {
	// Store is nil when no database is configured.
	Store        *store.Store
	Source       orchestrator.CaseSource
	Compiler     *compiler.Compiler
	Interpreter  *interpreter.Interpreter
	BrowserPool  *browser.Pool[engine.Browser]
	Engine       *engine.Engine
	Artifacts    *artifacts.Writer
	Metrics      *metrics.Collector
	Orchestrator *orchestrator.Orchestrator
	DBPool       *pgxpool.Pool

	// resultsChan decouples the scheduler's worker goroutines from the per-result callback.
	resultsChan chan schemas.TestResult
	resultsMu   sync.RWMutex
	closed      bool

	// consumerWG is used to ensure the results consumer has finished draining the channel.
	consumerWG *sync.WaitGroup
}

// publish hands a terminal result to the consumer. Results arriving after Shutdown are dropped.
func (c *Components) publish(res schemas.TestResult) {
	c.resultsMu.RLock()
	defer c.resultsMu.RUnlock()
	if c.closed || c.resultsChan == nil {
		return
	}
	c.resultsChan <- res
}

// Shutdown gracefully closes all components, ensuring resources are released in the correct order.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Close the results channel. This signals the consumer to drain and stop.
	c.resultsMu.Lock()
	if c.resultsChan != nil && !c.closed {
		close(c.resultsChan)
		logger.Debug("Results channel closed.")
	}
	c.closed = true
	c.resultsMu.Unlock()

	// 2. Wait for the consumer to finish the callbacks already queued.
	if c.consumerWG != nil {
		if timedWait(c.consumerWG, consumerShutdownTimeout) {
			logger.Debug("Results consumer finished processing.")
		} else {
			logger.Warn("Results consumer did not finish in time.", zap.Duration("timeout", consumerShutdownTimeout))
		}
	}

	// 3. Shut down the browser pool. Leases still held are waited for up to the timeout.
	if c.BrowserPool != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), poolShutdownTimeout)
		defer cancel()

		if err := c.BrowserPool.Close(shutdownCtx, engine.CloseBrowser); err != nil {
			logger.Warn("Error during browser pool shutdown.", zap.Error(err))
		} else {
			logger.Debug("Browser pool shut down.")
		}
	}

	// 4. Close the database connection pool.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All run components shut down successfully.")
}

// timedWait waits for wg, giving up after timeout. It reports whether the wait completed.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
