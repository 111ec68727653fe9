// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/browser"
	"github.com/xkilldash9x/testpilot/internal/config"
	"github.com/xkilldash9x/testpilot/internal/engine"
)

// InitializeDBPool connects to PostgreSQL and verifies the connection before returning.
func InitializeDBPool(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is not configured (hint: check TESTPILOT_DATABASE_URL)")
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PGX pool config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	logger.Info("Database connection pool initialized.", zap.String("host", poolConfig.ConnConfig.Host))
	return pool, nil
}

// LaunchBrowserPool starts the configured number of browser processes and pools them.
func LaunchBrowserPool(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*browser.Pool[engine.Browser], error) {
	instances, err := browser.LaunchAll(ctx, cfg.PoolSize, cfg, logger)
	if err != nil {
		return nil, err
	}
	pool, err := engine.NewBrowserPool(instances, logger)
	if err != nil {
		for _, inst := range instances {
			inst.Close()
		}
		return nil, err
	}
	logger.Info("Browser pool ready.", zap.Int("size", pool.Size()), zap.Bool("headless", cfg.Headless))
	return pool, nil
}

// StartResultConsumer launches a goroutine that hands every terminal result to handle, one at a
// time and in arrival order. It manages its lifecycle using the provided WaitGroup and exits once
// the channel is closed and drained.
func StartResultConsumer(wg *sync.WaitGroup, results <-chan schemas.TestResult, handle func(schemas.TestResult), logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("Starting results consumer goroutine.")
		defer logger.Debug("Results consumer goroutine shut down.")

		handled := 0
		for res := range results {
			handled++
			if handle == nil {
				continue
			}
			invoke(handle, res, logger)
		}
		logger.Debug("Results channel closed.", zap.Int("handled", handled))
	}()
}

// invoke shields the consumer from a panicking callback so later results are still delivered.
func invoke(handle func(schemas.TestResult), res schemas.TestResult, logger *zap.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Result callback panicked.", zap.Int64("test_case_id", res.TestCaseID), zap.Any("panic", r))
		}
	}()
	handle(res)
}
