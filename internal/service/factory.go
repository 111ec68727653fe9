// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/artifacts"
	"github.com/xkilldash9x/testpilot/internal/browser"
	"github.com/xkilldash9x/testpilot/internal/casefile"
	"github.com/xkilldash9x/testpilot/internal/compiler"
	"github.com/xkilldash9x/testpilot/internal/config"
	"github.com/xkilldash9x/testpilot/internal/engine"
	"github.com/xkilldash9x/testpilot/internal/interpreter"
	"github.com/xkilldash9x/testpilot/internal/metrics"
	"github.com/xkilldash9x/testpilot/internal/orchestrator"
	"github.com/xkilldash9x/testpilot/internal/store"
)

const resultsBuffer = 256

// RunOptions carry the per-invocation inputs that are not part of the configuration.
type RunOptions struct {
	// CasesPath is a case file or directory. When empty, cases come from the database.
	CasesPath string
	// OnResult is called once per finished test, serially.
	OnResult func(res schemas.TestResult)
	// OnComplete is called once per finished batch.
	OnComplete orchestrator.CompletionFunc
}

// BrowserLauncher creates the pooled browsers a run executes on.
type BrowserLauncher func(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*browser.Pool[engine.Browser], error)

// ComponentFactory defines the interface for creating the set of components needed for a run.
// This abstraction is the key to making the run command's logic testable.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, opts RunOptions, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	launch BrowserLauncher
}

// NewComponentFactory creates a new production-ready component factory.
func NewComponentFactory() ComponentFactory {
	return &concreteFactory{launch: LaunchBrowserPool}
}

// NewComponentFactoryWithLauncher creates a factory that obtains its browsers from launch.
func NewComponentFactoryWithLauncher(launch BrowserLauncher) ComponentFactory {
	return &concreteFactory{launch: launch}
}

// InterpreterOptions translates the engine configuration into interpreter settings.
func InterpreterOptions(cfg config.EngineConfig) interpreter.Options {
	return interpreter.Options{
		StepTimeout:        cfg.StepTimeout,
		StepDelay:          cfg.StepDelay,
		BaseURL:            cfg.BaseURL,
		PerformanceMetrics: cfg.PerformanceMetrics,
		ScreenshotOnSteps:  cfg.ScreenshotOnSteps,
	}
}

// Create handles the full dependency injection and initialization of run components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, opts RunOptions, logger *zap.Logger) (*Components, error) {
	components := &Components{
		resultsChan: make(chan schemas.TestResult, resultsBuffer),
		consumerWG:  &sync.WaitGroup{},
	}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Case source from files, when given.
	if opts.CasesPath != "" {
		src, err := casefile.NewSource(opts.CasesPath)
		if err != nil {
			initializationErr = fmt.Errorf("failed to load test cases: %w", err)
			return nil, initializationErr
		}
		components.Source = src
		logger.Debug("File case source initialized.", zap.String("path", opts.CasesPath), zap.Int("cases", len(src.All())))
	}

	// 2. Database pool and store. Results are only persisted when a database is configured.
	if cfg.Database().URL != "" {
		dbPool, err := InitializeDBPool(ctx, cfg.Database(), logger)
		if err != nil {
			initializationErr = err
			return nil, initializationErr
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			initializationErr = fmt.Errorf("failed to initialize database store: %w", err)
			return nil, initializationErr
		}
		components.Store = dbStore
		if components.Source == nil {
			components.Source = dbStore
		}
		logger.Debug("Store service initialized.")
	}
	if components.Source == nil {
		initializationErr = fmt.Errorf("no test case source configured (hint: pass --cases or set TESTPILOT_DATABASE_URL)")
		return nil, initializationErr
	}

	// 3. Compiler
	comp, err := compiler.New(cfg.Compiler().CacheSize, logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create compiler: %w", err)
		return nil, initializationErr
	}
	components.Compiler = comp

	// 4. Artifacts
	writer, err := artifacts.NewWriter(cfg.Artifacts().ReportsDir, cfg.Artifacts().ScreenshotsDir)
	if err != nil {
		initializationErr = fmt.Errorf("failed to prepare artifact directories: %w", err)
		return nil, initializationErr
	}
	components.Artifacts = writer

	// 5. Metrics
	if cfg.Metrics().Enabled {
		components.Metrics = metrics.NewCollector()
	}

	// 6. Results consumer
	StartResultConsumer(components.consumerWG, components.resultsChan, opts.OnResult, logger)

	// 7. Browser pool
	pool, err := f.launch(ctx, cfg.Browser(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to start browser pool: %w", err)
		return nil, initializationErr
	}
	components.BrowserPool = pool

	// 8. Interpreter
	components.Interpreter = interpreter.New(InterpreterOptions(cfg.Engine()), writer, logger)

	// 9. Engine
	engineOpts := []engine.Option{engine.WithProgress(components.publish)}
	if components.Store != nil {
		engineOpts = append(engineOpts, engine.WithStore(components.Store))
	}
	if components.Metrics != nil {
		engineOpts = append(engineOpts, engine.WithMetrics(components.Metrics))
	}
	eng, err := engine.New(engine.OptionsFromConfig(cfg.Engine()), pool, comp, components.Interpreter, logger, engineOpts...)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize engine: %w", err)
		return nil, initializationErr
	}
	components.Engine = eng

	// 10. Orchestrator
	orchOpts := []orchestrator.Option{orchestrator.WithCompletion(opts.OnComplete)}
	if components.Store != nil {
		orchOpts = append(orchOpts, orchestrator.WithReportStore(components.Store))
	}
	if components.Metrics != nil {
		orchOpts = append(orchOpts, orchestrator.WithMetrics(components.Metrics))
	}
	orch, err := orchestrator.New(logger, components.Source, eng, writer, orchOpts...)
	if err != nil {
		initializationErr = fmt.Errorf("failed to create orchestrator: %w", err)
		return nil, initializationErr
	}
	components.Orchestrator = orch

	logger.Info("All run components initialized successfully.",
		zap.Int("pool_size", pool.Size()), zap.Int("parallelism", eng.Limit()))
	return components, nil
}
