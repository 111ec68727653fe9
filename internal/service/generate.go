// File: internal/service/generate.go
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/casefile"
	"github.com/xkilldash9x/testpilot/internal/codegen"
	"github.com/xkilldash9x/testpilot/internal/compiler"
	"github.com/xkilldash9x/testpilot/internal/config"
	"github.com/xkilldash9x/testpilot/internal/dsl"
	"github.com/xkilldash9x/testpilot/internal/store"
)

// LoadCases reads the requested cases from casesPath, or from the database when casesPath is
// empty. No ids means every Ready case.
func LoadCases(ctx context.Context, cfg config.Interface, casesPath string, ids []int64, logger *zap.Logger) ([]schemas.TestCase, error) {
	if casesPath != "" {
		src, err := casefile.NewSource(casesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load test cases: %w", err)
		}
		return src.GetTestCases(ctx, ids)
	}
	if cfg.Database().URL == "" {
		return nil, fmt.Errorf("no test case source configured (hint: pass --cases or set TESTPILOT_DATABASE_URL)")
	}
	pool, err := InitializeDBPool(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, err
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	return st.GetTestCases(ctx, ids)
}

// Compile translates cases with a fresh compiler configured from cfg.
func Compile(cfg config.Interface, cases []schemas.TestCase, logger *zap.Logger) ([]*dsl.CompiledTest, error) {
	comp, err := compiler.New(cfg.Compiler().CacheSize, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create compiler: %w", err)
	}
	return comp.CompileAll(cases), nil
}

// GenerateOutcome describes the files a generation wrote and, when requested, how running them
// went.
type GenerateOutcome struct {
	Target string
	Dir    string
	Files  []string
	Tests  int
	// Placeholders counts Unresolved steps rendered as hand-written stubs.
	Placeholders int
	Run          *codegen.RunResult
}

// Generate compiles cases, renders them for the configured target into the configured output
// directory and optionally runs the result with the target's own toolchain.
func Generate(ctx context.Context, cfg config.Interface, cases []schemas.TestCase, logger *zap.Logger) (*GenerateOutcome, error) {
	if len(cases) == 0 {
		return nil, casefile.ErrNoCases
	}
	tests, err := Compile(cfg, cases, logger)
	if err != nil {
		return nil, err
	}

	cg := cfg.Codegen()
	opts := codegen.OptionsFromConfig(cfg)
	gen, err := codegen.New(cg.Target, opts, logger)
	if err != nil {
		return nil, err
	}
	files, err := gen.Generate(tests)
	if err != nil {
		return nil, fmt.Errorf("generating %s sources: %w", cg.Target, err)
	}
	paths, err := codegen.Write(cg.OutputDir, files)
	if err != nil {
		return nil, err
	}

	out := &GenerateOutcome{Target: cg.Target, Dir: cg.OutputDir, Files: paths, Tests: len(tests)}
	for _, ct := range tests {
		out.Placeholders += len(ct.Gaps())
	}
	if !cg.Run {
		return out, nil
	}

	res, err := codegen.NewRunner(cg.RunnerTimeout, logger).Run(ctx, gen.Target(), cg.OutputDir, opts)
	if err != nil {
		return out, fmt.Errorf("running generated %s suite: %w", cg.Target, err)
	}
	out.Run = res
	return out, nil
}
