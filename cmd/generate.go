// File: cmd/generate.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/internal/codegen"
	"github.com/xkilldash9x/testpilot/internal/config"
	"github.com/xkilldash9x/testpilot/internal/observability"
	"github.com/xkilldash9x/testpilot/internal/service"
)

// newGenerateCmd creates and configures the `generate` command.
func newGenerateCmd() *cobra.Command {
	var casesPath string

	generateCmd := &cobra.Command{
		Use:   "generate [test case ids...]",
		Short: "Generates test sources for an external framework",
		Long: `Compiles the given test cases, or every Ready case, and writes equivalent test
sources for the chosen target. With --run the generated suite is executed with the
target's own toolchain and its summary is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			ids, err := parseIDs(args)
			if err != nil {
				return invalid(err)
			}
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}
			if err := applyGenerateFlagOverrides(cmd, cfg); err != nil {
				return invalid(err)
			}
			return generateTests(ctx, logger, cfg, ids, casesPath, cmd.OutOrStdout())
		},
	}

	generateCmd.Flags().StringVarP(&casesPath, "cases", "f", "", "Test case file or directory. If unset, cases are read from the database.")
	generateCmd.Flags().StringP("target", "t", "", fmt.Sprintf("Code generation target %v. (Overrides config/env)", codegen.Targets()))
	generateCmd.Flags().StringP("out", "o", "", "Directory the generated sources are written to. (Overrides config/env)")
	generateCmd.Flags().Bool("run", false, "Run the generated suite after writing it. (Overrides config/env)")

	return generateCmd
}

// applyGenerateFlagOverrides copies explicitly set flags onto the loaded configuration.
func applyGenerateFlagOverrides(cmd *cobra.Command, cfg config.Interface) error {
	if cmd.Flags().Changed("target") {
		target, _ := cmd.Flags().GetString("target")
		if _, err := codegen.Lookup(target); err != nil {
			return err
		}
		cfg.SetCodegenTarget(target)
	}
	if cmd.Flags().Changed("out") {
		dir, _ := cmd.Flags().GetString("out")
		if dir == "" {
			return fmt.Errorf("--out cannot be empty")
		}
		cfg.SetCodegenOutputDir(dir)
	}
	if cmd.Flags().Changed("run") {
		run, _ := cmd.Flags().GetBool("run")
		cfg.SetCodegenRun(run)
	}
	return nil
}

func generateTests(ctx context.Context, logger *zap.Logger, cfg config.Interface, ids []int64, casesPath string, out io.Writer) error {
	cases, err := service.LoadCases(ctx, cfg, casesPath, ids, logger)
	if err != nil {
		return invalid(err)
	}

	outcome, err := service.Generate(ctx, cfg, cases, logger)
	if outcome != nil {
		printGenerated(out, outcome)
	}
	if err != nil {
		return invalid(err)
	}
	if outcome.Run == nil {
		return nil
	}

	run := outcome.Run
	if run.ExitCode != 0 || run.Summary.Failed > 0 || run.Summary.Errors > 0 {
		return &ExitError{
			Code: ExitFailed,
			Err:  fmt.Errorf("generated %s suite failed (exit code %d)", outcome.Target, run.ExitCode),
		}
	}
	return nil
}

func printGenerated(out io.Writer, g *service.GenerateOutcome) {
	fmt.Fprintf(out, "Generated %d tests for %s in %s\n", g.Tests, g.Target, g.Dir)
	for _, f := range g.Files {
		fmt.Fprintf(out, "  %s\n", f)
	}
	if g.Placeholders > 0 {
		fmt.Fprintf(out, "warning: %d unresolved steps were rendered as placeholders\n", g.Placeholders)
	}

	if g.Run == nil {
		return
	}
	r := g.Run
	fmt.Fprintf(out, "\n%s exited with code %d after %s\n", r.Command, r.ExitCode, r.Elapsed)
	if r.SummaryError != "" {
		fmt.Fprintf(out, "  no summary: %s\n", r.SummaryError)
		return
	}
	s := r.Summary
	fmt.Fprintf(out, "  %d total, %d passed, %d failed, %d errors, %d skipped (pass rate %.1f%%)\n",
		s.Total, s.Passed, s.Failed, s.Errors, s.Skipped, s.PassRate)
}
