// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/config"
	"github.com/xkilldash9x/testpilot/internal/observability"
	"github.com/xkilldash9x/testpilot/internal/service"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd(factory service.ComponentFactory) *cobra.Command {
	var casesPath string

	runCmd := &cobra.Command{
		Use:   "run [test case ids...]",
		Short: "Executes test cases against a pool of live browsers",
		Long: `Executes the given test cases, or every Ready case when no ids are given.
Cases come from --cases (a YAML/JSON file or a directory of them) or from the database.

Exit status is 0 when every test passed, 1 when any test failed, errored or was
skipped and 2 when the run could not be set up.`,
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
			if err := applyRunFlagOverrides(cmd, cfg); err != nil {
				return invalid(err)
			}
			return runTests(ctx, logger, cfg, ids, casesPath, factory, cmd.OutOrStdout())
		},
	}

	runCmd.Flags().StringVarP(&casesPath, "cases", "f", "", "Test case file or directory. If unset, cases are read from the database.")
	runCmd.Flags().IntP("parallel", "p", 0, "Maximum number of tests running at once. (Overrides config/env)")
	runCmd.Flags().Int("pool-size", 0, "Number of browser instances to launch. (Overrides config/env)")
	runCmd.Flags().Bool("headless", true, "Run browsers without a visible window. (Overrides config/env)")

	return runCmd
}

// applyRunFlagOverrides copies explicitly set flags onto the loaded configuration.
func applyRunFlagOverrides(cmd *cobra.Command, cfg config.Interface) error {
	if cmd.Flags().Changed("parallel") {
		n, _ := cmd.Flags().GetInt("parallel")
		if n <= 0 {
			return fmt.Errorf("--parallel must be a positive integer, got %d", n)
		}
		cfg.SetEngineParallelism(n)
	}
	if cmd.Flags().Changed("pool-size") {
		n, _ := cmd.Flags().GetInt("pool-size")
		if n <= 0 {
			return fmt.Errorf("--pool-size must be a positive integer, got %d", n)
		}
		cfg.SetBrowserPoolSize(n)
	}
	if cmd.Flags().Changed("headless") {
		headless, _ := cmd.Flags().GetBool("headless")
		cfg.SetBrowserHeadless(headless)
	}
	return nil
}

// runTests builds the run components, executes one batch and prints its outcome.
func runTests(ctx context.Context, logger *zap.Logger, cfg config.Interface, ids []int64, casesPath string, factory service.ComponentFactory, out io.Writer) error {
	opts := service.RunOptions{
		CasesPath: casesPath,
		OnResult:  func(res schemas.TestResult) { printResult(out, res) },
	}

	components, err := factory.Create(ctx, cfg, opts, logger)
	if err != nil {
		return invalid(fmt.Errorf("failed to initialize run components: %w", err))
	}
	defer components.Shutdown()

	outcome, err := components.Orchestrator.Execute(ctx, ids)
	// Drain queued progress lines before anything else is printed.
	components.Shutdown()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Run aborted by user signal.")
			return fmt.Errorf("run aborted: %w", err)
		}
		return invalid(err)
	}

	summary := outcome.Batch.Summary
	printSummary(out, summary)
	logger.Info("Run finished.",
		zap.String("execution_id", summary.ExecutionID),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Int("errors", summary.Errors))

	if !summary.AllPassed() {
		return &ExitError{
			Code: ExitFailed,
			Err:  fmt.Errorf("%d of %d tests did not pass", summary.Total-summary.Passed, summary.Total),
		}
	}
	return nil
}

func printResult(out io.Writer, res schemas.TestResult) {
	fmt.Fprintf(out, "%-7s #%d %s (%s)\n", res.Status, res.TestCaseID, res.Title, res.Duration())
	if res.Status == schemas.StatusPassed {
		return
	}
	if res.ErrorMessage != "" {
		msg := res.ErrorMessage
		// Messages built from a failure error already lead with their kind.
		if res.FailureKind != "" && !strings.HasPrefix(msg, res.FailureKind) {
			msg = res.FailureKind + ": " + msg
		}
		fmt.Fprintf(out, "        %s\n", msg)
	}
	for _, shot := range res.Screenshots {
		fmt.Fprintf(out, "        screenshot: %s\n", shot)
	}
}

func printSummary(out io.Writer, s schemas.Summary) {
	fmt.Fprintf(out, "\nExecution %s\n", s.ExecutionID)
	fmt.Fprintf(out, "  %d total, %d passed, %d failed, %d errors, %d skipped\n", s.Total, s.Passed, s.Failed, s.Errors, s.Skipped)
	fmt.Fprintf(out, "  pass rate %.1f%%, %.2fs total, %.2fs average\n", s.PassRate, s.TotalDuration, s.AverageDuration)
	if s.ReportPath != "" {
		fmt.Fprintf(out, "  report: %s\n", s.ReportPath)
	}
}

// parseIDs converts positional arguments into test case ids.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid test case id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
