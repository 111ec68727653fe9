package codegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RunSummary is the outcome of an external test run.
type RunSummary struct {
	Total    int     `json:"total"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
	Skipped  int     `json:"skipped"`
	Errors   int     `json:"errors"`
	Duration float64 `json:"duration"`
	PassRate float64 `json:"pass_rate"`
}

func (s *RunSummary) computePassRate() {
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total) * 100
	}
}

// RunResult carries the exit status and output of the test command.
type RunResult struct {
	Target   string     `json:"target"`
	Command  string     `json:"command"`
	ExitCode int        `json:"exit_code"`
	Stdout   string     `json:"stdout"`
	Stderr   string     `json:"stderr"`
	Summary  RunSummary `json:"summary"`
	// SummaryError explains why Summary is empty, when it is.
	SummaryError string        `json:"summary_error,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Runner executes a generated suite with the target's own toolchain.
type Runner struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunner creates a runner. A non-positive timeout means no limit beyond the caller's context.
func NewRunner(timeout time.Duration, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{timeout: timeout, logger: logger.Named("codegen_runner")}
}

// Run starts the target's commands inside dir, stopping at the first setup command that fails.
// A failing test command is not an error: its exit code and summary are reported in the result.
func (r *Runner) Run(ctx context.Context, target Target, dir string, opts Options) (*RunResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmds := target.Commands(opts)
	if len(cmds) == 0 {
		return nil, fmt.Errorf("target %s has no run command", target.Name())
	}
	start := time.Now()
	res := &RunResult{Target: target.Name()}

	for i, c := range cmds {
		last := i == len(cmds)-1
		cmd := exec.CommandContext(ctx, c.Name, c.Args...)
		cmd.Dir = dir
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		line := strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
		r.logger.Info("Running generated suite command.", zap.String("command", line), zap.String("dir", dir))
		err := cmd.Run()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("running %q: %w", line, ctxErr)
		}
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("starting %q: %w", line, err)
		}
		if !last {
			if err != nil {
				return nil, fmt.Errorf("%q failed with exit code %d: %s", line, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
			}
			continue
		}

		res.Command = line
		res.Stdout = stdout.String()
		res.Stderr = stderr.String()
		if exitErr != nil {
			res.ExitCode = exitErr.ExitCode()
		}
	}
	res.Elapsed = time.Since(start)

	summary, err := target.Summarize(dir, []byte(res.Stdout))
	if err != nil {
		res.SummaryError = err.Error()
		r.logger.Warn("Could not read the run summary.", zap.Error(err))
	}
	res.Summary = summary

	r.logger.Info("Generated suite finished.",
		zap.Int("exit_code", res.ExitCode),
		zap.Int("passed", summary.Passed),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", res.Elapsed))
	return res, nil
}
