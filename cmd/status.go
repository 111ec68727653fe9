// File: cmd/status.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/testpilot/api/schemas"
	"github.com/xkilldash9x/testpilot/internal/config"
	"github.com/xkilldash9x/testpilot/internal/observability"
	"github.com/xkilldash9x/testpilot/internal/service"
	"github.com/xkilldash9x/testpilot/internal/store"
)

// statusStore is the read side of the store the status command needs.
type statusStore interface {
	ExecutionStatus(ctx context.Context, executionID string) (*schemas.ExecutionStatus, error)
	RecentExecutions(ctx context.Context, limit int) ([]schemas.ExecutionStatus, error)
}

// storeProvider opens the store for commands that only read from it. This abstraction allows
// a fake store to be injected in tests instead of a live database connection.
type storeProvider interface {
	// Create returns the store and a cleanup function that releases its resources.
	Create(ctx context.Context, cfg config.Interface) (statusStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (statusStore, func(), error) {
	logger := observability.GetLogger()

	pool, err := service.InitializeDBPool(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed (via status cleanup).")
	}
	return st, cleanup, nil
}

// newStatusCmd creates and configures the `status` command.
func newStatusCmd(provider storeProvider) *cobra.Command {
	var limit int

	statusCmd := &cobra.Command{
		Use:   "status [execution id]",
		Short: "Shows recorded progress of test executions",
		Long: `Shows pass/fail/running counts for one execution, or for the most recent
executions when no id is given. Requires a configured database.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := configFromContext(ctx)
			if err != nil {
				return err
			}

			st, cleanup, err := provider.Create(ctx, cfg)
			if err != nil {
				return invalid(fmt.Errorf("failed to open store: %w", err))
			}
			defer cleanup()

			var statuses []schemas.ExecutionStatus
			if len(args) == 1 {
				one, err := st.ExecutionStatus(ctx, args[0])
				if err != nil {
					if errors.Is(err, store.ErrExecutionNotFound) {
						return invalid(err)
					}
					return err
				}
				statuses = append(statuses, *one)
			} else {
				statuses, err = st.RecentExecutions(ctx, limit)
				if err != nil {
					return err
				}
			}

			printStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	}

	statusCmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of recent executions to list when no id is given.")
	return statusCmd
}

func printStatuses(out io.Writer, statuses []schemas.ExecutionStatus) {
	if len(statuses) == 0 {
		fmt.Fprintln(out, "No executions recorded.")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTION\tSTATUS\tTOTAL\tPASSED\tFAILED\tERRORS\tRUNNING")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n", s.ExecutionID, s.State, s.Total, s.Passed, s.Failed, s.Errors, s.Running)
	}
	tw.Flush()
}
