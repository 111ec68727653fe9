// Package store reads test cases from PostgreSQL and writes execution records back.
//
// The schema is owned elsewhere. The store expects these tables:
//
//	test_cases(id, title, description, type, priority, status, preconditions, expected_result,
//	           environment, browser, device_type, tags jsonb, steps jsonb, assertions jsonb,
//	           created_at, updated_at)
//	test_executions(execution_id, test_case_id, status, start_time, end_time, duration_ms,
//	                failure_kind, reason, error_message, stack_trace, screenshots jsonb,
//	                logs jsonb, performance_metrics jsonb), unique (execution_id, test_case_id)
//	test_execution_steps(execution_id, test_case_id, step_kind, step_number, description,
//	                     status, start_time, duration_ms, notes)
//	test_reports(execution_id, report_type, report_path, summary jsonb, generated_at)
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/testpilot/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrCaseNotFound is returned when requested test case ids do not exist.
	ErrCaseNotFound = errors.New("test case not found")
	// ErrExecutionNotFound is returned for an execution id with no recorded tests.
	ErrExecutionNotFound = errors.New("execution not found")
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides the PostgreSQL read source and write sink of the engine.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const selectCases = `
        SELECT id, title, COALESCE(description, ''), COALESCE(type, ''), COALESCE(priority, ''),
               COALESCE(status, ''), COALESCE(preconditions, ''), COALESCE(expected_result, ''),
               COALESCE(environment, ''), COALESCE(browser, ''), COALESCE(device_type, ''),
               tags, steps, assertions, created_at, updated_at
        FROM test_cases
    `

// GetTestCases loads the cases with the given ids, ordered by id. With no ids it loads every
// case in the Ready status. Missing ids are reported with ErrCaseNotFound.
func (s *Store) GetTestCases(ctx context.Context, ids []int64) ([]schemas.TestCase, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(ids) == 0 {
		rows, err = s.pool.Query(ctx, selectCases+` WHERE status = $1 ORDER BY id;`, string(schemas.CaseReady))
	} else {
		rows, err = s.pool.Query(ctx, selectCases+` WHERE id = ANY($1) ORDER BY id;`, ids)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query test cases: %w", err)
	}
	defer rows.Close()

	var cases []schemas.TestCase
	for rows.Next() {
		tc, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	if missing := missingIDs(ids, cases); len(missing) > 0 {
		return cases, fmt.Errorf("%w: %v", ErrCaseNotFound, missing)
	}
	return cases, nil
}

func scanCase(row pgx.Row) (schemas.TestCase, error) {
	var (
		tc                      schemas.TestCase
		status                  string
		tags, steps, assertions []byte
		created, updated        *time.Time
	)
	err := row.Scan(
		&tc.ID, &tc.Title, &tc.Description, &tc.Type, &tc.Priority,
		&status, &tc.Preconditions, &tc.ExpectedResult,
		&tc.Environment, &tc.Browser, &tc.DeviceType,
		&tags, &steps, &assertions, &created, &updated,
	)
	if err != nil {
		return tc, fmt.Errorf("failed to scan test case row: %w", err)
	}
	tc.Status = schemas.CaseStatus(status)
	if tc.Steps, err = decodeStrings(steps); err != nil {
		return tc, fmt.Errorf("test case %d: decoding steps: %w", tc.ID, err)
	}
	if tc.Assertions, err = decodeStrings(assertions); err != nil {
		return tc, fmt.Errorf("test case %d: decoding assertions: %w", tc.ID, err)
	}
	if tc.Tags, err = decodeStrings(tags); err != nil {
		return tc, fmt.Errorf("test case %d: decoding tags: %w", tc.ID, err)
	}
	if created != nil {
		tc.CreatedAt = created.UTC()
	}
	if updated != nil {
		tc.UpdatedAt = updated.UTC()
	}
	return tc, nil
}

// decodeStrings reads a JSON array of strings. NULL and empty columns yield nil.
func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func missingIDs(ids []int64, found []schemas.TestCase) []int64 {
	if len(ids) == 0 {
		return nil
	}
	have := make(map[int64]bool, len(found))
	for _, tc := range found {
		have[tc.ID] = true
	}
	var missing []int64
	for _, id := range ids {
		if !have[id] {
			missing = append(missing, id)
			have[id] = true
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

const upsertStart = `
        INSERT INTO test_executions (execution_id, test_case_id, status, start_time)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (execution_id, test_case_id) DO UPDATE SET
            status = EXCLUDED.status,
            start_time = EXCLUDED.start_time;
    `

// RecordStart creates the execution row of a test that just entered Running.
func (s *Store) RecordStart(ctx context.Context, res *schemas.TestResult) error {
	_, err := s.pool.Exec(ctx, upsertStart, res.ExecutionID, res.TestCaseID, string(res.Status), res.StartTime.UTC())
	if err != nil {
		return fmt.Errorf("failed to record start of test case %d: %w", res.TestCaseID, err)
	}
	return nil
}

const upsertResult = `
        INSERT INTO test_executions (execution_id, test_case_id, status, start_time, end_time, duration_ms,
            failure_kind, reason, error_message, stack_trace, screenshots, logs, performance_metrics)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (execution_id, test_case_id) DO UPDATE SET
            status = EXCLUDED.status,
            start_time = EXCLUDED.start_time,
            end_time = EXCLUDED.end_time,
            duration_ms = EXCLUDED.duration_ms,
            failure_kind = EXCLUDED.failure_kind,
            reason = EXCLUDED.reason,
            error_message = EXCLUDED.error_message,
            stack_trace = EXCLUDED.stack_trace,
            screenshots = EXCLUDED.screenshots,
            logs = EXCLUDED.logs,
            performance_metrics = EXCLUDED.performance_metrics;
    `

const deleteSteps = `DELETE FROM test_execution_steps WHERE execution_id = $1 AND test_case_id = $2;`

var stepColumns = []string{"execution_id", "test_case_id", "step_kind", "step_number", "description", "status", "start_time", "duration_ms", "notes"}

// RecordResult writes a terminal result and replaces its step rows in one transaction.
func (s *Store) RecordResult(ctx context.Context, res *schemas.TestResult) error {
	screenshots, err := encodeJSON(res.Screenshots, "[]")
	if err != nil {
		return err
	}
	logs, err := encodeJSON(res.Logs, "[]")
	if err != nil {
		return err
	}
	perf, err := encodeJSON(res.Performance, "{}")
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, upsertResult,
		res.ExecutionID, res.TestCaseID, string(res.Status),
		nullTime(res.StartTime), nullTime(res.EndTime), res.DurationMs,
		res.FailureKind, res.Reason, res.ErrorMessage, res.StackTrace,
		screenshots, logs, perf,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert execution: %w", err)
	}

	if _, err := tx.Exec(ctx, deleteSteps, res.ExecutionID, res.TestCaseID); err != nil {
		return fmt.Errorf("failed to clear execution steps: %w", err)
	}

	if len(res.StepResults) > 0 {
		rows := make([][]interface{}, len(res.StepResults))
		for i, st := range res.StepResults {
			rows[i] = []interface{}{
				res.ExecutionID, res.TestCaseID, string(st.Kind), st.Index, st.SourceText,
				string(st.Status), nullTime(st.StartTime), st.DurationMs, st.Note,
			}
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{"test_execution_steps"}, stepColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("failed to copy execution steps: %w", err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(rows), n)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func encodeJSON(v interface{}, empty string) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding column: %w", err)
	}
	if len(b) == 0 || string(b) == "null" {
		return []byte(empty), nil
	}
	return b, nil
}

// nullTime stores the zero time as NULL and everything else in UTC.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

const insertReport = `
        INSERT INTO test_reports (execution_id, report_type, report_path, summary, generated_at)
        VALUES ($1, $2, $3, $4, $5);
    `

// SaveReport records where a batch report was written.
func (s *Store) SaveReport(ctx context.Context, summary schemas.Summary, reportType, path string) error {
	payload, err := encodeJSON(summary, "{}")
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, insertReport, summary.ExecutionID, reportType, path, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

const selectStatus = `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE status = 'Passed'),
               COUNT(*) FILTER (WHERE status = 'Failed'),
               COUNT(*) FILTER (WHERE status = 'Error'),
               COUNT(*) FILTER (WHERE status = 'Running')
        FROM test_executions
        WHERE execution_id = $1;
    `

// ExecutionStatus counts the outcomes recorded so far for a batch.
func (s *Store) ExecutionStatus(ctx context.Context, executionID string) (*schemas.ExecutionStatus, error) {
	st := &schemas.ExecutionStatus{ExecutionID: executionID}
	err := s.pool.QueryRow(ctx, selectStatus, executionID).Scan(&st.Total, &st.Passed, &st.Failed, &st.Errors, &st.Running)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution status: %w", err)
	}
	if st.Total == 0 {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, executionID)
	}
	st.State = stateOf(st)
	return st, nil
}

const selectRecent = `
        SELECT execution_id,
               COUNT(*),
               COUNT(*) FILTER (WHERE status = 'Passed'),
               COUNT(*) FILTER (WHERE status = 'Failed'),
               COUNT(*) FILTER (WHERE status = 'Error'),
               COUNT(*) FILTER (WHERE status = 'Running')
        FROM test_executions
        GROUP BY execution_id
        ORDER BY MAX(start_time) DESC NULLS LAST
        LIMIT $1;
    `

// RecentExecutions summarizes the latest batches, newest first.
func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]schemas.ExecutionStatus, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []schemas.ExecutionStatus
	for rows.Next() {
		var st schemas.ExecutionStatus
		if err := rows.Scan(&st.ExecutionID, &st.Total, &st.Passed, &st.Failed, &st.Errors, &st.Running); err != nil {
			return nil, fmt.Errorf("failed to scan execution row: %w", err)
		}
		st.State = stateOf(&st)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

func stateOf(st *schemas.ExecutionStatus) string {
	if st.Running > 0 {
		return "Running"
	}
	return "Completed"
}
