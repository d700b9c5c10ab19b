package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/audit"
	"github.com/ekaya-inc/portfolio-chat/pkg/logging"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	"github.com/ekaya-inc/portfolio-chat/pkg/retry"
	plansql "github.com/ekaya-inc/portfolio-chat/pkg/sql"
)

// PlanExecutor renders plans in one dialect and hands them to a Runner.
type PlanExecutor struct {
	dialect plansql.Dialect
	runner  Runner
	maxRows int
	clock   clockwork.Clock
	auditor *audit.Auditor
}

// ExecutorOption configures a PlanExecutor.
type ExecutorOption func(*PlanExecutor)

// WithMaxRows overrides MaxRows. Values outside 1..MaxRows are ignored.
func WithMaxRows(n int) ExecutorOption {
	return func(e *PlanExecutor) {
		if n > 0 && n <= MaxRows {
			e.maxRows = n
		}
	}
}

// WithClock sets the clock used to time statements.
func WithClock(c clockwork.Clock) ExecutorOption {
	return func(e *PlanExecutor) {
		e.clock = c
	}
}

// NewPlanExecutor creates an executor for dialect d backed by runner.
func NewPlanExecutor(d plansql.Dialect, runner Runner, logger *zap.Logger, opts ...ExecutorOption) *PlanExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &PlanExecutor{
		dialect: d,
		runner:  runner,
		maxRows: MaxRows,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.auditor = audit.NewAuditor(logger.Named("warehouse").With(zap.String("dialect", string(d))), e.clock)
	return e
}

// ErrUnsafeArgument is the cause of a statement refused because a bound value looked like SQL.
var ErrUnsafeArgument = errors.New("bound value rejected by injection screening")

// Execute renders plan and runs it. Bound values are screened for injection
// before the statement is sent. Driver failures come back as
// *apperrors.QueryExecutionError; a plan that cannot be rendered is a plain error.
func (e *PlanExecutor) Execute(ctx context.Context, plan *models.QueryPlan) (*models.ResultSet, error) {
	stmt, err := plansql.Render(plan, e.dialect)
	if err != nil {
		return nil, fmt.Errorf("render plan: %w", err)
	}

	queryID := uuid.New()
	if hits := plansql.CheckArguments(stmt.Args); len(hits) > 0 {
		for _, hit := range hits {
			e.auditor.LogInjectionAttempt(ctx, queryID, string(e.dialect), audit.InjectionDetails{
				ParamName:   hit.ParamName,
				ParamValue:  fmt.Sprint(hit.ParamValue),
				Fingerprint: hit.Fingerprint,
				FactTable:   plan.FactTable,
			})
		}
		return nil, apperrors.NewQueryExecutionError(ErrUnsafeArgument.Error(), ErrUnsafeArgument, false)
	}

	start := e.clock.Now()
	rs, err := e.runner.Run(ctx, stmt, e.maxRows)
	elapsed := e.clock.Since(start)
	if err != nil {
		qe := WrapError(err)
		e.auditor.LogQueryFailure(ctx, queryID, string(e.dialect), audit.FailureDetails{
			FactTable: plan.FactTable,
			Cause:     qe.Cause,
			Timeout:   qe.Timeout,
			Query:     logging.SanitizeQuery(stmt.SQL),
		})
		return nil, qe
	}

	rs.Elapsed = elapsed
	e.auditor.LogQueryExecution(ctx, queryID, string(e.dialect), audit.ExecutionDetails{
		Intent:    string(plan.Intent),
		FactTable: plan.FactTable,
		Rows:      rs.RowCount,
		ElapsedMS: elapsed.Milliseconds(),
		Query:     logging.SanitizeQuery(stmt.SQL),
	})
	return rs, nil
}

// Dialect returns the dialect plans are rendered in.
func (e *PlanExecutor) Dialect() plansql.Dialect {
	return e.dialect
}

// Close closes the runner.
func (e *PlanExecutor) Close() error {
	return e.runner.Close()
}

// Ping checks that the warehouse is reachable.
func (e *PlanExecutor) Ping(ctx context.Context) error {
	if err := e.runner.Ping(ctx); err != nil {
		return WrapError(err)
	}
	return nil
}

// WrapError converts a driver error into a QueryExecutionError whose cause is
// redacted of credentials. Errors that already are QueryExecutionErrors pass through.
func WrapError(err error) *apperrors.QueryExecutionError {
	var qe *apperrors.QueryExecutionError
	if errors.As(err, &qe) {
		return qe
	}
	retryable := !errors.Is(err, context.Canceled) && retry.IsRetryable(err)
	qe = apperrors.NewQueryExecutionError(logging.SanitizeError(err), err, retryable)
	qe.Timeout = errors.Is(err, context.DeadlineExceeded)
	return qe
}

// Ensure PlanExecutor implements Executor at compile time.
var _ Executor = (*PlanExecutor)(nil)
