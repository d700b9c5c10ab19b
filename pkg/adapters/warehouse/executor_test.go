package warehouse

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/audit"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	plansql "github.com/ekaya-inc/portfolio-chat/pkg/sql"
)

type fakeRunner struct {
	stmt    *plansql.Statement
	maxRows int
	result  *models.ResultSet
	err     error
	clock   *clockwork.FakeClock
	took    time.Duration
	closed  bool
}

func (r *fakeRunner) Run(_ context.Context, stmt *plansql.Statement, maxRows int) (*models.ResultSet, error) {
	r.stmt = stmt
	r.maxRows = maxRows
	if r.clock != nil {
		r.clock.Advance(r.took)
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

func (r *fakeRunner) Ping(context.Context) error { return r.err }

func (r *fakeRunner) Close() error {
	r.closed = true
	return nil
}

func rankingPlan() *models.QueryPlan {
	return &models.QueryPlan{
		Intent:    models.IntentRanking,
		FactTable: "FactAssetOperations",
		Joins: []models.Join{{
			Table: "DimAsset",
			From:  models.ColumnRef{Table: "FactAssetOperations", Column: "AssetID"},
			To:    models.ColumnRef{Table: "DimAsset", Column: "AssetID"},
		}},
		Select: []models.SelectItem{
			{Column: models.ColumnRef{Table: "DimAsset", Column: "AssetName"}, Alias: "asset"},
			{Column: models.ColumnRef{Table: "FactAssetOperations", Column: "NetOperatingIncome"}, Aggregate: models.AggregateSum, Alias: "noi", Metric: "noi"},
		},
		Metrics: []string{"noi"},
		Filters: []models.Filter{{
			Column: models.ColumnRef{Table: "DimAsset", Column: "PropertyType"},
			Op:     models.FilterEq,
			Values: []any{"Multifamily"},
		}},
		GroupBy: []models.ColumnRef{{Table: "DimAsset", Column: "AssetName"}},
		OrderBy: []models.OrderTerm{{Alias: "noi", Desc: true}},
		Limit:   5,
	}
}

func TestPlanExecutor_Execute(t *testing.T) {
	clock := clockwork.NewFakeClock()
	runner := &fakeRunner{
		clock: clock,
		took:  120 * time.Millisecond,
		result: &models.ResultSet{
			Columns:  []models.ColumnInfo{{Name: "asset", Type: "VARCHAR"}, {Name: "noi", Type: "DOUBLE PRECISION"}},
			Rows:     []map[string]any{{"asset": "Willow Creek", "noi": 1680000.0}},
			RowCount: 1,
		},
	}
	e := NewPlanExecutor(plansql.DialectPostgres, runner, zaptest.NewLogger(t), WithClock(clock), WithMaxRows(500))

	rs, err := e.Execute(context.Background(), rankingPlan())
	require.NoError(t, err)

	assert.Equal(t, 1, rs.RowCount)
	assert.Equal(t, 120*time.Millisecond, rs.Elapsed)
	assert.Equal(t, 500, runner.maxRows)
	require.NotNil(t, runner.stmt)
	assert.Equal(t, plansql.DialectPostgres, runner.stmt.Dialect)
	assert.Equal(t, []any{"Multifamily"}, runner.stmt.Args)
	assert.Contains(t, runner.stmt.SQL, `"t1"."PropertyType" = $1`)
}

func TestPlanExecutor_MaxRowsBounds(t *testing.T) {
	tests := []struct {
		name     string
		opt      int
		expected int
	}{
		{"default", 0, MaxRows},
		{"negative ignored", -1, MaxRows},
		{"above cap ignored", MaxRows + 1, MaxRows},
		{"within cap", 25, 25},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := &fakeRunner{result: &models.ResultSet{}}
			e := NewPlanExecutor(plansql.DialectDuckDB, runner, nil, WithMaxRows(tc.opt))
			_, err := e.Execute(context.Background(), rankingPlan())
			require.NoError(t, err)
			assert.Equal(t, tc.expected, runner.maxRows)
		})
	}
}

func TestPlanExecutor_RenderFailureIsNotExecutionError(t *testing.T) {
	runner := &fakeRunner{result: &models.ResultSet{}}
	e := NewPlanExecutor(plansql.DialectPostgres, runner, nil)

	plan := rankingPlan()
	plan.Filters[0].Values = []any{"' OR '1'='1"}

	_, err := e.Execute(context.Background(), plan)
	require.Error(t, err)

	var qe *apperrors.QueryExecutionError
	assert.False(t, errors.As(err, &qe))
	assert.Nil(t, runner.stmt, "runner must not see an unsafe plan")
}

func TestPlanExecutor_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		timeout   bool
		retryable bool
	}{
		{"deadline", context.DeadlineExceeded, true, true},
		{"canceled", context.Canceled, false, false},
		{"transient", errors.New("read tcp: connection reset by peer"), false, true},
		{"syntax", errors.New("Incorrect syntax near 'FROM'"), false, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := NewPlanExecutor(plansql.DialectSQLServer, &fakeRunner{err: tc.err}, zaptest.NewLogger(t))

			_, err := e.Execute(context.Background(), rankingPlan())
			require.Error(t, err)

			var qe *apperrors.QueryExecutionError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tc.timeout, qe.Timeout)
			assert.Equal(t, tc.retryable, qe.IsRetryable())
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestWrapError_RedactsCredentials(t *testing.T) {
	raw := errors.New(`unable to open tcp connection with host 'db:1433': sqlserver://sa:Sup3rSecret@db:1433 login failed`)

	qe := WrapError(raw)

	assert.NotContains(t, qe.Cause, "Sup3rSecret")
	assert.NotContains(t, qe.Error(), "Sup3rSecret")
	assert.ErrorIs(t, qe, raw)
}

func TestWrapError_PassesThrough(t *testing.T) {
	inner := apperrors.NewQueryExecutionError("already wrapped", errors.New("x"), false)
	assert.Same(t, inner, WrapError(inner))
}

func TestPlanExecutor_Close(t *testing.T) {
	runner := &fakeRunner{}
	e := NewPlanExecutor(plansql.DialectDuckDB, runner, nil)
	require.NoError(t, e.Close())
	assert.True(t, runner.closed)
	assert.Equal(t, plansql.DialectDuckDB, e.Dialect())
}

func TestPlanExecutor_RefusesInjectedArgument(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	runner := &fakeRunner{result: &models.ResultSet{}}
	e := NewPlanExecutor(plansql.DialectSQLServer, runner, zap.New(core))

	plan := rankingPlan()
	plan.Filters[0].Values = []any{"x' OR '1'='1"}

	_, err := e.Execute(audit.WithSession(context.Background(), "s-42"), plan)

	var qe *apperrors.QueryExecutionError
	require.ErrorAs(t, err, &qe)
	assert.ErrorIs(t, err, ErrUnsafeArgument)
	assert.False(t, qe.IsRetryable())
	assert.Nil(t, runner.stmt, "the statement never reaches the warehouse")

	logs := recorded.FilterMessage("SQL injection attempt detected").All()
	require.Len(t, logs, 1)
	assert.Equal(t, zapcore.ErrorLevel, logs[0].Level)
	fields := logs[0].ContextMap()
	assert.Equal(t, "s-42", fields["session_id"])
	assert.Equal(t, "arg1", fields["param_name"])
	assert.Equal(t, "critical", fields["severity"])
}

func TestPlanExecutor_AuditsExecutions(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)

	t.Run("success", func(t *testing.T) {
		runner := &fakeRunner{result: &models.ResultSet{RowCount: 3}}
		e := NewPlanExecutor(plansql.DialectDuckDB, runner, zap.New(core))

		_, err := e.Execute(audit.WithSession(context.Background(), "s-1"), rankingPlan())
		require.NoError(t, err)

		logs := recorded.TakeAll()
		require.Len(t, logs, 1)
		assert.Equal(t, "Query executed", logs[0].Message)
		fields := logs[0].ContextMap()
		assert.Equal(t, "s-1", fields["session_id"])
		assert.Equal(t, "FactAssetOperations", fields["fact_table"])
		assert.EqualValues(t, 3, fields["rows"])
		assert.Equal(t, "duckdb", fields["dialect"])
	})

	t.Run("failure", func(t *testing.T) {
		runner := &fakeRunner{err: errors.New("connection refused")}
		e := NewPlanExecutor(plansql.DialectDuckDB, runner, zap.New(core))

		_, err := e.Execute(context.Background(), rankingPlan())
		require.Error(t, err)

		logs := recorded.TakeAll()
		require.Len(t, logs, 1)
		assert.Equal(t, zapcore.WarnLevel, logs[0].Level)
		assert.Equal(t, "Query failed", logs[0].Message)
		assert.Equal(t, "warning", logs[0].ContextMap()["severity"])
	})
}
