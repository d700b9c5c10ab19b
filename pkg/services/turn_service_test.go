package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/portfolio-chat/pkg/adapters/warehouse"
	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/config"
	"github.com/ekaya-inc/portfolio-chat/pkg/conversation"
	"github.com/ekaya-inc/portfolio-chat/pkg/insight"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	plansql "github.com/ekaya-inc/portfolio-chat/pkg/sql"
)

const (
	topMultifamily = "Show me our top 5 performing multifamily assets by NOI in 2024"
	byOccupancy    = "What about by occupancy instead?"
)

var today = time.Date(2025, time.March, 15, 0, 0, 0, 0, time.UTC)

// fakeExecutor answers plans with generated rows unless respond is set.
type fakeExecutor struct {
	mu      sync.Mutex
	plans   []*models.QueryPlan
	rows    int
	respond func(ctx context.Context, call int, plan *models.QueryPlan) (*models.ResultSet, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, plan *models.QueryPlan) (*models.ResultSet, error) {
	f.mu.Lock()
	f.plans = append(f.plans, plan)
	call := len(f.plans)
	respond := f.respond
	f.mu.Unlock()

	if respond != nil {
		return respond(ctx, call, plan)
	}
	n := f.rows
	if n == 0 {
		n = 12
	}
	return tableFor(plan, n), nil
}

func (f *fakeExecutor) Dialect() plansql.Dialect { return plansql.DialectDuckDB }

func (f *fakeExecutor) Close() error { return nil }

func (f *fakeExecutor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plans)
}

func (f *fakeExecutor) lastPlan(t *testing.T) *models.QueryPlan {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.plans)
	return f.plans[len(f.plans)-1]
}

// tableFor builds up to available rows shaped like the plan's select list,
// with metric values descending.
func tableFor(plan *models.QueryPlan, available int) *models.ResultSet {
	n := available
	if plan.Limit > 0 && plan.Limit < n {
		n = plan.Limit
	}

	rs := &models.ResultSet{RowCount: n}
	for _, item := range plan.Select {
		typ := "VARCHAR"
		if item.IsMetric() {
			typ = "DOUBLE"
		}
		rs.Columns = append(rs.Columns, models.ColumnInfo{Name: item.Alias, Type: typ})
	}
	for i := 0; i < n; i++ {
		row := make(map[string]any, len(plan.Select))
		for _, item := range plan.Select {
			switch {
			case item.IsMetric():
				row[item.Alias] = float64(1000 * (n - i))
			case item.Alias == "year":
				row[item.Alias] = int64(2022 + i)
			case item.Alias == "quarter":
				row[item.Alias] = int64(i%4 + 1)
			case item.Alias == "month":
				row[item.Alias] = int64(i%12 + 1)
			default:
				row[item.Alias] = fmt.Sprintf("%s %d", item.Alias, i+1)
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs
}

func testConfig() *config.Config {
	return &config.Config{
		Env: "test",
		Engine: config.EngineConfig{
			MaxTurns:         50,
			SessionIdleTTL:   time.Minute,
			DefaultLimit:     10,
			MaxLimit:         1000,
			PreviewRows:      20,
			ExecutionTimeout: time.Second,
			ExecutionRetries: 1,
			SpellCorrection:  true,
		},
		LLM: config.LLMConfig{Provider: "none", Timeout: time.Second},
	}
}

func newTestService(t *testing.T, exec warehouse.Executor, cfg *config.Config) TurnService {
	t.Helper()
	cat, err := catalog.LoadDefault()
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	sessions := conversation.NewStore(cfg.Engine.MaxTurns, cfg.Engine.SessionIdleTTL, logger)
	return NewTurnService(cat, exec, sessions, nil, cfg, clockwork.NewFakeClockAt(today), logger)
}

func ask(t *testing.T, svc TurnService, session, question string) *models.TurnResponse {
	t.Helper()
	resp, err := svc.ProcessTurn(context.Background(), session, question, today)
	require.NoError(t, err, question)
	require.NotNil(t, resp)
	return resp
}

func entity(t *testing.T, resp *models.TurnResponse, role models.Role) models.ResolvedEntity {
	t.Helper()
	e, ok := resp.Entities.Get(role)
	require.True(t, ok, "role %s not resolved", role)
	return e
}

func TestProcessTurn_Ranking(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	resp := ask(t, svc, "s1", topMultifamily)

	require.Nil(t, resp.Clarification)
	assert.Equal(t, 1, resp.TurnID)
	assert.Equal(t, models.IntentRanking, resp.Intent)
	assert.Equal(t, "noi", entity(t, resp, models.RoleMetric).Value)
	assert.Equal(t, "Multifamily", entity(t, resp, "property_type").Value)
	assert.Equal(t, "5", entity(t, resp, models.RoleLimit).Value)
	assert.Equal(t, "desc", entity(t, resp, models.RoleDirection).Value)

	require.NotNil(t, resp.Plan)
	assert.Equal(t, 5, resp.Plan.Limit)
	require.NotEmpty(t, resp.Plan.OrderBy)
	assert.True(t, resp.Plan.OrderBy[0].Desc)
	assert.Contains(t, resp.GeneratedQuery, "LIMIT 5")

	require.NotNil(t, resp.ResultSummary)
	assert.Equal(t, 5, resp.ResultSummary.RowCount)
	require.NotNil(t, resp.Insight)
	assert.Contains(t, resp.Insight.Narrative, "ranks first on NOI")
	assert.NotEmpty(t, resp.Insight.CitedFacts)
	assert.Contains(t, resp.Hint, "first 5 results")

	history := svc.History("s1")
	require.Len(t, history, 1)
	assert.Equal(t, topMultifamily, history[0].RawQuestion)
	assert.Equal(t, today, history[0].Timestamp)
	assert.Equal(t, resp.GeneratedQuery, history[0].GeneratedQuery)
}

func TestProcessTurn_FollowUpInheritsContext(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	first := ask(t, svc, "s1", topMultifamily)
	resp := ask(t, svc, "s1", byOccupancy)

	require.Nil(t, resp.Clarification)
	assert.Equal(t, 2, resp.TurnID)
	assert.Equal(t, models.IntentRanking, resp.Intent)

	metric := entity(t, resp, models.RoleMetric)
	assert.Equal(t, "occupancy", metric.Value)
	assert.Equal(t, models.SourceExplicit, metric.Source)

	pt := entity(t, resp, "property_type")
	assert.Equal(t, "Multifamily", pt.Value)
	assert.Equal(t, models.SourceInherited, pt.Source)

	tr := entity(t, resp, models.RoleTimeRange)
	assert.Equal(t, models.SourceInherited, tr.Source)
	assert.Equal(t, entity(t, first, models.RoleTimeRange).Range, tr.Range)

	assert.Equal(t, []string{"occupancy"}, resp.Plan.Metrics)
	assert.Equal(t, 5, resp.Plan.Limit)
	assert.Len(t, svc.History("s1"), 2)
}

func TestProcessTurn_Comparison(t *testing.T) {
	exec := &fakeExecutor{rows: 2}
	svc := newTestService(t, exec, testConfig())

	resp := ask(t, svc, "s1", "Compare Fund II and Fund III IRR")

	require.Nil(t, resp.Clarification)
	assert.Equal(t, models.IntentComparison, resp.Intent)
	targets := resp.Entities.Values(models.RoleComparisonTarget)
	assert.Equal(t, []string{"Fund II", "Fund III"}, targets)
	assert.Contains(t, resp.Insight.Narrative, "compared with")
	assert.Empty(t, resp.Hint)
}

func TestProcessTurn_ComparisonAfterAssetRanking(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	ask(t, svc, "s1", topMultifamily)
	resp := ask(t, svc, "s1", "Compare Fund II and Fund III IRR")

	require.Nil(t, resp.Clarification)
	assert.Equal(t, models.IntentComparison, resp.Intent)
	assert.False(t, resp.Entities.Has("property_type"), "asset facet does not apply to fund IRR")
	assert.False(t, resp.Entities.Has(models.RoleGroupBy))
	assert.Equal(t, models.SourceInherited, entity(t, resp, models.RoleTimeRange).Source)
	assert.NotContains(t, resp.Plan.Tables(), "DimAsset")
	assert.Len(t, svc.History("s1"), 2)
}

func TestProcessTurn_LogsInheritedRoles(t *testing.T) {
	cat, err := catalog.LoadDefault()
	require.NoError(t, err)
	cfg := testConfig()
	core, recorded := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	sessions := conversation.NewStore(cfg.Engine.MaxTurns, cfg.Engine.SessionIdleTTL, logger)
	svc := NewTurnService(cat, &fakeExecutor{}, sessions, nil, cfg, clockwork.NewFakeClockAt(today), logger)

	ask(t, svc, "s1", topMultifamily)
	ask(t, svc, "s1", "Compare Fund II and Fund III IRR")

	entries := recorded.FilterMessage("Resolved entities").All()
	require.Len(t, entries, 2)
	last := entries[1].ContextMap()
	assert.ElementsMatch(t, []any{"comparison_target", "metric"}, last["explicit"])
	assert.Contains(t, last["inherited"], "time_range")
	assert.NotContains(t, last["inherited"], "property_type")
	assert.NotContains(t, last["inherited"], "group_by")
}

func TestProcessTurn_ComparisonNeedsTwoTargets(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	resp := ask(t, svc, "s1", "Compare Fund II IRR")

	require.NotNil(t, resp.Clarification)
	assert.Equal(t, models.ClarifyIncomplete, resp.Clarification.Kind)
	assert.Contains(t, resp.Clarification.MissingRoles, models.RoleComparisonTarget)
	assert.Zero(t, resp.TurnID)
	assert.Zero(t, exec.calls())
	assert.Empty(t, svc.History("s1"), "clarifications are not committed")
}

func TestProcessTurn_FuturePeriodAsksForClarification(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	resp := ask(t, svc, "s1", "NOI trend for Parkview since 2030")

	require.NotNil(t, resp.Clarification)
	assert.Equal(t, models.ClarifyIncomplete, resp.Clarification.Kind)
	assert.Equal(t, []models.Role{models.RoleTimeRange}, resp.Clarification.MissingRoles)
	assert.Contains(t, resp.Clarification.Message, "begins after 2025-03-15")
	assert.Zero(t, exec.calls())
	assert.Empty(t, svc.History("s1"))
}

func TestProcessTurn_EmptyResult(t *testing.T) {
	exec := &fakeExecutor{respond: func(_ context.Context, _ int, plan *models.QueryPlan) (*models.ResultSet, error) {
		return tableFor(plan, 0), nil
	}}
	svc := newTestService(t, exec, testConfig())

	resp := ask(t, svc, "s1", "What is the NOI for Parkview last quarter?")

	require.Nil(t, resp.Clarification)
	assert.Equal(t, insight.NoDataNarrative, resp.Insight.Narrative)
	assert.Empty(t, resp.Insight.CitedFacts)
	assert.Equal(t, 0, resp.ResultSummary.RowCount)
	assert.Empty(t, resp.Hint)
	assert.Equal(t, 1, resp.TurnID, "an empty answer is still a turn")
}

func TestProcessTurn_Misspellings(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	resp := ask(t, svc, "s1", "What is the occupnacy for Oakveiw?")

	require.Nil(t, resp.Clarification)
	assert.Equal(t, models.IntentLookup, resp.Intent)
	assert.Equal(t, "occupancy", entity(t, resp, models.RoleMetric).Value)
	asset := entity(t, resp, models.RoleAsset)
	assert.Equal(t, "Oakview Apartments", asset.Value)
	assert.Equal(t, "Oakveiw", asset.Mention)
}

func TestProcessTurn_SmallTalk(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	resp := ask(t, svc, "s1", "Hey, what can you help me with?")

	require.NotNil(t, resp.Clarification)
	assert.Equal(t, models.ClarifySmallTalk, resp.Clarification.Kind)
	assert.NotEmpty(t, resp.Clarification.Message)
	assert.Equal(t, models.IntentUnknown, resp.Intent)
	assert.Zero(t, exec.calls())
	assert.Empty(t, svc.History("s1"))
}

func TestProcessTurn_ShowAll(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := testConfig()
	svc := newTestService(t, exec, cfg)

	first := ask(t, svc, "s1", topMultifamily)
	resp := ask(t, svc, "s1", "Show all results")

	require.Nil(t, resp.Clarification)
	assert.Equal(t, 2, resp.TurnID)
	assert.Equal(t, first.Intent, resp.Intent)
	assert.Equal(t, cfg.Engine.MaxLimit, resp.Plan.Limit)
	assert.Equal(t, first.Plan.Select, resp.Plan.Select)
	assert.Equal(t, first.Plan.Filters, resp.Plan.Filters)
	assert.Equal(t, 12, resp.ResultSummary.RowCount)
	assert.Empty(t, resp.Hint)
	assert.Equal(t, 5, first.Plan.Limit, "the earlier turn's plan is not modified")
}

func TestProcessTurn_ShowAllWithoutHistory(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	resp := ask(t, svc, "s1", "Show all results")

	require.NotNil(t, resp.Clarification)
	assert.Equal(t, models.ClarifyIncomplete, resp.Clarification.Kind)
	assert.Zero(t, exec.calls())
}

func TestProcessTurn_UnknownName(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	resp := ask(t, svc, "s1", "What is the IRR for Fund IX?")

	require.True(t, resp.NeedsClarification())
	require.Len(t, resp.UnresolvedRoles, 1)
	assert.Equal(t, "Fund IX", resp.UnresolvedRoles[0].Mention)
	assert.Equal(t, models.ClarifyUnknownName, resp.Clarification.Kind)
	assert.Contains(t, resp.Clarification.Message, `"Fund IX"`)
	assert.Contains(t, resp.Clarification.Candidates, "Fund II")
	assert.Zero(t, exec.calls(), "unknown names are never answered portfolio-wide")
}

func TestProcessTurn_UnknownQuestion(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	resp := ask(t, svc, "s1", "how are we doing")

	require.NotNil(t, resp.Clarification)
	assert.Equal(t, models.ClarifyUnknownQuery, resp.Clarification.Kind)
	assert.Zero(t, exec.calls())
}

func TestProcessTurn_ExecutionTimeout(t *testing.T) {
	exec := &fakeExecutor{respond: func(ctx context.Context, _ int, _ *models.QueryPlan) (*models.ResultSet, error) {
		<-ctx.Done()
		return nil, warehouse.WrapError(ctx.Err())
	}}
	cfg := testConfig()
	cfg.Engine.ExecutionTimeout = 20 * time.Millisecond
	svc := newTestService(t, exec, cfg)

	resp, err := svc.ProcessTurn(context.Background(), "s1", topMultifamily, today)

	require.Error(t, err)
	assert.Nil(t, resp)
	var qe *apperrors.QueryExecutionError
	require.ErrorAs(t, err, &qe)
	assert.True(t, qe.Timeout)
	assert.Equal(t, 1, qe.Attempts, "timeouts are not retried")
	assert.Equal(t, 1, exec.calls())
	assert.Empty(t, svc.History("s1"))
}

func TestProcessTurn_RetryDiscipline(t *testing.T) {
	transient := func() error {
		return warehouse.WrapError(errors.New("read tcp 10.0.0.4:5432: connection reset by peer"))
	}

	tests := []struct {
		name      string
		respond   func(ctx context.Context, call int, plan *models.QueryPlan) (*models.ResultSet, error)
		wantCalls int
		wantErr   bool
	}{
		{
			name: "transient failure retried once",
			respond: func(_ context.Context, call int, plan *models.QueryPlan) (*models.ResultSet, error) {
				if call == 1 {
					return nil, transient()
				}
				return tableFor(plan, 5), nil
			},
			wantCalls: 2,
		},
		{
			name: "persistent transient failure",
			respond: func(context.Context, int, *models.QueryPlan) (*models.ResultSet, error) {
				return nil, transient()
			},
			wantCalls: 2,
			wantErr:   true,
		},
		{
			name: "permanent failure not retried",
			respond: func(context.Context, int, *models.QueryPlan) (*models.ResultSet, error) {
				return nil, warehouse.WrapError(errors.New(`Binder Error: column "NOI" not found`))
			},
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &fakeExecutor{respond: tt.respond}
			svc := newTestService(t, exec, testConfig())

			resp, err := svc.ProcessTurn(context.Background(), "s1", topMultifamily, today)

			assert.Equal(t, tt.wantCalls, exec.calls())
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, 1, resp.TurnID)
				return
			}
			var qe *apperrors.QueryExecutionError
			require.ErrorAs(t, err, &qe)
			assert.False(t, qe.Timeout)
			assert.Equal(t, tt.wantCalls, qe.Attempts)
			assert.Empty(t, svc.History("s1"))
		})
	}
}

func TestProcessTurn_RetryRunsTheSamePlan(t *testing.T) {
	exec := &fakeExecutor{respond: func(_ context.Context, call int, plan *models.QueryPlan) (*models.ResultSet, error) {
		if call == 1 {
			return nil, warehouse.WrapError(errors.New("service unavailable"))
		}
		return tableFor(plan, 5), nil
	}}
	svc := newTestService(t, exec, testConfig())

	ask(t, svc, "s1", topMultifamily)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	require.Len(t, exec.plans, 2)
	assert.Same(t, exec.plans[0], exec.plans[1])
}

func TestProcessTurn_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := &fakeExecutor{respond: func(context.Context, int, *models.QueryPlan) (*models.ResultSet, error) {
		cancel()
		return nil, warehouse.WrapError(context.Canceled)
	}}
	svc := newTestService(t, exec, testConfig())

	_, err := svc.ProcessTurn(ctx, "s1", topMultifamily, today)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, exec.calls())
	assert.Empty(t, svc.History("s1"))
}

func TestProcessTurn_Idempotent(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	questions := []string{topMultifamily, "Compare Fund II and Fund III IRR", "NOI trend for Fund II over the last 3 years"}
	for _, q := range questions {
		t.Run(q, func(t *testing.T) {
			a := ask(t, svc, "a:"+q, q)
			b := ask(t, svc, "b:"+q, q)
			if diff := cmp.Diff(a, b,
				cmpopts.IgnoreFields(models.TurnResponse{}, "TurnID"),
				cmpopts.EquateEmpty(),
			); diff != "" {
				t.Errorf("responses differ (-a +b):\n%s", diff)
			}
		})
	}
}

func TestProcessTurn_ParallelSessions(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		session := fmt.Sprintf("s%d", i)
		g.Go(func() error {
			if _, err := svc.ProcessTurn(context.Background(), session, topMultifamily, today); err != nil {
				return err
			}
			resp, err := svc.ProcessTurn(context.Background(), session, byOccupancy, today)
			if err != nil {
				return err
			}
			if resp.TurnID != 2 {
				return fmt.Errorf("session %s: turn id %d", session, resp.TurnID)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < 8; i++ {
		history := svc.History(fmt.Sprintf("s%d", i))
		require.Len(t, history, 2)
		assert.Equal(t, "occupancy", history[1].Plan.Metrics[0])
	}
}

func TestProcessTurn_SameSessionIsSerialized(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	exec := &fakeExecutor{respond: func(_ context.Context, _ int, plan *models.QueryPlan) (*models.ResultSet, error) {
		entered <- struct{}{}
		<-release
		return tableFor(plan, 5), nil
	}}
	svc := newTestService(t, exec, testConfig())

	var g errgroup.Group
	ids := make([]int, 2)
	for i := range ids {
		g.Go(func() error {
			resp, err := svc.ProcessTurn(context.Background(), "shared", topMultifamily, today)
			if err != nil {
				return err
			}
			ids[i] = resp.TurnID
			return nil
		})
	}

	<-entered
	select {
	case <-entered:
		t.Fatal("second turn executed while the first held the session")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, g.Wait())

	sort.Ints(ids)
	assert.Equal(t, []int{1, 2}, ids)
}

func TestProcessTurn_BusySession(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	exec := &fakeExecutor{respond: func(_ context.Context, call int, plan *models.QueryPlan) (*models.ResultSet, error) {
		if call == 1 {
			close(entered)
			<-release
		}
		return tableFor(plan, 5), nil
	}}
	svc := newTestService(t, exec, testConfig())

	var g errgroup.Group
	g.Go(func() error {
		_, err := svc.ProcessTurn(context.Background(), "shared", topMultifamily, today)
		return err
	})
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.ProcessTurn(ctx, "shared", byOccupancy, today)
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, g.Wait())
	assert.Len(t, svc.History("shared"), 1)
}

func TestProcessTurn_MaxLimitCapsPlans(t *testing.T) {
	exec := &fakeExecutor{}
	cfg := testConfig()
	cfg.Engine.MaxLimit = 3
	svc := newTestService(t, exec, cfg)

	resp := ask(t, svc, "s1", topMultifamily)

	assert.Equal(t, 3, resp.Plan.Limit)
	assert.Same(t, resp.Plan, exec.lastPlan(t))
	assert.Empty(t, resp.Hint, "no hint when the cap is already reached")
}

func TestResetSession(t *testing.T) {
	exec := &fakeExecutor{}
	svc := newTestService(t, exec, testConfig())

	ask(t, svc, "s1", topMultifamily)
	ask(t, svc, "s2", topMultifamily)
	require.NoError(t, svc.ResetSession(context.Background(), "s1"))

	assert.Empty(t, svc.History("s1"))
	assert.Len(t, svc.History("s2"), 1)

	resp := ask(t, svc, "s1", byOccupancy)
	assert.False(t, resp.Entities.Has("property_type"), "nothing is inherited after a reset")
}

func TestResetSession_WaitsForInFlightTurn(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	exec := &fakeExecutor{respond: func(_ context.Context, call int, plan *models.QueryPlan) (*models.ResultSet, error) {
		if call == 1 {
			close(entered)
			<-release
		}
		return tableFor(plan, 5), nil
	}}
	svc := newTestService(t, exec, testConfig())

	var g errgroup.Group
	g.Go(func() error {
		_, err := svc.ProcessTurn(context.Background(), "shared", topMultifamily, today)
		return err
	})
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := svc.ResetSession(ctx, "shared")
	assert.ErrorIs(t, err, apperrors.ErrSessionBusy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	reset := make(chan error, 1)
	go func() { reset <- svc.ResetSession(context.Background(), "shared") }()
	select {
	case <-reset:
		t.Fatal("reset finished while a turn was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, g.Wait())
	require.NoError(t, <-reset)
	assert.Empty(t, svc.History("shared"), "the turn commits before the reset clears it")

	resp := ask(t, svc, "shared", byOccupancy)
	assert.False(t, resp.Entities.Has("property_type"))
	assert.Equal(t, 2, resp.TurnID, "turn ids keep increasing across a reset")
}

func TestHistory_UnknownSession(t *testing.T) {
	svc := newTestService(t, &fakeExecutor{}, testConfig())
	assert.Nil(t, svc.History("nobody"))
}

func TestSampleQuestions(t *testing.T) {
	svc := newTestService(t, &fakeExecutor{}, testConfig())

	got := svc.SampleQuestions()
	require.NotEmpty(t, got)
	got[0] = "changed"
	assert.NotEqual(t, "changed", svc.SampleQuestions()[0])
}

func TestClarify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantKind    models.ClarificationKind
		wantMessage string
	}{
		{
			name:        "ambiguous",
			err:         &apperrors.AmbiguityError{Role: string(models.RoleAsset), Mention: "Harbor Point", Candidates: []string{"Harbor Point Lofts", "Harbor Point Plaza"}},
			wantKind:    models.ClarifyAmbiguous,
			wantMessage: `"Harbor Point" could mean Harbor Point Lofts or Harbor Point Plaza. Which one did you mean?`,
		},
		{
			name:        "incomplete",
			err:         &apperrors.IncompleteQueryError{Intent: "trend", Missing: []string{"time_range"}, Reason: "a trend needs a time range"},
			wantKind:    models.ClarifyIncomplete,
			wantMessage: "I need a little more detail: a trend needs a time range.",
		},
		{
			name:        "unknown metric",
			err:         &apperrors.SchemaResolutionError{Kind: "metric", Name: "cap rate", Suggestions: []string{"occupancy"}},
			wantKind:    models.ClarifyUnknownName,
			wantMessage: `I don't know the metric "cap rate". Try occupancy.`,
		},
		{
			name:        "unusable metric",
			err:         &apperrors.SchemaResolutionError{Kind: "metric", Name: "irr", Reason: "it is not reported per asset"},
			wantKind:    models.ClarifyUnknownName,
			wantMessage: `I can't use metric "irr": it is not reported per asset.`,
		},
		{
			name:     "uncertain intent",
			err:      fmt.Errorf("plan: %w", apperrors.ErrClassificationUncertain),
			wantKind: models.ClarifyUnknownQuery,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Clarify(tt.err)
			assert.Equal(t, tt.wantKind, c.Kind)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, c.Message)
			}
			assert.ErrorIs(t, c.Err, tt.err)
		})
	}
}

func TestOrList(t *testing.T) {
	assert.Equal(t, "", orList(nil))
	assert.Equal(t, "a", orList([]string{"a"}))
	assert.Equal(t, "a or b", orList([]string{"a", "b"}))
	assert.Equal(t, "a, b or c", orList([]string{"a", "b", "c"}))
}
