package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/adapters/warehouse"
	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/audit"
	"github.com/ekaya-inc/portfolio-chat/pkg/catalog"
	"github.com/ekaya-inc/portfolio-chat/pkg/config"
	"github.com/ekaya-inc/portfolio-chat/pkg/conversation"
	"github.com/ekaya-inc/portfolio-chat/pkg/insight"
	"github.com/ekaya-inc/portfolio-chat/pkg/intent"
	"github.com/ekaya-inc/portfolio-chat/pkg/llm"
	"github.com/ekaya-inc/portfolio-chat/pkg/logging"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	"github.com/ekaya-inc/portfolio-chat/pkg/normalizer"
	"github.com/ekaya-inc/portfolio-chat/pkg/planner"
	"github.com/ekaya-inc/portfolio-chat/pkg/resolver"
	"github.com/ekaya-inc/portfolio-chat/pkg/retry"
	plansql "github.com/ekaya-inc/portfolio-chat/pkg/sql"
)

// TurnService answers one question of a conversation at a time.
type TurnService interface {
	// ProcessTurn answers rawQuestion in the context of the session's earlier
	// turns. Recoverable problems (ambiguity, missing roles, unknown names or
	// intent) come back as a response carrying a Clarification. Execution
	// failures, timeouts and cancellation are returned as errors; in every
	// such case the session's history is left untouched.
	ProcessTurn(ctx context.Context, sessionID, rawQuestion string, currentDate time.Time) (*models.TurnResponse, error)

	// ResetSession forgets the session's history. It waits for an in-flight
	// turn of the session to finish first.
	ResetSession(ctx context.Context, sessionID string) error

	// History returns the session's committed turns, oldest first.
	History(sessionID string) []models.Turn

	// SampleQuestions lists questions the engine can answer.
	SampleQuestions() []string
}

type turnService struct {
	cat        *catalog.Catalog
	normalizer *normalizer.Normalizer
	resolver   *resolver.Resolver
	classifier *intent.Classifier
	insights   *insight.Generator
	executor   warehouse.Executor
	sessions   *conversation.Store
	cfg        config.EngineConfig
	execRetry  *retry.Config
	clock      clockwork.Clock
	logger     *zap.Logger
}

// NewTurnService wires the turn pipeline. model may be nil; it is then used
// neither for classification nor for phrasing.
func NewTurnService(
	cat *catalog.Catalog,
	executor warehouse.Executor,
	sessions *conversation.Store,
	model llm.LLMClient,
	cfg *config.Config,
	clock clockwork.Clock,
	logger *zap.Logger,
) TurnService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	var phraser llm.LLMClient
	if model != nil && cfg.LLM.PhraseInsights {
		phraser = model
	}

	return &turnService{
		cat:        cat,
		normalizer: normalizer.New(cat, cfg.Engine.SpellCorrection),
		resolver:   resolver.New(cat, cfg.Engine.DefaultLimit),
		classifier: intent.New(model, cfg.LLM.Timeout, cat.MetricKeys(), logger),
		insights:   insight.New(cat, phraser, cfg.LLM.Timeout, logger),
		executor:   executor,
		sessions:   sessions,
		cfg:        cfg.Engine,
		execRetry:  retry.CollaboratorConfig(cfg.Engine.ExecutionTimeout, cfg.Engine.ExecutionRetries),
		clock:      clock,
		logger:     logger.Named("turns"),
	}
}

var _ TurnService = (*turnService)(nil)

// pending is a turn being built. It is appended only once everything succeeded.
type pending struct {
	raw        string
	normalized *normalizer.Normalized
	intent     models.Intent
	entities   models.Entities
	plan       *models.QueryPlan
	expanded   bool
}

func (s *turnService) ProcessTurn(ctx context.Context, sessionID, rawQuestion string, currentDate time.Time) (*models.TurnResponse, error) {
	state := s.sessions.Get(sessionID)
	release, err := state.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSessionBusy, err)
	}
	defer release()

	ctx = audit.WithSession(ctx, sessionID)
	start := s.clock.Now()
	p := &pending{raw: rawQuestion, normalized: s.normalizer.Analyze(rawQuestion)}

	if reply, ok := normalizer.SmallTalk(p.normalized); ok {
		return &models.TurnResponse{
			Intent:        models.IntentUnknown,
			Clarification: &models.Clarification{Kind: models.ClarifySmallTalk, Message: reply},
		}, nil
	}

	resolution, err := s.resolver.Resolve(p.normalized, state, currentDate)
	if err != nil {
		return s.clarification(sessionID, p, err)
	}
	s.logger.Debug("Resolved entities",
		zap.String("session_id", sessionID),
		zap.Strings("explicit", resolution.Entities.RolesFrom(models.SourceExplicit)),
		zap.Strings("inherited", resolution.Entities.RolesFrom(models.SourceInherited)),
		zap.Strings("defaulted", resolution.Entities.RolesFrom(models.SourceDefault)),
		zap.Int("unresolved", len(resolution.Unresolved)))

	if normalizer.IsShowAll(p.normalized, namesAnything(resolution)) {
		prev, ok := state.LatestTurn()
		if !ok || prev.Plan == nil {
			return s.clarification(sessionID, p, &apperrors.IncompleteQueryError{
				Intent: "expand", Missing: []string{"previous result"}, Reason: "there is no earlier result to show in full",
			})
		}
		p.intent = prev.Intent
		p.entities = prev.Entities
		p.plan = prev.Plan.WithoutLimit(s.cfg.MaxLimit)
		p.expanded = true
		return s.answer(ctx, state, p, start)
	}

	if len(resolution.Unresolved) > 0 {
		p.entities = resolution.Entities
		return s.unresolved(p, resolution.Unresolved), nil
	}

	var previous *models.Turn
	if prev, ok := state.LatestTurn(); ok {
		previous = &prev
	}
	classified, err := s.classifier.Classify(ctx, intent.Input{
		Normalized: p.normalized,
		Resolution: resolution,
		Previous:   previous,
	})
	if err != nil {
		return nil, err
	}
	p.intent = classified.Intent
	p.entities = resolution.Entities
	s.logger.Debug("Classified question",
		zap.String("session_id", sessionID),
		zap.String("intent", string(classified.Intent)),
		zap.String("source", string(classified.Source)),
		zap.Float64("confidence", classified.Confidence))

	plan, err := planner.Synthesize(p.intent, p.entities, s.cat)
	if err != nil {
		return s.clarification(sessionID, p, err)
	}
	p.plan = s.capLimit(plan)

	return s.answer(ctx, state, p, start)
}

// answer executes the plan, explains the result and commits the turn.
func (s *turnService) answer(ctx context.Context, state *conversation.State, p *pending, start time.Time) (*models.TurnResponse, error) {
	stmt, err := plansql.Render(p.plan, s.executor.Dialect())
	if err != nil {
		return s.clarification(state.SessionID(), p, err)
	}

	result, err := s.execute(ctx, p.plan)
	if err != nil {
		return nil, err
	}

	ins, err := s.insights.Generate(ctx, p.raw, p.plan, result)
	if err != nil {
		return nil, err
	}

	summary := result.Summarize(s.cfg.PreviewRows)
	turn := state.Append(models.Turn{
		RawQuestion:        p.raw,
		NormalizedQuestion: p.normalized.Text,
		Intent:             p.intent,
		Entities:           p.entities,
		Plan:               p.plan,
		GeneratedQuery:     stmt.SQL,
		ResultSummary:      &summary,
		Timestamp:          s.clock.Now(),
	})

	s.logger.Info("Answered question",
		zap.String("session_id", state.SessionID()),
		zap.Int("turn_id", turn.ID),
		zap.String("intent", string(p.intent)),
		zap.Bool("expanded", p.expanded),
		zap.Int("rows", result.RowCount),
		zap.Duration("query_time", result.Elapsed),
		zap.Duration("elapsed", s.clock.Since(start)))

	return &models.TurnResponse{
		TurnID:         turn.ID,
		Intent:         p.intent,
		Entities:       p.entities,
		Plan:           p.plan,
		GeneratedQuery: stmt.SQL,
		ResultSummary:  &summary,
		Insight:        ins,
		Hint:           s.hint(p, result),
	}, nil
}

// execute runs the plan under the collaborator discipline: a per-attempt
// timeout and at most one retry of a transient failure.
func (s *turnService) execute(ctx context.Context, plan *models.QueryPlan) (*models.ResultSet, error) {
	result, out, err := retry.DoWithTimeout(ctx, s.execRetry, func(ctx context.Context) (*models.ResultSet, error) {
		return s.executor.Execute(ctx, plan)
	})
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("turn abandoned: %w", err)
	}

	var qe *apperrors.QueryExecutionError
	if !errors.As(err, &qe) {
		if !out.TimedOut {
			return nil, fmt.Errorf("execute plan: %w", err)
		}
		qe = apperrors.NewQueryExecutionError(logging.SanitizeError(err), err, true)
	}
	if out.TimedOut {
		qe.Timeout = true
	}
	qe.Attempts = out.Attempts

	s.logger.Warn("Query execution failed",
		zap.Int("attempts", out.Attempts),
		zap.Bool("timed_out", qe.Timeout),
		zap.String("cause", qe.Cause))
	return nil, qe
}

// capLimit bounds every plan by the configured maximum.
func (s *turnService) capLimit(plan *models.QueryPlan) *models.QueryPlan {
	if s.cfg.MaxLimit > 0 && (plan.Limit == 0 || plan.Limit > s.cfg.MaxLimit) {
		return plan.WithoutLimit(s.cfg.MaxLimit)
	}
	return plan
}

// hint suggests expanding a result that was cut off by its limit.
func (s *turnService) hint(p *pending, result *models.ResultSet) string {
	if p.expanded || p.plan.Limit <= 1 || result.RowCount < p.plan.Limit || p.plan.Limit >= s.cfg.MaxLimit {
		return ""
	}
	return fmt.Sprintf("These are the first %d results. Ask to \"show all results\" to see everything.", result.RowCount)
}

// namesAnything reports whether the question itself named a metric, member,
// facet value or period, which makes "show all ..." a new question.
func namesAnything(r *resolver.Resolution) bool {
	for _, e := range r.Explicit() {
		switch e.Role {
		case models.RoleLimit, models.RoleDirection, models.RoleAggregate:
			continue
		default:
			return true
		}
	}
	return false
}

func (s *turnService) ResetSession(ctx context.Context, sessionID string) error {
	if err := s.sessions.Reset(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrSessionBusy, err)
	}
	s.logger.Info("Reset session", zap.String("session_id", sessionID))
	return nil
}

func (s *turnService) History(sessionID string) []models.Turn {
	state, ok := s.sessions.Lookup(sessionID)
	if !ok {
		return nil
	}
	return state.Turns()
}

func (s *turnService) SampleQuestions() []string {
	return SampleQuestions()
}
