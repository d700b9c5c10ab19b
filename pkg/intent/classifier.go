// Package intent maps a resolved question onto the closed set of analytical
// intents. Deterministic rules run first; the model collaborator is consulted
// only when no rule applies, and its answer is validated against the enumeration.
package intent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/jsonutil"
	"github.com/ekaya-inc/portfolio-chat/pkg/llm"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
	"github.com/ekaya-inc/portfolio-chat/pkg/normalizer"
	"github.com/ekaya-inc/portfolio-chat/pkg/prompts"
	"github.com/ekaya-inc/portfolio-chat/pkg/resolver"
	"github.com/ekaya-inc/portfolio-chat/pkg/retry"
)

// Source records which stage produced a classification.
type Source string

const (
	SourceRules   Source = "rules"
	SourceContext Source = "context"
	SourceModel   Source = "model"
	SourceNone    Source = "none"
)

const (
	ruleConfidence    = 0.9
	contextConfidence = 0.8
	lookupConfidence  = 0.7
	// Model answers below this confidence are treated as Unknown.
	minModelConfidence = 0.5
	// Elliptical follow-ups ("and for Fund III?") are short.
	maxEllipticalWords = 6
)

// Input is everything the classifier looks at.
type Input struct {
	Normalized *normalizer.Normalized
	Resolution *resolver.Resolution
	// Previous is the session's latest committed turn, nil on the first turn.
	Previous *models.Turn
}

// Result is a classification with its provenance.
type Result struct {
	Intent     models.Intent
	Confidence float64
	Source     Source
	Reason     string
}

// Classifier is safe for concurrent use.
type Classifier struct {
	model   llm.LLMClient
	retry   *retry.Config
	metrics []string
	logger  *zap.Logger
}

// New creates a classifier. model may be nil, in which case questions no rule
// matches are classified Unknown.
func New(model llm.LLMClient, timeout time.Duration, metrics []string, logger *zap.Logger) *Classifier {
	return &Classifier{
		model:   model,
		retry:   retry.CollaboratorConfig(timeout, 1),
		metrics: metrics,
		logger:  logger.Named("intent"),
	}
}

// Classify returns the question's intent. Unknown is a valid result, not an
// error. An error is returned only when the model call was cancelled or timed out,
// in which case the turn must be abandoned.
func (c *Classifier) Classify(ctx context.Context, in Input) (Result, error) {
	if r, ok := classifyByRules(in); ok {
		return r, nil
	}
	if r, ok := carryFromContext(in); ok {
		return r, nil
	}
	if r, ok := classifyLookup(in); ok {
		return r, nil
	}
	if c.model == nil {
		return Result{Intent: models.IntentUnknown, Source: SourceNone, Reason: "no rule matched"}, nil
	}
	return c.classifyByModel(ctx, in)
}

// classifyByRules applies keyword cues in precedence order:
// comparison > ranking > trend > aggregation.
func classifyByRules(in Input) (Result, bool) {
	cues := in.Resolution.Cues
	explicit := in.Resolution.Explicit()

	rule := func(i models.Intent, reason string) (Result, bool) {
		return Result{Intent: i, Confidence: ruleConfidence, Source: SourceRules, Reason: reason}, true
	}

	switch {
	case cues.Comparison:
		return rule(models.IntentComparison, "comparison cue")
	case len(explicit.All(models.RoleComparisonTarget)) >= 2:
		return rule(models.IntentComparison, "two comparison targets")
	case cues.Ranking:
		return rule(models.IntentRanking, "ranking cue")
	case cues.Trend:
		return rule(models.IntentTrend, "trend cue")
	case cues.Aggregation:
		return rule(models.IntentAggregation, "aggregation cue")
	case explicit.Has(models.RoleGroupBy):
		// "noi by fund" without a ranking word is a grouped aggregate
		return rule(models.IntentAggregation, "grouping requested")
	}
	return Result{}, false
}

// carryFromContext reuses the previous turn's intent for elliptical follow-ups
// such as "what about Fund III?" or "and last year?".
func carryFromContext(in Input) (Result, bool) {
	prev := in.Previous
	if prev == nil || !prev.Intent.IsActionable() {
		return Result{}, false
	}

	cues := in.Resolution.Cues
	words := len(in.Normalized.Tokens)
	if !cues.FollowUp && words > maxEllipticalWords {
		return Result{}, false
	}
	if !cues.FollowUp && in.Resolution.Explicit().Has(models.RoleMetric) && words > 3 {
		// a fresh question naming its own metric is not elliptical
		return Result{}, false
	}

	carried := prev.Intent
	reason := "follow-up of " + string(prev.Intent)
	if carried == models.IntentComparison && len(in.Resolution.Entities.All(models.RoleComparisonTarget)) < 2 {
		carried = models.IntentLookup
		reason = "follow-up names a single subject"
	}
	return Result{Intent: carried, Confidence: contextConfidence, Source: SourceContext, Reason: reason}, true
}

// classifyLookup matches a question that names a metric or a subject and
// carries no other cue.
func classifyLookup(in Input) (Result, bool) {
	explicit := in.Resolution.Explicit()
	if !explicit.Has(models.RoleMetric) && !explicit.HasSubject() {
		return Result{}, false
	}
	return Result{Intent: models.IntentLookup, Confidence: lookupConfidence, Source: SourceRules, Reason: "named metric or subject"}, true
}

type modelReply struct {
	Intent     jsonutil.FlexibleString `json:"intent"`
	Confidence jsonutil.FlexibleFloat  `json:"confidence"`
}

func (c *Classifier) classifyByModel(ctx context.Context, in Input) (Result, error) {
	ic := prompts.IntentContext{
		Question: in.Normalized.Text,
		Entities: in.Resolution.Entities,
		Metrics:  c.metrics,
	}
	if in.Previous != nil {
		ic.PreviousIntent = in.Previous.Intent
	}
	prompt := prompts.BuildIntentPrompt(ic)
	system := prompts.BuildIntentSystemMessage()

	resp, out, err := retry.DoWithTimeout(ctx, c.retry, func(ctx context.Context) (*llm.GenerateResponseResult, error) {
		return c.model.GenerateResponse(ctx, prompt, system, 0, false)
	})
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, retry.ErrAttemptTimeout) {
			return Result{}, fmt.Errorf("classify intent: %w", err)
		}
		c.logger.Warn("Model classification failed, treating as unknown",
			zap.Int("attempts", out.Attempts),
			zap.String("error_type", string(llm.GetErrorType(err))),
			zap.Error(err))
		return unknown("model unavailable"), nil
	}

	reply, err := llm.ParseJSONResponse[modelReply](resp.Content)
	if err != nil {
		c.logger.Debug("Unparseable model classification", zap.Error(err))
		return unknown("unparseable model reply"), nil
	}

	parsed, ok := models.ParseIntent(string(reply.Intent))
	if !ok {
		c.logger.Debug("Model returned an intent outside the enumeration",
			zap.String("intent", string(reply.Intent)))
		return unknown("invalid model intent"), nil
	}
	confidence := float64(reply.Confidence)
	if confidence <= 0 || confidence > 1 {
		confidence = minModelConfidence
	}
	if parsed == models.IntentUnknown || confidence < minModelConfidence {
		return unknown("model uncertain"), nil
	}
	return Result{Intent: parsed, Confidence: confidence, Source: SourceModel, Reason: "model classification"}, nil
}

func unknown(reason string) Result {
	return Result{Intent: models.IntentUnknown, Source: SourceModel, Reason: reason}
}
