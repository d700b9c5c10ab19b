package services

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/portfolio-chat/pkg/apperrors"
	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// clarification turns a recoverable error into a response asking the user for
// more detail. Any other error is returned unchanged.
func (s *turnService) clarification(sessionID string, p *pending, err error) (*models.TurnResponse, error) {
	if !apperrors.IsRecoverable(err) {
		return nil, err
	}
	c := Clarify(err)
	s.logger.Debug("Asking for clarification",
		zap.String("session_id", sessionID),
		zap.String("kind", string(c.Kind)),
		zap.Error(err))

	return &models.TurnResponse{
		Intent:        p.intent,
		Entities:      p.entities,
		Clarification: c,
	}, nil
}

// Clarify describes a recoverable error in terms the user can act on.
func Clarify(err error) *models.Clarification {
	var amb *apperrors.AmbiguityError
	var inc *apperrors.IncompleteQueryError
	var sch *apperrors.SchemaResolutionError

	switch {
	case errors.As(err, &amb):
		return &models.Clarification{
			Kind:       models.ClarifyAmbiguous,
			Message:    fmt.Sprintf("%q could mean %s. Which one did you mean?", amb.Mention, orList(amb.Candidates)),
			Candidates: amb.Candidates,
			Err:        err,
		}
	case errors.As(err, &inc):
		roles := make([]models.Role, len(inc.Missing))
		for i, m := range inc.Missing {
			roles[i] = models.Role(m)
		}
		msg := "I need a little more detail"
		if inc.Reason != "" {
			msg += ": " + inc.Reason
		}
		return &models.Clarification{
			Kind:         models.ClarifyIncomplete,
			Message:      msg + ".",
			MissingRoles: roles,
			Err:          err,
		}
	case errors.As(err, &sch):
		msg := fmt.Sprintf("I don't know the %s %q.", sch.Kind, sch.Name)
		if sch.Reason != "" {
			msg = fmt.Sprintf("I can't use %s %q: %s.", sch.Kind, sch.Name, sch.Reason)
		}
		if len(sch.Suggestions) > 0 {
			msg += fmt.Sprintf(" Try %s.", orList(sch.Suggestions))
		}
		return &models.Clarification{
			Kind:       models.ClarifyUnknownName,
			Message:    msg,
			Candidates: sch.Suggestions,
			Err:        err,
		}
	default:
		return &models.Clarification{
			Kind: models.ClarifyUnknownQuery,
			Message: "I couldn't tell what you'd like to know. Try asking for a ranking (\"top 5 assets by NOI\"), " +
				"a trend (\"NOI trend for Fund II in 2024\"), a comparison or a total.",
			Err: err,
		}
	}
}

// unresolved asks about names the resolver could not place in the catalog.
func (s *turnService) unresolved(p *pending, mentions []models.UnresolvedMention) *models.TurnResponse {
	var parts []string
	var candidates []string
	for _, m := range mentions {
		part := fmt.Sprintf("I couldn't find %q in the portfolio", m.Mention)
		if len(m.Suggestions) > 0 {
			part += fmt.Sprintf("; did you mean %s?", orList(m.Suggestions))
			candidates = append(candidates, m.Suggestions...)
		} else {
			part += "."
		}
		parts = append(parts, part)
	}

	roles := make([]models.Role, 0, len(mentions))
	seen := make(map[models.Role]bool)
	for _, m := range mentions {
		if !seen[m.Role] {
			seen[m.Role] = true
			roles = append(roles, m.Role)
		}
	}

	return &models.TurnResponse{
		Intent:          models.IntentUnknown,
		Entities:        p.entities,
		UnresolvedRoles: mentions,
		Clarification: &models.Clarification{
			Kind:         models.ClarifyUnknownName,
			Message:      strings.Join(parts, " "),
			Candidates:   candidates,
			MissingRoles: roles,
		},
	}
}

func orList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " or " + items[len(items)-1]
	}
}
