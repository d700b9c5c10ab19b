// Package prompts builds the bounded prompts sent to the model collaborator.
// Prompts carry only the question, resolved roles and catalog vocabulary;
// never warehouse rows beyond what the narrative already cites.
package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// MaxQuestionLength bounds the question text embedded in a prompt.
const MaxQuestionLength = 500

// IntentContext is what the classifier may tell the model about a question.
type IntentContext struct {
	Question       string
	Entities       models.Entities
	PreviousIntent models.Intent // empty on the first turn
	Metrics        []string      // catalog metric keys
}

// IntentOption describes one answer the model may give.
type IntentOption struct {
	Intent      models.Intent
	Description string
}

// IntentOptions are the closed set of intents offered to the model, Unknown last.
var IntentOptions = []IntentOption{
	{models.IntentRanking, "order entities by a metric, e.g. top or bottom N"},
	{models.IntentTrend, "one metric over time, e.g. monthly NOI since 2022"},
	{models.IntentComparison, "exactly two named entities side by side on a metric"},
	{models.IntentLookup, "the value of metrics for one entity or the whole portfolio"},
	{models.IntentAggregation, "a sum, average, count, minimum or maximum across rows"},
	{models.IntentUnknown, "none of the above, or the question is not about portfolio data"},
}

// BuildIntentPrompt creates the prompt for fallback intent classification.
func BuildIntentPrompt(ic IntentContext) string {
	var prompt strings.Builder

	prompt.WriteString("# Question Classification\n\n")
	prompt.WriteString("Classify the analytical intent of a question about a real-estate private-equity portfolio.\n\n")

	prompt.WriteString("## Question\n\n")
	prompt.WriteString(fmt.Sprintf("%q\n\n", truncate(ic.Question, MaxQuestionLength)))

	if len(ic.Entities) > 0 {
		prompt.WriteString("## Resolved Terms\n\n")
		for _, e := range ic.Entities {
			prompt.WriteString(fmt.Sprintf("- %s: %s (%s)\n", e.Role, e.Value, e.Source))
		}
		prompt.WriteString("\n")
	}

	if ic.PreviousIntent != "" {
		prompt.WriteString(fmt.Sprintf("The previous question in this conversation was classified as %s.\n\n", ic.PreviousIntent))
	}

	if len(ic.Metrics) > 0 {
		prompt.WriteString("## Known Metrics\n\n")
		prompt.WriteString(strings.Join(ic.Metrics, ", "))
		prompt.WriteString("\n\n")
	}

	prompt.WriteString("## Intents\n\n")
	for _, opt := range IntentOptions {
		prompt.WriteString(fmt.Sprintf("- %s: %s\n", opt.Intent, opt.Description))
	}

	prompt.WriteString("\n## Response Format\n\n")
	prompt.WriteString("Respond with a single JSON object and nothing else:\n")
	prompt.WriteString("```json\n{\"intent\": \"<one of the intents above>\", \"confidence\": <0.0-1.0>}\n```\n")
	prompt.WriteString("Answer \"unknown\" rather than guessing.\n")

	return prompt.String()
}

// BuildIntentSystemMessage returns the system message for intent classification.
func BuildIntentSystemMessage() string {
	return `You classify analytics questions into a fixed set of intents. You never write SQL and never answer the question.`
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
