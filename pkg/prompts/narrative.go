package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/portfolio-chat/pkg/models"
)

// BuildPhrasingPrompt asks the model to reword a template narrative without
// changing its figures. The caller still verifies every number in the reply.
func BuildPhrasingPrompt(question, narrative string, facts []models.Fact) string {
	var prompt strings.Builder

	prompt.WriteString("# Narrative Rewording\n\n")
	prompt.WriteString("Rewrite the draft answer below so it reads naturally for a portfolio manager.\n\n")

	prompt.WriteString("## Question\n\n")
	prompt.WriteString(fmt.Sprintf("%q\n\n", truncate(question, MaxQuestionLength)))

	prompt.WriteString("## Draft\n\n")
	prompt.WriteString(narrative)
	prompt.WriteString("\n\n")

	if len(facts) > 0 {
		prompt.WriteString("## Figures\n\n")
		for _, f := range facts {
			prompt.WriteString(fmt.Sprintf("- %s: %s\n", f.Label, f.Display))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("## Rules\n\n")
	prompt.WriteString("- Use only the figures listed above, written exactly as shown.\n")
	prompt.WriteString("- Do not add numbers, dates, percentages or rankings that are not in the draft.\n")
	prompt.WriteString("- Keep it under 80 words. Plain text, no markdown.\n")

	return prompt.String()
}

// BuildPhrasingSystemMessage returns the system message for narrative rewording.
func BuildPhrasingSystemMessage() string {
	return `You are a senior real estate analyst. You reword findings; you never introduce figures of your own.`
}
