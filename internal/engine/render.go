package engine

import (
	"fmt"
	"strings"

	"github.com/triagehub/triagehub-backend/internal/models"
)

// RenderMarkdown renders a plan as the Markdown text adapters show to users.
func RenderMarkdown(plan *models.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Daily Plan — %s\n\n", plan.PlanDate)

	if len(plan.Priorities) == 0 {
		b.WriteString("No priority tasks today.\n")
	} else {
		b.WriteString("## Priorities\n")
		for _, item := range plan.Priorities {
			fmt.Fprintf(&b, "%d. **%s** — %s\n", item.Priority, item.TaskKey, item.Summary)
		}
	}

	if len(plan.AdminBlock) > 0 {
		total := 0
		for _, item := range plan.AdminBlock {
			total += item.Minutes
		}
		fmt.Fprintf(&b, "\n## Admin Block (%d min)\n", total)
		for _, item := range plan.AdminBlock {
			fmt.Fprintf(&b, "- %s — %s (%d min)\n", item.TaskKey, item.Summary, item.Minutes)
		}
	}

	if len(plan.Remainder) > 0 {
		b.WriteString("\n## Backlog\n")
		for _, item := range plan.Remainder {
			fmt.Fprintf(&b, "- %s — %s (%s)\n", item.TaskKey, item.Summary, item.Class)
		}
	}
	return b.String()
}

// RenderSubtasks renders a decomposition result as Markdown.
func RenderSubtasks(taskKey string, subtasks []models.Subtask) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Breakdown — %s\n\n", taskKey)
	for _, s := range subtasks {
		fmt.Fprintf(&b, "%d. %s (%.2g d)\n", s.Order, s.Title, s.EstimateDays)
	}
	return b.String()
}
