package display

import (
	"fmt"
	"strings"

	"github.com/kajande/dulayni-cli/internal/api"
)

// maxToolOutput bounds how much tool output is echoed.
const maxToolOutput = 300

// PlanItem is one entry of the agent's todo list.
type PlanItem struct {
	Content string
	Status  string
}

// Plan is the agent's current todo list.
type Plan struct {
	Title string
	Items []PlanItem
}

// Activity renders tool calls and plan updates while a stream runs. It
// implements api.EventSink. In JSON mode it stays silent.
type Activity struct {
	console *Console
	// Verbose also prints tool input and output.
	Verbose bool
}

var _ api.EventSink = (*Activity)(nil)

// Activity returns a sink writing to the console.
func (c *Console) Activity(verbose bool) *Activity {
	return &Activity{console: c, Verbose: verbose}
}

func (a *Activity) print(line string) {
	if a.console.JSONMode() {
		return
	}
	a.console.paused(func() { fmt.Fprintln(a.console.Err, line) })
}

// ToolStarted prints the tool being run.
func (a *Activity) ToolStarted(e api.ToolStartEvent) {
	line := toolStyle.Render("⚙ " + e.ToolName)
	if a.Verbose && len(e.Input) > 0 {
		line += " " + mutedStyle.Render(truncate(string(e.Input), maxToolOutput))
	}
	a.print(line)
}

// ToolFinished prints the tool result.
func (a *Activity) ToolFinished(e api.ToolEndEvent) {
	if e.Error != "" {
		a.print(errorStyle.Render("✗ "+e.ToolName) + " " + e.Error)
		return
	}
	line := successStyle.Render("✓ " + e.ToolName)
	if a.Verbose {
		if out := strings.TrimSpace(e.OutputText()); out != "" {
			line += " " + mutedStyle.Render(truncate(out, maxToolOutput))
		}
	}
	a.print(line)
}

// TodosUpdated prints the new plan.
func (a *Activity) TodosUpdated(e api.TodosUpdateEvent) {
	plan := &Plan{Title: "Plan", Items: make([]PlanItem, len(e.Todos))}
	for i, t := range e.Todos {
		plan.Items[i] = PlanItem{Content: t.Content, Status: t.Status}
	}
	a.print(strings.TrimRight(FormatPlan(plan), "\n"))
}

// FormatPlan renders a plan as a checklist.
func FormatPlan(plan *Plan) string {
	var sb strings.Builder
	if plan.Title != "" {
		sb.WriteString(titleStyle.Render(plan.Title))
		sb.WriteString("\n")
	}
	for _, item := range plan.Items {
		switch item.Status {
		case "completed", "done":
			sb.WriteString(successStyle.Render("  [x] ") + mutedStyle.Render(item.Content))
		case "in_progress":
			sb.WriteString(infoStyle.Render("  [>] " + item.Content))
		default:
			sb.WriteString("  [ ] " + item.Content)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
