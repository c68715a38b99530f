package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/xiaot623/gogo/autopilot/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	curStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1)
)

var statusColors = map[domain.RunStatus]lipgloss.Color{
	domain.RunStatusIdle:           "245",
	domain.RunStatusPlanning:       "39",
	domain.RunStatusAwaitingReview: "214",
	domain.RunStatusExecuting:      "39",
	domain.RunStatusAnalyzing:      "141",
	domain.RunStatusSelfCorrecting: "208",
	domain.RunStatusFinished:       "42",
	domain.RunStatusError:          "196",
}

func statusBadge(s domain.RunStatus) string {
	c, ok := statusColors[s]
	if !ok {
		c = "245"
	}
	return lipgloss.NewStyle().Foreground(c).Bold(true).Render(strings.ToUpper(string(s)))
}

// renderRun formats a run for the terminal.
func renderRun(run *domain.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %s\n", titleStyle.Render("Project"), run.ProjectID, statusBadge(run.Status))
	if run.RunID != "" {
		fmt.Fprintf(&b, "%s %s (%s, attempt %d)\n", dimStyle.Render("Run"), run.RunID, run.Mode, run.Attempt)
	}
	if run.Objective != "" {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("Objective"), run.Objective)
	}

	if len(run.Plan) > 0 {
		b.WriteString("\n" + titleStyle.Render("Plan") + "\n")
		for i, task := range run.Plan {
			line := fmt.Sprintf("%d. %s", i+1, task)
			switch {
			case i < run.CurrentTaskIndex:
				b.WriteString(doneStyle.Render("  ✓ "+line) + "\n")
			case i == run.CurrentTaskIndex && run.Status == domain.RunStatusExecuting:
				b.WriteString(curStyle.Render("  ▶ "+line) + "\n")
			default:
				b.WriteString("    " + line + "\n")
			}
		}
	}

	if run.Thoughts != "" {
		b.WriteString("\n" + boxStyle.Render(run.Thoughts) + "\n")
	}
	if run.LastError != "" {
		b.WriteString("\n" + errorStyle.Render("Error: ") + run.LastError + "\n")
	}
	return b.String()
}

func renderLog(entry domain.LogEntry) string {
	ts := time.UnixMilli(entry.Ts).Format("15:04:05")
	return dimStyle.Render(ts) + " " + entry.Message
}

var reviewColors = map[domain.ReviewStatus]lipgloss.Color{
	domain.ReviewStatusPending:   "214",
	domain.ReviewStatusApproved:  "42",
	domain.ReviewStatusRejected:  "196",
	domain.ReviewStatusExecuting: "39",
	domain.ReviewStatusCompleted: "245",
}

func renderReview(r *domain.PlanReview) string {
	var b strings.Builder
	badge := lipgloss.NewStyle().Foreground(reviewColors[r.Status]).Bold(true).Render(strings.ToUpper(string(r.Status)))
	fmt.Fprintf(&b, "%s %s  %s\n", titleStyle.Render("Plan"), r.PlanID, badge)
	for i, task := range r.Plan.Tasks {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, task)
	}
	for _, group := range []struct {
		label string
		paths []string
	}{
		{"create", r.Plan.Plan.Create},
		{"update", r.Plan.Plan.Update},
		{"delete", r.Plan.Plan.Delete},
	} {
		if len(group.paths) > 0 {
			fmt.Fprintf(&b, "  %s %s\n", dimStyle.Render(group.label), strings.Join(group.paths, ", "))
		}
	}
	if r.Plan.Reasoning != "" {
		b.WriteString(boxStyle.Render(r.Plan.Reasoning) + "\n")
	}
	if r.Reason != "" {
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render("Reason"), r.Reason)
	}
	return b.String()
}
