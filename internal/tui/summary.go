package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/hugo-lorenzo-mato/taskforge/internal/core"
)

// RenderSummary renders the final task report.
func RenderSummary(result *core.TaskResult, styles Styles) string {
	if result == nil {
		return ""
	}

	var b strings.Builder
	status := string(result.Status)
	fmt.Fprintf(&b, "%s %s\n", styles.Header.Render("Task"), result.TaskID)
	fmt.Fprintf(&b, "Objective: %s\n", result.Objective)
	fmt.Fprintf(&b, "Status:    %s\n", styles.statusStyle(status).Render(statusIcon(status)+" "+status))
	fmt.Fprintf(&b, "Duration:  %s\n", result.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "Tokens:    %d\n", result.TokensUsed)
	if result.Plan != nil && result.Plan.Fallback {
		fmt.Fprintf(&b, "Plan:      %s\n", styles.Warning.Render("fallback"))
	}
	if result.Error != "" {
		fmt.Fprintf(&b, "Error:     %s\n", styles.Error.Render(result.Error))
	}

	if len(result.Phases) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.Section.Render("Phases"))
		b.WriteString("\n")
	}
	for _, res := range result.PhaseResults() {
		ps := string(res.Status)
		fmt.Fprintf(&b, "%s phase %d %s %s\n",
			styles.statusStyle(ps).Render(statusIcon(ps)),
			res.PhaseIndex, res.PhaseName,
			styles.Muted.Render(fmt.Sprintf("[%s, attempt %d]", ps, max(res.Attempt, 1))))
		if res.Error != nil && res.Status == core.PhaseSkipped {
			fmt.Fprintf(&b, "    %s\n", styles.Muted.Render(res.Error.Message))
		}
		for _, wr := range res.Ordered() {
			ws := string(wr.Status)
			line := fmt.Sprintf("    %s %s", styles.statusStyle(ws).Render(statusIcon(ws)), wr.WorkerName)
			if wr.Error != nil {
				line += " " + styles.Error.Render(wr.Error.Message)
			}
			b.WriteString(line + "\n")
		}
	}

	return styles.Box.Render(strings.TrimRight(b.String(), "\n"))
}

// RenderPlan renders an execution plan.
func RenderPlan(plan *core.ExecutionPlan, styles Styles) string {
	if plan == nil {
		return ""
	}
	var rows []string
	for _, ph := range plan.Phases {
		header := fmt.Sprintf("%s %s", styles.Section.Render(fmt.Sprintf("phase %d", ph.Index)), ph.Name)
		var tags []string
		if ph.Parallel {
			tags = append(tags, "parallel")
		}
		if len(ph.DependsOn) > 0 {
			tags = append(tags, "after "+strings.Join(ph.DependsOn, ", "))
		}
		if len(tags) > 0 {
			header += " " + styles.Muted.Render("("+strings.Join(tags, "; ")+")")
		}
		rows = append(rows, header)
		for _, a := range ph.Assignments {
			rows = append(rows, fmt.Sprintf("  - %s: %s", styles.Info.Render(a.WorkerName), a.TaskDescription))
		}
	}
	if plan.CompletionCriteria != "" {
		rows = append(rows, "", "Done when: "+plan.CompletionCriteria)
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

// RenderWorkers renders a catalog summary as aligned columns.
func RenderWorkers(workers []core.WorkerSummary, styles Styles) string {
	width := 0
	for _, w := range workers {
		width = max(width, len(w.Name))
	}
	var b strings.Builder
	for _, w := range workers {
		tools := "none"
		if len(w.Tools) > 0 {
			tools = strings.Join(w.Tools, ", ")
		}
		fmt.Fprintf(&b, "%s  %-14s %s\n",
			styles.Info.Render(fmt.Sprintf("%-*s", width, w.Name)),
			w.Mode,
			w.Description)
		fmt.Fprintf(&b, "%s  %s\n", strings.Repeat(" ", width), styles.Muted.Render("tools: "+tools))
	}
	return strings.TrimRight(b.String(), "\n")
}
