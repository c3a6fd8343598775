package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	urlStyle    = lipgloss.NewStyle().Width(60).MaxWidth(60)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
	fairStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
)

func scoreStyle(score int) lipgloss.Style {
	switch {
	case score < 50:
		return badStyle
	case score < 80:
		return fairStyle
	default:
		return goodStyle
	}
}

// RenderTable writes a terminal summary of the records in the order given.
func RenderTable(w io.Writer, records []PageRecord) error {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-60s %6s %6s %6s %6s  %s", "URL", "STATUS", "GLOBAL", "LEGACY", "RULES", "TOP ISSUE")))
	b.WriteByte('\n')

	for _, r := range records {
		status := fmt.Sprintf("%6d", r.Status)
		if !r.Scored() {
			b.WriteString(urlStyle.Render(truncate(r.URL, 60)))
			b.WriteString(" " + badStyle.Render(status) + "  " + mutedStyle.Render(r.Error) + "\n")
			continue
		}
		b.WriteString(urlStyle.Render(truncate(r.URL, 60)))
		b.WriteString(" " + status)
		b.WriteString(" " + scoreStyle(r.ScoreGlobal).Render(fmt.Sprintf("%6d", r.ScoreGlobal)))
		b.WriteString(fmt.Sprintf(" %6d %+6d", r.ScoreLegacy, r.ScoreRules))
		b.WriteString("  " + mutedStyle.Render(topIssue(r)) + "\n")
	}

	b.WriteString(mutedStyle.Render(fmt.Sprintf("%d page(s)", len(records))))
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// topIssue picks the first error, then the first warning.
func topIssue(r PageRecord) string {
	for _, sev := range []string{"error", "warn"} {
		for _, is := range r.Recommendations {
			if string(is.Severity) == sev {
				return is.RuleID
			}
		}
	}
	return "-"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
