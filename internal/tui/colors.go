// Package tui renders task progress and results for the terminal.
package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan

	ColorSuccess = lipgloss.Color("#10B981") // Green
	ColorWarning = lipgloss.Color("#F59E0B") // Amber
	ColorError   = lipgloss.Color("#EF4444") // Red
	ColorInfo    = lipgloss.Color("#3B82F6") // Blue

	ColorTextMuted = lipgloss.Color("#9CA3AF") // Muted gray
	ColorBorder    = lipgloss.Color("#374151") // Dark gray
)

// Styles groups the lipgloss styles used for output. The zero value renders
// plain text.
type Styles struct {
	Header  lipgloss.Style
	Section lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Info    lipgloss.Style
	Muted   lipgloss.Style
	Box     lipgloss.Style
}

// NewStyles returns colored styles, or plain ones when color is false.
func NewStyles(color bool) Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return Styles{
			Header: plain, Section: plain, Success: plain, Warning: plain,
			Error: plain, Info: plain, Muted: plain,
			Box: plain.Border(lipgloss.NormalBorder()).Padding(0, 1),
		}
	}
	return Styles{
		Header:  lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary),
		Section: lipgloss.NewStyle().Bold(true).Foreground(ColorSecondary),
		Success: lipgloss.NewStyle().Foreground(ColorSuccess),
		Warning: lipgloss.NewStyle().Foreground(ColorWarning),
		Error:   lipgloss.NewStyle().Foreground(ColorError),
		Info:    lipgloss.NewStyle().Foreground(ColorInfo),
		Muted:   lipgloss.NewStyle().Foreground(ColorTextMuted),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1),
	}
}

// statusStyle picks the style for a task, phase or worker status string.
func (s Styles) statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed", "success":
		return s.Success
	case "partial", "skipped", "retry", "fallback":
		return s.Warning
	case "failed", "timeout", "cancelled", "abort":
		return s.Error
	default:
		return s.Muted
	}
}

func statusIcon(status string) string {
	switch status {
	case "completed", "success":
		return "✓"
	case "partial":
		return "◐"
	case "skipped":
		return "⊘"
	case "failed", "timeout", "cancelled":
		return "✗"
	case "running":
		return "●"
	default:
		return "○"
	}
}
