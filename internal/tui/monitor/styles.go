package monitor

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/fieldsync/internal/engine"
)

var (
	// Base colors
	primaryColor   = lipgloss.Color("212")
	secondaryColor = lipgloss.Color("141")
	mutedColor     = lipgloss.Color("241")
	successColor   = lipgloss.Color("42")
	warningColor   = lipgloss.Color("214")
	errorColor     = lipgloss.Color("196")

	// Panel styles
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(primaryColor).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Background(lipgloss.Color("237")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	// Text styles
	titleStyle     = lipgloss.NewStyle().Bold(true)
	subtleStyle    = lipgloss.NewStyle().Foreground(mutedColor)
	helpStyle      = lipgloss.NewStyle().Foreground(mutedColor)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle     = lipgloss.NewStyle().Foreground(errorColor)
	okStyle        = lipgloss.NewStyle().Foreground(successColor)
	warnStyle      = lipgloss.NewStyle().Foreground(warningColor)

	// Event badges
	eventBadges = map[string]lipgloss.Style{
		engine.EventRunStarted:     lipgloss.NewStyle().Foreground(secondaryColor),
		engine.EventRunCompleted:   lipgloss.NewStyle().Foreground(successColor),
		engine.EventRunFailed:      lipgloss.NewStyle().Foreground(errorColor).Bold(true),
		engine.EventSweepCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
	}
)

// tableStyles restyles the bubbles table to match the panels.
func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("255")).
		Background(lipgloss.Color("237")).
		Bold(false)
	return s
}

// formatEventBadge renders a short colored tag for an event type
func formatEventBadge(eventType string) string {
	var tag string
	switch eventType {
	case engine.EventRunStarted:
		tag = "[RUN]"
	case engine.EventRunCompleted:
		tag = "[OK ]"
	case engine.EventRunFailed:
		tag = "[ERR]"
	case engine.EventSweepCompleted:
		tag = "[SWP]"
	default:
		return subtleStyle.Render("[???]")
	}
	return eventBadges[eventType].Render(tag)
}

// formatOutcome renders a run outcome word
func formatOutcome(success, partial bool) string {
	switch {
	case success && partial:
		return warnStyle.Render("partial")
	case success:
		return okStyle.Render("ok")
	default:
		return errorStyle.Render("failed")
	}
}
