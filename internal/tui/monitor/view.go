package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/charmbracelet/x/cellbuf"

	"github.com/marcus/fieldsync/internal/engine"
)

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	// Handle small terminal sizes gracefully
	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	// Nothing to show until the first successful refresh
	if m.Err != nil && m.Status == nil {
		return m.renderError()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	tablesHeight, runsHeight, eventsHeight := m.panelHeights()

	panels := lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderTablesPanel(tablesHeight),
		m.renderRunsPanel(runsHeight),
		m.renderEventsPanel(eventsHeight),
	)

	return lipgloss.JoinVertical(lipgloss.Left, panels, m.renderFooter())
}

// panelHeights splits the space between header and footer across the panels
func (m Model) panelHeights() (tables, runs, events int) {
	available := m.Height - 2
	tables = available * 2 / 5
	runs = available * 3 / 10
	events = available - tables - runs
	return tables, runs, events
}

func (m Model) tablesPanelHeight() int {
	h, _, _ := m.panelHeights()
	return h
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("fieldsync"))
	b.WriteString("\n")

	if m.Err != nil {
		b.WriteString(errorStyle.Render("error"))
		b.WriteString("\n")
	}
	if st := m.Status; st != nil {
		fmt.Fprintf(&b, "pending %d\n", st.TotalPending)
		fmt.Fprintf(&b, "synced  %d\n", st.TotalSynced)
		if st.SyncInProgress {
			b.WriteString(m.spinner.View() + " running\n")
		}
	}

	b.WriteString(subtleStyle.Render(fmt.Sprintf("%dx%d (min %dx%d)", m.Width, m.Height, MinWidth, MinHeight)))
	return b.String()
}

// renderError renders the error state, wrapped to the terminal width
func (m Model) renderError() string {
	msg := cellbuf.Wrap(m.Err.Error(), m.Width-2, " /:")
	return errorStyle.Render("Error: ") + "\n" + msg + "\n\n" + helpStyle.Render("r:retry  q:quit")
}

// renderHeader renders the one-line sync summary
func (m Model) renderHeader() string {
	st := m.Status
	if st == nil {
		return subtleStyle.Render(" waiting for server...")
	}

	parts := []string{titleStyle.Render(" fieldsync")}
	if st.InitialSyncCompleted {
		parts = append(parts, okStyle.Render("initialized"))
	} else {
		parts = append(parts, warnStyle.Render("not initialized"))
	}
	last := "never"
	if st.LastSyncDate != nil {
		last = formatTimeAgo(*st.LastSyncDate)
	}
	parts = append(parts,
		fmt.Sprintf("pending %d", st.TotalPending),
		fmt.Sprintf("synced %d", st.TotalSynced),
		subtleStyle.Render("last run "+last),
	)
	if st.SyncInProgress {
		run := "sync running"
		if st.CurrentRun != nil {
			run = fmt.Sprintf("%s sync %s", st.CurrentRun.Mode, shortID(st.CurrentRun.RunID))
		}
		parts = append(parts, m.spinner.View()+" "+warnStyle.Render(run))
	}
	return ansi.Truncate(strings.Join(parts, "  "), m.Width, "…")
}

// renderTablesPanel renders the per entity type ledger counts
func (m Model) renderTablesPanel(height int) string {
	content := m.table.View()
	if m.Status == nil || len(m.Status.PerTableStats) == 0 {
		content = subtleStyle.Render("No ledger rows yet")
	}
	return m.wrapPanel("LEDGER", content, height, PanelTables)
}

// renderRunsPanel renders the most recent runs, newest first
func (m Model) renderRunsPanel(height int) string {
	if len(m.Runs) == 0 {
		return m.wrapPanel("RUNS", subtleStyle.Render("No runs recorded"), height, PanelRuns)
	}

	var lines []string
	for _, r := range m.Runs {
		device := "all devices"
		if r.DeviceID != "" {
			device = r.DeviceID
		}
		line := fmt.Sprintf("%s %s %-7s %s %s %s",
			timestampStyle.Render(r.StartedAt.Local().Format("01-02 15:04")),
			subtleStyle.Render(shortID(r.ID)),
			r.Mode,
			formatOutcome(r.Success, r.Partial),
			fmt.Sprintf("%d records in %s", r.TotalRecords, time.Duration(r.DurationMs)*time.Millisecond),
			subtleStyle.Render(device),
		)
		if r.Superseded {
			line += " " + warnStyle.Render("superseded")
		}
		lines = append(lines, line)
	}
	return m.wrapPanel("RUNS", strings.Join(lines, "\n"), height, PanelRuns)
}

// renderEventsPanel renders the live event log, newest at the bottom
func (m Model) renderEventsPanel(height int) string {
	title := "EVENTS"
	switch {
	case m.EventsURL == "":
		title += " (disabled)"
	case m.Connected:
		title += " " + okStyle.Render("●")
	default:
		title += " " + errorStyle.Render("○")
	}

	visible := height - 3
	if visible < 0 {
		visible = 0
	}
	events := m.Events
	if len(events) > visible {
		events = events[len(events)-visible:]
	}

	var lines []string
	for _, ev := range events {
		lines = append(lines, formatEvent(ev))
	}
	if len(lines) == 0 {
		msg := "Waiting for events..."
		if m.EventsErr != nil {
			msg = m.EventsErr.Error()
		}
		lines = append(lines, subtleStyle.Render(msg))
	}
	return m.wrapPanel(title, strings.Join(lines, "\n"), height, PanelEvents)
}

// formatEvent formats a single event line
func formatEvent(ev engine.Event) string {
	ts := timestampStyle.Render(ev.Timestamp.Local().Format("15:04:05"))
	badge := formatEventBadge(ev.Type)

	var detail string
	switch ev.Type {
	case engine.EventRunStarted:
		detail = fmt.Sprintf("%s sync %s started", ev.Mode, shortID(ev.RunID))
	case engine.EventRunCompleted:
		detail = fmt.Sprintf("%s sync %s completed", ev.Mode, shortID(ev.RunID))
		if s := ev.Summary; s != nil {
			detail += fmt.Sprintf(": %d records in %dms", s.TotalRecords, s.TotalDurationMs)
			if failed := s.Failed(); len(failed) > 0 {
				detail += " " + warnStyle.Render("failed: "+strings.Join(failed, ","))
			}
		}
	case engine.EventRunFailed:
		detail = fmt.Sprintf("%s sync %s failed: %s", ev.Mode, shortID(ev.RunID), ev.Error)
	case engine.EventSweepCompleted:
		detail = fmt.Sprintf("retention sweep removed %d rows", ev.Swept)
	default:
		detail = ev.Type
	}
	return fmt.Sprintf("%s %s %s", ts, badge, detail)
}

// renderFooter renders the footer with key bindings and refresh time
func (m Model) renderFooter() string {
	keys := helpStyle.Render("q:quit  tab:switch  ↑↓:select  r:refresh  c:clear  ?:help")

	alert := ""
	if m.Err != nil {
		alert = errorStyle.Render(" refresh failed ")
	}
	refresh := timestampStyle.Render(fmt.Sprintf("Last: %s", m.LastRefresh.Format("15:04:05")))

	padding := m.Width - lipgloss.Width(keys) - lipgloss.Width(alert) - lipgloss.Width(refresh) - 2
	if padding < 0 {
		padding = 0
	}
	return fmt.Sprintf(" %s%s%s%s", keys, strings.Repeat(" ", padding), alert, refresh)
}

// renderHelp renders the help overlay
func (m Model) renderHelp() string {
	help := `
SYNC MONITOR - Key Bindings

NAVIGATION:
  Tab / Shift+Tab   Switch between panels
  1 / 2 / 3         Jump to panel
  ↑ / ↓             Select row in the ledger table

ACTIONS:
  r                 Force refresh
  c                 Clear the event log
  q / Ctrl+C        Quit

Press ? to close help
`
	return helpStyle.Render(help)
}

// wrapPanel wraps content in a panel with title and border
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	titleStr := panelTitleStyle.Render(title)
	contentWidth := m.Width - 4

	lines := strings.Split(content, "\n")
	contentHeight := height - 3
	if contentHeight < 0 {
		contentHeight = 0
	}
	for len(lines) < contentHeight {
		lines = append(lines, "")
	}
	if len(lines) > contentHeight {
		lines = lines[:contentHeight]
	}

	for i, line := range lines {
		if ansi.StringWidth(line) > contentWidth {
			lines[i] = ansi.Truncate(line, contentWidth, "…")
		}
	}

	inner := lipgloss.JoinVertical(lipgloss.Left, titleStr, strings.Join(lines, "\n"))
	return style.Width(m.Width - 2).Render(inner)
}

// shortID trims a run id to its first block
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatTimeAgo formats a time as a relative duration
func formatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
