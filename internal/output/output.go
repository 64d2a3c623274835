// Package output provides styled terminal output helpers (success, error,
// warning, run summaries and ledger tables) using lipgloss.
package output

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
)

var (
	// Styles
	titleStyle   = lipgloss.NewStyle().Bold(true)
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	statusStyles = map[ledger.Status]lipgloss.Style{
		ledger.StatusPending: lipgloss.NewStyle().Foreground(lipgloss.Color("45")),
		ledger.StatusSynced:  lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		ledger.StatusFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}
)

// Success prints a success message
func Success(format string, args ...any) {
	fmt.Println(successStyle.Render(fmt.Sprintf(format, args...)))
}

// Error prints an error message
func Error(format string, args ...any) {
	fmt.Println(errorStyle.Render("ERROR: " + fmt.Sprintf(format, args...)))
}

// Warning prints a warning message
func Warning(format string, args ...any) {
	fmt.Println(warningStyle.Render("Warning: " + fmt.Sprintf(format, args...)))
}

// Info prints an info message
func Info(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}

// JSON outputs data as JSON
func JSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// JSONError outputs an error as JSON
func JSONError(code, message string) {
	data, _ := json.Marshal(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
	fmt.Println(string(data))
}

// FormatStatus formats a ledger status with color
func FormatStatus(s ledger.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

// FormatTimeAgo formats a time as a human-readable "ago" string
func FormatTimeAgo(t time.Time) string {
	return formatTimeAgo(t, time.Now())
}

func formatTimeAgo(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return FormatTimeAgo(*t)
}

// SectionHeader returns a formatted section header for CLI output
// e.g., "\nPER TABLE:\n"
func SectionHeader(title string) string {
	return titleStyle.Render(fmt.Sprintf("\n%s:", strings.ToUpper(title))) + "\n"
}

// Table renders rows under headers with the CLI's table style.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(subtleStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}

// FormatRunSummary renders a bulk run summary: a headline and one row per
// entity type.
func FormatRunSummary(s *engine.RunSummary) string {
	var sb strings.Builder

	headline := fmt.Sprintf("%s sync %s: %d records in %s", s.Mode, s.RunID, s.TotalRecords, formatMillis(s.TotalDurationMs))
	switch {
	case !s.Success:
		sb.WriteString(errorStyle.Render("FAILED " + headline))
	case s.Partial:
		sb.WriteString(warningStyle.Render("PARTIAL " + headline))
	default:
		sb.WriteString(successStyle.Render("OK " + headline))
	}
	sb.WriteString("\n")
	if s.DeviceID != "" {
		sb.WriteString(subtleStyle.Render("device: "+s.DeviceID) + "\n")
	}
	if s.Superseded {
		sb.WriteString(warningStyle.Render("superseded by a forced run; rows may have been rewritten concurrently") + "\n")
	}
	if s.SupersededRunID != "" {
		sb.WriteString(subtleStyle.Render("forced over run "+s.SupersededRunID) + "\n")
	}

	rows := make([][]string, 0, len(s.Results))
	for _, r := range s.Results {
		state := successStyle.Render("ok")
		if !r.Success {
			state = errorStyle.Render("failed")
		}
		rows = append(rows, []string{
			r.EntityType,
			strconv.Itoa(r.Count),
			strconv.FormatInt(r.Seeded, 10),
			formatMillis(r.DurationMs),
			state,
			r.Error,
		})
	}
	sb.WriteString(Table([]string{"ENTITY TYPE", "COUNT", "SEEDED", "DURATION", "STATE", "ERROR"}, rows))
	return sb.String()
}

// FormatStats renders per-table ledger counts.
func FormatStats(stats []ledger.TableStats) string {
	rows := make([][]string, 0, len(stats)+1)
	var total, pending, synced, failed int64
	for _, st := range stats {
		rows = append(rows, []string{
			st.TableName,
			strconv.FormatInt(st.TotalRecords, 10),
			strconv.FormatInt(st.PendingCount, 10),
			strconv.FormatInt(st.SyncedCount, 10),
			strconv.FormatInt(st.FailedCount, 10),
			formatOptionalTime(st.LastSync),
		})
		total += st.TotalRecords
		pending += st.PendingCount
		synced += st.SyncedCount
		failed += st.FailedCount
	}
	if len(stats) > 1 {
		rows = append(rows, []string{
			titleStyle.Render("total"),
			strconv.FormatInt(total, 10),
			strconv.FormatInt(pending, 10),
			strconv.FormatInt(synced, 10),
			strconv.FormatInt(failed, 10),
			"",
		})
	}
	return Table([]string{"TABLE", "TOTAL", "PENDING", "SYNCED", "FAILED", "LAST SYNC"}, rows)
}

// FormatSyncStatus renders the server status block.
func FormatSyncStatus(st *engine.Status) string {
	var sb strings.Builder
	initial := warningStyle.Render("no")
	if st.InitialSyncCompleted {
		initial = successStyle.Render("yes")
	}
	fmt.Fprintf(&sb, "%s %s\n", titleStyle.Render("Initial sync completed:"), initial)
	fmt.Fprintf(&sb, "%s %s\n", titleStyle.Render("Last sync:"), formatOptionalTime(st.LastSyncDate))
	if st.SyncInProgress && st.CurrentRun != nil {
		fmt.Fprintf(&sb, "%s %s %s (started %s)\n", titleStyle.Render("Running:"),
			st.CurrentRun.Mode, st.CurrentRun.RunID, FormatTimeAgo(st.CurrentRun.StartedAt))
	} else {
		fmt.Fprintf(&sb, "%s %s\n", titleStyle.Render("Running:"), subtleStyle.Render("idle"))
	}
	fmt.Fprintf(&sb, "%s %d synced, %d pending\n", titleStyle.Render("Totals:"), st.TotalSynced, st.TotalPending)
	if len(st.PerTableStats) > 0 {
		sb.WriteString(SectionHeader("per table"))
		sb.WriteString(FormatStats(st.PerTableStats))
	}
	return sb.String()
}

// FormatEntries renders ledger rows, e.g. a pending page or the dead letter
// listing.
func FormatEntries(entries []ledger.Entry) string {
	if len(entries) == 0 {
		return subtleStyle.Render("no entries")
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.EntityType,
			e.EntityID,
			e.DeviceID,
			string(e.Direction),
			FormatStatus(e.Status),
			strconv.Itoa(e.RetryCount),
			truncate(e.ErrorMessage, 40),
			FormatTimeAgo(e.UpdatedAt),
		})
	}
	return Table([]string{"TYPE", "ID", "DEVICE", "DIR", "STATUS", "RETRIES", "ERROR", "UPDATED"}, rows)
}

// FormatRuns renders run history.
func FormatRuns(runs []ledger.RunRecord) string {
	if len(runs) == 0 {
		return subtleStyle.Render("no runs recorded")
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		state := successStyle.Render("ok")
		switch {
		case !r.Success:
			state = errorStyle.Render("failed")
		case r.Partial:
			state = warningStyle.Render("partial")
		}
		if r.Superseded {
			state += subtleStyle.Render(" (superseded)")
		}
		device := r.DeviceID
		if device == "" {
			device = "all"
		}
		rows = append(rows, []string{
			r.ID,
			r.Mode,
			device,
			FormatTimeAgo(r.StartedAt),
			strconv.Itoa(r.TotalRecords),
			formatMillis(r.DurationMs),
			state,
		})
	}
	return Table([]string{"RUN", "MODE", "DEVICE", "STARTED", "RECORDS", "DURATION", "STATE"}, rows)
}

func formatMillis(ms int64) string {
	return (time.Duration(ms) * time.Millisecond).String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
