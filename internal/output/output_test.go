package output

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
)

func TestFormatTimeAgo(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{time.Minute, "1m ago"},
		{59 * time.Minute, "59m ago"},
		{time.Hour, "1h ago"},
		{23 * time.Hour, "23h ago"},
		{24 * time.Hour, "1d ago"},
		{6 * 24 * time.Hour, "6d ago"},
		{8 * 24 * time.Hour, "2026-03-02"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatTimeAgo(now.Add(-tt.ago), now), "-%v", tt.ago)
	}
}

func TestFormatOptionalTime(t *testing.T) {
	assert.Equal(t, "never", formatOptionalTime(nil))
	zero := time.Time{}
	assert.Equal(t, "never", formatOptionalTime(&zero))
}

func TestFormatRunSummary(t *testing.T) {
	s := &engine.RunSummary{
		RunID:           "run-1",
		Mode:            engine.ModeFull,
		TotalRecords:    7,
		TotalDurationMs: 1500,
		Success:         true,
		Partial:         true,
		Results: []engine.TypeResult{
			{EntityType: "intervention", Count: 7, Seeded: 7, DurationMs: 1200, Success: true},
			{EntityType: "customer", Error: "projection customer: no such table", DurationMs: 300},
		},
	}
	out := ansi.Strip(FormatRunSummary(s))
	for _, want := range []string{"PARTIAL full sync run-1: 7 records in 1.5s", "intervention", "customer", "no such table", "failed"} {
		assert.Contains(t, out, want)
	}

	s.Success = false
	out = ansi.Strip(FormatRunSummary(s))
	assert.True(t, strings.HasPrefix(out, "FAILED"), "expected FAILED headline, got:\n%s", out)
}

func TestFormatStatsTotals(t *testing.T) {
	out := ansi.Strip(FormatStats([]ledger.TableStats{
		{TableName: "customer", TotalRecords: 3, PendingCount: 1, SyncedCount: 2},
		{TableName: "intervention", TotalRecords: 4, PendingCount: 2, FailedCount: 2},
	}))
	for _, want := range []string{"customer", "intervention", "total", "never"} {
		assert.Contains(t, out, want)
	}
	lines := strings.Split(out, "\n")
	var totalLine string
	for _, l := range lines {
		if strings.Contains(l, "total") {
			totalLine = l
		}
	}
	for _, n := range []string{"7", "3", "2"} {
		assert.Contains(t, totalLine, n)
	}
}

func TestFormatEntriesAndRunsEmpty(t *testing.T) {
	assert.Equal(t, "no entries", ansi.Strip(FormatEntries(nil)))
	assert.Equal(t, "no runs recorded", ansi.Strip(FormatRuns(nil)))
}

func TestFormatEntries(t *testing.T) {
	out := ansi.Strip(FormatEntries([]ledger.Entry{{
		EntityType:   "customer",
		EntityID:     "C1",
		DeviceID:     "D1",
		Direction:    ledger.Down,
		Status:       ledger.StatusFailed,
		RetryCount:   3,
		ErrorMessage: strings.Repeat("x", 60),
		UpdatedAt:    time.Now(),
	}}))
	for _, want := range []string{"C1", "D1", "down", "failed", "3", "…"} {
		assert.Contains(t, out, want)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefghij", 5))
}

func TestRenderMarkdownPlainOutside(t *testing.T) {
	blank, err := RenderMarkdown("  \n", 0)
	require.NoError(t, err)
	assert.Empty(t, blank)

	guide := "# Retention\n\nSynced rows older than the retention window are deleted by the background sweeper. Pending and failed rows are never swept."
	got, err := RenderMarkdown(guide, 30)
	require.NoError(t, err)
	plain := ansi.Strip(got)
	require.Contains(t, plain, "Retention")
	require.Contains(t, plain, "sweeper")

	lines := strings.Split(plain, "\n")
	assert.GreaterOrEqual(t, len(lines), 4, "paragraph should wrap at 30 columns")
	for _, line := range lines {
		assert.LessOrEqual(t, ansi.StringWidth(strings.TrimRight(line, " ")), 30, line)
	}
}
