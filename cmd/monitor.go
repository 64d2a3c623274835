package cmd

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/marcus/fieldsync/internal/tui/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Live TUI dashboard of ledger counts, runs and events",
	Long: `Launch a live-updating TUI dashboard showing:
- Ledger: per entity type pending, synced and failed counts
- Runs: the most recent bulk runs and their outcome
- Events: run and sweep events streamed from the server

Key bindings:
  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  ↑/↓            Select row in the ledger table
  r              Force refresh
  c              Clear the event log
  ?              Toggle help
  q              Quit`,
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < 500*time.Millisecond {
			interval = 2 * time.Second
		}
		noEvents, _ := cmd.Flags().GetBool("no-events")

		client := newClient()
		eventsURL := client.EventsURL()
		if noEvents {
			eventsURL = ""
		}

		model := monitor.NewModel(client, eventsURL, interval)

		p := tea.NewProgram(model, tea.WithAltScreen())
		if _, err := p.Run(); err != nil {
			return fmt.Errorf("error running monitor: %w", err)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("interval", 2*time.Second, "Refresh interval (default 2s)")
	monitorCmd.Flags().Bool("no-events", false, "Do not subscribe to the live event feed")
}
