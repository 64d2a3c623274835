package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/ledger"
	"github.com/marcus/fieldsync/internal/output"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show sync status, the run in progress and ledger totals",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newClient().Status(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(st, func() string { return output.FormatSyncStatus(st) })
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show per entity type ledger counts",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := newClient().Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(stats, func() string {
			if len(stats) == 0 {
				return "Ledger is empty"
			}
			return output.FormatStats(stats)
		})
	},
}

var runsCmd = &cobra.Command{
	Use:     "runs [run-id]",
	Short:   "List recent bulk runs, or show one run",
	GroupID: "query",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()
		if len(args) == 1 {
			run, err := client.Run(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printResult(run, func() string { return output.FormatRunSummary(runSummary(run)) })
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := client.Runs(cmd.Context(), limit)
		if err != nil {
			return err
		}
		return printResult(runs, func() string { return output.FormatRuns(runs) })
	},
}

var deadLetterCmd = &cobra.Command{
	Use:     "dead-letter",
	Short:   "List failed rows that reached the retry cap",
	GroupID: "query",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		device, _ := cmd.Flags().GetString("device")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := newClient().DeadLetter(cmd.Context(), device, limit)
		if err != nil {
			return err
		}
		return printResult(entries, func() string {
			if len(entries) == 0 {
				return "No dead-lettered rows"
			}
			return fmt.Sprintf("%d dead-lettered rows\n%s", len(entries), output.FormatEntries(entries))
		})
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check that the server is reachable",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := newClient().HealthCheck(cmd.Context())
		if err != nil {
			return err
		}
		return printResult(h, func() string {
			return fmt.Sprintf("%s is %s (server %s)", globals.server, h.Status, h.Version)
		})
	},
}

// runSummary rebuilds a run summary from its history record so a past run
// prints like a live one.
func runSummary(r *ledger.RunRecord) *engine.RunSummary {
	s := &engine.RunSummary{
		RunID:           r.ID,
		Mode:            engine.Mode(r.Mode),
		DeviceID:        r.DeviceID,
		StartedAt:       r.StartedAt,
		Timestamp:       r.FinishedAt,
		TotalRecords:    r.TotalRecords,
		TotalDurationMs: r.DurationMs,
		Success:         r.Success,
		Partial:         r.Partial,
		Superseded:      r.Superseded,
	}
	if len(r.Results) > 0 {
		// Undecodable results leave the table empty.
		_ = json.Unmarshal(r.Results, &s.Results)
	}
	return s
}

func init() {
	runsCmd.Flags().IntP("limit", "n", 20, "maximum runs to list")
	deadLetterCmd.Flags().String("device", "", "only this device")
	deadLetterCmd.Flags().IntP("limit", "n", 0, "maximum rows (0 = server default)")

	rootCmd.AddCommand(statusCmd, statsCmd, runsCmd, deadLetterCmd, healthCmd)
}
