package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/fieldsync/internal/output"
	"github.com/marcus/fieldsync/internal/version"
)

const operatorGuide = `# fieldsync operator guide

## First deployment

1. Start the server: ` + "`fieldsync-server`" + ` (see ` + "`fieldsync-server help`" + `).
2. Run ` + "`fieldsync sync initial`" + ` once. Every device gets a pending ledger
   row for each record relevant to it.
3. Devices pull with ` + "`POST /v1/sync/pending`" + ` and acknowledge each row with
   ` + "`mark-synced`" + `, ` + "`mark-failed`" + ` or ` + "`ack-batch`" + `.

## Day to day

- ` + "`fieldsync sync initial`" + ` is safe to repeat: it only adds rows for newly
  relevant records and never touches synced rows.
- ` + "`fieldsync sync full`" + ` resets every projected row to pending. Use it after a
  device is wiped or a relevance rule changes.
- Only one run executes at a time. A second request gets a ` + "`sync_in_progress`" + `
  error naming the running run; ` + "`--force`" + ` supersedes it.

## Failures

- A failing entity type does not stop the others. The run is reported as
  **partial** and the failed type is listed with its error.
- Rows that fail delivery keep a retry count. Once it reaches
  ` + "`SYNC_MAX_RETRIES`" + ` they stop appearing in pending results and show up in
  ` + "`fieldsync dead-letter`" + `. A full sync gives them a fresh start.

## Manual acknowledgements

` + "`fieldsync ack synced <device> <type> <id>...`" + ` acknowledges rows by hand.
Pass ` + "`-`" + ` to read ids from stdin or ` + "`@ids.txt`" + ` to read them from a file.

## Retention

Synced rows older than ` + "`SYNC_RETENTION`" + ` (30 days by default) are deleted by the
background sweeper. Pending and failed rows are never swept. Run
` + "`fieldsync sweep --days N`" + ` to sweep on demand.

## Watching

` + "`fieldsync monitor`" + ` shows ledger counts, recent runs and live run events.
Prometheus metrics are served on ` + "`/metrics`" + `. Set ` + "`SYNC_WEBHOOK_URL`" + `
(and ` + "`SYNC_WEBHOOK_SECRET`" + ` to sign requests) to receive run events over HTTP.
`

var docCmd = &cobra.Command{
	Use:     "doc",
	Short:   "Show the operator guide",
	GroupID: "system",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetBool("raw")
		width, _ := cmd.Flags().GetInt("width")
		if raw {
			fmt.Print(operatorGuide)
			return nil
		}
		rendered, err := output.RenderMarkdown(operatorGuide, width)
		if err != nil {
			fmt.Print(operatorGuide)
			return nil
		}
		fmt.Println(rendered)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:     "version",
	Short:   "Show client and server versions",
	GroupID: "system",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		short, _ := cmd.Flags().GetBool("short")
		if short {
			fmt.Print(versionStr)
			return
		}

		fmt.Printf("fieldsync version %s\n", versionStr)
		if h, err := newClient().HealthCheck(cmd.Context()); err == nil {
			fmt.Printf("server %s at %s\n", h.Version, globals.server)
			if msg := version.Skew(versionStr, h.Version); msg != "" {
				output.Warning("%s", msg)
			}
		}
	},
}

func init() {
	versionCmd.Flags().Bool("short", false, "print only the client version")
	docCmd.Flags().Bool("raw", false, "print the markdown source")
	docCmd.Flags().Int("width", 0, "wrap width (0 follows the terminal)")
	rootCmd.AddCommand(docCmd, versionCmd)
}
