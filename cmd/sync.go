package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/output"
	"github.com/marcus/fieldsync/internal/syncclient"
)

var errAborted = errors.New("aborted")

// stdinIsTerminal reports whether prompts can be shown.
var stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Run a bulk projection into the sync ledger",
	GroupID: "sync",
	Long: `Bulk runs project every entity type for every device (or one device with
--device) and seed the sync ledger. Only one run executes at a time; --force
supersedes a run in progress without stopping it.`,
}

var syncInitialCmd = &cobra.Command{
	Use:   "initial",
	Short: "Insert missing ledger rows as pending, keep existing ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBulk(cmd, engine.ModeInitial)
	},
}

var syncFullCmd = &cobra.Command{
	Use:   "full",
	Short: "Reset every projected ledger row to pending",
	Long: `Full sync re-projects every entity type and resets every projected row to
pending, including rows devices already acknowledged. Devices re-download
everything on their next pull.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBulk(cmd, engine.ModeFull)
	},
}

func runBulk(cmd *cobra.Command, mode engine.Mode) error {
	device, _ := cmd.Flags().GetString("device")
	force, _ := cmd.Flags().GetBool("force")
	yes, _ := cmd.Flags().GetBool("yes")

	if mode == engine.ModeFull && !yes {
		target := "every device"
		if device != "" {
			target = "device " + device
		}
		desc := "All projected rows for " + target + " go back to pending."
		if force {
			desc += " A run in progress will be superseded."
		}
		if err := confirm("Run a full sync?", desc); err != nil {
			return err
		}
	}

	client := newClient()
	req := engine.RunRequest{Force: force, DeviceID: device}

	var (
		summary *engine.RunSummary
		err     error
	)
	if mode == engine.ModeFull {
		summary, err = client.FullSync(cmd.Context(), req)
	} else {
		summary, err = client.InitialSync(cmd.Context(), req)
	}
	if err != nil {
		var apiErr *syncclient.APIError
		if errors.Is(err, syncclient.ErrConflict) && errors.As(err, &apiErr) && !globals.json {
			output.Warning("run %s is in progress (use --force to supersede)", apiErr.RunID)
		}
		return err
	}

	if err := printResult(summary, func() string { return output.FormatRunSummary(summary) }); err != nil {
		return err
	}
	if !summary.Success {
		return fmt.Errorf("%s sync failed for every entity type", mode)
	}
	return nil
}

var sweepCmd = &cobra.Command{
	Use:     "sweep",
	Short:   "Delete synced ledger rows older than the retention window",
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		yes, _ := cmd.Flags().GetBool("yes")
		if days < 0 {
			return fmt.Errorf("--days must not be negative")
		}

		if !yes {
			desc := "Uses the server's configured retention."
			if days > 0 {
				desc = fmt.Sprintf("Synced rows older than %d days are deleted.", days)
			}
			if err := confirm("Run the retention sweep?", desc); err != nil {
				return err
			}
		}

		resp, err := newClient().Sweep(cmd.Context(), days)
		if err != nil {
			return err
		}
		return printResult(resp, func() string {
			return fmt.Sprintf("Deleted %d synced rows older than %d days", resp.Deleted, resp.MaxAgeDays)
		})
	},
}

// confirm asks for a yes/no answer. Without a terminal it refuses, so
// scripts must pass --yes.
func confirm(title, description string) error {
	if !stdinIsTerminal() {
		return fmt.Errorf("confirmation required: re-run with --yes")
	}
	ok := false
	err := huh.NewConfirm().
		Title(title).
		Description(description).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return errAborted
	}
	if err != nil {
		return err
	}
	if !ok {
		return errAborted
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{syncInitialCmd, syncFullCmd} {
		c.Flags().String("device", "", "only sync this device")
		c.Flags().BoolP("force", "f", false, "supersede a run in progress")
	}
	syncFullCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")

	sweepCmd.Flags().Int("days", 0, "maximum age in days (0 uses the server retention)")
	sweepCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")

	syncCmd.AddCommand(syncInitialCmd, syncFullCmd)
	rootCmd.AddCommand(syncCmd, sweepCmd)
}
