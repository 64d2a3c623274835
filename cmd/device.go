package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/fieldsync/internal/engine"
	"github.com/marcus/fieldsync/internal/input"
	"github.com/marcus/fieldsync/internal/ledger"
	"github.com/marcus/fieldsync/internal/output"
	"github.com/marcus/fieldsync/internal/syncclient"
)

var pendingCmd = &cobra.Command{
	Use:     "pending <device-id>",
	Short:   "List ledger rows a device still has to pull",
	GroupID: "device",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		entityType, _ := cmd.Flags().GetString("type")
		direction, _ := cmd.Flags().GetString("direction")
		limit, _ := cmd.Flags().GetInt("limit")

		entries, err := newClient().Pending(cmd.Context(), syncclient.PendingRequest{
			DeviceID:   args[0],
			EntityType: entityType,
			Direction:  ledger.Direction(direction),
			Limit:      limit,
		})
		if err != nil {
			return err
		}
		return printResult(entries, func() string {
			if len(entries) == 0 {
				return "Nothing pending for " + args[0]
			}
			return output.FormatEntries(entries)
		})
	},
}

var ackCmd = &cobra.Command{
	Use:     "ack",
	Short:   "Record device acknowledgements",
	GroupID: "device",
}

var ackSyncedCmd = &cobra.Command{
	Use:   "synced <device-id> <entity-type> <entity-id>...",
	Short: "Mark ledger rows as delivered to the device",
	Long: `Marks one or more rows synced. An id of - reads ids from stdin, one per
line; @file reads them from file. Several ids are sent as one batch.`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAck(cmd, args, engine.OutcomeSynced)
	},
}

var ackFailedCmd = &cobra.Command{
	Use:   "failed <device-id> <entity-type> <entity-id>...",
	Short: "Record failed delivery attempts",
	Long: `Records a failed attempt for one or more rows. Ids accept the same - and
@file forms as "ack synced".`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAck(cmd, args, engine.OutcomeFailed)
	},
}

func runAck(cmd *cobra.Command, args []string, outcome string) error {
	ids, err := input.ExpandValues(args[2:], cmd.InOrStdin())
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no entity ids given")
	}

	direction, _ := cmd.Flags().GetString("direction")
	message, _ := cmd.Flags().GetString("error")
	acks := make([]engine.Ack, len(ids))
	for i, id := range ids {
		acks[i] = engine.Ack{
			DeviceID:     args[0],
			EntityType:   args[1],
			EntityID:     id,
			Direction:    ledger.Direction(direction),
			ErrorMessage: message,
		}
	}

	if len(acks) > 1 {
		items := make([]engine.BatchItem, len(acks))
		for i, ack := range acks {
			items[i] = engine.BatchItem{Ack: ack, Outcome: outcome}
		}
		return sendBatch(cmd, items)
	}

	ack := acks[0]
	client := newClient()
	if outcome == engine.OutcomeFailed {
		err = client.MarkFailed(cmd.Context(), ack)
	} else {
		err = client.MarkSynced(cmd.Context(), ack)
	}
	if err != nil {
		return err
	}
	if globals.json {
		return output.JSON(map[string]bool{"success": true})
	}
	if outcome == engine.OutcomeFailed {
		output.Info("Recorded failure of %s/%s for %s", ack.EntityType, ack.EntityID, ack.DeviceID)
	} else {
		output.Success("Marked %s/%s synced for %s", ack.EntityType, ack.EntityID, ack.DeviceID)
	}
	return nil
}

var ackBatchCmd = &cobra.Command{
	Use:   "batch [file]",
	Short: "Apply a JSON array of acknowledgements in one transaction",
	Long: `Reads a JSON array of items from file, or stdin when no file is given:

  [{"entityType":"customer","entityId":"C1","deviceId":"D1","outcome":"synced"},
   {"entityType":"customer","entityId":"C2","deviceId":"D1","outcome":"failed","errorMessage":"timeout"}]

Invalid items are reported per index and do not block the others.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}

		var items []engine.BatchItem
		if err := json.NewDecoder(r).Decode(&items); err != nil {
			return fmt.Errorf("decode batch: %w", err)
		}
		return sendBatch(cmd, items)
	},
}

func sendBatch(cmd *cobra.Command, items []engine.BatchItem) error {
	resp, err := newClient().AckBatch(cmd.Context(), items)
	if err != nil {
		return err
	}
	if err := printResult(resp, func() string { return formatBatch(resp) }); err != nil {
		return err
	}
	if resp.Applied < len(items) {
		return fmt.Errorf("%d of %d items rejected", len(items)-resp.Applied, len(items))
	}
	return nil
}

func formatBatch(resp *syncclient.BatchResponse) string {
	rows := make([][]string, 0, len(resp.Results))
	for _, res := range resp.Results {
		if res.Success {
			continue
		}
		rows = append(rows, []string{fmt.Sprint(res.Index), res.Error})
	}
	summary := fmt.Sprintf("Applied %d of %d items", resp.Applied, len(resp.Results))
	if len(rows) == 0 {
		return summary
	}
	return summary + "\n" + output.Table([]string{"Index", "Error"}, rows)
}

func init() {
	pendingCmd.Flags().String("type", "", "only this entity type")
	pendingCmd.Flags().String("direction", "", "down or up (default: both)")
	pendingCmd.Flags().IntP("limit", "n", 0, "maximum rows, at most 5000 (0 = all)")

	for _, c := range []*cobra.Command{ackSyncedCmd, ackFailedCmd} {
		c.Flags().String("direction", "", "down (default) or up")
	}
	ackFailedCmd.Flags().StringP("error", "e", "", "error message reported by the device")

	ackCmd.AddCommand(ackSyncedCmd, ackFailedCmd, ackBatchCmd)
	rootCmd.AddCommand(pendingCmd, ackCmd)
}
