package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/turnpike/pkg/cli"
	"mercator-hq/turnpike/pkg/ledger/retention"
	"mercator-hq/turnpike/pkg/ledger/storage"
)

var batchesFlags struct {
	output string
	status string
	limit  int
	days   int
}

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "Inspect settlement batch records",
	Long: `Inspect the batch records kept by the gateway's settlement store.

Every batch of vouchers handed off for settlement is recorded with its
nonce, secrets, total, status and claim transaction. Failed batches keep
their secrets so they can be claimed out of band.

Only the sqlite backend persists records across processes; with the memory
backend these commands see an empty store.`,
}

var batchesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batch records, newest first",
	Long: `List batch records, newest first.

Examples:
  turnpike batches list
  turnpike batches list --status failed --output json
  turnpike batches list --limit 20 --output csv`,
	Args: cobra.NoArgs,
	RunE: listBatches,
}

var batchesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one batch record including its secrets",
	Args:  cobra.ExactArgs(1),
	RunE:  showBatch,
}

var batchesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete settled batch records past retention",
	Long: `Delete settled batch records older than the retention period. Pending,
submitted and failed records are never deleted.

Examples:
  turnpike batches prune
  turnpike batches prune --days 7`,
	Args: cobra.NoArgs,
	RunE: pruneBatches,
}

func init() {
	rootCmd.AddCommand(batchesCmd)
	batchesCmd.AddCommand(batchesListCmd, batchesShowCmd, batchesPruneCmd)

	batchesCmd.PersistentFlags().StringVarP(&batchesFlags.output, "output", "o", "text", "output format: text, json, csv")
	batchesListCmd.Flags().StringVar(&batchesFlags.status, "status", "", "filter by status: pending, submitted, settled, failed")
	batchesListCmd.Flags().IntVar(&batchesFlags.limit, "limit", 0, "maximum records to list (0 for all)")
	batchesPruneCmd.Flags().IntVar(&batchesFlags.days, "days", 0, "retention period in days (defaults to settlement.retention.days)")
}

// batchTable renders records for list output.
type batchTable []*storage.BatchRecord

func (batchTable) Header() []string {
	return []string{"ID", "STATUS", "SECRETS", "TOTAL", "ATTEMPTS", "TX", "UPDATED"}
}

func (t batchTable) Rows() [][]string {
	rows := make([][]string, 0, len(t))
	for _, rec := range t {
		tx := rec.TxHash
		if tx == "" {
			tx = "-"
		}
		rows = append(rows, []string{
			rec.ID,
			string(rec.Status),
			strconv.Itoa(len(rec.Secrets)),
			rec.Total,
			strconv.Itoa(rec.Attempts),
			tx,
			rec.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows
}

func openStore() (storage.Backend, int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, 0, err
	}
	store, err := storage.Open(cfg.Settlement.Storage.Backend, cfg.Settlement.Storage.SQLitePath)
	if err != nil {
		return nil, 0, err
	}
	return store, cfg.Settlement.Retention.Days, nil
}

func listBatches(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(batchesFlags.output)
	if err != nil {
		return err
	}
	status := storage.Status(batchesFlags.status)
	if status != "" && !status.Valid() {
		return cli.NewConfigError("status", fmt.Sprintf("unknown status %q", batchesFlags.status))
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context(), storage.Filter{Status: status, Limit: batchesFlags.limit})
	if err != nil {
		return cli.NewCommandError("batches list", err)
	}

	var data any = batchTable(records)
	if format == cli.FormatJSON {
		data = records
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), data)
}

func showBatch(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(batchesFlags.output)
	if err != nil {
		return err
	}

	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Load(cmd.Context(), args[0])
	if errors.Is(err, storage.ErrNotFound) {
		return cli.NewCommandError("batches show", fmt.Errorf("no batch with id %q", args[0]))
	}
	if err != nil {
		return cli.NewCommandError("batches show", err)
	}

	switch format {
	case cli.FormatText:
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "ID:        %s\n", rec.ID)
		fmt.Fprintf(out, "Status:    %s\n", rec.Status)
		fmt.Fprintf(out, "Nonce:     %s\n", rec.Nonce)
		fmt.Fprintf(out, "Total:     %s\n", rec.Total)
		fmt.Fprintf(out, "Attempts:  %d\n", rec.Attempts)
		if rec.TxHash != "" {
			fmt.Fprintf(out, "Tx:        %s\n", rec.TxHash)
		}
		if rec.LastError != "" {
			fmt.Fprintf(out, "Error:     %s\n", rec.LastError)
		}
		fmt.Fprintf(out, "Created:   %s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(out, "Updated:   %s\n", rec.UpdatedAt.UTC().Format(time.RFC3339))
		fmt.Fprintf(out, "Secrets:   %d\n", len(rec.Secrets))
		for _, s := range rec.Secrets {
			fmt.Fprintf(out, "  %s\n", s)
		}
		return nil
	case cli.FormatCSV:
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), batchTable{rec})
	default:
		return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), rec)
	}
}

func pruneBatches(cmd *cobra.Command, args []string) error {
	store, days, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if cmd.Flags().Changed("days") {
		days = batchesFlags.days
	}
	if days <= 0 {
		return cli.NewConfigError("days", "retention must be at least one day to prune")
	}

	pruned, err := retention.NewPruner(store, &retention.Config{RetentionDays: days}).Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("batches prune", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d settled batch records older than %d days\n", pruned, days)
	return nil
}
