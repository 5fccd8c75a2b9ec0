package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/newhook/nextpick/internal/normalize"
	"github.com/spf13/cobra"
)

var flagBatchesJSON bool

var batchesCmd = &cobra.Command{
	Use:   "batches",
	Short: "List open batches",
	Long: `Batches fetches the open batch list once, in the order the display would
consider them (oldest first), with their status, creator and progress.`,
	Args: cobra.NoArgs,
	RunE: runBatches,
}

func init() {
	rootCmd.AddCommand(batchesCmd)
	batchesCmd.Flags().BoolVar(&flagBatchesJSON, "json", false, "print JSON instead of a table")
}

func runBatches(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := newClient(cfg, nil)
	if err != nil {
		return err
	}

	batches, err := client.OpenBatches(ctx)
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}

	out := cmd.OutOrStdout()
	if flagBatchesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if batches == nil {
			batches = []normalize.Batch{}
		}
		return enc.Encode(batches)
	}
	printBatches(out, batches)
	return nil
}

func printBatches(w io.Writer, batches []normalize.Batch) {
	if len(batches) == 0 {
		fmt.Fprintln(w, "No open batches")
		return
	}

	fmt.Fprintf(w, "%-10s %-12s %-20s %-17s %s\n", "BATCH", "STATUS", "CREATED BY", "CREATED", "PROGRESS")
	fmt.Fprintf(w, "%-10s %-12s %-20s %-17s %s\n", "-----", "------", "----------", "-------", "--------")
	for _, b := range batches {
		created := "-"
		if !b.CreatedAt.IsZero() {
			created = b.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		progress := "-"
		if b.Progress != nil {
			progress = strconv.Itoa(*b.Progress) + "%"
		}
		by := b.CreatedBy
		if by == "" {
			by = "-"
		}
		if len(by) > 20 {
			by = by[:17] + "..."
		}
		fmt.Fprintf(w, "%-10s %-12s %-20s %-17s %s\n", b.ID, b.Status, by, created, progress)
	}
}
