package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/newhook/nextpick/internal/journal"
	"github.com/newhook/nextpick/internal/pick"
	"github.com/spf13/cobra"
)

var (
	flagHistoryBatch string
	flagHistoryKind  string
	flagHistorySince time.Duration
	flagHistoryLimit int
	flagHistoryJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show journaled phase events",
	Long: `History lists the most recent phase events recorded in the journal, newest
first. Events are only recorded while [journal] enabled = true.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&flagHistoryBatch, "batch", "b", "", "only events of this batch")
	historyCmd.Flags().StringVarP(&flagHistoryKind, "kind", "k", "", "only events of this kind (activated, picklistCompleted, batchCompleted, becameEmpty)")
	historyCmd.Flags().DurationVar(&flagHistorySince, "since", 0, "only events newer than this, e.g. 2h")
	historyCmd.Flags().IntVarP(&flagHistoryLimit, "limit", "n", 50, "maximum number of events")
	historyCmd.Flags().BoolVar(&flagHistoryJSON, "json", false, "print JSON instead of a table")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	kind, err := parseEventKind(flagHistoryKind)
	if err != nil {
		return err
	}

	j, err := openJournal(ctx)
	if err != nil {
		return err
	}
	defer j.Close()

	f := journal.Filter{BatchID: flagHistoryBatch, Kind: kind, Limit: flagHistoryLimit}
	if flagHistorySince > 0 {
		f.Since = time.Now().Add(-flagHistorySince)
	}
	entries, err := j.Recent(ctx, f)
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}

	out := cmd.OutOrStdout()
	if flagHistoryJSON {
		if entries == nil {
			entries = []journal.Entry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	printHistory(out, entries)
	return nil
}

func parseEventKind(s string) (pick.EventKind, error) {
	switch k := pick.EventKind(s); k {
	case "", pick.EventActivated, pick.EventPicklistCompleted, pick.EventBatchCompleted, pick.EventBecameEmpty:
		return k, nil
	default:
		return "", fmt.Errorf("unknown event kind %q", s)
	}
}

func printHistory(w io.Writer, entries []journal.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No events recorded")
		return
	}
	fmt.Fprintf(w, "%-19s %-18s %-10s %s\n", "TIME", "EVENT", "BATCH", "PICKLIST")
	fmt.Fprintf(w, "%-19s %-18s %-10s %s\n", "----", "-----", "-----", "--------")
	for _, e := range entries {
		fmt.Fprintf(w, "%-19s %-18s %-10s %s\n",
			e.At.Local().Format("2006-01-02 15:04:05"), e.Kind, dash(e.BatchID), dash(e.PicklistID))
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
