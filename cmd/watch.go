package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/newhook/nextpick/internal/logging"
	"github.com/newhook/nextpick/internal/poller"
	"github.com/spf13/cobra"
)

var (
	flagWatchOnce    bool
	flagWatchVerbose bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print pick changes as plain text",
	Long: `Watch runs the same poll loop as the display but prints one line whenever
the visible state changes, plus one line per phase event.

With --once it runs a single poll tick and exits.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().BoolVar(&flagWatchOnce, "once", false, "run one poll tick and exit")
	watchCmd.Flags().BoolVarP(&flagWatchVerbose, "verbose", "v", false, "log to stderr instead of the debug log")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if flagWatchVerbose {
		logging.InitWriter(os.Stderr)
	}

	a, err := newApp(ctx, flagRoot, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if flagWatchOnce {
		printSnapshot(out, a.poller.Tick(ctx), "")
		return nil
	}

	a.watchConfig(ctx, flagRoot)
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.poller.Run(pollCtx) }()

	var last string
	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return nil
		case s := <-a.poller.Updates():
			last = printSnapshot(out, s, last)
		}
	}
}

// printSnapshot writes the events of s and, when it differs from last, its
// state line. It returns the state line.
func printSnapshot(w io.Writer, s poller.Snapshot, last string) string {
	ts := s.At.Format("15:04:05.000")
	for _, e := range s.Events {
		line := fmt.Sprintf("%s  * %s", ts, e.Kind)
		if e.BatchID != "" {
			line += " batch=" + e.BatchID
		}
		if e.PicklistID != "" {
			line += " picklist=" + e.PicklistID
		}
		fmt.Fprintln(w, line)
	}
	if s.Fault != nil {
		fmt.Fprintf(w, "%s  ! %v\n", ts, s.Fault)
	}

	line := snapshotLine(s)
	if line != last {
		fmt.Fprintf(w, "%s  %s\n", ts, line)
	}
	return line
}

// snapshotLine renders the visible state of a snapshot on one line.
func snapshotLine(s poller.Snapshot) string {
	if len(s.Models) == 0 {
		if s.ListErrorStreak > 0 {
			return fmt.Sprintf("[%s] no batch (upstream unreachable x%d)", s.Phase, s.ListErrorStreak)
		}
		return fmt.Sprintf("[%s] no batch", s.Phase)
	}
	parts := make([]string, 0, len(s.Models))
	for _, model := range s.Models {
		p := "batch " + model.BatchID
		if model.Current != nil {
			p += fmt.Sprintf(" @ %s %s %d/%d", model.Current.Location, model.Current.SKU,
				model.Current.QtyPicked, model.Current.QtyOrdered)
		} else {
			p += " (nothing left)"
		}
		p += fmt.Sprintf(" %d%%", model.ProgressPercent)
		if len(model.NextLocations) > 0 {
			p += " next " + strings.Join(model.NextLocations, ",")
		}
		if model.Stale {
			p += " (stale)"
		}
		parts = append(parts, p)
	}
	return fmt.Sprintf("[%s] %s", s.Phase, strings.Join(parts, " | "))
}
