package cmd

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var flagNoAltScreen bool

var displayCmd = &cobra.Command{
	Use:   "display",
	Short: "Show the next pick in the terminal",
	Long: `Display polls the open batches and shows the current location, product and
progress of up to two batches side by side.

Keys:
  r, space   poll now
  q, ctrl+c  quit

Regaining terminal focus also triggers an immediate poll.`,
	Args: cobra.NoArgs,
	RunE: runDisplay,
}

func init() {
	rootCmd.AddCommand(displayCmd)
	addDisplayFlags(displayCmd)
}

func addDisplayFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&flagNoAltScreen, "no-alt-screen", false, "render inline instead of the alternate screen")
}

func runDisplay(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, flagRoot, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	a.watchConfig(ctx, flagRoot)

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.poller.Run(pollCtx) }()

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithReportFocus()}
	if !flagNoAltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	_, runErr := tea.NewProgram(newDisplayModel(a.poller), opts...).Run()

	cancel()
	<-done
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("error running display: %w", runErr)
	}
	return nil
}
