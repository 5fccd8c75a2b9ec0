package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/newhook/nextpick/internal/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var flagServeAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pick state as JSON for kiosk browsers",
	Long: `Serve runs the poll loop and exposes its state over HTTP:

  GET /api/state                 phase, tracked batches, recent events
  GET /api/next-batch            open batches and the authoritative one
  GET /api/next-pick?batchId=ID  current pick of a tracked batch
  GET /healthz                   liveness
  GET /metrics                   Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&flagServeAddr, "addr", "", "listen address (default from [server] addr, else :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	addr := flagServeAddr
	if addr == "" {
		addr = cfg.Server.GetAddr()
	}
	srv := server.New(a.poller, a.metrics.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.poller.Run(gctx)
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, addr)
	})
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", addr)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
