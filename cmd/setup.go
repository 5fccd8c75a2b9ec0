package cmd

import (
	"context"
	"fmt"

	"github.com/newhook/nextpick/internal/config"
	"github.com/newhook/nextpick/internal/journal"
	"github.com/newhook/nextpick/internal/logging"
	"github.com/newhook/nextpick/internal/metrics"
	"github.com/newhook/nextpick/internal/pick"
	"github.com/newhook/nextpick/internal/picqer"
	"github.com/newhook/nextpick/internal/poller"
)

// newClient builds the upstream client from the connection settings.
func newClient(cfg *config.Config, observer picqer.Observer) (*picqer.Client, error) {
	opts := picqer.Options{
		BaseURL:       cfg.Picqer.GetURL(),
		APIKey:        cfg.Picqer.APIKey,
		ListTimeout:   cfg.Poll.GetListTimeout(),
		ItemsTimeout:  cfg.Poll.GetItemsTimeout(),
		OpenStatuses:  cfg.Picqer.OpenStatuses,
		RatePerSecond: cfg.Picqer.GetRatePerSecond(),
		Burst:         cfg.Picqer.GetBurst(),
		ImageCacheTTL: cfg.Images.GetCacheTTL(),
		SKUTemplate:   cfg.Images.SKUTemplate,
		Observer:      observer,
	}
	if cfg.Breaker.Enabled {
		opts.Breaker = &picqer.BreakerOptions{
			FailureThreshold: uint32(cfg.Breaker.GetFailureThreshold()),
			OpenTimeout:      cfg.Breaker.GetOpenTimeout(),
		}
	}
	return picqer.NewClient(opts)
}

// pollerConfig maps the tuning knobs onto the poller configuration.
func pollerConfig(cfg *config.Config) poller.Config {
	return poller.Config{
		BaseInterval:  cfg.Poll.GetBaseInterval(),
		BurstInterval: cfg.Poll.GetBurstInterval(),
		BurstWindow:   cfg.Poll.GetBurstWindow(),
		Engine: pick.Config{
			Selector: pick.SelectorConfig{
				Sticky:          cfg.Selector.GetSticky(),
				Ignore:          cfg.Selector.GetIgnore(),
				AbsentTolerance: cfg.Selector.GetAbsentTolerance(),
				MaxTracked:      cfg.Selector.GetMaxTracked(),
			},
			Detector: pick.DetectorConfig{
				DoneConfirm:    cfg.Detector.GetDoneConfirm(),
				NoIDStreakMax:  cfg.Detector.GetNoIDStreakMax(),
				ErrorTolerance: cfg.Detector.GetErrorTolerance(),
				Grace:          cfg.Detector.GetGrace(),
			},
		},
	}
}

// app bundles what a polling command needs.
type app struct {
	cfg     *config.Config
	client  *picqer.Client
	poller  *poller.Poller
	metrics *metrics.Metrics
	journal *journal.Journal
	watcher *config.Watcher
}

// newApp wires the client, poller, metrics and the optional journal.
// extra observers are notified after metrics and journal.
func newApp(ctx context.Context, root string, cfg *config.Config, extra ...poller.Observer) (*app, error) {
	rt := &app{cfg: cfg, metrics: metrics.New()}

	client, err := newClient(cfg, rt.metrics)
	if err != nil {
		return nil, err
	}
	rt.client = client

	observers := []poller.Observer{rt.metrics}
	if cfg.Journal.Enabled {
		j, err := journal.Open(ctx, cfg.Journal.GetPath(root))
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		rt.journal = j
		observers = append(observers, j)
	}
	observers = append(observers, extra...)

	rt.poller = poller.New(client, pollerConfig(cfg), observers...)
	return rt, nil
}

// watchConfig applies tuning changes from the config file to the running
// poller. Connection settings need a restart.
func (rt *app) watchConfig(ctx context.Context, root string) {
	w, err := config.NewWatcher(config.Path(root), config.DefaultDebounce, func(cfg *config.Config) {
		if cfg.Picqer.GetURL() != rt.cfg.Picqer.GetURL() || cfg.Picqer.APIKey != rt.cfg.Picqer.APIKey {
			logging.Warn("picqer connection settings changed; restart to apply")
		}
		if level, err := logging.ParseLevel(cfg.Log.GetLevel()); err == nil {
			logging.SetLevel(level)
		}
		rt.poller.Reconfigure(pollerConfig(cfg))
		logging.Info("configuration reloaded")
	})
	if err != nil {
		logging.Warn("config hot reload disabled", "error", err)
		return
	}
	rt.watcher = w
	w.Start(ctx)
}

func (rt *app) Close() {
	if rt.watcher != nil {
		if err := rt.watcher.Stop(); err != nil {
			logging.Warn("failed to stop config watcher", "error", err)
		}
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			logging.Warn("failed to close journal", "error", err)
		}
	}
}
