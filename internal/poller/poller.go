// Package poller drives the pick engine from the upstream API. One goroutine
// owns the engine; network stages run beside it and their results are
// applied in order, with superseded results discarded.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/newhook/nextpick/internal/logging"
	"github.com/newhook/nextpick/internal/normalize"
	"github.com/newhook/nextpick/internal/picqer"
	"github.com/newhook/nextpick/internal/pick"
)

// Mode names the poll rate in effect.
type Mode string

const (
	ModeBase  Mode = "base"
	ModeBurst Mode = "burst"
)

const recentEvents = 20

// Source is the upstream the poller reads. *picqer.Client implements it.
type Source interface {
	OpenBatches(ctx context.Context) ([]normalize.Batch, error)
	BatchItems(ctx context.Context, batchID string) (picqer.BatchItems, error)
	WithImages(ctx context.Context, items []pick.Item) []pick.Item
}

// Observer is told about every completed tick, from the poll goroutine.
type Observer interface {
	ObserveTick(s Snapshot)
}

// Config holds the poll timing and the engine policies.
type Config struct {
	BaseInterval  time.Duration
	BurstInterval time.Duration
	BurstWindow   time.Duration
	Engine        pick.Config
}

// DefaultConfig returns the default timing and policies.
func DefaultConfig() Config {
	return Config{
		BaseInterval:  750 * time.Millisecond,
		BurstInterval: 150 * time.Millisecond,
		BurstWindow:   8 * time.Second,
		Engine:        pick.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseInterval <= 0 {
		c.BaseInterval = d.BaseInterval
	}
	if c.BurstInterval <= 0 {
		c.BurstInterval = d.BurstInterval
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = d.BurstWindow
	}
	return c
}

// Snapshot is the state published after each tick.
type Snapshot struct {
	Seq   uint64
	At    time.Time
	Phase pick.Phase
	Mode  Mode

	// Models holds one display model per tracked batch, in slot order.
	Models []pick.DisplayModel
	// Events are the phase events of this tick.
	Events []pick.Event
	// Recent holds the last events, newest last.
	Recent []pick.Event

	// Batches is the last successfully fetched open batch list.
	Batches []normalize.Batch
	// ListErr is set when this tick's batch list call failed.
	ListErr error
	// ListErrorStreak counts consecutive failed list calls.
	ListErrorStreak int

	// Fault is set when reconciliation itself failed. Upstream failures
	// never set it.
	Fault error
}

// Model returns the display model of a tracked batch.
func (s Snapshot) Model(batchID string) (pick.DisplayModel, bool) {
	for _, m := range s.Models {
		if m.BatchID == batchID {
			return m, true
		}
	}
	return pick.DisplayModel{}, false
}

// Poller runs the poll loop.
type Poller struct {
	src       Source
	observers []Observer
	nowFunc   func() time.Time

	// Owned by the poll goroutine.
	cfg        Config
	engine     *pick.Engine
	burstUntil time.Time
	batches    []normalize.Batch
	recent     []pick.Event
	lastSigs   map[string]string
	seq        uint64

	kick     chan struct{}
	reconfig chan struct{}
	updates  chan Snapshot

	mu      sync.Mutex
	latest  Snapshot
	pending *Config
	running bool
}

// New creates a poller reading from src.
func New(src Source, cfg Config, observers ...Observer) *Poller {
	cfg = cfg.withDefaults()
	return &Poller{
		src:       src,
		observers: observers,
		nowFunc:   time.Now,
		cfg:       cfg,
		engine:    pick.NewEngine(cfg.Engine),
		lastSigs:  map[string]string{},
		kick:      make(chan struct{}, 1),
		reconfig:  make(chan struct{}, 1),
		updates:   make(chan Snapshot, 1),
		latest:    Snapshot{Phase: pick.PhaseLoading, Mode: ModeBase},
	}
}

// SetNowFunc sets the clock. This is primarily for testing purposes.
func (p *Poller) SetNowFunc(f func() time.Time) {
	p.nowFunc = f
}

// Latest returns the most recent snapshot.
func (p *Poller) Latest() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}

// Updates delivers snapshots as they are produced. A slow reader only sees
// the newest one.
func (p *Poller) Updates() <-chan Snapshot {
	return p.updates
}

// Kick abandons the tick in flight, polls immediately and enters burst mode.
// It is used when the operator interacts with the display.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Reconfigure replaces the timing and policies before the next tick. Held
// batches and streaks are kept.
func (p *Poller) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	p.mu.Lock()
	p.pending = &cfg
	p.mu.Unlock()
	select {
	case p.reconfig <- struct{}{}:
	default:
	}
}

func (p *Poller) applyPending() {
	p.mu.Lock()
	cfg := p.pending
	p.pending = nil
	p.mu.Unlock()
	if cfg == nil {
		return
	}
	p.cfg = *cfg
	p.engine.SetConfig(cfg.Engine)
	logging.Debug("poller reconfigured", "base", cfg.BaseInterval, "burst", cfg.BurstInterval)
}

func (p *Poller) mode(now time.Time) Mode {
	if now.Before(p.burstUntil) {
		return ModeBurst
	}
	return ModeBase
}

func (p *Poller) delay(now time.Time) time.Duration {
	if p.mode(now) == ModeBurst {
		return p.cfg.BurstInterval
	}
	return p.cfg.BaseInterval
}

func (p *Poller) startBurst(now time.Time) {
	p.burstUntil = now.Add(p.cfg.BurstWindow)
}

// publish stores s as the latest snapshot and offers it on the updates
// channel, replacing an unread one.
func (p *Poller) publish(s Snapshot) {
	p.mu.Lock()
	p.latest = s
	p.mu.Unlock()

	for {
		select {
		case p.updates <- s:
			return
		default:
		}
		select {
		case <-p.updates:
		default:
		}
	}
}
