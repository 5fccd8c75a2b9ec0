package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/newhook/nextpick/internal/logging"
	"github.com/newhook/nextpick/internal/normalize"
	"github.com/newhook/nextpick/internal/pick"
	"golang.org/x/sync/errgroup"
)

// listResult is the outcome of the batch list stage.
type listResult struct {
	gen     uint64
	batches []normalize.Batch
	err     error
}

// itemsResult is the outcome of the item stage.
type itemsResult struct {
	gen          uint64
	list         listResult
	observations []pick.Observation
	fault        error
}

// Run polls until ctx is cancelled. The first tick starts immediately. Run
// returns ctx.Err() after aborting the tick in flight.
func (p *Poller) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("poller already running")
	}
	p.running = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	listDone := make(chan listResult)
	itemsDone := make(chan itemsResult)

	var (
		gen      uint64
		stageCtx context.Context
		inflight context.CancelFunc
	)
	abort := func() {
		if inflight != nil {
			inflight()
			inflight = nil
		}
		gen++
	}
	defer abort()

	timer := time.NewTimer(0)
	defer timer.Stop()
	rearm := func(d time.Duration) {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d)
	}
	settle := func() {
		inflight()
		inflight = nil
		rearm(p.delay(p.nowFunc()))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-p.reconfig:
			p.applyPending()

		case <-p.kick:
			if inflight != nil {
				logging.Debug("tick superseded", "gen", gen)
			}
			abort()
			p.startBurst(p.nowFunc())
			rearm(0)

		case <-timer.C:
			abort()
			stageCtx, inflight = context.WithCancel(ctx)
			sc, g := stageCtx, gen
			go func() {
				r := p.fetchList(sc)
				r.gen = g
				select {
				case listDone <- r:
				case <-ctx.Done():
				}
			}()

		case r := <-listDone:
			if r.gen != gen || inflight == nil {
				continue
			}
			ids, err := p.plan(r)
			if err != nil {
				p.fail(r, err)
				settle()
				continue
			}
			sc, g := stageCtx, gen
			go func() {
				obs, fault := p.fetchItems(sc, ids)
				select {
				case itemsDone <- itemsResult{gen: g, list: r, observations: obs, fault: fault}:
				case <-ctx.Done():
				}
			}()

		case r := <-itemsDone:
			if r.gen != gen || inflight == nil {
				continue
			}
			if r.fault != nil {
				p.fail(r.list, r.fault)
			} else {
				p.finish(r.list, r.observations)
			}
			settle()
		}
	}
}

// Tick runs one complete tick synchronously and returns its snapshot. It
// must not be called while Run is active.
func (p *Poller) Tick(ctx context.Context) Snapshot {
	p.applyPending()
	r := p.fetchList(ctx)
	ids, err := p.plan(r)
	if err != nil {
		return p.fail(r, err)
	}
	obs, fault := p.fetchItems(ctx, ids)
	if fault != nil {
		return p.fail(r, fault)
	}
	return p.finish(r, obs)
}

func (p *Poller) fetchList(ctx context.Context) listResult {
	batches, err := p.src.OpenBatches(ctx)
	return listResult{batches: batches, err: err}
}

// plan asks the engine which batches to fetch. An error means the engine
// itself failed and the tick must be skipped.
func (p *Poller) plan(r listResult) (ids []string, err error) {
	err = p.safely(func() {
		var planErr error
		ids, planErr = p.engine.Plan(normalize.BatchIDs(r.batches), r.err, p.nowFunc())
		switch {
		case planErr == nil:
		case errors.Is(planErr, pick.ErrEmptyCandidates):
			logging.Debug("no open batches")
		case errors.Is(planErr, pick.ErrStaleSelection):
			logging.Debug("batch list unavailable, keeping selection", "held", ids, "error", r.err)
		}
	})
	return ids, err
}

// fetchItems loads the items of every planned batch concurrently. Each
// result becomes one observation in plan order. Upstream failures are
// observations; the error is only set when reducing a result panicked.
func (p *Poller) fetchItems(ctx context.Context, ids []string) ([]pick.Observation, error) {
	obs := make([]pick.Observation, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			return p.safely(func() {
				obs[i] = pick.Observation{BatchID: id, Outcome: p.observe(ctx, id)}
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return obs, nil
}

func (p *Poller) observe(ctx context.Context, batchID string) pick.Outcome {
	res, err := p.src.BatchItems(ctx, batchID)
	if err != nil {
		return pick.Failed{Err: err}
	}
	if !res.Done && len(res.Items) > 0 {
		res.Items = p.src.WithImages(ctx, res.Items)
	}
	return res.Outcome()
}

// finish reconciles a tick, updates the poll mode and publishes the result.
func (p *Poller) finish(r listResult, observations []pick.Observation) Snapshot {
	now := p.nowFunc()
	if r.err == nil {
		p.batches = r.batches
	}

	var v pick.Verdict
	fault := p.safely(func() {
		v = p.engine.Reconcile(pick.Tick{
			Now:          now,
			ListErr:      r.err,
			Candidates:   normalize.BatchIDs(r.batches),
			Observations: observations,
		})
	})

	if fault != nil {
		return p.fail(r, fault)
	}

	if p.changed(v) {
		p.startBurst(now)
	}
	for _, e := range v.Events {
		logging.Info("phase event", "kind", string(e.Kind), "batch", e.BatchID, "picklist", e.PicklistID)
	}
	p.recent = append(p.recent, v.Events...)
	if n := len(p.recent); n > recentEvents {
		p.recent = append([]pick.Event(nil), p.recent[n-recentEvents:]...)
	}

	p.seq++
	s := Snapshot{
		Seq:             p.seq,
		At:              now,
		Phase:           v.Phase,
		Mode:            p.mode(now),
		Models:          v.Models,
		Events:          v.Events,
		Recent:          p.recent,
		Batches:         p.batches,
		ListErr:         r.err,
		ListErrorStreak: p.engine.ListErrorStreak(),
	}
	p.publish(s)
	for _, o := range p.observers {
		o.ObserveTick(s)
	}
	return s
}

// fail publishes the previous view with a fault attached.
func (p *Poller) fail(r listResult, fault error) Snapshot {
	now := p.nowFunc()
	prev := p.Latest()
	p.seq++
	s := Snapshot{
		Seq:             p.seq,
		At:              now,
		Phase:           prev.Phase,
		Mode:            p.mode(now),
		Models:          prev.Models,
		Recent:          p.recent,
		Batches:         p.batches,
		ListErr:         r.err,
		ListErrorStreak: prev.ListErrorStreak,
		Fault:           fault,
	}
	p.publish(s)
	for _, o := range p.observers {
		o.ObserveTick(s)
	}
	return s
}

// changed reports whether the tick showed activity worth polling fast for:
// an event, a new batch, or a different current pick.
func (p *Poller) changed(v pick.Verdict) bool {
	changed := len(v.Events) > 0
	sigs := make(map[string]string, len(v.Models))
	for _, m := range v.Models {
		sig := m.Signature()
		sigs[m.BatchID] = sig
		if old, ok := p.lastSigs[m.BatchID]; !ok || old != sig {
			changed = true
		}
	}
	p.lastSigs = sigs
	return changed
}

// safely runs fn and converts a panic into an error.
func (p *Poller) safely(fn func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("reconciliation failed: %v", rec)
			logging.Error("reconciliation panic", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
		}
	}()
	fn()
	return nil
}
