package pick

import (
	"cmp"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/newhook/nextpick/internal/logging"
)

// Phase is the externally visible state of the display.
type Phase int

const (
	// PhaseLoading is the state before the first decisive observation.
	PhaseLoading Phase = iota
	// PhaseActive means at least one batch has something to pick.
	PhaseActive
	// PhaseCompleted is momentary: completion events are emitted and the
	// phase falls through to Active or Empty within the same tick.
	PhaseCompleted
	// PhaseEmpty means there is nothing to pick.
	PhaseEmpty
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "LOADING"
	case PhaseActive:
		return "ACTIVE"
	case PhaseCompleted:
		return "COMPLETED"
	case PhaseEmpty:
		return "EMPTY"
	default:
		return "UNKNOWN"
	}
}

// EventKind names a phase transition event.
type EventKind string

const (
	EventActivated         EventKind = "activated"
	EventPicklistCompleted EventKind = "picklistCompleted"
	EventBatchCompleted    EventKind = "batchCompleted"
	EventBecameEmpty       EventKind = "becameEmpty"
)

// Event is emitted once per real transition.
type Event struct {
	Kind       EventKind
	BatchID    string
	PicklistID string
	At         time.Time
}

// Outcome is the classified result of polling one tracked batch.
// It is one of Ok, Pending, Done or Failed.
type Outcome interface {
	outcome()
}

// Ok carries a model with a current item.
type Ok struct{ Model DisplayModel }

// Pending means the batch showed nothing to pick: an empty item list or
// zero remaining. It needs confirmation before it counts as completion.
type Pending struct{ Model DisplayModel }

// Done means the upstream explicitly reported the batch as finished.
type Done struct{}

// Failed carries an upstream error for the batch.
type Failed struct{ Err error }

func (Ok) outcome()      {}
func (Pending) outcome() {}
func (Done) outcome()    {}
func (Failed) outcome()  {}

// Classify turns a freshly fetched item list into an outcome.
func Classify(batchID, picklistID string, items []Item, explicitDone bool) Outcome {
	if explicitDone {
		return Done{}
	}
	m := Reduce(items)
	m.BatchID = batchID
	m.PicklistID = picklistID
	if m.Current != nil {
		return Ok{Model: m}
	}
	return Pending{Model: m}
}

// Observation pairs a tracked batch with its outcome for one tick.
type Observation struct {
	BatchID string
	Outcome Outcome
}

// DetectorConfig holds the completion policy knobs.
type DetectorConfig struct {
	// DoneConfirm is the number of consecutive Pending observations that
	// confirm a batch completion.
	DoneConfirm int
	// NoIDStreakMax is the number of consecutive empty candidate lists
	// before the display is cleared.
	NoIDStreakMax int
	// ErrorTolerance is the number of consecutive failures for a batch
	// before it is released for reselection.
	ErrorTolerance int
	// Grace bounds how long a last-known-good model is shown.
	Grace time.Duration
}

// DefaultDetectorConfig returns the default completion policy.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		DoneConfirm:    2,
		NoIDStreakMax:  3,
		ErrorTolerance: 5,
		Grace:          15 * time.Second,
	}
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	d := DefaultDetectorConfig()
	if c.DoneConfirm <= 0 {
		c.DoneConfirm = d.DoneConfirm
	}
	if c.NoIDStreakMax <= 0 {
		c.NoIDStreakMax = d.NoIDStreakMax
	}
	if c.ErrorTolerance <= 0 {
		c.ErrorTolerance = d.ErrorTolerance
	}
	if c.Grace <= 0 {
		c.Grace = d.Grace
	}
	return c
}

// Tick is everything observed during one poll.
type Tick struct {
	Now time.Time
	// ListErr is set when the candidate list could not be fetched.
	ListErr error
	// Candidates is the open batch list, in upstream order.
	Candidates []string
	// Observations covers the selected batches, in slot order.
	Observations []Observation
}

// Verdict is the detector's decision for one tick.
type Verdict struct {
	Phase  Phase
	Models []DisplayModel
	Events []Event

	// Completed lists batches whose completion was confirmed this tick.
	Completed []string
	// Reselect lists batches to release because they keep failing.
	Reselect []string
	// Cleared is set when the candidate list stayed empty long enough to
	// drop everything.
	Cleared bool
}

type track struct {
	batchID string

	model      DisplayModel
	hasModel   bool
	lastGoodAt time.Time

	doneStreak int
	errStreak  int

	// armed is set by an active observation and cleared by completion, so
	// each active period emits at most one completion.
	armed       bool
	picklistKey string
	picklistID  string
	order       int
}

// Detector classifies poll outcomes into phases and one-shot events.
type Detector struct {
	cfg DetectorConfig

	phase        Phase
	startedAt    time.Time
	tracks       map[string]*track
	noIDStreak   int
	listErrCount int
}

// NewDetector creates a detector in the Loading phase.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		cfg:    cfg.withDefaults(),
		phase:  PhaseLoading,
		tracks: make(map[string]*track),
	}
}

// SetConfig replaces the policy. Streaks are kept.
func (d *Detector) SetConfig(cfg DetectorConfig) {
	d.cfg = cfg.withDefaults()
}

// Phase returns the phase decided by the last tick.
func (d *Detector) Phase() Phase {
	return d.phase
}

// ListErrorStreak returns the number of consecutive failed candidate fetches.
func (d *Detector) ListErrorStreak() int {
	return d.listErrCount
}

// Observe applies one tick. stickyElapsed reports whether a batch's sticky
// window is over; a failing batch is only released once it is.
func (d *Detector) Observe(t Tick, stickyElapsed func(batchID string) bool) Verdict {
	if d.startedAt.IsZero() {
		d.startedAt = t.Now
	}
	var v Verdict

	switch {
	case t.ListErr != nil:
		d.listErrCount++
	case len(t.Candidates) == 0:
		d.listErrCount = 0
		d.noIDStreak++
	default:
		d.listErrCount = 0
		d.noIDStreak = 0
	}

	observed := make(map[string]bool, len(t.Observations))
	completedAny := false
	for i, obs := range t.Observations {
		observed[obs.BatchID] = true
		tr := d.trackFor(obs.BatchID)
		tr.order = i

		switch o := obs.Outcome.(type) {
		case Ok:
			d.observeOk(tr, o.Model, t.Now, &v)
		case Pending:
			tr.errStreak = 0
			tr.doneStreak++
			if tr.hasModel {
				tr.model.Stale = true
			}
			logging.Debug("batch shows nothing to pick", "batchID", tr.batchID, "streak", tr.doneStreak)
			if tr.doneStreak >= d.cfg.DoneConfirm {
				d.complete(tr, t.Now, &v)
				completedAny = true
			}
		case Done:
			d.complete(tr, t.Now, &v)
			completedAny = true
		case Failed:
			if isCanceled(o.Err) {
				continue
			}
			tr.errStreak++
			if tr.hasModel {
				tr.model.Stale = true
			}
			if tr.errStreak >= d.cfg.ErrorTolerance && stickyElapsed(tr.batchID) {
				logging.Warn("batch keeps failing, releasing for reselection",
					"batchID", tr.batchID, "streak", tr.errStreak, "error", o.Err)
				v.Reselect = append(v.Reselect, tr.batchID)
				tr.errStreak = 0
			}
		}
	}

	if d.noIDStreak >= d.cfg.NoIDStreakMax && len(d.tracks) > 0 {
		logging.Info("no open batches, clearing display", "streak", d.noIDStreak)
		d.tracks = make(map[string]*track)
		v.Cleared = true
	}

	d.expire(t.Now, observed)
	v.Models = d.models()

	prev := d.phase
	next := prev
	switch {
	case len(v.Models) > 0:
		next = PhaseActive
	case prev == PhaseActive || completedAny || v.Cleared:
		next = PhaseEmpty
	case prev == PhaseLoading && d.noIDStreak >= d.cfg.NoIDStreakMax:
		next = PhaseEmpty
	case prev == PhaseLoading && t.Now.Sub(d.startedAt) >= d.cfg.Grace:
		next = PhaseEmpty
	}

	if next == PhaseActive && (prev != PhaseActive || completedAny) {
		v.Events = append(v.Events, Event{Kind: EventActivated, BatchID: v.Models[0].BatchID, PicklistID: v.Models[0].PicklistID, At: t.Now})
	}
	if next == PhaseEmpty && prev != PhaseEmpty {
		v.Events = append(v.Events, Event{Kind: EventBecameEmpty, At: t.Now})
	}
	d.phase = next
	v.Phase = next
	return v
}

func (d *Detector) observeOk(tr *track, m DisplayModel, now time.Time, v *Verdict) {
	tr.errStreak = 0
	tr.doneStreak = 0

	key := m.PicklistID
	if key == "" {
		key = m.SKUSignature()
	}
	if tr.armed && tr.picklistKey != "" && key != tr.picklistKey {
		logging.Info("picklist completed", "batchID", tr.batchID, "picklistID", tr.picklistID)
		v.Events = append(v.Events, Event{Kind: EventPicklistCompleted, BatchID: tr.batchID, PicklistID: tr.picklistID, At: now})
	}
	tr.picklistKey = key
	tr.picklistID = m.PicklistID
	tr.armed = true
	tr.model = m
	tr.hasModel = true
	tr.lastGoodAt = now
}

func (d *Detector) complete(tr *track, now time.Time, v *Verdict) {
	if tr.armed {
		logging.Info("batch completed", "batchID", tr.batchID)
		v.Events = append(v.Events, Event{Kind: EventBatchCompleted, BatchID: tr.batchID, PicklistID: tr.picklistID, At: now})
		if d.phase == PhaseActive {
			d.phase = PhaseCompleted
		}
	}
	v.Completed = append(v.Completed, tr.batchID)
	delete(d.tracks, tr.batchID)
}

// expire drops models that outlived the grace window and tracks that are no
// longer selected and have nothing to show.
func (d *Detector) expire(now time.Time, observed map[string]bool) {
	for id, tr := range d.tracks {
		if tr.hasModel && now.Sub(tr.lastGoodAt) > d.cfg.Grace {
			logging.Debug("last known good model expired", "batchID", id)
			tr.hasModel = false
			tr.model = DisplayModel{}
		}
		if observed[id] {
			continue
		}
		if !tr.hasModel {
			delete(d.tracks, id)
			continue
		}
		tr.model.Stale = true
	}
}

func (d *Detector) models() []DisplayModel {
	var ordered []*track
	for _, tr := range d.tracks {
		if tr.hasModel {
			ordered = append(ordered, tr)
		}
	}
	sortTracks(ordered)
	models := make([]DisplayModel, len(ordered))
	for i, tr := range ordered {
		models[i] = tr.model
	}
	return models
}

func (d *Detector) trackFor(batchID string) *track {
	tr, ok := d.tracks[batchID]
	if !ok {
		tr = &track{batchID: batchID}
		d.tracks[batchID] = tr
	}
	return tr
}

func sortTracks(ts []*track) {
	slices.SortFunc(ts, func(a, b *track) int {
		if c := cmp.Compare(a.order, b.order); c != 0 {
			return c
		}
		return strings.Compare(a.batchID, b.batchID)
	})
}

// canceler is implemented by errors that mark a superseded request.
type canceler interface {
	Canceled() bool
}

func isCanceled(err error) bool {
	var c canceler
	return errors.As(err, &c) && c.Canceled()
}
