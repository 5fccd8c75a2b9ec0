package pick

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyCandidates is returned by Plan when no open batch is available.
	ErrEmptyCandidates = errors.New("no open batches")
	// ErrStaleSelection is returned by Plan when the candidate list could not
	// be fetched and the previous selection is reused.
	ErrStaleSelection = errors.New("candidate list unavailable, keeping previous selection")
)

// Config groups the selection and completion policies.
type Config struct {
	Selector SelectorConfig
	Detector DetectorConfig
}

// DefaultConfig returns the default policies.
func DefaultConfig() Config {
	return Config{
		Selector: DefaultSelectorConfig(),
		Detector: DefaultDetectorConfig(),
	}
}

// Engine ties the selector and the detector together. A poll tick calls Plan
// once the candidate list is known, fetches items for the planned batches and
// hands the results to Reconcile. Engine is not safe for concurrent use.
type Engine struct {
	selector *Selector
	detector *Detector
}

// NewEngine creates an engine in the Loading phase.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		selector: NewSelector(cfg.Selector),
		detector: NewDetector(cfg.Detector),
	}
}

// SetConfig replaces both policies without dropping held batches or streaks.
func (e *Engine) SetConfig(cfg Config) {
	e.selector.SetConfig(cfg.Selector)
	e.detector.SetConfig(cfg.Detector)
}

// Plan returns the batch ids whose items should be fetched this tick.
// When listErr is set the held selection is returned with ErrStaleSelection.
func (e *Engine) Plan(candidates []string, listErr error, now time.Time) ([]string, error) {
	if listErr != nil {
		return e.selector.Held(now), fmt.Errorf("%w: %w", ErrStaleSelection, listErr)
	}
	ids := e.selector.Select(candidates, now)
	if len(ids) == 0 {
		return nil, ErrEmptyCandidates
	}
	return ids, nil
}

// Reconcile applies the observations of one tick and updates the selector
// with the detector's decisions.
func (e *Engine) Reconcile(t Tick) Verdict {
	v := e.detector.Observe(t, func(batchID string) bool {
		return e.selector.StickyElapsed(batchID, t.Now)
	})
	for _, id := range v.Completed {
		e.selector.Ignore(id, t.Now)
	}
	for _, id := range v.Reselect {
		e.selector.Release(id)
	}
	if v.Cleared {
		e.selector.Reset()
	}
	return v
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	return e.detector.Phase()
}

// Handles returns the selector's current handles.
func (e *Engine) Handles() []BatchHandle {
	return e.selector.Handles()
}

// IsIgnored reports whether a batch is on the ignore list.
func (e *Engine) IsIgnored(batchID string, now time.Time) bool {
	return e.selector.IsIgnored(batchID, now)
}

// ListErrorStreak returns the number of consecutive failed list calls.
func (e *Engine) ListErrorStreak() int {
	return e.detector.ListErrorStreak()
}
