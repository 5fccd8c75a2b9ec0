package pick

import (
	"slices"
	"time"

	"github.com/newhook/nextpick/internal/logging"
)

// SelectorConfig holds the selection policy knobs.
type SelectorConfig struct {
	// Sticky is the minimum dwell time on a chosen batch.
	Sticky time.Duration
	// Ignore is how long a completed batch is refused after completion.
	Ignore time.Duration
	// AbsentTolerance is the number of consecutive polls a held batch may be
	// missing from the candidate list before it is abandoned.
	AbsentTolerance int
	// MaxTracked is the number of batches displayed side by side.
	MaxTracked int
}

// DefaultSelectorConfig returns the default selection policy.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		Sticky:          10 * time.Second,
		Ignore:          20 * time.Second,
		AbsentTolerance: 3,
		MaxTracked:      2,
	}
}

func (c SelectorConfig) withDefaults() SelectorConfig {
	d := DefaultSelectorConfig()
	if c.Sticky < 0 {
		c.Sticky = 0
	}
	if c.Ignore < 0 {
		c.Ignore = 0
	}
	if c.AbsentTolerance <= 0 {
		c.AbsentTolerance = d.AbsentTolerance
	}
	if c.MaxTracked <= 0 {
		c.MaxTracked = d.MaxTracked
	}
	return c
}

// BatchHandle records a batch the selector has committed to.
type BatchHandle struct {
	BatchID     string
	StickyUntil time.Time

	absent int
}

// Selector decides which open batches are authoritative. Slot 0 is the
// authoritative batch; further slots hold batches shown in split mode.
type Selector struct {
	cfg     SelectorConfig
	handles []*BatchHandle
	ignored map[string]time.Time
}

// NewSelector creates a selector with the given policy.
func NewSelector(cfg SelectorConfig) *Selector {
	return &Selector{
		cfg:     cfg.withDefaults(),
		ignored: make(map[string]time.Time),
	}
}

// SetConfig replaces the policy. Existing handles keep their sticky deadlines.
func (s *Selector) SetConfig(cfg SelectorConfig) {
	s.cfg = cfg.withDefaults()
	if len(s.handles) > s.cfg.MaxTracked {
		s.handles = s.handles[:s.cfg.MaxTracked]
	}
}

// SelectAuthoritative runs a selection round and returns the authoritative
// batch id, or "" when there is none.
func (s *Selector) SelectAuthoritative(candidates []string, now time.Time) string {
	ids := s.Select(candidates, now)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// Select runs a selection round against the upstream candidate list, which
// is in the upstream's preferred order, and returns the tracked batch ids in
// slot order.
func (s *Selector) Select(candidates []string, now time.Time) []string {
	s.pruneIgnored(now)

	avail := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if id == "" || s.isIgnored(id) || slices.Contains(avail, id) {
			continue
		}
		avail = append(avail, id)
	}
	wanted := avail[:min(len(avail), s.cfg.MaxTracked)]

	kept := s.handles[:0]
	for _, h := range s.handles {
		if s.isIgnored(h.BatchID) {
			continue
		}
		present := slices.Contains(avail, h.BatchID)
		if present {
			h.absent = 0
		} else {
			h.absent++
			if h.absent >= s.cfg.AbsentTolerance {
				logging.Debug("abandoning absent batch", "batchID", h.BatchID, "polls", h.absent)
				continue
			}
		}
		if !now.Before(h.StickyUntil) && len(avail) > 0 && !slices.Contains(wanted, h.BatchID) {
			logging.Debug("sticky window elapsed, upstream prefers another batch", "batchID", h.BatchID)
			continue
		}
		kept = append(kept, h)
	}
	s.handles = kept

	// The authoritative slot follows the upstream's first choice once its
	// sticky window is over.
	if len(s.handles) > 0 && len(avail) > 0 {
		primary := s.handles[0]
		if !now.Before(primary.StickyUntil) && primary.BatchID != avail[0] {
			s.promote(avail[0], now)
		}
	}

	for _, id := range wanted {
		if len(s.handles) >= s.cfg.MaxTracked {
			break
		}
		if s.holds(id) {
			continue
		}
		s.handles = append(s.handles, &BatchHandle{BatchID: id, StickyUntil: now.Add(s.cfg.Sticky)})
		logging.Debug("adopted batch", "batchID", id, "slot", len(s.handles)-1)
	}
	if len(s.handles) > s.cfg.MaxTracked {
		s.handles = s.handles[:s.cfg.MaxTracked]
	}

	return s.ids()
}

// Held returns the tracked batch ids without running a selection round.
// It is used when the candidate list could not be fetched.
func (s *Selector) Held(now time.Time) []string {
	s.pruneIgnored(now)
	kept := s.handles[:0]
	for _, h := range s.handles {
		if !s.isIgnored(h.BatchID) {
			kept = append(kept, h)
		}
	}
	s.handles = kept
	return s.ids()
}

// Ignore releases the batch and refuses it for the ignore window.
func (s *Selector) Ignore(batchID string, now time.Time) {
	s.ignored[batchID] = now.Add(s.cfg.Ignore)
	s.Release(batchID)
}

// IsIgnored reports whether the batch is on the ignore list at now.
func (s *Selector) IsIgnored(batchID string, now time.Time) bool {
	until, ok := s.ignored[batchID]
	return ok && now.Before(until)
}

// Release drops the handle for a batch so the next round may reselect.
func (s *Selector) Release(batchID string) {
	s.handles = slices.DeleteFunc(s.handles, func(h *BatchHandle) bool {
		return h.BatchID == batchID
	})
}

// Reset drops every handle. The ignore list is kept.
func (s *Selector) Reset() {
	s.handles = nil
}

// StickyElapsed reports whether the batch is not held or its sticky window is over.
func (s *Selector) StickyElapsed(batchID string, now time.Time) bool {
	for _, h := range s.handles {
		if h.BatchID == batchID {
			return !now.Before(h.StickyUntil)
		}
	}
	return true
}

// Handles returns a copy of the current handles in slot order.
func (s *Selector) Handles() []BatchHandle {
	out := make([]BatchHandle, len(s.handles))
	for i, h := range s.handles {
		out[i] = *h
	}
	return out
}

func (s *Selector) promote(batchID string, now time.Time) {
	idx := slices.IndexFunc(s.handles, func(h *BatchHandle) bool { return h.BatchID == batchID })
	var h *BatchHandle
	if idx >= 0 {
		h = s.handles[idx]
		s.handles = slices.Delete(s.handles, idx, idx+1)
	} else {
		h = &BatchHandle{BatchID: batchID}
	}
	h.StickyUntil = now.Add(s.cfg.Sticky)
	h.absent = 0
	s.handles = slices.Insert(s.handles, 0, h)
	logging.Debug("switched authoritative batch", "batchID", batchID)
}

func (s *Selector) holds(batchID string) bool {
	return slices.ContainsFunc(s.handles, func(h *BatchHandle) bool { return h.BatchID == batchID })
}

func (s *Selector) ids() []string {
	ids := make([]string, len(s.handles))
	for i, h := range s.handles {
		ids[i] = h.BatchID
	}
	return ids
}

func (s *Selector) isIgnored(batchID string) bool {
	_, ok := s.ignored[batchID]
	return ok
}

func (s *Selector) pruneIgnored(now time.Time) {
	for id, until := range s.ignored {
		if !now.Before(until) {
			delete(s.ignored, id)
		}
	}
}
