// Package pick holds the reconciliation core of the next-pick display:
// the display-model reducer, the sticky batch selector and the completion
// detector. Nothing in this package performs I/O; callers feed it the
// normalized upstream observations of one poll tick at a time.
package pick

import (
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Item is the canonical shape of one picklist line.
type Item struct {
	ID         string
	Location   string
	SKU        string
	Name       string
	QtyOrdered int
	QtyPicked  int
	ImageURL   string
}

// Remaining returns the quantity still to pick, never negative.
func (i Item) Remaining() int {
	return max(0, i.QtyOrdered-i.QtyPicked)
}

// DisplayModel is everything the presentation layer needs to render one batch.
type DisplayModel struct {
	BatchID    string
	PicklistID string

	// Current is the next item to pick, nil when nothing remains.
	Current *Item

	// ProgressPercent counts fully picked items, not quantities.
	ProgressPercent int

	// NextLocations lists distinct upcoming locations after Current.
	NextLocations []string

	TotalOrdered   int
	TotalRemaining int

	// Items is the location-sorted item list the model was reduced from.
	Items []Item

	// Stale marks a last-known-good model retained while the upstream
	// is failing or reporting nothing to pick.
	Stale bool
}

// Signature identifies the visible state of a model. Two models with the same
// signature render the same current pick.
func (m DisplayModel) Signature() string {
	var b strings.Builder
	b.WriteString(m.BatchID)
	b.WriteByte('|')
	b.WriteString(m.PicklistID)
	b.WriteByte('|')
	if m.Current != nil {
		b.WriteString(m.Current.Location)
		b.WriteByte('|')
		b.WriteString(m.Current.SKU)
		b.WriteByte('|')
		b.WriteString(strconv.Itoa(m.Current.QtyPicked))
	}
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(m.TotalRemaining))
	return b.String()
}

// SKUSignature joins the SKUs of the model's items in order. It stands in for
// a picklist id when the upstream does not provide one.
func (m DisplayModel) SKUSignature() string {
	skus := make([]string, len(m.Items))
	for i, it := range m.Items {
		skus[i] = it.SKU
	}
	return strings.Join(skus, "|")
}

// collator orders locations the way a person reads shelf labels: numeric
// runs compare by value ("A2" before "A10") and case is ignored.
var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Dutch, collate.Numeric, collate.Loose)
)

// CompareLocations compares two storage locations in natural order.
func CompareLocations(a, b string) int {
	collatorMu.Lock()
	defer collatorMu.Unlock()
	return collator.CompareString(a, b)
}

// SortByLocation returns a copy of items stably sorted by location.
func SortByLocation(items []Item) []Item {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b Item) int {
		return CompareLocations(a.Location, b.Location)
	})
	return sorted
}

// Reduce derives the display model from a canonical item list.
// The returned model has no BatchID or PicklistID; callers set those.
func Reduce(items []Item) DisplayModel {
	sorted := SortByLocation(items)
	m := DisplayModel{Items: sorted}
	if len(sorted) == 0 {
		return m
	}

	currentIdx := -1
	completed := 0
	for i, it := range sorted {
		m.TotalOrdered += it.QtyOrdered
		m.TotalRemaining += it.Remaining()
		if it.Remaining() == 0 {
			completed++
		} else if currentIdx < 0 {
			currentIdx = i
		}
	}
	m.ProgressPercent = int(math.Round(float64(completed) * 100 / float64(len(sorted))))

	if currentIdx < 0 {
		return m
	}
	cur := sorted[currentIdx]
	m.Current = &cur
	m.NextLocations = nextLocations(sorted, currentIdx)
	return m
}

func nextLocations(sorted []Item, currentIdx int) []string {
	curLoc := sorted[currentIdx].Location
	seen := make(map[string]bool)
	var locs []string
	for _, it := range sorted[currentIdx+1:] {
		if it.Remaining() == 0 || it.Location == "" || it.Location == curLoc || seen[it.Location] {
			continue
		}
		seen[it.Location] = true
		locs = append(locs, it.Location)
	}
	return locs
}
