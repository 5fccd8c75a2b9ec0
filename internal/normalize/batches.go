package normalize

import (
	"cmp"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DefaultOpenStatuses is the status allow-list that marks a batch as open.
var DefaultOpenStatuses = []string{"open", "processing", "inprogress", "in-progress", "active", "started", "new"}

// Batch is a picklist batch descriptor.
type Batch struct {
	ID        string    `json:"batchId"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	CreatedBy string    `json:"createdBy,omitempty"`
	Progress  *int      `json:"progress,omitempty"`
}

var createdLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// Batches normalizes a batch list response. A bare array and a {data: [...]}
// envelope are accepted; the second result reports whether the shape was
// recognized. Entries without an id are skipped.
func Batches(raw any) ([]Batch, bool) {
	arr, ok := array(raw, "data")
	if !ok {
		return nil, false
	}
	batches := make([]Batch, 0, len(arr))
	for _, obj := range objects(arr) {
		b := Batch{
			ID:        str(obj, "id", "idpicklist_batch"),
			Status:    str(obj, "status"),
			CreatedAt: parseTime(str(obj, "created_at", "created")),
			CreatedBy: creator(obj),
		}
		if b.ID == "" {
			continue
		}
		if p, ok := num(obj, "progress"); ok {
			b.Progress = &p
		}
		batches = append(batches, b)
	}
	return batches, true
}

// BatchIDs returns the ids of batches, in order.
func BatchIDs(batches []Batch) []string {
	ids := make([]string, len(batches))
	for i, b := range batches {
		ids[i] = b.ID
	}
	return ids
}

// OpenBatches keeps the batches whose status is in statuses (case-insensitive)
// and orders them oldest first: by creation time, then by numeric id.
func OpenBatches(batches []Batch, statuses []string) []Batch {
	if len(statuses) == 0 {
		statuses = DefaultOpenStatuses
	}
	allowed := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		allowed[strings.ToLower(strings.TrimSpace(s))] = true
	}

	open := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if allowed[strings.ToLower(strings.TrimSpace(b.Status))] {
			open = append(open, b)
		}
	}
	slices.SortStableFunc(open, func(a, b Batch) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(numericID(a.ID), numericID(b.ID))
	})
	return open
}

func numericID(id string) int64 {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return math.MaxInt64
	}
	return n
}

func creator(obj map[string]any) string {
	if assigned, ok := obj["assigned_to"].(map[string]any); ok {
		return str(assigned, "full_name", "username", "iduser")
	}
	return str(obj, "created_by_name", "created_by", "user_name", "user")
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range createdLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Picklist is one picklist within a batch.
type Picklist struct {
	ID     string
	Status string
}

// IsOpen reports whether items can still be picked from the picklist.
func (p Picklist) IsOpen() bool {
	switch strings.ToLower(p.Status) {
	case "open", "new":
		return true
	default:
		return false
	}
}

// BatchDetail is the normalized batch detail payload.
type BatchDetail struct {
	Status    string
	Picklists []Picklist
	// Products is set when the payload carries its own item array.
	Products []any
}

// Detail normalizes a batch detail response.
func Detail(raw any) BatchDetail {
	obj, ok := raw.(map[string]any)
	if !ok {
		return BatchDetail{}
	}
	d := BatchDetail{Status: str(obj, "status")}
	if arr, ok := obj["picklists"].([]any); ok {
		for _, pl := range objects(arr) {
			id := str(pl, "idpicklist", "id")
			if id == "" {
				continue
			}
			d.Picklists = append(d.Picklists, Picklist{ID: id, Status: str(pl, "status")})
		}
	}
	if arr, ok := array(obj, "products", "items"); ok {
		d.Products = arr
	}
	return d
}

// OpenPicklists returns the open picklists in upstream order.
func (d BatchDetail) OpenPicklists() []Picklist {
	var open []Picklist
	for _, pl := range d.Picklists {
		if pl.IsOpen() {
			open = append(open, pl)
		}
	}
	return open
}

// IsClosed reports whether the picklist reached a final status.
func (p Picklist) IsClosed() bool {
	return closedStatus(p.Status)
}

// Finished reports whether the upstream explicitly marks the batch as done:
// a closing batch status, or picklists that are all closed.
func (d BatchDetail) Finished() bool {
	if closedStatus(d.Status) {
		return true
	}
	if len(d.Picklists) == 0 {
		return false
	}
	for _, pl := range d.Picklists {
		if !pl.IsClosed() {
			return false
		}
	}
	return true
}

func closedStatus(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "completed", "closed", "done", "finished", "cancelled", "canceled":
		return true
	default:
		return false
	}
}
