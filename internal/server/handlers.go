package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newhook/nextpick/internal/normalize"
	"github.com/newhook/nextpick/internal/pick"
	"github.com/newhook/nextpick/internal/poller"
)

type itemResponse struct {
	ID         string `json:"id,omitempty"`
	Location   string `json:"location"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	QtyOrdered int    `json:"qtyOrdered"`
	QtyPicked  int    `json:"qtyPicked"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

type modelResponse struct {
	BatchID         string         `json:"batchId"`
	PicklistID      string         `json:"picklistId,omitempty"`
	Current         *itemResponse  `json:"current"`
	ProgressPercent int            `json:"progressPercent"`
	NextLocations   []string       `json:"nextLocations"`
	TotalOrdered    int            `json:"totalOrdered"`
	TotalRemaining  int            `json:"totalRemaining"`
	Items           []itemResponse `json:"items"`
	Stale           bool           `json:"stale"`
}

type eventResponse struct {
	Kind       pick.EventKind `json:"kind"`
	BatchID    string         `json:"batchId,omitempty"`
	PicklistID string         `json:"picklistId,omitempty"`
	At         time.Time      `json:"at"`
}

type stateResponse struct {
	Seq             uint64          `json:"seq"`
	At              time.Time       `json:"at,omitzero"`
	Phase           string          `json:"phase"`
	Mode            poller.Mode     `json:"mode,omitempty"`
	Models          []modelResponse `json:"models"`
	Recent          []eventResponse `json:"recent"`
	ListError       string          `json:"listError,omitempty"`
	ListErrorStreak int             `json:"listErrorStreak"`
	Fault           string          `json:"fault,omitempty"`
}

type nextBatchResponse struct {
	BatchID  *string           `json:"batchId"`
	BatchIDs []string          `json:"batchIds"`
	Batches  []normalize.Batch `json:"batches"`
	Error    string            `json:"error,omitempty"`
}

type nextPickResponse struct {
	BatchID    string         `json:"batchId"`
	PicklistID string         `json:"picklistId,omitempty"`
	Location   string         `json:"location"`
	Product    string         `json:"product"`
	Items      []itemResponse `json:"items"`
	Stale      bool           `json:"stale"`
}

func (s *Server) health(c *gin.Context) {
	snap := s.src.Latest()
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"seq":    snap.Seq,
		"phase":  snap.Phase.String(),
	})
}

// state handles GET /api/state
func (s *Server) state(c *gin.Context) {
	snap := s.src.Latest()

	resp := stateResponse{
		Seq:             snap.Seq,
		At:              snap.At,
		Phase:           snap.Phase.String(),
		Mode:            snap.Mode,
		Models:          make([]modelResponse, 0, len(snap.Models)),
		Recent:          make([]eventResponse, 0, len(snap.Recent)),
		ListErrorStreak: snap.ListErrorStreak,
	}
	for _, m := range snap.Models {
		resp.Models = append(resp.Models, toModel(m))
	}
	for _, e := range snap.Recent {
		resp.Recent = append(resp.Recent, eventResponse{
			Kind:       e.Kind,
			BatchID:    e.BatchID,
			PicklistID: e.PicklistID,
			At:         e.At,
		})
	}
	if snap.ListErr != nil {
		resp.ListError = snap.ListErr.Error()
	}
	if snap.Fault != nil {
		resp.Fault = snap.Fault.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// nextBatch handles GET /api/next-batch. It always answers 200 so a kiosk
// page never breaks on a status code; failures show up as an empty list and
// an error string.
func (s *Server) nextBatch(c *gin.Context) {
	snap := s.src.Latest()

	resp := nextBatchResponse{
		BatchIDs: make([]string, 0, len(snap.Batches)),
		Batches:  snap.Batches,
	}
	if resp.Batches == nil {
		resp.Batches = []normalize.Batch{}
	}
	for _, b := range snap.Batches {
		resp.BatchIDs = append(resp.BatchIDs, b.ID)
	}
	if len(snap.Models) > 0 {
		id := snap.Models[0].BatchID
		resp.BatchID = &id
	}
	if snap.ListErr != nil {
		resp.Error = snap.ListErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// nextPick handles GET /api/next-pick?batchId=
func (s *Server) nextPick(c *gin.Context) {
	batchID := c.Query("batchId")
	if batchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batchId is required"})
		return
	}

	m, ok := s.src.Latest().Model(batchID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "batch is not tracked", "batchId": batchID})
		return
	}

	resp := nextPickResponse{
		BatchID:    m.BatchID,
		PicklistID: m.PicklistID,
		Items:      toItems(m.Items),
		Stale:      m.Stale,
	}
	if m.Current != nil {
		resp.Location = m.Current.Location
		resp.Product = m.Current.Name
	}
	c.JSON(http.StatusOK, resp)
}

func toModel(m pick.DisplayModel) modelResponse {
	resp := modelResponse{
		BatchID:         m.BatchID,
		PicklistID:      m.PicklistID,
		ProgressPercent: m.ProgressPercent,
		NextLocations:   m.NextLocations,
		TotalOrdered:    m.TotalOrdered,
		TotalRemaining:  m.TotalRemaining,
		Items:           toItems(m.Items),
		Stale:           m.Stale,
	}
	if resp.NextLocations == nil {
		resp.NextLocations = []string{}
	}
	if m.Current != nil {
		cur := toItem(*m.Current)
		resp.Current = &cur
	}
	return resp
}

func toItems(items []pick.Item) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, toItem(it))
	}
	return out
}

func toItem(it pick.Item) itemResponse {
	return itemResponse{
		ID:         it.ID,
		Location:   it.Location,
		SKU:        it.SKU,
		Name:       it.Name,
		QtyOrdered: it.QtyOrdered,
		QtyPicked:  it.QtyPicked,
		ImageURL:   it.ImageURL,
	}
}
