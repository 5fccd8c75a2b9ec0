package picqer

import (
	"context"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"

	"github.com/newhook/nextpick/internal/logging"
	"github.com/newhook/nextpick/internal/normalize"
	"github.com/newhook/nextpick/internal/pick"
)

// OpenBatches lists the open batches, oldest first. This order is the
// upstream preference the selector follows.
func (c *Client) OpenBatches(ctx context.Context) ([]normalize.Batch, error) {
	const path = "/picklists/batches"
	raw, err := c.get(ctx, "batches", path, c.listTimeout)
	if err != nil {
		return nil, err
	}
	batches, ok := normalize.Batches(raw)
	if !ok {
		return nil, &FetchError{Kind: KindParse, Path: path, Snippet: shapeOf(raw)}
	}
	open := normalize.OpenBatches(batches, c.openStatuses)
	logging.Debug("open batches", "total", len(batches), "open", len(open))
	return open, nil
}

// BatchItems is the item list of a batch's current picklist.
type BatchItems struct {
	BatchID    string
	PicklistID string
	Items      []pick.Item
	// Done is set when the upstream reports the batch as finished.
	Done bool
}

// Outcome classifies the result for the completion detector.
func (b BatchItems) Outcome() pick.Outcome {
	return pick.Classify(b.BatchID, b.PicklistID, b.Items, b.Done)
}

// BatchItems fetches the items of the first open picklist of a batch that
// still has something to pick. An open picklist that is fully picked but not
// yet closed upstream is skipped while a later open picklist has work; when
// none has, the first open picklist is returned as is. When the batch payload
// carries its own item array, that is used directly.
func (c *Client) BatchItems(ctx context.Context, batchID string) (BatchItems, error) {
	res := BatchItems{BatchID: batchID}

	raw, err := c.get(ctx, "batch", "/picklists/batches/"+url.PathEscape(batchID), c.itemsTimeout)
	if err != nil {
		return res, err
	}
	detail := normalize.Detail(raw)
	if detail.Finished() {
		res.Done = true
		return res, nil
	}

	open := detail.OpenPicklists()
	if len(open) == 0 {
		if detail.Products != nil {
			res.Items, _ = normalize.Items(detail.Products)
		}
		return res, nil
	}

	var drained *BatchItems
	for _, pl := range open {
		items, err := c.picklistItems(ctx, pl.ID)
		if err != nil {
			return res, err
		}
		cur := BatchItems{BatchID: batchID, PicklistID: pl.ID, Items: items}
		if hasWork(items) {
			if drained != nil {
				logging.Debug("skipping picked picklist still open upstream",
					"batchID", batchID, "picklistID", drained.PicklistID, "next", pl.ID)
			}
			return cur, nil
		}
		if drained == nil {
			drained = &cur
		}
	}
	return *drained, nil
}

func hasWork(items []pick.Item) bool {
	for _, it := range items {
		if it.Remaining() > 0 {
			return true
		}
	}
	return false
}

// picklistItems reads the products endpoint of a picklist, falling back to
// the products array of the picklist itself.
func (c *Client) picklistItems(ctx context.Context, picklistID string) ([]pick.Item, error) {
	id := url.PathEscape(picklistID)

	raw, err := c.get(ctx, "picklist_products", "/picklists/"+id+"/products/", c.itemsTimeout)
	if err == nil {
		if items, ok := normalize.Items(raw); ok {
			return items, nil
		}
	} else if k := KindOf(err); k != KindHTTPStatus && k != KindParse {
		return nil, err
	}

	path := "/picklists/" + id
	raw, err = c.get(ctx, "picklist", path, c.itemsTimeout)
	if err != nil {
		return nil, err
	}
	obj, _ := raw.(map[string]any)
	items, ok := normalize.Items(obj["products"])
	if !ok {
		return nil, &FetchError{Kind: KindParse, Path: path, Snippet: "no products in picklist: " + shapeOf(raw)}
	}
	return items, nil
}

// shapeOf describes an unexpected payload for error messages.
func shapeOf(raw any) string {
	switch x := raw.(type) {
	case map[string]any:
		keys := slices.Sorted(maps.Keys(x))
		return fmt.Sprintf("object with keys [%s]", strings.Join(keys, ", "))
	case []any:
		return fmt.Sprintf("array of %d", len(x))
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", raw)
	}
}
