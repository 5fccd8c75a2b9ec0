package normalize

import (
	"github.com/newhook/nextpick/internal/pick"
)

// Alias tables, in precedence order.
var (
	itemIDKeys    = []string{"idpicklist_product", "idproduct", "id"}
	locationKeys  = []string{"stocklocation", "stock_location"}
	pickedKeys    = []string{"amountpicked", "amount_picked"}
	orderedKeys   = []string{"amount", "amount_to_pick"}
	skuKeys       = []string{"productcode", "sku"}
	nameKeys      = []string{"product", "name", "productname", "title", "omschrijving", "description"}
	itemArrayKeys = []string{"data", "products", "items"}
)

// Items normalizes an item list response. A bare array and an envelope with a
// data, products or items array are accepted; the second result reports
// whether an array was found.
func Items(raw any) ([]pick.Item, bool) {
	arr, ok := array(raw, itemArrayKeys...)
	if !ok {
		return nil, false
	}
	objs := objects(arr)
	items := make([]pick.Item, 0, len(objs))
	for _, obj := range objs {
		items = append(items, Item(obj))
	}
	return items, true
}

// Item normalizes one raw line item. Missing fields become zero values and
// negative quantities are clamped to zero. An item flagged as picked counts
// as fully picked.
func Item(obj map[string]any) pick.Item {
	it := pick.Item{
		ID:       str(obj, itemIDKeys...),
		Location: str(obj, locationKeys...),
		SKU:      str(obj, skuKeys...),
		Name:     str(obj, nameKeys...),
		ImageURL: ImageURL(obj),
	}
	if it.SKU == "" {
		if p, ok := obj["product"].(map[string]any); ok {
			it.SKU = str(p, skuKeys...)
			if it.Name == "" {
				it.Name = str(p, nameKeys[1:]...)
			}
		}
	}
	it.QtyOrdered, _ = num(obj, orderedKeys...)
	it.QtyPicked, _ = num(obj, pickedKeys...)
	it.QtyOrdered = max(0, it.QtyOrdered)
	it.QtyPicked = max(0, it.QtyPicked)
	if v, ok := lookup(obj, "picked"); ok && toBool(v) {
		it.QtyPicked = max(it.QtyPicked, it.QtyOrdered)
	}
	return it
}
