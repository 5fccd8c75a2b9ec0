package pick

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareLocations(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"numeric run compares by value", "A2", "A10", -1},
		{"reverse", "A10", "A2", 1},
		{"nested numbers", "B-2-9", "B-10-1", -1},
		{"letters before numbers differ", "A10", "B1", -1},
		{"equal", "C3", "C3", 0},
		{"case ignored", "a1", "A1", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CompareLocations(tt.a, tt.b)
			switch {
			case tt.want < 0:
				assert.Negative(t, got)
			case tt.want > 0:
				assert.Positive(t, got)
			default:
				assert.Zero(t, got)
			}
		})
	}
}

func TestSortByLocation(t *testing.T) {
	items := []Item{
		{SKU: "s10", Location: "A10"},
		{SKU: "s2", Location: "A2"},
		{SKU: "s1", Location: "A1"},
		{SKU: "s2b", Location: "A2"},
	}

	sorted := SortByLocation(items)

	var skus []string
	for _, it := range sorted {
		skus = append(skus, it.SKU)
	}
	assert.Equal(t, []string{"s1", "s2", "s2b", "s10"}, skus, "stable for equal locations")
	assert.Equal(t, "A10", items[0].Location, "input must not be reordered")
}

func TestReduce_CurrentItem(t *testing.T) {
	m := Reduce([]Item{
		{Location: "A1", QtyOrdered: 1, QtyPicked: 1},
		{Location: "A2", QtyOrdered: 2, QtyPicked: 0},
	})

	require.NotNil(t, m.Current)
	assert.Equal(t, "A2", m.Current.Location)
	assert.Equal(t, 50, m.ProgressPercent)
	assert.Empty(t, m.NextLocations)
}

func TestReduce_NextLocations(t *testing.T) {
	m := Reduce([]Item{
		{Location: "C3", QtyOrdered: 1},
		{Location: "B1", QtyOrdered: 1},
		{Location: "A2", QtyOrdered: 1, SKU: "first"},
		{Location: "B1", QtyOrdered: 2},
		{Location: "A2", QtyOrdered: 1},
		{Location: "", QtyOrdered: 1},
		{Location: "D4", QtyOrdered: 1, QtyPicked: 1},
	})

	require.NotNil(t, m.Current)
	assert.Equal(t, "A2", m.Current.Location)
	assert.Equal(t, []string{"B1", "C3"}, m.NextLocations)
}

func TestReduce_ProgressIsItemCountBased(t *testing.T) {
	m := Reduce([]Item{
		{Location: "A1", QtyOrdered: 10, QtyPicked: 10},
		{Location: "A2", QtyOrdered: 1, QtyPicked: 1},
		{Location: "A3", QtyOrdered: 5, QtyPicked: 4},
	})

	assert.Equal(t, 67, m.ProgressPercent)
	assert.Equal(t, 16, m.TotalOrdered)
	assert.Equal(t, 1, m.TotalRemaining)
}

func TestReduce_Empty(t *testing.T) {
	m := Reduce(nil)

	assert.Nil(t, m.Current)
	assert.Zero(t, m.ProgressPercent)
	assert.Empty(t, m.NextLocations)
	assert.Zero(t, m.TotalOrdered)
	assert.Zero(t, m.TotalRemaining)
}

func TestReduce_AllPicked(t *testing.T) {
	m := Reduce([]Item{
		{Location: "A1", QtyOrdered: 2, QtyPicked: 3},
		{Location: "A2", QtyOrdered: 1, QtyPicked: 1},
	})

	assert.Nil(t, m.Current)
	assert.Equal(t, 100, m.ProgressPercent)
	assert.Zero(t, m.TotalRemaining, "over-picking never goes negative")
}

func TestDisplayModelSignature(t *testing.T) {
	items := []Item{{Location: "A1", SKU: "sku-1", QtyOrdered: 3, QtyPicked: 1}}
	a := Reduce(items)
	a.BatchID = "b1"

	items[0].QtyPicked = 2
	b := Reduce(items)
	b.BatchID = "b1"

	assert.NotEqual(t, a.Signature(), b.Signature())
	assert.Equal(t, "sku-1", a.SKUSignature())
}
