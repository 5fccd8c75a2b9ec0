package picqer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/newhook/nextpick/internal/cachemanager"
	"github.com/newhook/nextpick/internal/pick"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOpenBatches(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/picklists/batches", jsonHandler(http.StatusOK, `{"data": [
		{"idpicklist_batch": 3, "status": "open", "created_at": "2026-03-01 10:00:00"},
		{"idpicklist_batch": 2, "status": "completed", "created_at": "2026-03-01 08:00:00"},
		{"idpicklist_batch": 1, "status": "processing", "created_at": "2026-03-01 09:00:00",
		 "assigned_to": {"full_name": "Noor"}}
	]}`))
	c, _ := newTestClient(t, mux)

	batches, err := c.OpenBatches(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, "1", batches[0].ID)
	assert.Equal(t, "Noor", batches[0].CreatedBy)
	assert.Equal(t, "3", batches[1].ID)
}

func TestOpenBatches_UnknownShapeIsParseError(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(http.StatusOK, `{"error": "maintenance"}`))

	_, err := c.OpenBatches(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindParse, KindOf(err))
	assert.Contains(t, err.Error(), "error")
}

func TestOpenBatches_CustomStatuses(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(http.StatusOK, `[
		{"id": 1, "status": "open"}, {"id": 2, "status": "paused"}
	]`), func(o *Options) { o.OpenStatuses = []string{"paused"} })

	batches, err := c.OpenBatches(context.Background())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "2", batches[0].ID)
}

func TestBatchItems_FromProductsEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/picklists/batches/7", jsonHandler(http.StatusOK, `{"status": "open", "picklists": [
		{"idpicklist": 70, "status": "closed"},
		{"idpicklist": 71, "status": "open"}
	]}`))
	mux.Handle("/api/v1/picklists/71/products/", jsonHandler(http.StatusOK, `[
		{"stocklocation": "A10", "productcode": "P2", "amount": 1, "amountpicked": 0},
		{"stocklocation": "A2", "productcode": "P1", "amount": 2, "amountpicked": 2}
	]`))
	c, _ := newTestClient(t, mux)

	res, err := c.BatchItems(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "7", res.BatchID)
	assert.Equal(t, "71", res.PicklistID)
	assert.False(t, res.Done)
	require.Len(t, res.Items, 2)

	out := res.Outcome()
	require.IsType(t, pick.Ok{}, out)
	m := out.(pick.Ok).Model
	assert.Equal(t, "A10", m.Current.Location)
	assert.Equal(t, 50, m.ProgressPercent)
}

func TestBatchItems_SkipsPickedPicklistStillOpen(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/picklists/batches/7", jsonHandler(http.StatusOK, `{"status": "open", "picklists": [
		{"idpicklist": 71, "status": "open"},
		{"idpicklist": 72, "status": "open"}
	]}`))
	mux.Handle("/api/v1/picklists/71/products/", jsonHandler(http.StatusOK, `[
		{"stocklocation": "A1", "productcode": "P1", "amount": 2, "amountpicked": 2}
	]`))
	mux.Handle("/api/v1/picklists/72/products/", jsonHandler(http.StatusOK, `[
		{"stocklocation": "B4", "productcode": "P9", "amount": 1, "amountpicked": 0}
	]`))
	c, _ := newTestClient(t, mux)

	res, err := c.BatchItems(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "72", res.PicklistID)
	out := res.Outcome()
	require.IsType(t, pick.Ok{}, out)
	assert.Equal(t, "B4", out.(pick.Ok).Model.Current.Location)
}

func TestBatchItems_AllOpenPicklistsPickedIsPending(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/picklists/batches/7", jsonHandler(http.StatusOK, `{"status": "open", "picklists": [
		{"idpicklist": 71, "status": "open"},
		{"idpicklist": 72, "status": "new"}
	]}`))
	mux.Handle("/api/v1/picklists/71/products/", jsonHandler(http.StatusOK, `[
		{"stocklocation": "A1", "productcode": "P1", "amount": 2, "amountpicked": 2}
	]`))
	mux.Handle("/api/v1/picklists/72/products/", jsonHandler(http.StatusOK, `[]`))
	c, _ := newTestClient(t, mux)

	res, err := c.BatchItems(context.Background(), "7")
	require.NoError(t, err)
	assert.Equal(t, "71", res.PicklistID, "first open picklist is reported")
	assert.IsType(t, pick.Pending{}, res.Outcome())
}

// pickingBatch serves batch 7 with picklists 71 and 72 whose state the test
// advances between polls.
type pickingBatch struct {
	mu       sync.Mutex
	picked71 int
	status71 string
}

func (b *pickingBatch) set(picked int, status string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.picked71, b.status71 = picked, status
}

func (b *pickingBatch) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/picklists/batches/7", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		fmt.Fprintf(w, `{"status": "open", "picklists": [
			{"idpicklist": 71, "status": %q},
			{"idpicklist": 72, "status": "open"}
		]}`, b.status71)
	})
	mux.HandleFunc("/api/v1/picklists/71/products/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		fmt.Fprintf(w, `[{"stocklocation": "A1", "productcode": "P1", "amount": 2, "amountpicked": %d}]`, b.picked71)
	})
	mux.Handle("/api/v1/picklists/72/products/", jsonHandler(http.StatusOK, `[
		{"stocklocation": "B4", "productcode": "P9", "amount": 1, "amountpicked": 0}
	]`))
	return mux
}

func TestBatchItems_DrainedPicklistCompletesPicklistNotBatch(t *testing.T) {
	batch := &pickingBatch{status71: "open"}
	c, _ := newTestClient(t, batch.handler())
	engine := pick.NewEngine(pick.DefaultConfig())
	candidates := []string{"7"}
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	var events []pick.Event
	poll := func() {
		t.Helper()
		ids, err := engine.Plan(candidates, nil, now)
		require.NoError(t, err)
		var obs []pick.Observation
		for _, id := range ids {
			res, err := c.BatchItems(context.Background(), id)
			require.NoError(t, err)
			obs = append(obs, pick.Observation{BatchID: id, Outcome: res.Outcome()})
		}
		v := engine.Reconcile(pick.Tick{Now: now, Candidates: candidates, Observations: obs})
		events = append(events, v.Events...)
		now = now.Add(150 * time.Millisecond)
	}
	kinds := func() []pick.EventKind {
		out := make([]pick.EventKind, len(events))
		for i, e := range events {
			out[i] = e.Kind
		}
		return out
	}

	poll()
	assert.Equal(t, []pick.EventKind{pick.EventActivated}, kinds())

	// Picklist 71 is fully picked but stays open upstream for several polls.
	batch.set(2, "open")
	for range pick.DefaultDetectorConfig().DoneConfirm + 2 {
		poll()
	}
	batch.set(2, "closed")
	poll()
	poll()

	assert.Equal(t, []pick.EventKind{pick.EventActivated, pick.EventPicklistCompleted}, kinds())
	assert.Equal(t, "71", events[1].PicklistID)
	assert.Equal(t, pick.PhaseActive, engine.Phase())
	assert.False(t, engine.IsIgnored("7", now))
	require.Len(t, engine.Handles(), 1)
	assert.Equal(t, "7", engine.Handles()[0].BatchID)
}

func TestBatchItems_FallsBackToPicklist(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/picklists/batches/7", jsonHandler(http.StatusOK, `{"picklists": [{"idpicklist": 71, "status": "new"}]}`))
	mux.Handle("/api/v1/picklists/71/products/", jsonHandler(http.StatusNotFound, `not found`))
	mux.Handle("/api/v1/picklists/71", jsonHandler(http.StatusOK, `{"idpicklist": 71, "products": [
		{"stock_location": "B1", "sku": "S", "amount_to_pick": 3, "amount_picked": 1}
	]}`))
	c, _ := newTestClient(t, mux)

	res, err := c.BatchItems(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "B1", res.Items[0].Location)
	assert.Equal(t, 2, res.Items[0].Remaining())
}

func TestBatchItems_PicklistWithoutProducts(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/picklists/batches/7", jsonHandler(http.StatusOK, `{"picklists": [{"idpicklist": 71, "status": "open"}]}`))
	mux.Handle("/api/v1/picklists/71/products/", jsonHandler(http.StatusOK, `{"unexpected": true}`))
	mux.Handle("/api/v1/picklists/71", jsonHandler(http.StatusOK, `{"idpicklist": 71}`))
	c, _ := newTestClient(t, mux)

	_, err := c.BatchItems(context.Background(), "7")
	assert.Equal(t, KindParse, KindOf(err))
}

func TestBatchItems_ExplicitlyDone(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(http.StatusOK, `{"picklists": [
		{"idpicklist": 70, "status": "closed"}, {"idpicklist": 71, "status": "closed"}
	]}`))

	res, err := c.BatchItems(context.Background(), "7")
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.IsType(t, pick.Done{}, res.Outcome())
}

func TestBatchItems_EmbeddedProducts(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(http.StatusOK, `{"status": "open", "products": [
		{"stocklocation": "C1", "amount": 1}
	]}`))

	res, err := c.BatchItems(context.Background(), "7")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Empty(t, res.PicklistID)
}

func TestBatchItems_EmptyBatchIsPending(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(http.StatusOK, `{"status": "open", "picklists": []}`))

	res, err := c.BatchItems(context.Background(), "7")
	require.NoError(t, err)
	assert.IsType(t, pick.Pending{}, res.Outcome())
}

func TestBatchItems_UpstreamErrorPropagates(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(http.StatusServiceUnavailable, `busy`))

	_, err := c.BatchItems(context.Background(), "7")
	assert.Equal(t, KindHTTPStatus, KindOf(err))
}

func TestProductImageURL_CachesResultsAndMisses(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/products/SKU-1", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"productcode": "SKU-1", "images": ["http://cdn.example/sku-1.png"]}`))
	})
	mux.HandleFunc("/api/v1/products/SKU-2", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/api/v1/products", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data": []}`))
	})
	c, _ := newTestClient(t, mux)
	ctx := context.Background()

	assert.Equal(t, "https://cdn.example/sku-1.png", c.ProductImageURL(ctx, "SKU-1"))
	assert.Equal(t, "https://cdn.example/sku-1.png", c.ProductImageURL(ctx, "SKU-1"))
	assert.Equal(t, int32(1), calls.Load())

	assert.Empty(t, c.ProductImageURL(ctx, "SKU-2"))
	assert.Empty(t, c.ProductImageURL(ctx, "SKU-2"))
	assert.Equal(t, int32(3), calls.Load(), "miss is cached after code and query lookups")

	assert.Empty(t, c.ProductImageURL(ctx, ""))
}

func TestProductImageURL_QueryFallback(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/products/SKU-3", jsonHandler(http.StatusNotFound, ``))
	mux.HandleFunc("/api/v1/products", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SKU-3", r.URL.Query().Get("productcode"))
		_, _ = w.Write([]byte(`[{"image": {"url": "//cdn.example/3.jpg"}}]`))
	})
	c, _ := newTestClient(t, mux)

	assert.Equal(t, "https://cdn.example/3.jpg", c.ProductImageURL(context.Background(), "SKU-3"))
}

func TestProductImageURL_UsesInjectedCache(t *testing.T) {
	cache := &mockImageCache{}
	cache.On("Get", mock.Anything, "SKU-9").Return("https://cached/9.png", true)
	c, _ := newTestClient(t, http.NotFoundHandler(), func(o *Options) { o.ImageCache = cache })

	assert.Equal(t, "https://cached/9.png", c.ProductImageURL(context.Background(), "SKU-9"))
	cache.AssertExpectations(t)
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProductImageURL_DoesNotCacheCanceledLookups(t *testing.T) {
	cache := &mockImageCache{}
	cache.On("Get", mock.Anything, "SKU-1").Return("", false)
	c, _ := newTestClient(t, jsonHandler(http.StatusOK, `{}`), func(o *Options) { o.ImageCache = cache })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, c.ProductImageURL(ctx, "SKU-1"))
	cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWithImages_FillsCurrentItem(t *testing.T) {
	cache := &mockImageCache{}
	cache.On("Get", mock.Anything, "CUR").Return("", false)
	cache.On("Set", mock.Anything, "CUR", "", cachemanager.DefaultExpiration).Return()
	c, _ := newTestClient(t, http.NotFoundHandler(), func(o *Options) {
		o.ImageCache = cache
		o.SKUTemplate = "http://img.example/{sku}.{ext}"
	})

	items := []pick.Item{
		{Location: "A1", SKU: "DONE", QtyOrdered: 1, QtyPicked: 1},
		{Location: "A2", SKU: "CUR", QtyOrdered: 1},
		{Location: "A3", SKU: "LATER", QtyOrdered: 1, ImageURL: "https://x/later.png"},
	}
	out := c.WithImages(context.Background(), items)

	assert.Equal(t, "https://img.example/CUR.jpg", out[1].ImageURL)
	assert.Empty(t, out[0].ImageURL)
	assert.Equal(t, "https://x/later.png", out[2].ImageURL)
	assert.Empty(t, items[1].ImageURL, "input is not modified")
	cache.AssertExpectations(t)
}

func TestSKUImageCandidates(t *testing.T) {
	assert.Nil(t, SKUImageCandidates("", "https://x/{sku}.jpg"))
	assert.Nil(t, SKUImageCandidates("A1", ""))

	withExt := SKUImageCandidates("A1", "https://x/{sku}.{ext}")
	require.Len(t, withExt, len(imageExtensions))
	assert.Equal(t, "https://x/A1.jpg", withExt[0])
	assert.Equal(t, "https://x/A1.avif", withExt[len(withExt)-1])

	knownSuffix := SKUImageCandidates("A1", "http://x/{sku}.PNG?v=2")
	assert.Equal(t, "https://x/A1.jpg", knownSuffix[0])
	assert.Len(t, knownSuffix, len(imageExtensions))

	bare := SKUImageCandidates("A 1", "//x/img/{sku}")
	assert.Equal(t, "https://x/img/A%201", bare[0])
	assert.Equal(t, "https://x/img/A%201.jpg", bare[1])
	assert.Len(t, bare, len(imageExtensions)+1)
}
