package picqer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "secret-key"

// newTestClient starts a server with handler and returns a client for it.
func newTestClient(t *testing.T, handler http.Handler, mutate ...func(*Options)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts := Options{
		BaseURL:       srv.URL + "/api/v1/",
		APIKey:        testKey,
		RatePerSecond: -1,
	}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := NewClient(opts)
	require.NoError(t, err)
	return c, srv
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveRequest(endpoint, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, endpoint+":"+outcome)
}

func TestNewClient_RequiresConnectionSettings(t *testing.T) {
	_, err := NewClient(Options{APIKey: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PICQER_API_URL")

	_, err = NewClient(Options{BaseURL: "https://x.picqer.com/api/v1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PICQER_API_KEY")

	c, err := NewClient(Options{BaseURL: "https://x.picqer.com/api/v1//", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "https://x.picqer.com/api/v1", c.BaseURL())
	assert.Equal(t, "disabled", c.BreakerState())
}

func TestFetch_SendsBasicAuth(t *testing.T) {
	var gotUser, gotPass, gotPath string
	var gotOK bool
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"count": 3}`))
	}))

	v, err := c.Fetch(context.Background(), "/picklists/batches", time.Second)
	require.NoError(t, err)
	require.True(t, gotOK)
	assert.Equal(t, testKey, gotUser)
	assert.Empty(t, gotPass)
	assert.Equal(t, "/api/v1/picklists/batches", gotPath)
	assert.Equal(t, "3", v.(map[string]any)["count"].(interface{ String() string }).String())
}

func TestFetch_Errors(t *testing.T) {
	long := strings.Repeat("x", 1000)
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		wantKind    Kind
		wantStatus  int
		wantSnippet string
	}{
		{"server error", jsonHandler(http.StatusInternalServerError, `{"error":"down"}`), KindHTTPStatus, 500, `{"error":"down"}`},
		{"not found", jsonHandler(http.StatusNotFound, `nope`), KindHTTPStatus, 404, "nope"},
		{"snippet bounded", jsonHandler(http.StatusBadGateway, long), KindHTTPStatus, 502, long[:maxSnippet]},
		{"empty body", jsonHandler(http.StatusOK, "  \n"), KindParse, 200, "empty body"},
		{"invalid json", jsonHandler(http.StatusOK, `{"data": [`), KindParse, 200, `{"data": [`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.handler)

			_, err := c.Fetch(context.Background(), "/picklists/batches", time.Second)
			require.Error(t, err)
			var fe *FetchError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.wantKind, fe.Kind)
			assert.Equal(t, tt.wantStatus, fe.Status)
			assert.Equal(t, tt.wantSnippet, fe.Snippet)
		})
	}
}

func TestFetch_TimeoutBoundsDuration(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))

	start := time.Now()
	_, err := c.Fetch(context.Background(), "/picklists/batches", 80*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, KindTimeout, KindOf(err))
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Timeout())
	assert.Less(t, elapsed, time.Second)
}

func TestFetch_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := c.Fetch(ctx, "/picklists/batches", 5*time.Second)
	require.Error(t, err)
	assert.True(t, IsCanceled(err))
}

func TestFetch_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(Options{BaseURL: base, APIKey: testKey})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "/picklists/batches", time.Second)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestFetch_RateLimitWaitBeyondDeadlineIsTimeout(t *testing.T) {
	c, _ := newTestClient(t, jsonHandler(http.StatusOK, `[]`), func(o *Options) {
		o.RatePerSecond = 0.5
		o.Burst = 1
	})

	_, err := c.Fetch(context.Background(), "/picklists/batches", time.Second)
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "/picklists/batches", 50*time.Millisecond)
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestFetch_ReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	mux := http.NewServeMux()
	mux.Handle("/api/v1/picklists/batches", jsonHandler(http.StatusOK, `[]`))
	mux.Handle("/api/v1/picklists/batches/9", jsonHandler(http.StatusServiceUnavailable, `busy`))
	c, _ := newTestClient(t, mux, func(o *Options) { o.Observer = obs })

	_, _ = c.Fetch(context.Background(), "/picklists/batches", time.Second)
	_, _ = c.Fetch(context.Background(), "/picklists/batches/9", time.Second)

	assert.Equal(t, []string{"batches:ok", "batch:http_status"}, obs.outcomes)
}

func TestBreaker_OpensOnUpstreamFaultsOnly(t *testing.T) {
	var mu sync.Mutex
	status := http.StatusNotFound
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		w.WriteHeader(status)
	}), func(o *Options) {
		o.Breaker = &BreakerOptions{FailureThreshold: 2, OpenTimeout: time.Minute}
	})
	ctx := context.Background()

	// Client errors say nothing about upstream health.
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(ctx, "/picklists/batches", time.Second)
		assert.Equal(t, KindHTTPStatus, KindOf(err))
	}
	assert.Equal(t, "closed", c.BreakerState())

	mu.Lock()
	status = http.StatusBadGateway
	mu.Unlock()
	for i := 0; i < 2; i++ {
		_, err := c.Fetch(ctx, "/picklists/batches", time.Second)
		assert.Equal(t, KindHTTPStatus, KindOf(err))
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.Fetch(ctx, "/picklists/batches", time.Second)
	assert.Equal(t, KindBreakerOpen, KindOf(err))
}

func TestEndpointOf(t *testing.T) {
	tests := map[string]string{
		"/picklists/batches":          "batches",
		"/picklists/batches/12":       "batch",
		"/picklists/55/products/":     "picklist_products",
		"/picklists/55":               "picklist",
		"/products/SKU-1":             "product",
		"/products?productcode=SKU-1": "product",
		"/warehouses":                 "other:warehouses",
	}
	for path, want := range tests {
		assert.Equal(t, want, endpointOf(path), path)
	}
}

func TestFetchError_Messages(t *testing.T) {
	err := &FetchError{Kind: KindHTTPStatus, Path: "/x", Status: 500, Snippet: "boom"}
	assert.Equal(t, "picqer /x: status 500: boom", err.Error())

	err = &FetchError{Kind: KindTimeout, Path: "/x", Err: context.DeadlineExceeded}
	assert.Equal(t, "picqer /x: timeout: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, err.Canceled())
}
