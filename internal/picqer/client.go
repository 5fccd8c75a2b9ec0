// Package picqer is the gateway to the Picqer warehouse API. Every call is a
// single attempt bounded by a timeout; retry and backoff belong to the poller.
package picqer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/newhook/nextpick/internal/cachemanager"
	"github.com/newhook/nextpick/internal/logging"
	"github.com/newhook/nextpick/internal/normalize"
	"golang.org/x/time/rate"
)

const (
	// DefaultListTimeout bounds the open batch list call.
	DefaultListTimeout = 1200 * time.Millisecond
	// DefaultItemsTimeout bounds each call made to fetch a batch's items.
	DefaultItemsTimeout = 2500 * time.Millisecond
	// DefaultRatePerSecond is the sustained upstream request rate.
	DefaultRatePerSecond = 20
	// DefaultBurst is the number of requests allowed back to back.
	DefaultBurst = 4
	// DefaultImageCacheTTL is how long product image lookups are remembered.
	DefaultImageCacheTTL = 15 * time.Minute

	maxBody = 8 << 20
)

// Observer receives one call per upstream request.
type Observer interface {
	ObserveRequest(endpoint, outcome string, elapsed time.Duration)
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string

	// HTTPClient defaults to a client without its own timeout; every call
	// carries a context deadline instead.
	HTTPClient *http.Client

	ListTimeout  time.Duration
	ItemsTimeout time.Duration

	// OpenStatuses is the batch status allow-list.
	OpenStatuses []string

	// RatePerSecond limits upstream requests; zero uses the default and a
	// negative value disables limiting.
	RatePerSecond float64
	Burst         int

	// Breaker enables the circuit breaker when non-nil.
	Breaker *BreakerOptions

	ImageCacheTTL time.Duration
	// SKUTemplate builds fallback image URLs from a SKU, e.g.
	// "https://cdn.example.com/img/{sku}.{ext}".
	SKUTemplate string
	// ImageCache overrides the default in-memory image cache.
	ImageCache cachemanager.CacheManager[string, string]

	Observer Observer
}

// Client talks to the Picqer API.
type Client struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	limiter      *rate.Limiter
	breaker      *breaker
	listTimeout  time.Duration
	itemsTimeout time.Duration
	openStatuses []string
	images       cachemanager.CacheManager[string, string]
	imageTTL     time.Duration
	skuTemplate  string
	observer     Observer
}

// NewClient creates a client. BaseURL and APIKey are required.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, errors.New("picqer API url not configured (set PICQER_API_URL or [picqer] url)")
	}
	if opts.APIKey == "" {
		return nil, errors.New("picqer API key not configured (set PICQER_API_KEY or [picqer] api_key)")
	}

	c := &Client{
		baseURL:      base,
		apiKey:       opts.APIKey,
		http:         opts.HTTPClient,
		listTimeout:  opts.ListTimeout,
		itemsTimeout: opts.ItemsTimeout,
		openStatuses: opts.OpenStatuses,
		images:       opts.ImageCache,
		imageTTL:     opts.ImageCacheTTL,
		skuTemplate:  opts.SKUTemplate,
		observer:     opts.Observer,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.listTimeout <= 0 {
		c.listTimeout = DefaultListTimeout
	}
	if c.itemsTimeout <= 0 {
		c.itemsTimeout = DefaultItemsTimeout
	}
	if len(c.openStatuses) == 0 {
		c.openStatuses = normalize.DefaultOpenStatuses
	}
	if c.imageTTL <= 0 {
		c.imageTTL = DefaultImageCacheTTL
	}
	if c.images == nil {
		c.images = cachemanager.NewInMemoryCacheManager[string, string]("product-images", c.imageTTL, cachemanager.DefaultCleanupInterval)
	}

	rps := opts.RatePerSecond
	if rps == 0 {
		rps = DefaultRatePerSecond
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	if opts.Breaker != nil {
		c.breaker = newBreaker(*opts.Breaker)
	}
	return c, nil
}

// BaseURL returns the configured API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BreakerState returns the circuit breaker state, or "disabled".
func (c *Client) BreakerState() string {
	if c.breaker == nil {
		return "disabled"
	}
	return c.breaker.state()
}

// Fetch performs one GET of path and decodes the JSON body. The call is
// abandoned once timeout elapses and then fails with KindTimeout; cancelling
// ctx fails it with KindCanceled. Numbers decode as json.Number.
func (c *Client) Fetch(ctx context.Context, path string, timeout time.Duration) (any, error) {
	return c.get(ctx, endpointOf(path), path, timeout)
}

func (c *Client) get(ctx context.Context, endpoint, path string, timeout time.Duration) (any, error) {
	start := time.Now()
	var (
		v   any
		err error
	)
	if c.breaker != nil {
		v, err = c.breaker.execute(path, func() (any, error) {
			return c.do(ctx, path, timeout)
		})
	} else {
		v, err = c.do(ctx, path, timeout)
	}

	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
		if !IsCanceled(err) {
			status := 0
			var fe *FetchError
			if errors.As(err, &fe) {
				status = fe.Status
			}
			logging.Warn("upstream request failed", "endpoint", endpoint, "path", path, "kind", outcome, "status", status, "error", err)
		}
	}
	if c.observer != nil {
		c.observer.ObserveRequest(endpoint, outcome, time.Since(start))
	}
	return v, err
}

func (c *Client) do(ctx context.Context, path string, timeout time.Duration) (any, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(reqCtx); err != nil {
			return nil, classify(ctx, path, err)
		}
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindNetwork, Path: path, Err: err}
	}
	req.SetBasicAuth(c.apiKey, "")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, classify(ctx, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{Kind: KindHTTPStatus, Path: path, Status: resp.StatusCode, Snippet: snippet(body)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &FetchError{Kind: KindParse, Path: path, Status: resp.StatusCode, Snippet: "empty body"}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &FetchError{Kind: KindParse, Path: path, Status: resp.StatusCode, Snippet: snippet(body), Err: err}
	}
	return v, nil
}

// classify maps a transport error. A cancelled parent context means the caller
// gave up; anything else that ended the request context is our timeout. A
// rate limiter wait that cannot finish before the deadline is a timeout too.
func classify(parent context.Context, path string, err error) error {
	if parent.Err() != nil {
		return &FetchError{Kind: KindCanceled, Path: path, Err: parent.Err()}
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) || strings.Contains(err.Error(), "would exceed context deadline") {
		return &FetchError{Kind: KindTimeout, Path: path, Err: err}
	}
	return &FetchError{Kind: KindNetwork, Path: path, Err: err}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// endpointOf reduces a path to a low-cardinality label.
func endpointOf(path string) string {
	p := strings.Trim(strings.SplitN(path, "?", 2)[0], "/")
	parts := strings.Split(p, "/")
	switch {
	case len(parts) == 2 && parts[0] == "picklists" && parts[1] == "batches":
		return "batches"
	case len(parts) == 3 && parts[0] == "picklists" && parts[1] == "batches":
		return "batch"
	case len(parts) == 3 && parts[0] == "picklists" && parts[2] == "products":
		return "picklist_products"
	case len(parts) == 2 && parts[0] == "picklists":
		return "picklist"
	case len(parts) >= 1 && parts[0] == "products":
		return "product"
	default:
		return fmt.Sprintf("other:%s", parts[0])
	}
}
