package picqer

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/newhook/nextpick/internal/cachemanager"
	"github.com/newhook/nextpick/internal/normalize"
	"github.com/newhook/nextpick/internal/pick"
)

var imageExtensions = []string{"jpg", "jpeg", "png", "webp", "gif", "bmp", "avif"}

var knownExt = regexp.MustCompile(`(?i)\.(jpg|jpeg|png|webp|gif|bmp|avif)(\?.*)?$`)

// ProductImageURL looks up the image of a product by its code. Results,
// including misses, are cached for the image TTL. Failed lookups that were
// cut short are not cached.
func (c *Client) ProductImageURL(ctx context.Context, code string) string {
	if code == "" {
		return ""
	}
	if u, ok := c.images.Get(ctx, code); ok {
		return u
	}

	product, err := c.fetchProduct(ctx, code)
	if err != nil {
		if k := KindOf(err); k == KindCanceled || k == KindTimeout || k == KindBreakerOpen {
			return ""
		}
	}
	u := normalize.ImageURL(product)
	c.images.Set(ctx, code, u, cachemanager.DefaultExpiration)
	return u
}

func (c *Client) fetchProduct(ctx context.Context, code string) (map[string]any, error) {
	raw, err := c.get(ctx, "product", "/products/"+url.PathEscape(code), c.itemsTimeout)
	if err == nil {
		if obj, ok := raw.(map[string]any); ok {
			return obj, nil
		}
	} else if KindOf(err) != KindHTTPStatus {
		return nil, err
	}

	raw, err = c.get(ctx, "product", "/products?productcode="+url.QueryEscape(code), c.itemsTimeout)
	if err != nil {
		return nil, err
	}
	if arr, ok := raw.([]any); ok && len(arr) > 0 {
		obj, _ := arr[0].(map[string]any)
		return obj, nil
	}
	if env, ok := raw.(map[string]any); ok {
		if arr, ok := env["data"].([]any); ok && len(arr) > 0 {
			obj, _ := arr[0].(map[string]any)
			return obj, nil
		}
	}
	return nil, nil
}

// WithImages fills the image of the item that is picked next, looking it up
// by SKU when the item list did not carry one. Other items are left as is.
func (c *Client) WithImages(ctx context.Context, items []pick.Item) []pick.Item {
	m := pick.Reduce(items)
	if m.Current == nil || m.Current.ImageURL != "" {
		return items
	}
	u := c.ProductImageURL(ctx, m.Current.SKU)
	if u == "" {
		if cands := SKUImageCandidates(m.Current.SKU, c.skuTemplate); len(cands) > 0 {
			u = cands[0]
		}
	}
	if u == "" {
		return items
	}
	out := make([]pick.Item, len(items))
	copy(out, items)
	for i := range out {
		if out[i].SKU == m.Current.SKU && out[i].ImageURL == "" {
			out[i].ImageURL = u
		}
	}
	return out
}

// SKUImageCandidates expands a SKU image template into candidate URLs. The
// template may contain {sku} and {ext}; without {ext}, every known extension
// is tried after the expanded template itself.
func SKUImageCandidates(sku, tpl string) []string {
	if sku == "" || tpl == "" {
		return nil
	}
	var urls []string
	expanded := strings.ReplaceAll(tpl, "{sku}", url.PathEscape(sku))
	switch {
	case strings.Contains(tpl, "{ext}"):
		for _, ext := range imageExtensions {
			urls = append(urls, strings.ReplaceAll(expanded, "{ext}", ext))
		}
	case knownExt.MatchString(expanded):
		base := knownExt.ReplaceAllString(expanded, "")
		for _, ext := range imageExtensions {
			urls = append(urls, base+"."+ext)
		}
	default:
		urls = append(urls, expanded)
		for _, ext := range imageExtensions {
			urls = append(urls, expanded+"."+ext)
		}
	}
	for i, u := range urls {
		urls[i] = normalize.UpgradeURL(u)
	}
	return urls
}
