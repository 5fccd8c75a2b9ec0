package normalize

import "strings"

var imageKeys = []string{
	"image", "imageUrl", "image_url", "imageURL",
	"foto", "afbeelding", "product_image", "productImage",
	"thumbnail", "thumb", "thumbUrl", "thumb_url",
	"productimage", "product_image_url", "image_path", "image_small", "image_large",
}

var nestedImageKeys = []string{"image", "main_image", "mainImage", "primary_image", "primaryImage"}

var imageListKeys = []string{"images", "media", "assets", "gallery"}

// ImageURL returns the first image reference found on a product or item
// object, upgraded to https. It returns "" when there is none.
func ImageURL(obj map[string]any) string {
	for _, c := range imageCandidates(obj) {
		if c != "" {
			return UpgradeURL(c)
		}
	}
	return ""
}

func imageCandidates(obj map[string]any) []string {
	if obj == nil {
		return nil
	}
	var out []string
	for _, k := range imageKeys {
		if s, ok := obj[k].(string); ok {
			out = append(out, strings.TrimSpace(s))
		}
	}
	for _, k := range nestedImageKeys {
		if m, ok := obj[k].(map[string]any); ok {
			out = append(out, str(m, "url", "src"))
		}
	}
	if p, ok := obj["product"].(map[string]any); ok {
		out = append(out, str(p, "image", "imageUrl", "image_url"))
		if m, ok := p["image"].(map[string]any); ok {
			out = append(out, str(m, "url"))
		}
	}
	for _, k := range imageListKeys {
		arr, ok := obj[k].([]any)
		if !ok || len(arr) == 0 {
			continue
		}
		switch first := arr[0].(type) {
		case string:
			out = append(out, strings.TrimSpace(first))
		case map[string]any:
			out = append(out, str(first, "url", "src"))
		}
	}
	return out
}

// UpgradeURL rewrites protocol-relative and plain http URLs to https.
func UpgradeURL(u string) string {
	switch {
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	case strings.HasPrefix(u, "http:"):
		return "https:" + strings.TrimPrefix(u, "http:")
	default:
		return u
	}
}
