package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/adlibrary-crawler/internal/normalize"
)

// assetAttrs is the delivery attribute cascade: primary, deferred, ghost.
var assetAttrs = []string{
	"src",
	"data-delayed-url",
	"data-src",
	"data-lazy-src",
	"data-ghost-url",
}

var errorAttrs = []string{"data-error", "data-load-failed", "data-errored"}

type assetResolver struct {
	base       string
	signatures []string
}

// URL returns the absolute asset URL of s. Placeholder candidates are
// skipped in favour of later attributes; a placeholder is returned only when
// no real candidate exists and it carries alt text without an error marker.
func (r assetResolver) URL(s *goquery.Selection) string {
	if s == nil || s.Length() == 0 {
		return ""
	}
	var placeholder string
	for _, attr := range assetAttrs {
		v, ok := s.Attr(attr)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		abs := normalize.ResolveURL(r.base, v)
		if abs == "" {
			continue
		}
		if !r.isPlaceholder(abs) {
			return abs
		}
		if placeholder == "" {
			placeholder = abs
		}
	}
	if placeholder == "" {
		return ""
	}
	alt, _ := s.Attr("alt")
	if strings.TrimSpace(alt) == "" || hasErrorMarker(s) {
		return ""
	}
	return placeholder
}

// URLs resolves every element of sel, dropping empties and duplicates.
func (r assetResolver) URLs(sel *goquery.Selection) []string {
	var out []string
	seen := make(map[string]struct{})
	sel.Each(func(_ int, s *goquery.Selection) {
		u := r.URL(s)
		if u == "" {
			return
		}
		if _, dup := seen[u]; dup {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	})
	return out
}

func (r assetResolver) isPlaceholder(u string) bool {
	for _, sig := range r.signatures {
		if sig != "" && strings.Contains(u, sig) {
			return true
		}
	}
	return false
}

func hasErrorMarker(s *goquery.Selection) bool {
	for _, attr := range errorAttrs {
		if _, ok := s.Attr(attr); ok {
			return true
		}
	}
	class, _ := s.Attr("class")
	for _, token := range strings.Fields(class) {
		if strings.Contains(token, "error") {
			return true
		}
	}
	return false
}
