// Package detector decides when a detail page must be re-fetched through a
// headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/adlibrary-crawler/internal/classifier"
	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

const defaultBodyLengthThreshold = 2048

// Heuristic promotes responses that look like an unrendered client shell: the
// ad preview markup is absent and the page is dominated by scripts or carries
// a framework mount point.
type Heuristic struct {
	BodyLengthThreshold int
	// RequiredSelectors must all match for a page to count as rendered.
	RequiredSelectors []string
}

// NewHeuristic creates a new detector. With no selectors the ad preview
// container is required.
func NewHeuristic(threshold int, selectors ...string) *Heuristic {
	if threshold == 0 {
		threshold = defaultBodyLengthThreshold
	}
	kept := make([]string, 0, len(selectors))
	for _, sel := range selectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			kept = append(kept, sel)
		}
	}
	if len(kept) == 0 {
		kept = []string{classifier.PreviewSelector}
	}
	return &Heuristic{BodyLengthThreshold: threshold, RequiredSelectors: kept}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("data-ember-extension"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if h == nil || resp.StatusCode != 200 || resp.UsedHeadless {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if !h.missingSelectors(body) {
		return false
	}
	if len(body) < h.BodyLengthThreshold {
		return true
	}
	if scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func (h *Heuristic) missingSelectors(body []byte) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	for _, sel := range h.RequiredSelectors {
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Unterminated tag; the rest of the document counts.
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
