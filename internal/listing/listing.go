// Package listing parses search result pages of the ad library and builds the
// URLs the crawl walks: the first search page, cursor-driven pagination
// fragments, and ad detail pages.
package listing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/adlibrary-crawler/internal/normalize"
)

// StartKey is the frontier key reserved for the first search page.
const StartKey = "start"

// endCursor is returned by the library on the last page even when the
// metadata still claims more results.
const endCursor = "0"

const (
	searchPath     = "/ad-library/search"
	paginationPath = "/ad-library/searchPaginationFragment"
	detailPath     = "/ad-library/detail/"
)

var (
	detailLinkSelector = "a[href*='" + detailPath + "']"
	totalSelectors     = []string{
		".search-results__total",
		".ad-library-search-results__total",
		".search-results__count",
	}
)

// Page is the parsed content of one listing document.
type Page struct {
	DetailURLs []string
	// Total is the declared number of ads; HasTotal reports whether one was shown.
	Total    int
	HasTotal bool
	Cursor   string
	// IsLastPage mirrors the pagination metadata flag.
	IsLastPage bool
}

type paginationMetadata struct {
	PaginationToken string `json:"paginationToken"`
	IsLastPage      bool   `json:"isLastPage"`
}

// Parse extracts detail links (document order, unique by ad id), the declared
// total, and the pagination state from body.
func Parse(body []byte, pageURL string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Page{}, fmt.Errorf("parse listing: %w", err)
	}

	var page Page
	seen := make(map[string]struct{})
	doc.Find(detailLinkSelector).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs := normalize.ResolveURL(pageURL, href)
		if abs == "" {
			return
		}
		canonical, canonErr := normalize.Canonicalize(abs)
		if canonErr != nil {
			return
		}
		u, parseErr := url.Parse(canonical)
		if parseErr != nil {
			return
		}
		id := normalize.AdIDFromURL(canonical)
		if id == "" {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		page.DetailURLs = append(page.DetailURLs, DetailURL(u.Scheme+"://"+u.Host, id))
	})

	page.Total, page.HasTotal = declaredTotal(doc)
	page.Cursor, page.IsLastPage = pagination(doc)
	return page, nil
}

// NextCursor returns the cleaned cursor for the following page. It reports
// false when the metadata marks the last page, the cursor is empty, or the
// cursor is "0".
func NextCursor(page Page) (string, bool) {
	cursor := normalize.CleanCursor(page.Cursor)
	if page.IsLastPage || cursor == "" || cursor == endCursor {
		return "", false
	}
	return cursor, true
}

func declaredTotal(doc *goquery.Document) (int, bool) {
	if raw, ok := doc.Find("[data-total-count]").First().Attr("data-total-count"); ok {
		if n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(raw), ",", "")); err == nil {
			return n, true
		}
	}
	for _, sel := range totalSelectors {
		text := doc.Find(sel).First().Text()
		if text == "" {
			continue
		}
		if n, ok := normalize.ParseCount(text); ok {
			return n, true
		}
	}
	return 0, false
}

// pagination reads the JSON comment inside code#paginationMetadata, falling
// back to data attributes.
func pagination(doc *goquery.Document) (string, bool) {
	if code := doc.Find("code#paginationMetadata").First(); code.Length() > 0 {
		raw := commentText(code)
		if raw == "" {
			raw = code.Text()
		}
		var meta paginationMetadata
		if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &meta); err == nil {
			return meta.PaginationToken, meta.IsLastPage
		}
	}
	holder := doc.Find("[data-pagination-token]").First()
	token, _ := holder.Attr("data-pagination-token")
	last := false
	if v, ok := doc.Find("[data-is-last-page]").First().Attr("data-is-last-page"); ok {
		last, _ = strconv.ParseBool(strings.TrimSpace(v))
	}
	return token, last
}

func commentText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.CommentNode {
				b.WriteString(c.Data)
			}
		}
	}
	return b.String()
}

// SearchURL builds the first listing page for an account owner and/or keyword.
func SearchURL(base, accountOwner, keyword string) string {
	return buildURL(base, searchPath, query("", accountOwner, keyword))
}

// PaginationURL builds the fragment URL that returns the page after cursor.
func PaginationURL(base, cursor, accountOwner, keyword string) string {
	return buildURL(base, paginationPath, query(cursor, accountOwner, keyword))
}

// DetailURL builds the detail page URL for an ad id.
func DetailURL(base, adID string) string {
	return strings.TrimRight(base, "/") + detailPath + url.PathEscape(adID)
}

func query(cursor, accountOwner, keyword string) url.Values {
	q := url.Values{}
	if accountOwner != "" {
		q.Set("accountOwner", accountOwner)
	}
	if keyword != "" {
		q.Set("keyword", keyword)
	}
	if cursor != "" {
		q.Set("paginationToken", cursor)
	}
	return q
}

func buildURL(base, path string, q url.Values) string {
	out := strings.TrimRight(base, "/") + path
	if encoded := q.Encode(); encoded != "" {
		out += "?" + encoded
	}
	return out
}
