package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/adlibrary-crawler/internal/normalize"
)

// candidate is one entry of a first-match-wins selector chain. An empty attr
// reads the element's text.
type candidate struct {
	selector string
	attr     string
}

func textOf(selector string) candidate { return candidate{selector: selector} }

func attrOf(selector, attr string) candidate { return candidate{selector: selector, attr: attr} }

// first returns the first non-empty value produced by the chain within scope.
func first(scope *goquery.Selection, chain []candidate) (string, bool) {
	if scope == nil || scope.Length() == 0 {
		return "", false
	}
	for _, c := range chain {
		var found string
		scope.Find(c.selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = valueOf(s, c.attr)
			return found == ""
		})
		if found != "" {
			return found, true
		}
	}
	return "", false
}

// firstSelection returns the first element matched by any selector in order.
func firstSelection(scope *goquery.Selection, selectors ...string) *goquery.Selection {
	if scope == nil {
		return nil
	}
	for _, sel := range selectors {
		if found := scope.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	return nil
}

func valueOf(s *goquery.Selection, attr string) string {
	if attr == "" {
		return normalize.CollapseSpace(s.Text())
	}
	v, _ := s.Attr(attr)
	return strings.TrimSpace(v)
}
