package normalize

import (
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Hasher computes a hex digest of data.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// fingerprintLen is the number of hex characters kept from the digest.
const fingerprintLen = 16

// skippedTags never contribute to the structural skeleton.
var skippedTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
	"svg":      {},
}

// Fingerprint digests the normalized element structure of doc: tag names with
// their sorted, digit-free class tokens in document order. Text, attributes, and
// generated class names are ignored so that only layout changes move the value.
func Fingerprint(doc *goquery.Document, hasher Hasher) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("nil document")
	}
	var b strings.Builder
	for _, root := range doc.Nodes {
		writeSkeleton(&b, root, 0)
	}
	sum, err := hasher.Hash([]byte(b.String()))
	if err != nil {
		return "", fmt.Errorf("hash skeleton: %w", err)
	}
	if len(sum) > fingerprintLen {
		sum = sum[:fingerprintLen]
	}
	return sum, nil
}

func writeSkeleton(b *strings.Builder, n *html.Node, depth int) {
	if n.Type == html.ElementNode {
		if _, skip := skippedTags[n.Data]; skip {
			return
		}
		b.WriteString(strings.Repeat(" ", depth))
		b.WriteString(n.Data)
		if classes := stableClasses(n); len(classes) > 0 {
			b.WriteByte('.')
			b.WriteString(strings.Join(classes, "."))
		}
		b.WriteByte('\n')
		depth++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeSkeleton(b, c, depth)
	}
}

func stableClasses(n *html.Node) []string {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		fields := strings.Fields(strings.ToLower(attr.Val))
		out := fields[:0]
		for _, f := range fields {
			if strings.ContainsAny(f, "0123456789") {
				continue
			}
			out = append(out, f)
		}
		sort.Strings(out)
		return out
	}
	return nil
}
