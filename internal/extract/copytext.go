package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/adlibrary-crawler/internal/normalize"
)

var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "li": {}, "ul": {}, "ol": {}, "section": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {}, "blockquote": {},
}

var skipTags = map[string]struct{}{
	"script": {}, "style": {}, "noscript": {}, "button": {}, "template": {},
}

// renderText flattens sel to text, keeping link text, turning <br> and block
// boundaries into newlines, and dropping controls such as "see more".
func renderText(sel *goquery.Selection) string {
	if sel == nil || sel.Length() == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range sel.Nodes {
		renderNode(&b, n)
	}
	return normalize.CleanLines(b.String())
}

func renderNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		if _, skip := skipTags[n.Data]; skip {
			return
		}
		if n.Data == "br" {
			b.WriteByte('\n')
			return
		}
	}
	_, block := blockTags[n.Data]
	block = block && n.Type == html.ElementNode
	if block {
		endLine(b)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(b, c)
	}
	if block {
		endLine(b)
	}
}

// endLine starts a new line unless the builder already sits at one.
func endLine(b *strings.Builder) {
	s := b.String()
	if s != "" && s[len(s)-1] != '\n' {
		b.WriteByte('\n')
	}
}
