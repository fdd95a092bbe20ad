package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssetResolver(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
<img id="sentinel-no-alt" src="https://static.example.com/aero-v1/sc/h/abc123" alt="">
<img id="sentinel-alt" src="https://static.example.com/aero-v1/sc/h/abc123" alt="Product shot">
<img id="sentinel-error" src="https://static.example.com/aero-v1/sc/h/abc123" alt="Product" class="image image--error">
<img id="sentinel-error-attr" src="https://static.example.com/aero-v1/sc/h/abc123" alt="Product" data-load-failed>
<img id="deferred" data-src="img/x.jpg">
<img id="protocol-relative" src=" " data-lazy-src="//cdn.example.com/y.jpg">
<img id="primary-wins" src="/a.jpg" data-delayed-url="/b.jpg">
<img id="delayed-before-ghost" data-delayed-url="/real.jpg" data-ghost-url="/ghost.png">
<img id="ghost-only" data-ghost-url="/ghost.png">
<img id="none">`))
	require.NoError(t, err)

	r := assetResolver{base: detailURL, signatures: DefaultPlaceholderSignatures}
	tests := map[string]string{
		"sentinel-no-alt":      "",
		"sentinel-alt":         "https://static.example.com/aero-v1/sc/h/abc123",
		"sentinel-error":       "",
		"sentinel-error-attr":  "",
		"deferred":             "https://www.example.com/ad-library/detail/img/x.jpg",
		"protocol-relative":    "https://cdn.example.com/y.jpg",
		"primary-wins":         "https://www.example.com/a.jpg",
		"delayed-before-ghost": "https://www.example.com/real.jpg",
		"ghost-only":           "https://www.example.com/ghost.png",
		"none":                 "",
	}
	for id, want := range tests {
		assert.Equal(t, want, r.URL(doc.Find("#"+id)), id)
	}
	assert.Equal(t, "", r.URL(nil))
}

func TestAssetResolverSkipsPlaceholderCandidates(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
<img id="gif-then-delayed" src="data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7" data-delayed-url="https://media.example.com/real.jpg" alt="">
<img id="ghost-then-delayed" src="/aero-v1/sc/h/ghost" data-delayed-url="https://media.example.com/real.jpg" alt="Product">
<img id="ghost-then-src" src="/aero-v1/sc/h/ghost" data-src="/media/second.jpg">
<img id="all-placeholders-alt" src="/aero-v1/sc/h/ghost" data-ghost-url="/image-placeholder.png" alt="Product">
<img id="all-placeholders-no-alt" src="/aero-v1/sc/h/ghost" data-ghost-url="/image-placeholder.png">`))
	require.NoError(t, err)

	r := assetResolver{base: detailURL, signatures: DefaultPlaceholderSignatures}
	tests := []struct {
		id   string
		want string
	}{
		{id: "gif-then-delayed", want: "https://media.example.com/real.jpg"},
		{id: "ghost-then-delayed", want: "https://media.example.com/real.jpg"},
		{id: "ghost-then-src", want: "https://www.example.com/media/second.jpg"},
		{id: "all-placeholders-alt", want: "https://www.example.com/aero-v1/sc/h/ghost"},
		{id: "all-placeholders-no-alt", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.URL(doc.Find("#"+tt.id)), tt.id)
	}
}

func TestAssetResolverCustomSignatures(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`<img src="https://cdn.example.com/blank.png"><img src="https://cdn.example.com/blank.png">`))
	require.NoError(t, err)

	plain := assetResolver{base: detailURL}
	assert.Equal(t, []string{"https://cdn.example.com/blank.png"}, plain.URLs(doc.Find("img")), "duplicates collapse")

	custom := assetResolver{base: detailURL, signatures: []string{"/blank.png"}}
	assert.Empty(t, custom.URLs(doc.Find("img")))
}
