package normalize

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/adlibrary-crawler/internal/hash/sha256"
)

func mustDoc(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	return doc
}

func TestFingerprintIgnoresTextAndGeneratedClasses(t *testing.T) {
	t.Parallel()

	h := sha256.New()
	a := mustDoc(t, `<div class="card x93ka"><p>first</p><script>var a=1</script></div>`)
	b := mustDoc(t, `<div class="card y11zz"><p>second text</p></div>`)
	c := mustDoc(t, `<div class="card"><span>first</span></div>`)

	fa, err := Fingerprint(a, h)
	require.NoError(t, err)
	fb, err := Fingerprint(b, h)
	require.NoError(t, err)
	fc, err := Fingerprint(c, h)
	require.NoError(t, err)

	assert.Len(t, fa, 16)
	assert.Equal(t, fa, fb)
	assert.NotEqual(t, fa, fc)
}
