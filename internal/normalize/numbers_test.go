package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64p(v int64) *int64 { return &v }

func TestParseImpressionRange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Range
	}{
		{name: "k range", raw: "10k-50k", want: Range{Min: int64p(10_000), Max: int64p(50_000)}},
		{name: "less than", raw: "< 1k", want: Range{Max: int64p(1_000)}},
		{name: "single million", raw: "2m", want: Range{Min: int64p(2_000_000), Max: int64p(2_000_000)}},
		{name: "en dash and caps", raw: "1K – 5K", want: Range{Min: int64p(1_000), Max: int64p(5_000)}},
		{name: "commas", raw: "1,000-5,000", want: Range{Min: int64p(1_000), Max: int64p(5_000)}},
		{name: "decimal suffix", raw: "1.5m-2m", want: Range{Min: int64p(1_500_000), Max: int64p(2_000_000)}},
		{name: "reversed bounds", raw: "50k-10k", want: Range{Min: int64p(10_000), Max: int64p(50_000)}},
		{name: "trailing label", raw: "100k-500k impressions", want: Range{Min: int64p(100_000), Max: int64p(500_000)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseImpressionRange(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseImpressionRangeErrors(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   ", "lots", "<", "k-m"} {
		_, err := ParseImpressionRange(raw)
		assert.Error(t, err, "input %q", raw)
	}
}

func TestParsePercentage(t *testing.T) {
	t.Parallel()

	got, err := ParsePercentage("26%")
	require.NoError(t, err)
	assert.Equal(t, 0.26, got)

	got, err = ParsePercentage("< 1%")
	require.NoError(t, err)
	assert.Equal(t, 0.005, got)

	got, err = ParsePercentage(" 7.9% ")
	require.NoError(t, err)
	assert.Equal(t, 0.07, got)

	_, err = ParsePercentage("n/a")
	assert.Error(t, err)
}

func TestCountryImpressionsAreIndependent(t *testing.T) {
	t.Parallel()

	total := Range{Min: int64p(1_000), Max: int64p(5_000)}
	us := CountryImpressions(total, 0.55)
	de := CountryImpressions(total, 0.5)
	require.NotNil(t, us.Min)
	require.NotNil(t, us.Max)
	assert.Equal(t, int64(550), *us.Min)
	assert.Equal(t, int64(2750), *us.Max)
	// 105% of the total is allowed: shares are never renormalized.
	assert.Equal(t, int64(1050), *us.Min+*de.Min)

	maxOnly := CountryImpressions(Range{Max: int64p(1_000)}, 0.005)
	assert.Nil(t, maxOnly.Min)
	require.NotNil(t, maxOnly.Max)
	assert.Equal(t, int64(5), *maxOnly.Max)
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	tests := map[string]int{
		"1,234 ads":         1234,
		"Showing 37 results": 37,
		"12K ads":           12_000,
		"12 months":         12,
	}
	for raw, want := range tests {
		got, ok := ParseCount(raw)
		require.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}
	_, ok := ParseCount("no ads")
	assert.False(t, ok)
}
