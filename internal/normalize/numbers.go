package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Range is a parsed impression range. A nil bound is unknown.
type Range struct {
	Min *int64
	Max *int64
}

// lessThanApprox stands in for a "< 1%" share.
const lessThanApprox = 0.005

var (
	dashReplacer   = strings.NewReplacer("–", "-", "—", "-", " to ", "-")
	leadingInteger = regexp.MustCompile(`^\s*(\d+)`)
	countPattern   = regexp.MustCompile(`(\d[\d,.]*(?:\s?[km]\b)?)`)
)

// ParseImpressionRange parses strings such as "10k-50k", "< 1k", or "2m".
// A leading "<" yields a max-only bound and a single value yields equal bounds.
func ParseImpressionRange(raw string) (Range, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = dashReplacer.Replace(s)
	s = strings.TrimSuffix(strings.TrimSpace(s), "impressions")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return Range{}, fmt.Errorf("empty impression range")
	}

	if strings.HasPrefix(s, "<") {
		maxVal, err := parseAmount(strings.TrimPrefix(s, "<"))
		if err != nil {
			return Range{}, fmt.Errorf("parse impression range %q: %w", raw, err)
		}
		return Range{Max: &maxVal}, nil
	}

	if lo, hi, ok := strings.Cut(s, "-"); ok {
		minVal, err := parseAmount(lo)
		if err != nil {
			return Range{}, fmt.Errorf("parse impression range %q: %w", raw, err)
		}
		maxVal, err := parseAmount(hi)
		if err != nil {
			return Range{}, fmt.Errorf("parse impression range %q: %w", raw, err)
		}
		if minVal > maxVal {
			minVal, maxVal = maxVal, minVal
		}
		return Range{Min: &minVal, Max: &maxVal}, nil
	}

	v, err := parseAmount(s)
	if err != nil {
		return Range{}, fmt.Errorf("parse impression range %q: %w", raw, err)
	}
	minVal, maxVal := v, v
	return Range{Min: &minVal, Max: &maxVal}, nil
}

func parseAmount(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	s = strings.TrimPrefix(s, "+")
	s = strings.TrimSuffix(s, "+")
	multiplier := 1.0
	switch {
	case strings.HasSuffix(s, "k"):
		multiplier = 1_000
		s = strings.TrimSuffix(s, "k")
	case strings.HasSuffix(s, "m"):
		multiplier = 1_000_000
		s = strings.TrimSuffix(s, "m")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("missing number")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse number %q: %w", s, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("negative amount %q", s)
	}
	return int64(math.Round(f * multiplier)), nil
}

// ParsePercentage parses "26%" as 0.26. A leading "<" is approximated as 0.005.
func ParsePercentage(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "<") {
		return lessThanApprox, nil
	}
	m := leadingInteger.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("parse percentage %q: no leading integer", raw)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("parse percentage %q: %w", raw, err)
	}
	return float64(n) / 100, nil
}

// CountryImpressions scales the total range by a country's share. Each bound is
// derived on its own; shares are never renormalized across countries.
func CountryImpressions(total Range, pct float64) Range {
	var out Range
	if total.Min != nil {
		v := int64(math.Round(float64(*total.Min) * pct))
		out.Min = &v
	}
	if total.Max != nil {
		v := int64(math.Round(float64(*total.Max) * pct))
		out.Max = &v
	}
	return out
}

// ParseCount reads a displayed count such as "1,234 ads" or "12K results".
func ParseCount(raw string) (int, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	m := countPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := parseAmount(m[1])
	if err != nil {
		return 0, false
	}
	return int(v), true
}
