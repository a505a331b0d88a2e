package offer

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// CentsShare is the fraction of a batch that must sit at or above the scale
// threshold before the batch is treated as cent-scaled.
const CentsShare = 0.80

// ParseMoney parses a currency-formatted value such as "R$ 1.234,56", "77.89"
// or "7789". A comma marks the decimal separator (dots are then thousands
// separators); without a comma the dot is the decimal separator.
// Unparsable, negative or non-finite values are reported as absent.
func ParseMoney(raw string) (float64, bool) {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9', r == ',', r == '.', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == ' ':
		default:
			// currency symbols, letters, percent signs
		}
	}
	s := b.String()
	if s == "" {
		return 0, false
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

// ParseNumber parses a plain numeric field (rating, counts) with the same
// separator rules as ParseMoney.
func ParseNumber(raw string) *float64 {
	v, ok := ParseMoney(raw)
	if !ok {
		return nil
	}
	return &v
}

// CentsThreshold returns the scale threshold for the batch cent heuristic:
// 10x the maximum plausible price, never below 1000.
func CentsThreshold(priceMax float64) float64 {
	return math.Max(1000, priceMax*10)
}

// FixCents divides every value of the batch by 100 when at least CentsShare of
// the non-missing values are >= threshold and the median is >= threshold too.
// It reports whether the batch was rescaled. Running it again on a corrected
// batch is a no-op because the share condition no longer holds.
func FixCents(values []*float64, threshold float64) bool {
	var present []float64
	for _, v := range values {
		if v != nil {
			present = append(present, *v)
		}
	}
	if len(present) == 0 {
		return false
	}

	above := 0
	for _, v := range present {
		if v >= threshold {
			above++
		}
	}
	share := float64(above) / float64(len(present))
	if share < CentsShare || median(present) < threshold {
		return false
	}

	for _, v := range values {
		if v != nil {
			*v /= 100
		}
	}
	return true
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
