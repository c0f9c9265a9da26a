package reports

import (
	"math"
	"sort"
)

// percentile returns the sample value at index floor(n*p) of the sorted
// sample. p is a fraction (0.5 for p50). Empty samples return 0.
func percentile(sample []float64, p float64) float64 {
	if len(sample) == 0 {
		return 0
	}
	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	idx := int(math.Floor(float64(len(sorted)) * p))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// safeDivide guards every financial ratio: a zero denominator reports 0
// rather than leaking NaN or Infinity into JSON.
func safeDivide(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 0
	}
	return numerator / denominator
}

// round2 rounds to two decimal places, used for rate percentages.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
