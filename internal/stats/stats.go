// Package stats provides the descriptive statistics shared by the
// categorizer, the scorer and the validation harness.
package stats

import (
	"math"
	"sort"
)

// Mean calculates the arithmetic mean
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Variance calculates the sample variance (n-1 denominator)
func Variance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values)-1)
}

// StdDev calculates the sample standard deviation
func StdDev(values []float64) float64 {
	return math.Sqrt(Variance(values))
}

// PopulationStdDev calculates the standard deviation with an n denominator
func PopulationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// MinMax returns the smallest and largest value
func MinMax(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Quantile calculates the q-th quantile (0-1)
// Uses linear interpolation between closest ranks
func Quantile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return 0
	}
	q = clamp01(q)

	sorted := sortedCopy(values)
	index := q * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower]
	}
	weight := index - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// Median calculates the median
func Median(values []float64) float64 {
	return Quantile(values, 0.5)
}

// NearestRank returns sorted[floor(n*q)] for each quantile, clamped to the
// last element. Sorting happens once.
func NearestRank(values []float64, qs ...float64) []float64 {
	results := make([]float64, len(qs))
	if len(values) == 0 {
		return results
	}
	sorted := sortedCopy(values)
	n := len(sorted)
	for i, q := range qs {
		idx := int(float64(n) * clamp01(q))
		if idx >= n {
			idx = n - 1
		}
		results[i] = sorted[idx]
	}
	return results
}

func sortedCopy(values []float64) []float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return sorted
}

func clamp01(q float64) float64 {
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
