// Package stats implements the descriptive statistics shown on the
// dashboards: central tendency, dispersion, shape and the summaries used to
// build histograms and box plots.
//
// All functions treat their input as a population, never as a sample, and
// none of them modify the slice they are given.
package stats

import (
	"errors"
	"math"
	"slices"

	"github.com/aclements/go-moremath/stats"
	"golang.org/x/exp/constraints"
)

// ErrEmpty is returned when a statistic is requested for an empty sample.
var ErrEmpty = errors.New("stats: empty sample")

// Number is any value that can be fed to the dashboards.
type Number interface {
	constraints.Integer | constraints.Float
}

// Float64s converts a slice of numbers to float64.
func Float64s[T Number](xs []T) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = float64(x)
	}
	return out
}

// Mean returns the arithmetic average of xs.
func Mean(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrEmpty
	}
	return stats.Mean(xs), nil
}

// Median returns the middle value of xs in ascending order, or the average
// of the two middle values when len(xs) is even.
func Median(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrEmpty
	}
	sorted := sortedCopy(xs)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2], nil
	}
	mid := n / 2
	return (sorted[mid-1] + sorted[mid]) / 2, nil
}

// Multimode returns every value tied for the highest occurrence count, in
// order of first appearance.
func Multimode[T comparable](xs []T) []T {
	counts := make(map[T]int, len(xs))
	best := 0
	for _, x := range xs {
		counts[x]++
		if counts[x] > best {
			best = counts[x]
		}
	}

	var modes []T
	for _, x := range xs {
		if counts[x] == best {
			modes = append(modes, x)
			// Only report each value once.
			counts[x] = -1
		}
	}
	return modes
}

// HasMode reports whether xs has a mode worth reporting. A sample whose
// values are all pairwise distinct has no mode; any repeated value means it
// does. Samples where every value repeats equally often still count as
// having a mode.
func HasMode[T comparable](xs []T) bool {
	seen := make(map[T]struct{}, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			return true
		}
		seen[x] = struct{}{}
	}
	return false
}

// Bounds returns the minimum and maximum of xs.
func Bounds(xs []float64) (lo, hi float64, err error) {
	if len(xs) == 0 {
		return 0, 0, ErrEmpty
	}
	lo, hi = stats.Bounds(xs)
	return lo, hi, nil
}

// Range returns max(xs) - min(xs).
func Range(xs []float64) (float64, error) {
	lo, hi, err := Bounds(xs)
	if err != nil {
		return 0, err
	}
	return hi - lo, nil
}

// Percentile returns the p-th percentile (0 <= p <= 100) of xs, linearly
// interpolating between the two closest ranks.
func Percentile(xs []float64, p float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrEmpty
	}
	return percentileSorted(sortedCopy(xs), p), nil
}

func percentileSorted(sorted []float64, p float64) float64 {
	p = math.Max(0, math.Min(100, p))
	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// IQR returns the interquartile range: 75th minus 25th percentile.
func IQR(xs []float64) (float64, error) {
	if len(xs) == 0 {
		return 0, ErrEmpty
	}
	sorted := sortedCopy(xs)
	return percentileSorted(sorted, 75) - percentileSorted(sorted, 25), nil
}

// Variance returns the population variance of xs.
func Variance(xs []float64) (float64, error) {
	m2, _, err := centralMoments(xs)
	return m2, err
}

// StdDev returns the population standard deviation of xs.
func StdDev(xs []float64) (float64, error) {
	v, err := Variance(xs)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// Skewness returns the population (Fisher-Pearson) skewness of xs. A sample
// with zero variance has skewness 0.
func Skewness(xs []float64) (float64, error) {
	m2, m3, err := centralMoments(xs)
	if err != nil {
		return 0, err
	}
	if m2 == 0 {
		return 0, nil
	}
	return m3 / math.Pow(m2, 1.5), nil
}

func centralMoments(xs []float64) (m2, m3 float64, err error) {
	mean, err := Mean(xs)
	if err != nil {
		return 0, 0, err
	}
	for _, x := range xs {
		d := x - mean
		m2 += d * d
		m3 += d * d * d
	}
	n := float64(len(xs))
	return m2 / n, m3 / n, nil
}

func sortedCopy(xs []float64) []float64 {
	sorted := slices.Clone(xs)
	slices.Sort(sorted)
	return sorted
}
