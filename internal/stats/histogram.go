package stats

import "fmt"

// Bin is one histogram bucket covering [Lower, Upper). The last bin of a
// histogram is closed on both ends.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram groups xs into n equal-width bins spanning [min, max]. A sample
// whose values are all equal yields a single bin.
func Histogram(xs []float64, n int) ([]Bin, error) {
	if n < 1 {
		return nil, fmt.Errorf("histogram: bin count %d must be positive", n)
	}
	lo, hi, err := Bounds(xs)
	if err != nil {
		return nil, err
	}
	if lo == hi {
		return []Bin{{Lower: lo, Upper: hi, Count: len(xs)}}, nil
	}

	width := (hi - lo) / float64(n)
	bins := make([]Bin, n)
	for i := range bins {
		bins[i].Lower = lo + float64(i)*width
		bins[i].Upper = lo + float64(i+1)*width
	}
	bins[n-1].Upper = hi

	for _, x := range xs {
		idx := int((x - lo) / width)
		if idx >= n {
			idx = n - 1
		}
		bins[idx].Count++
	}
	return bins, nil
}

// Box holds the components of a box-and-whisker plot.
type Box struct {
	LowerWhisker float64   `json:"lower_whisker"`
	Q1           float64   `json:"q1"`
	Median       float64   `json:"median"`
	Q3           float64   `json:"q3"`
	UpperWhisker float64   `json:"upper_whisker"`
	Outliers     []float64 `json:"outliers,omitempty"`
}

// WhiskerCoef is the multiple of the IQR beyond which points are outliers.
const WhiskerCoef = 1.5

// BoxPlot computes quartiles, whiskers and outliers for xs. Whiskers reach
// the most extreme data points within WhiskerCoef*IQR of the box.
func BoxPlot(xs []float64) (Box, error) {
	if len(xs) == 0 {
		return Box{}, ErrEmpty
	}
	sorted := sortedCopy(xs)

	b := Box{
		Q1:     percentileSorted(sorted, 25),
		Median: percentileSorted(sorted, 50),
		Q3:     percentileSorted(sorted, 75),
	}
	iqr := b.Q3 - b.Q1
	lowFence := b.Q1 - WhiskerCoef*iqr
	highFence := b.Q3 + WhiskerCoef*iqr

	b.LowerWhisker, b.UpperWhisker = b.Q1, b.Q3
	first := true
	for _, x := range sorted {
		if x < lowFence || x > highFence {
			b.Outliers = append(b.Outliers, x)
			continue
		}
		if first {
			b.LowerWhisker = x
			first = false
		}
		b.UpperWhisker = x
	}
	return b, nil
}
