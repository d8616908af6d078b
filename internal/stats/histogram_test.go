package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistogram_CountsSumToN(t *testing.T) {
	xs := []float64{1, 2, 2, 3, 3, 3, 4, 4, 5, 10}
	bins, err := Histogram(xs, 3)
	require.NoError(t, err)
	require.Len(t, bins, 3)

	total := 0
	for _, b := range bins {
		total += b.Count
	}
	assert.Equal(t, len(xs), total)
	assert.Equal(t, 1.0, bins[0].Lower)
	assert.Equal(t, 10.0, bins[2].Upper)
	// The maximum lands in the last bin.
	assert.Equal(t, 1, bins[2].Count)
}

func TestHistogram_ConstantSample(t *testing.T) {
	bins, err := Histogram([]float64{4, 4, 4}, 10)
	require.NoError(t, err)
	require.Len(t, bins, 1)
	assert.Equal(t, Bin{Lower: 4, Upper: 4, Count: 3}, bins[0])
}

func TestHistogram_RejectsNonPositiveBins(t *testing.T) {
	_, err := Histogram([]float64{1, 2}, 0)
	assert.Error(t, err)
}

func TestBoxPlot(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 100}
	b, err := BoxPlot(xs)
	require.NoError(t, err)

	q1, _ := Percentile(xs, 25)
	q3, _ := Percentile(xs, 75)
	med, _ := Median(xs)
	assert.InDelta(t, q1, b.Q1, 1e-12)
	assert.InDelta(t, q3, b.Q3, 1e-12)
	assert.InDelta(t, med, b.Median, 1e-12)

	assert.Equal(t, []float64{100}, b.Outliers)
	assert.Equal(t, 1.0, b.LowerWhisker)
	assert.Equal(t, 9.0, b.UpperWhisker)
}

func TestBoxPlot_NoOutliers(t *testing.T) {
	b, err := BoxPlot([]float64{5})
	require.NoError(t, err)
	assert.Empty(t, b.Outliers)
	assert.Equal(t, 5.0, b.LowerWhisker)
	assert.Equal(t, 5.0, b.UpperWhisker)
}
