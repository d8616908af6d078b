package sample

import (
	"fmt"
	"math"
)

// Source produces standard normal variates. *math/rand.Rand and
// *entropy.Client both satisfy it.
type Source interface {
	NormFloat64() float64
}

// Normal draws n values from a normal distribution with the given mean and
// standard deviation. Draws below zero are clamped to zero since the
// dashboards only measure physical sizes. Values are rounded to two decimal
// places, the precision of a tape measure.
func Normal(src Source, n int, mean, stddev float64) ([]float64, error) {
	if n < 1 {
		return nil, fmt.Errorf("sample size %d must be positive", n)
	}
	if stddev < 0 {
		return nil, fmt.Errorf("standard deviation %v must not be negative", stddev)
	}

	out := make([]float64, n)
	for i := range out {
		v := src.NormFloat64()*stddev + mean
		if v < 0 {
			v = 0
		}
		out[i] = math.Round(v*100) / 100
	}
	return out, nil
}
