package stats

// Shape classifies the skew of a distribution.
type Shape uint8

const (
	Symmetrical Shape = iota
	LeftSkewed
	RightSkewed
)

// SkewThreshold bounds the symmetrical band of skewness values.
const SkewThreshold = 1.0

// ShapeOf classifies a skewness value. Values in [-1, 1] are symmetrical.
func ShapeOf(skewness float64) Shape {
	switch {
	case skewness < -SkewThreshold:
		return LeftSkewed
	case skewness > SkewThreshold:
		return RightSkewed
	default:
		return Symmetrical
	}
}

func (s Shape) String() string {
	switch s {
	case LeftSkewed:
		return "left skewed"
	case RightSkewed:
		return "right skewed"
	default:
		return "symmetrical"
	}
}

// MarshalText renders the shape by name in JSON payloads.
func (s Shape) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Summary bundles every statistic the dashboards display for one sample.
type Summary struct {
	Count    int       `json:"count"`
	Mean     float64   `json:"mean"`
	Median   float64   `json:"median"`
	Modes    []float64 `json:"modes,omitempty"`
	HasMode  bool      `json:"has_mode"`
	Min      float64   `json:"min"`
	Max      float64   `json:"max"`
	Range    float64   `json:"range"`
	Q1       float64   `json:"q1"`
	Q3       float64   `json:"q3"`
	IQR      float64   `json:"iqr"`
	StdDev   float64   `json:"std_dev"`
	Variance float64   `json:"variance"`
	Skewness float64   `json:"skewness"`
	Shape    Shape     `json:"shape"`
}

// Describe computes a Summary of xs.
func Describe(xs []float64) (Summary, error) {
	if len(xs) == 0 {
		return Summary{}, ErrEmpty
	}
	sorted := sortedCopy(xs)

	s := Summary{Count: len(xs)}
	s.Mean, _ = Mean(xs)
	s.Median, _ = Median(sorted)
	s.HasMode = HasMode(xs)
	if s.HasMode {
		s.Modes = Multimode(xs)
	}
	s.Min, s.Max = sorted[0], sorted[len(sorted)-1]
	s.Range = s.Max - s.Min
	s.Q1 = percentileSorted(sorted, 25)
	s.Q3 = percentileSorted(sorted, 75)
	s.IQR = s.Q3 - s.Q1
	s.Variance, _ = Variance(xs)
	s.StdDev, _ = StdDev(xs)
	s.Skewness, _ = Skewness(xs)
	s.Shape = ShapeOf(s.Skewness)
	return s, nil
}
