// Package chart describes figures as plain data. The server computes
// figures; the page hands them to a client-side plotting library unchanged,
// so field names follow that library's JSON schema.
package chart

// Figure is a complete chart specification.
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// Trace is one data series.
type Trace struct {
	Type      string    `json:"type"`
	Name      string    `json:"name,omitempty"`
	Mode      string    `json:"mode,omitempty"`
	X         []any     `json:"x,omitempty"`
	Y         []float64 `json:"y,omitempty"`
	Text      []string  `json:"text,omitempty"`
	Fill      string    `json:"fill,omitempty"`
	FillColor string    `json:"fillcolor,omitempty"`
	Line      *Line     `json:"line,omitempty"`
	Marker    *Marker   `json:"marker,omitempty"`
	Width     []float64 `json:"width,omitempty"`

	// Box traces with precomputed statistics.
	Q1         []float64 `json:"q1,omitempty"`
	Median     []float64 `json:"median,omitempty"`
	Q3         []float64 `json:"q3,omitempty"`
	LowerFence []float64 `json:"lowerfence,omitempty"`
	UpperFence []float64 `json:"upperfence,omitempty"`
	BoxPoints  string    `json:"boxpoints,omitempty"`
}

// Line styles a line trace.
type Line struct {
	Color string  `json:"color,omitempty"`
	Width float64 `json:"width,omitempty"`
	Dash  string  `json:"dash,omitempty"`
}

// Marker styles points and bars.
type Marker struct {
	Color string  `json:"color,omitempty"`
	Size  float64 `json:"size,omitempty"`
}

// Font styles annotation text.
type Font struct {
	Size  float64 `json:"size,omitempty"`
	Color string  `json:"color,omitempty"`
}

// Annotation is text pinned to a data coordinate.
type Annotation struct {
	X         any     `json:"x"`
	Y         float64 `json:"y"`
	Text      string  `json:"text"`
	ShowArrow bool    `json:"showarrow"`
	ArrowHead int     `json:"arrowhead,omitempty"`
	Opacity   float64 `json:"opacity,omitempty"`
	YShift    float64 `json:"yshift,omitempty"`
	Font      *Font   `json:"font,omitempty"`
}

// Axis configures one axis.
type Axis struct {
	Title string    `json:"title,omitempty"`
	Range []float64 `json:"range,omitempty"`
}

// Layout holds figure-level settings.
type Layout struct {
	Title       string       `json:"title,omitempty"`
	XAxis       Axis         `json:"xaxis"`
	YAxis       Axis         `json:"yaxis"`
	BarGap      float64      `json:"bargap,omitempty"`
	ShowLegend  *bool        `json:"showlegend,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Repeat returns n copies of v, for horizontal reference lines.
func Repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }
