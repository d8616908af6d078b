package boards

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/talgya/statboard/internal/chart"
	"github.com/talgya/statboard/internal/engine"
	"github.com/talgya/statboard/internal/entropy"
	"github.com/talgya/statboard/internal/sample"
	"github.com/talgya/statboard/internal/stats"
)

// Tree board field, action and artifact IDs.
const (
	FieldCount    = "count"
	FieldMean     = "mean"
	FieldStdDev   = "stddev"
	FieldMeasured = "measured"

	ActionGenerate = "generate"
	ActionMeasure  = "measure"

	ArtifactSamples   = "samples"
	ArtifactHistogram = "histogram"
	ArtifactBoxPlot   = "boxplot"
	ArtifactScatter   = "scatter"
	ArtifactSummary   = "summary"
	ArtifactTable     = "table"
)

// Tree board defaults and limits.
const (
	DefaultTreeCount  = 30
	DefaultTreeMean   = 15
	DefaultTreeStdDev = 3
	MaxTreeCount      = 1000
	maxHistogramBins  = 20
)

// TreeSummary is the summary statistics panel.
type TreeSummary struct {
	stats.Summary
	Lines []string `json:"lines"`
}

// TreeRow is one row of the measurements table.
type TreeRow struct {
	Tree   int     `json:"tree"`
	Height float64 `json:"height"`
}

// Trees is the tree height board.
type Trees struct {
	opts    Options
	heights *sample.Collection
	graph   *engine.Graph
}

// NewTrees builds a trees board. opts.Source defaults to a fresh
// crypto-seeded generator.
func NewTrees(opts Options) (*Trees, error) {
	if opts.Source == nil {
		opts.Source = entropy.Source(nil)
	}
	b := &Trees{opts: opts, heights: sample.NewCollection()}

	fields := []engine.Field{
		{ID: FieldCount, Label: "Number of trees", Value: engine.Float(DefaultTreeCount),
			Min: engine.Float(1), Max: engine.Float(MaxTreeCount), Integer: true},
		{ID: FieldMean, Label: "Mean height (m)", Value: engine.Float(DefaultTreeMean), Min: engine.Float(0)},
		{ID: FieldStdDev, Label: "Standard deviation (m)", Value: engine.Float(DefaultTreeStdDev), Min: engine.Float(0)},
		{ID: FieldMeasured, Label: "Measured height (m)", Min: engine.Float(0)},
		{ID: ActionGenerate, Label: "Generate", Action: true},
		{ID: ActionMeasure, Label: "Measure", Action: true},
	}

	fromSamples := []string{ArtifactSamples}
	g, err := build(TreesBoard, opts, fields, []engine.Subscription{
		{
			Outputs: []string{ArtifactSamples},
			Deps:    []string{ActionGenerate, ActionMeasure},
			State:   []string{FieldCount, FieldMean, FieldStdDev, FieldMeasured},
			Fn:      b.computeSamples,
		},
		{Outputs: []string{ArtifactHistogram}, Deps: fromSamples, Fn: derive(ArtifactHistogram, TreeHistogram)},
		{Outputs: []string{ArtifactBoxPlot}, Deps: fromSamples, Fn: derive(ArtifactBoxPlot, TreeBoxPlot)},
		{Outputs: []string{ArtifactScatter}, Deps: fromSamples, Fn: derive(ArtifactScatter, TreeScatter)},
		{Outputs: []string{ArtifactSummary}, Deps: fromSamples, Fn: derive(ArtifactSummary, TreeSummaryOf)},
		{Outputs: []string{ArtifactTable}, Deps: fromSamples, Fn: derive(ArtifactTable, TreeTable)},
	})
	if err != nil {
		return nil, err
	}
	b.graph = g
	return b, nil
}

func (b *Trees) Name() string         { return TreesBoard }
func (b *Trees) Graph() *engine.Graph { return b.graph }
func (b *Trees) Samples() []float64   { return b.heights.Values() }

// computeSamples publishes the next collection and applies it to the board
// once the batch commits. A generate click replaces every height; a measure
// click appends the measured height. Generate wins when both changed, as on
// the initial render.
func (b *Trees) computeSamples(ctx context.Context, in engine.Inputs) (map[string]any, error) {
	var next []float64
	switch {
	case in.Changed(ActionGenerate):
		vals, err := in.Require(FieldCount, FieldMean, FieldStdDev)
		if err != nil {
			return nil, err
		}
		heights, err := sample.Normal(b.opts.Source, int(vals[0]), vals[1], vals[2])
		if err != nil {
			return nil, err
		}
		next = heights
		in.OnCommit(func() {
			b.heights.Replace(heights)
			b.opts.record(ctx, TreesBoard, "generated", heights)
		})

	case in.Changed(ActionMeasure):
		h, ok := in.Value(FieldMeasured)
		if !ok {
			return nil, engine.ErrNoUpdate
		}
		next = append(b.heights.Values(), h)
		in.OnCommit(func() {
			b.heights.Append(h)
			b.opts.record(ctx, TreesBoard, "measured", []float64{h})
		})

	default:
		return nil, engine.ErrNoUpdate
	}

	if len(next) == 0 {
		return nil, engine.ErrNoUpdate
	}
	return map[string]any{ArtifactSamples: slices.Clone(next)}, nil
}

// derive adapts a pure function of the sample into a ComputeFunc.
func derive[T any](id string, fn func([]float64) (T, error)) engine.ComputeFunc {
	return func(_ context.Context, in engine.Inputs) (map[string]any, error) {
		v, ok := in.Artifact(ArtifactSamples)
		if !ok {
			return nil, engine.ErrNoUpdate
		}
		heights, ok := v.([]float64)
		if !ok {
			return nil, fmt.Errorf("samples artifact has type %T", v)
		}
		out, err := fn(heights)
		if errors.Is(err, stats.ErrEmpty) {
			return nil, engine.ErrNoUpdate
		}
		if err != nil {
			return nil, err
		}
		return map[string]any{id: out}, nil
	}
}

// histogramBins picks roughly sqrt(n) bins, capped for readability.
func histogramBins(n int) int {
	return max(1, min(maxHistogramBins, int(math.Ceil(math.Sqrt(float64(n))))))
}

// TreeHistogram builds the height distribution figure.
func TreeHistogram(heights []float64) (chart.Figure, error) {
	bins, err := stats.Histogram(heights, histogramBins(len(heights)))
	if err != nil {
		return chart.Figure{}, err
	}

	bars := chart.Trace{Type: "bar", Name: "Trees", Marker: &chart.Marker{Color: "forestgreen"}}
	for _, bin := range bins {
		bars.X = append(bars.X, (bin.Lower+bin.Upper)/2)
		bars.Y = append(bars.Y, float64(bin.Count))
		bars.Width = append(bars.Width, math.Max(bin.Upper-bin.Lower, 0.1))
	}

	return chart.Figure{
		Data: []chart.Trace{bars},
		Layout: chart.Layout{
			Title:  "Tree Height Distribution",
			XAxis:  chart.Axis{Title: "Height (m)"},
			YAxis:  chart.Axis{Title: "Number of trees"},
			BarGap: 0.05,
		},
	}, nil
}

// TreeBoxPlot builds the box-and-whisker figure, with outliers as points.
func TreeBoxPlot(heights []float64) (chart.Figure, error) {
	box, err := stats.BoxPlot(heights)
	if err != nil {
		return chart.Figure{}, err
	}

	fig := chart.Figure{
		Data: []chart.Trace{{
			Type:       "box",
			Name:       "Heights",
			X:          []any{"Heights"},
			Q1:         []float64{box.Q1},
			Median:     []float64{box.Median},
			Q3:         []float64{box.Q3},
			LowerFence: []float64{box.LowerWhisker},
			UpperFence: []float64{box.UpperWhisker},
			BoxPoints:  "false",
			Marker:     &chart.Marker{Color: "saddlebrown"},
		}},
		Layout: chart.Layout{
			Title:      "Tree Height Box Plot",
			YAxis:      chart.Axis{Title: "Height (m)"},
			ShowLegend: chart.Bool(false),
		},
	}
	if len(box.Outliers) > 0 {
		outliers := chart.Trace{Type: "scatter", Name: "Outliers", Mode: "markers", Y: box.Outliers,
			Marker: &chart.Marker{Color: "red", Size: 8}}
		for range box.Outliers {
			outliers.X = append(outliers.X, "Heights")
		}
		fig.Data = append(fig.Data, outliers)
	}
	return fig, nil
}

// TreeScatter plots every height against its position in the collection.
func TreeScatter(heights []float64) (chart.Figure, error) {
	mean, err := stats.Mean(heights)
	if err != nil {
		return chart.Figure{}, err
	}

	idx := make([]any, len(heights))
	for i := range heights {
		idx[i] = i + 1
	}

	return chart.Figure{
		Data: []chart.Trace{
			{Type: "scatter", Name: "Trees", Mode: "markers", X: idx, Y: heights,
				Marker: &chart.Marker{Color: "forestgreen", Size: 8}},
			{Type: "scatter", Name: "Mean", Mode: "lines", X: idx, Y: chart.Repeat(mean, len(heights)),
				Line: &chart.Line{Color: "orange", Dash: "dash"}},
		},
		Layout: chart.Layout{
			Title: "Tree Heights",
			XAxis: chart.Axis{Title: "Tree"},
			YAxis: chart.Axis{Title: "Height (m)"},
		},
	}, nil
}

// TreeSummaryOf computes the summary panel.
func TreeSummaryOf(heights []float64) (TreeSummary, error) {
	s, err := stats.Describe(heights)
	if err != nil {
		return TreeSummary{}, err
	}

	mode := "no mode"
	if s.HasMode {
		mode = formatList(s.Modes) + " m"
	}
	return TreeSummary{
		Summary: s,
		Lines: []string{
			fmt.Sprintf("Trees measured: %s", humanize.Comma(int64(s.Count))),
			fmt.Sprintf("Mean height: %.2f m", s.Mean),
			fmt.Sprintf("Median height: %.2f m", s.Median),
			"Mode: " + mode,
			fmt.Sprintf("Range: %.2f m (%.2f to %.2f)", s.Range, s.Min, s.Max),
			fmt.Sprintf("Interquartile range: %.2f m", s.IQR),
			fmt.Sprintf("Standard deviation: %.2f m", s.StdDev),
			fmt.Sprintf("Variance: %.2f m²", s.Variance),
			fmt.Sprintf("Skewness: %.2f (%s)", s.Skewness, s.Shape),
		},
	}, nil
}

// TreeTable lists every measurement in order.
func TreeTable(heights []float64) ([]TreeRow, error) {
	rows := make([]TreeRow, len(heights))
	for i, h := range heights {
		rows[i] = TreeRow{Tree: i + 1, Height: h}
	}
	return rows, nil
}
