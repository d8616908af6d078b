package boards

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/talgya/statboard/internal/chart"
	"github.com/talgya/statboard/internal/engine"
	"github.com/talgya/statboard/internal/sample"
	"github.com/talgya/statboard/internal/stats"
)

// Apple board field and artifact IDs.
const (
	FieldYou = "you"

	ArtifactCounts = "counts"
	ArtifactChart  = "chart"
	ArtifactStory  = "story"
)

const (
	friendCount    = 6
	defaultYou     = 10
	defaultFriend  = 5
	maxAppleMarker = 100
)

// AppleFields lists the seven apple count inputs in display order.
var AppleFields = func() []string {
	ids := []string{FieldYou}
	for i := 1; i <= friendCount; i++ {
		ids = append(ids, fmt.Sprintf("friend%d", i))
	}
	return ids
}()

// AppleNames are the chart labels matching AppleFields.
var AppleNames = func() []string {
	names := []string{"You"}
	for i := 1; i <= friendCount; i++ {
		names = append(names, fmt.Sprintf("Friend %d", i))
	}
	return names
}()

// Story is the narrative explanation shown above the apple chart.
type Story struct {
	Mean        float64   `json:"mean"`
	Median      float64   `json:"median"`
	HasMode     bool      `json:"has_mode"`
	Modes       []float64 `json:"modes,omitempty"`
	TotalApples float64   `json:"total_apples"`
	People      int       `json:"people"`
	Paragraphs  []string  `json:"paragraphs"`
}

// Apples is the mean/median/mode board for you and six friends.
type Apples struct {
	opts   Options
	counts *sample.Collection
	graph  *engine.Graph
}

// NewApples builds an apples board with its default counts.
func NewApples(opts Options) (*Apples, error) {
	b := &Apples{opts: opts, counts: sample.NewCollection()}

	fields := make([]engine.Field, 0, len(AppleFields))
	for i, id := range AppleFields {
		def := float64(defaultFriend)
		if id == FieldYou {
			def = defaultYou
		}
		fields = append(fields, engine.Field{
			ID:    id,
			Label: AppleNames[i],
			Value: engine.Float(def),
			Min:   engine.Float(0),
		})
	}

	g, err := build(ApplesBoard, opts, fields, []engine.Subscription{
		{Outputs: []string{ArtifactCounts}, Deps: AppleFields, Fn: b.computeCounts},
		{Outputs: []string{ArtifactChart}, Deps: []string{ArtifactCounts}, Fn: b.computeChart},
		{Outputs: []string{ArtifactStory}, Deps: []string{ArtifactCounts}, Fn: b.computeStory},
	})
	if err != nil {
		return nil, err
	}
	b.graph = g
	return b, nil
}

func (b *Apples) Name() string         { return ApplesBoard }
func (b *Apples) Graph() *engine.Graph { return b.graph }
func (b *Apples) Samples() []float64   { return b.counts.Values() }

// computeCounts rebuilds the seven-value collection. Any cleared field
// suppresses the whole board.
func (b *Apples) computeCounts(ctx context.Context, in engine.Inputs) (map[string]any, error) {
	vals, err := in.Require(AppleFields...)
	if err != nil {
		return nil, err
	}
	in.OnCommit(func() {
		b.counts.Replace(vals)
		b.opts.record(ctx, ApplesBoard, "snapshot", vals)
	})
	return map[string]any{ArtifactCounts: vals}, nil
}

func countsFrom(in engine.Inputs) ([]float64, error) {
	v, ok := in.Artifact(ArtifactCounts)
	if !ok {
		return nil, engine.ErrNoUpdate
	}
	counts, ok := v.([]float64)
	if !ok || len(counts) == 0 {
		return nil, fmt.Errorf("counts artifact has type %T", v)
	}
	return counts, nil
}

func (b *Apples) computeChart(_ context.Context, in engine.Inputs) (map[string]any, error) {
	counts, err := countsFrom(in)
	if err != nil {
		return nil, err
	}
	fig, err := AppleChart(counts)
	if err != nil {
		return nil, err
	}
	return map[string]any{ArtifactChart: fig}, nil
}

func (b *Apples) computeStory(_ context.Context, in engine.Inputs) (map[string]any, error) {
	counts, err := countsFrom(in)
	if err != nil {
		return nil, err
	}
	story, err := AppleStory(counts)
	if err != nil {
		return nil, err
	}
	return map[string]any{ArtifactStory: story}, nil
}

// AppleChart builds the apples-per-person figure: one apple marker per
// apple, mean and median reference lines and a pointer at every mode.
func AppleChart(counts []float64) (chart.Figure, error) {
	mean, err := stats.Mean(counts)
	if err != nil {
		return chart.Figure{}, err
	}
	median, _ := stats.Median(counts)
	_, highest, _ := stats.Bounds(counts)

	names := make([]any, len(counts))
	for i := range counts {
		names[i] = personName(i)
	}

	apples := chart.Trace{Type: "scatter", Name: "Apples", Mode: "text"}
	for i, c := range counts {
		n := min(int(c), maxAppleMarker)
		for j := 0; j < n; j++ {
			apples.X = append(apples.X, names[i])
			apples.Y = append(apples.Y, float64(j+1))
			apples.Text = append(apples.Text, "🍎")
		}
	}

	fig := chart.Figure{
		Data: []chart.Trace{
			{
				Type:      "scatter",
				Name:      "Mean Apples",
				Mode:      "lines",
				X:         names,
				Y:         chart.Repeat(mean, len(counts)),
				Fill:      "tozeroy",
				FillColor: "rgba(255, 255, 0, 0.6)",
			},
			{
				Type: "scatter",
				Name: "Median Apples",
				Mode: "lines",
				X:    names,
				Y:    chart.Repeat(median, len(counts)),
				Line: &chart.Line{Color: "green", Width: 2},
			},
			apples,
		},
		Layout: chart.Layout{
			Title: "Number of Apples per Person",
			XAxis: chart.Axis{Title: "Names"},
			YAxis: chart.Axis{Title: "Number of Apples", Range: []float64{0, highest + 1}},
		},
	}

	if stats.HasMode(counts) {
		modes := stats.Multimode(counts)
		for i, c := range counts {
			if !slices.Contains(modes, c) {
				continue
			}
			fig.Layout.Annotations = append(fig.Layout.Annotations,
				chart.Annotation{X: names[i], Y: c, Text: "👇", ShowArrow: true, ArrowHead: 2, Opacity: 0.8},
				chart.Annotation{
					X: names[i], Y: c,
					Text:   "The mode: " + humanize.Ftoa(c),
					YShift: 20,
					Font:   &chart.Font{Size: 12, Color: "blue"},
				},
			)
		}
	}
	return fig, nil
}

// AppleStory builds the explanation text for the given counts.
func AppleStory(counts []float64) (Story, error) {
	mean, err := stats.Mean(counts)
	if err != nil {
		return Story{}, err
	}
	median, _ := stats.Median(counts)

	var total float64
	for _, c := range counts {
		total += c
	}

	s := Story{
		Mean:        mean,
		Median:      median,
		HasMode:     stats.HasMode(counts),
		TotalApples: total,
		People:      len(counts),
	}

	s.Paragraphs = append(s.Paragraphs, fmt.Sprintf(
		"Imagine that we all share our apples together and divide them fairly. "+
			"In that case, each one of us would have approximately %.2f apples on average! "+
			"That's the power of sharing and fairness, and that's what we call the mean or average!", mean))

	if s.HasMode {
		s.Modes = stats.Multimode(counts)
		s.Paragraphs = append(s.Paragraphs,
			"The mode value represents the number of apples that appear most often. In this case, the mode is "+
				formatList(s.Modes)+" 🍎")
	} else {
		s.Paragraphs = append(s.Paragraphs, "There is no mode for the given apple quantities.")
	}

	s.Paragraphs = append(s.Paragraphs,
		"The median value represents the middle value when the apple quantities are arranged in ascending order. "+
			"When the total number of apple quantities is even, the median is the average of the two middle values; "+
			"when it is odd, the median is the middle value directly.",
		"The median value for the current data is: "+humanize.Ftoa(median),
		"The total number of apples is: "+humanize.Commaf(total),
		fmt.Sprintf("There are %d people in total.", s.People),
	)
	return s, nil
}

func personName(i int) string {
	if i < len(AppleNames) {
		return AppleNames[i]
	}
	return fmt.Sprintf("Friend %d", i)
}

func formatList(xs []float64) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = humanize.Ftoa(x)
	}
	return strings.Join(parts, ", ")
}
