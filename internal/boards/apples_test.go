package boards

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/statboard/internal/chart"
	"github.com/talgya/statboard/internal/engine"
)

type memJournal struct {
	mu      sync.Mutex
	entries []string
	values  [][]float64
}

func (j *memJournal) Record(_ context.Context, session, board, kind string, values []float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, session+"/"+board+"/"+kind)
	j.values = append(j.values, values)
	return nil
}

func newApples(t *testing.T) *Apples {
	t.Helper()
	b, err := NewApples(Options{Session: "s1"})
	require.NoError(t, err)
	_, err = b.Graph().Evaluate(context.Background())
	require.NoError(t, err)
	return b
}

func setApples(t *testing.T, b *Apples, counts ...float64) engine.Commit {
	t.Helper()
	var last engine.Commit
	for i, c := range counts {
		commit, err := b.Graph().Set(context.Background(), AppleFields[i], engine.Float(c))
		require.NoError(t, err)
		if len(commit.Artifacts) > 0 {
			last = commit
		}
	}
	return last
}

func storyOf(t *testing.T, b *Apples) Story {
	t.Helper()
	a, ok := b.Graph().Artifact(ArtifactStory)
	require.True(t, ok)
	return a.Value.(Story)
}

func TestApples_DefaultRender(t *testing.T) {
	b := newApples(t)

	assert.Equal(t, []float64{10, 5, 5, 5, 5, 5, 5}, b.Samples())

	s := storyOf(t, b)
	assert.InDelta(t, 40.0/7, s.Mean, 1e-9)
	assert.Equal(t, 5.0, s.Median)
	assert.True(t, s.HasMode)
	assert.Equal(t, []float64{5}, s.Modes)
	assert.Equal(t, 40.0, s.TotalApples)
	assert.Equal(t, 7, s.People)
	assert.Contains(t, s.Paragraphs[0], "approximately 5.71 apples")
	assert.Contains(t, s.Paragraphs[1], "the mode is 5")
	assert.Contains(t, s.Paragraphs, "The median value for the current data is: 5")
	assert.Contains(t, s.Paragraphs, "The total number of apples is: 40")
	assert.Contains(t, s.Paragraphs, "There are 7 people in total.")
}

func TestApples_NoMode(t *testing.T) {
	b := newApples(t)
	setApples(t, b, 1, 2, 3, 4, 5, 6, 7)

	s := storyOf(t, b)
	assert.InDelta(t, 4.0, s.Mean, 1e-9)
	assert.Equal(t, 4.0, s.Median)
	assert.False(t, s.HasMode)
	assert.Empty(t, s.Modes)
	assert.Contains(t, s.Paragraphs, "There is no mode for the given apple quantities.")

	c, ok := b.Graph().Artifact(ArtifactChart)
	require.True(t, ok)
	assert.Empty(t, c.Value.(chart.Figure).Layout.Annotations)
}

func TestApples_ClearedFieldKeepsPreviousArtifacts(t *testing.T) {
	b := newApples(t)
	before, _ := b.Graph().Artifact(ArtifactStory)

	commit, err := b.Graph().Set(context.Background(), "friend3", nil)
	require.NoError(t, err)
	assert.Empty(t, commit.Artifacts)
	assert.Equal(t, []string{ArtifactCounts}, commit.Suppressed)

	after, _ := b.Graph().Artifact(ArtifactStory)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Value, after.Value)
	assert.Len(t, b.Samples(), 7)

	// Refilling the field resumes recomputation.
	commit, err = b.Graph().Set(context.Background(), "friend3", engine.Float(8))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ArtifactCounts, ArtifactChart, ArtifactStory}, commit.Updated())
	assert.Equal(t, []float64{10, 5, 5, 8, 5, 5, 5}, b.Samples())
}

func TestApples_NegativeRejected(t *testing.T) {
	b := newApples(t)
	_, err := b.Graph().Set(context.Background(), FieldYou, engine.Float(-2))
	assert.ErrorIs(t, err, engine.ErrInvalidValue)
}

func TestApples_MeanIsSumOverSeven(t *testing.T) {
	inputs := [][]float64{
		{0, 0, 0, 0, 0, 0, 1},
		{3, 9, 12, 0, 4, 4, 2},
		{2.5, 2.5, 7, 8, 1, 0, 11},
	}
	for _, counts := range inputs {
		s, err := AppleStory(counts)
		require.NoError(t, err)
		var sum float64
		for _, c := range counts {
			sum += c
		}
		assert.InDelta(t, sum/7, s.Mean, 1e-9)
		assert.Equal(t, sum, s.TotalApples)
	}
}

func TestAppleChart(t *testing.T) {
	fig, err := AppleChart([]float64{3, 1, 3, 0, 2, 1, 2})
	require.NoError(t, err)

	require.Len(t, fig.Data, 3)
	assert.Equal(t, "Mean Apples", fig.Data[0].Name)
	assert.InDeltaSlice(t, chart.Repeat(12.0/7, 7), fig.Data[0].Y, 1e-9)
	assert.Equal(t, "Median Apples", fig.Data[1].Name)
	assert.Equal(t, chart.Repeat(2, 7), fig.Data[1].Y)

	// One marker per apple.
	assert.Len(t, fig.Data[2].Y, 12)
	assert.Equal(t, []float64{0, 4}, fig.Layout.YAxis.Range)

	// Three modes (3, 1, 2), each appearing twice, two annotations per point.
	assert.Len(t, fig.Layout.Annotations, 12)
	assert.Equal(t, "You", fig.Layout.Annotations[0].X)
	assert.Equal(t, "The mode: 3", fig.Layout.Annotations[1].Text)
}

func TestAppleChart_CapsMarkers(t *testing.T) {
	fig, err := AppleChart([]float64{1000, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Len(t, fig.Data[2].Y, maxAppleMarker)
}

func TestAppleStory_FractionalMedian(t *testing.T) {
	s, err := AppleStory([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Contains(t, s.Paragraphs, "The median value for the current data is: 2.5")
	assert.Contains(t, s.Paragraphs, "There are 4 people in total.")
}

func TestApples_Journal(t *testing.T) {
	j := &memJournal{}
	b, err := NewApples(Options{Session: "abc", Journal: j})
	require.NoError(t, err)
	_, err = b.Graph().Evaluate(context.Background())
	require.NoError(t, err)

	require.Len(t, j.entries, 1)
	assert.Equal(t, "abc/apples/snapshot", j.entries[0])
	assert.Equal(t, []float64{10, 5, 5, 5, 5, 5, 5}, j.values[0])
}

func TestNew(t *testing.T) {
	b, err := New(ApplesBoard, Options{})
	require.NoError(t, err)
	assert.Equal(t, ApplesBoard, b.Name())

	b, err = New(TreesBoard, Options{})
	require.NoError(t, err)
	assert.Equal(t, TreesBoard, b.Name())

	_, err = New("pears", Options{})
	assert.Error(t, err)
}
