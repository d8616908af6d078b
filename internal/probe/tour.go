package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// TourOptions controls what the tour does.
type TourOptions struct {
	// Apples are the seven counts to enter; nil keeps the defaults.
	Apples []float64
	// Measured is appended to the trees board.
	Measured float64
	// Keep leaves the session in place instead of deleting it.
	Keep bool
}

// Tour creates a session, drives both boards and writes what they show to w.
// It fails if a board does not respond the way its inputs require.
func Tour(ctx context.Context, c *Client, w io.Writer, opts TourOptions) error {
	id, err := c.CreateSession(ctx)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	fmt.Fprintf(w, "session %s\n", id)
	if !opts.Keep {
		defer func() {
			if err := c.DeleteSession(context.WithoutCancel(ctx), id); err != nil {
				fmt.Fprintf(w, "warning: delete session: %v\n", err)
			}
		}()
	}

	if err := appleTour(ctx, c, w, id, opts.Apples); err != nil {
		return err
	}
	return treeTour(ctx, c, w, id, opts.Measured)
}

func appleTour(ctx context.Context, c *Client, w io.Writer, id string, counts []float64) error {
	fields := []string{"you", "friend1", "friend2", "friend3", "friend4", "friend5", "friend6"}
	if counts != nil && len(counts) != len(fields) {
		return fmt.Errorf("need %d apple counts, got %d", len(fields), len(counts))
	}
	for i, v := range counts {
		if _, err := c.SetInput(ctx, id, "apples", fields[i], &v); err != nil {
			return fmt.Errorf("set %s: %w", fields[i], err)
		}
	}

	state, err := c.Board(ctx, id, "apples")
	if err != nil {
		return fmt.Errorf("read apples: %w", err)
	}
	if counts != nil && !equal(state.Samples, counts) {
		return fmt.Errorf("apples board holds %v, want %v", state.Samples, counts)
	}

	var story struct {
		Paragraphs []string `json:"paragraphs"`
	}
	if err := decodeArtifact(state, "story", &story); err != nil {
		return err
	}
	fmt.Fprintf(w, "\napples %v\n", state.Samples)
	for _, p := range story.Paragraphs {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

func treeTour(ctx context.Context, c *Client, w io.Writer, id string, measured float64) error {
	before, err := c.Board(ctx, id, "trees")
	if err != nil {
		return fmt.Errorf("read trees: %w", err)
	}

	if _, err := c.SetInput(ctx, id, "trees", "measured", &measured); err != nil {
		return fmt.Errorf("set measured: %w", err)
	}
	commit, err := c.Action(ctx, id, "trees", "measure")
	if err != nil {
		return fmt.Errorf("measure: %w", err)
	}

	after, err := c.Board(ctx, id, "trees")
	if err != nil {
		return fmt.Errorf("read trees: %w", err)
	}
	if len(after.Samples) != len(before.Samples)+1 {
		return fmt.Errorf("measure changed sample count from %d to %d", len(before.Samples), len(after.Samples))
	}
	if last := after.Samples[len(after.Samples)-1]; last != measured {
		return fmt.Errorf("measure appended %v, want %v", last, measured)
	}

	var summary struct {
		Lines []string `json:"lines"`
	}
	if err := decodeArtifact(after, "summary", &summary); err != nil {
		return err
	}
	fmt.Fprintf(w, "\ntrees: %s samples, updated %v\n", humanize.Comma(int64(len(after.Samples))), commit.Updated)
	for _, l := range summary.Lines {
		fmt.Fprintf(w, "  %s\n", l)
	}
	return nil
}

func decodeArtifact(state *BoardState, id string, target any) error {
	a, ok := state.Artifacts[id]
	if !ok {
		return fmt.Errorf("%s board has no %s artifact", state.Board, id)
	}
	if err := json.Unmarshal(a.Value, target); err != nil {
		return fmt.Errorf("decode %s: %w", id, err)
	}
	return nil
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
