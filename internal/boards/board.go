// Package boards defines the two dashboards: the apples board (mean,
// median and mode of seven apple counts) and the trees board (generated and
// measured tree heights). Each board owns its own graph and sample
// collection, so every session gets independent state.
package boards

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/talgya/statboard/internal/engine"
	"github.com/talgya/statboard/internal/sample"
)

// Board names used in URLs, metrics and the journal.
const (
	ApplesBoard = "apples"
	TreesBoard  = "trees"
)

// Board is a dashboard backed by a recomputation graph.
type Board interface {
	Name() string
	Graph() *engine.Graph
	Samples() []float64
}

// Journal records sample collections as they change.
type Journal interface {
	Record(ctx context.Context, session, board, kind string, values []float64) error
}

// Options configures a board for one session.
type Options struct {
	Session  string
	Journal  Journal
	Source   sample.Source
	Recorder engine.Recorder
}

func (o Options) record(ctx context.Context, board, kind string, values []float64) {
	if o.Journal == nil {
		return
	}
	// Records follow a commit and outlive the request that caused it.
	if err := o.Journal.Record(context.WithoutCancel(ctx), o.Session, board, kind, values); err != nil {
		slog.Warn("journal write failed", "session", o.Session, "board", board, "kind", kind, "error", err)
	}
}

// New builds the named board.
func New(name string, opts Options) (Board, error) {
	switch name {
	case ApplesBoard:
		return NewApples(opts)
	case TreesBoard:
		return NewTrees(opts)
	default:
		return nil, fmt.Errorf("unknown board %q", name)
	}
}

func build(name string, opts Options, fields []engine.Field, subs []engine.Subscription) (*engine.Graph, error) {
	g, err := engine.NewGraph(name, fields...)
	if err != nil {
		return nil, err
	}
	if opts.Recorder != nil {
		g.SetRecorder(opts.Recorder)
	}
	for _, s := range subs {
		if err := g.Register(s); err != nil {
			return nil, err
		}
	}
	return g, nil
}
