// Package engine provides the reactive recomputation graph behind each
// dashboard. Inputs are Fields; outputs are Artifacts produced by
// Subscriptions that declare the fields and artifacts they depend on.
// Changing a field re-evaluates exactly the subscriptions downstream of it,
// in dependency order, and commits their outputs as one batch.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoUpdate is returned by a ComputeFunc when a required input is
	// missing. The subscription's previous artifacts stay in place.
	ErrNoUpdate = errors.New("no update")

	ErrInvalidValue      = errors.New("invalid value")
	ErrUnknownField      = errors.New("unknown field")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicateOutput   = errors.New("duplicate output")
	ErrNotAction         = errors.New("field is not an action")
)

// Recompute outcomes reported to a Recorder.
const (
	OutcomeApplied    = "applied"
	OutcomeSuppressed = "suppressed"
	OutcomeFailed     = "failed"
)

// subscriberBuffer is the per-subscriber channel depth. Commits to a full
// channel are dropped for that subscriber.
const subscriberBuffer = 16

// ComputeFunc recomputes one or more artifacts from the inputs it declared.
// It must not call back into the Graph that runs it. Writes to state outside
// the graph go through Inputs.OnCommit.
type ComputeFunc func(ctx context.Context, in Inputs) (map[string]any, error)

// Subscription binds a ComputeFunc to its dependencies.
type Subscription struct {
	// Name identifies the subscription in logs and metrics. Defaults to the
	// comma-joined outputs.
	Name    string
	Outputs []string

	// Deps are field or artifact IDs whose change re-runs Fn.
	Deps []string
	// State are field or artifact IDs Fn reads without being triggered by.
	State []string

	Fn ComputeFunc
}

// Artifact is a derived value. It is replaced wholesale on every
// recomputation; Version counts replacements.
type Artifact struct {
	ID      string `json:"id"`
	Version uint64 `json:"version"`
	Value   any    `json:"value"`
}

// Commit describes one dispatch batch.
type Commit struct {
	Graph      string     `json:"board"`
	Trigger    string     `json:"trigger"`
	Artifacts  []Artifact `json:"artifacts"`
	Suppressed []string   `json:"suppressed,omitempty"`
}

// Updated returns the IDs of the artifacts replaced by the commit.
func (c Commit) Updated() []string {
	ids := make([]string, 0, len(c.Artifacts))
	for _, a := range c.Artifacts {
		ids = append(ids, a.ID)
	}
	return ids
}

// Recorder receives per-subscription timings.
type Recorder interface {
	ObserveRecompute(graph, subscription, outcome string, d time.Duration)
}

// Snapshot is a point-in-time copy of a graph's fields and artifacts.
type Snapshot struct {
	Graph     string              `json:"board"`
	Fields    []Field             `json:"fields"`
	Artifacts map[string]Artifact `json:"artifacts"`
}

// Graph owns a set of fields and the subscriptions computed from them.
// Dispatch is serialized per graph.
type Graph struct {
	name     string
	recorder Recorder

	mu         sync.Mutex
	fields     map[string]*Field
	fieldOrder []string
	subs       []*Subscription
	producers  map[string]*Subscription
	artifacts  map[string]Artifact

	subMu       sync.Mutex
	nextSubID   int
	subscribers map[int]chan Commit
}

// NewGraph creates a graph holding the given fields.
func NewGraph(name string, fields ...Field) (*Graph, error) {
	g := &Graph{
		name:        name,
		fields:      make(map[string]*Field, len(fields)),
		producers:   make(map[string]*Subscription),
		artifacts:   make(map[string]Artifact),
		subscribers: make(map[int]chan Commit),
	}
	for _, f := range fields {
		if _, dup := g.fields[f.ID]; dup {
			return nil, fmt.Errorf("%s: duplicate field %q", name, f.ID)
		}
		if err := f.Validate(f.Value); err != nil {
			return nil, fmt.Errorf("%s: default: %w", name, err)
		}
		f := f.clone()
		g.fields[f.ID] = &f
		g.fieldOrder = append(g.fieldOrder, f.ID)
	}
	return g, nil
}

// Name returns the graph's name.
func (g *Graph) Name() string { return g.name }

// SetRecorder installs r to receive recompute timings.
func (g *Graph) SetRecorder(r Recorder) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.recorder = r
}

// Register adds a subscription. Every dependency must be a field or an
// output of an already registered subscription, so registration order is
// always a valid evaluation order and cycles cannot form.
func (g *Graph) Register(s Subscription) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s.Fn == nil || len(s.Outputs) == 0 {
		return fmt.Errorf("%s: subscription needs a function and at least one output", g.name)
	}
	if s.Name == "" {
		s.Name = strings.Join(s.Outputs, ",")
	}
	for _, out := range s.Outputs {
		if _, ok := g.producers[out]; ok {
			return fmt.Errorf("%s: %w: %q", g.name, ErrDuplicateOutput, out)
		}
		if _, ok := g.fields[out]; ok {
			return fmt.Errorf("%s: %w: %q shadows a field", g.name, ErrDuplicateOutput, out)
		}
	}
	for _, dep := range append(append([]string{}, s.Deps...), s.State...) {
		_, isField := g.fields[dep]
		_, isArtifact := g.producers[dep]
		if !isField && !isArtifact {
			return fmt.Errorf("%s: %s: %w: %q", g.name, s.Name, ErrUnknownDependency, dep)
		}
	}

	sub := s
	g.subs = append(g.subs, &sub)
	for _, out := range s.Outputs {
		g.producers[out] = &sub
	}
	return nil
}

// Set changes a field and re-evaluates everything downstream of it.
// Setting a field to its current value is a no-op. If the batch fails the
// field keeps its previous value.
func (g *Graph) Set(ctx context.Context, id string, v *float64) (Commit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.fields[id]
	if !ok {
		return Commit{}, fmt.Errorf("%s: %w: %q", g.name, ErrUnknownField, id)
	}
	if err := f.Validate(v); err != nil {
		return Commit{}, err
	}
	if sameValue(f.Value, v) {
		return Commit{Graph: g.name, Trigger: id}, nil
	}
	prev := f.Value
	if v == nil {
		f.Value = nil
	} else {
		f.Value = Float(*v)
	}

	commit, err := g.dispatch(ctx, id, map[string]bool{id: true})
	if err != nil {
		f.Value = prev
		return Commit{}, err
	}
	g.publish(commit)
	return commit, nil
}

// Trigger records a click on an action field and dispatches it.
func (g *Graph) Trigger(ctx context.Context, id string) (Commit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	f, ok := g.fields[id]
	if !ok {
		return Commit{}, fmt.Errorf("%s: %w: %q", g.name, ErrUnknownField, id)
	}
	if !f.Action {
		return Commit{}, fmt.Errorf("%s: %w: %q", g.name, ErrNotAction, id)
	}
	prev := f.Value
	clicks := 1.0
	if prev != nil {
		clicks = *prev + 1
	}
	f.Value = Float(clicks)

	commit, err := g.dispatch(ctx, id, map[string]bool{id: true})
	if err != nil {
		f.Value = prev
		return Commit{}, err
	}
	g.publish(commit)
	return commit, nil
}

// Evaluate runs every subscription as if all fields had just changed. It is
// used for the initial render of a board.
func (g *Graph) Evaluate(ctx context.Context) (Commit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dirty := make(map[string]bool, len(g.fields))
	for id := range g.fields {
		dirty[id] = true
	}
	commit, err := g.dispatch(ctx, "", dirty)
	if err != nil {
		return Commit{}, err
	}
	g.publish(commit)
	return commit, nil
}

// dispatch runs the subscriptions touched by dirty in registration order and
// commits all their outputs together, then runs the OnCommit hooks of the
// subscriptions that applied. Nothing is committed and no hook runs if any
// subscription fails. Caller holds g.mu.
func (g *Graph) dispatch(ctx context.Context, trigger string, dirty map[string]bool) (Commit, error) {
	commit := Commit{Graph: g.name, Trigger: trigger}
	staged := make(map[string]any)
	var (
		order []string
		hooks []func()
	)

	for _, s := range g.subs {
		if !touched(s.Deps, dirty) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Commit{}, err
		}

		var pending []func()
		in := g.inputsFor(s, staged, dirty)
		in.hooks = &pending

		start := time.Now()
		out, err := s.Fn(ctx, in)
		switch {
		case errors.Is(err, ErrNoUpdate):
			g.observe(s, OutcomeSuppressed, start)
			commit.Suppressed = append(commit.Suppressed, s.Name)
			continue
		case err != nil:
			g.observe(s, OutcomeFailed, start)
			return Commit{}, fmt.Errorf("%s: recompute %s: %w", g.name, s.Name, err)
		}

		for id := range out {
			if g.producers[id] != s {
				g.observe(s, OutcomeFailed, start)
				return Commit{}, fmt.Errorf("%s: recompute %s: undeclared output %q", g.name, s.Name, id)
			}
		}
		for _, id := range s.Outputs {
			if v, ok := out[id]; ok {
				staged[id] = v
				dirty[id] = true
				order = append(order, id)
			}
		}
		hooks = append(hooks, pending...)
		g.observe(s, OutcomeApplied, start)
	}

	for _, id := range order {
		a := g.artifacts[id]
		a.ID = id
		a.Version++
		a.Value = staged[id]
		g.artifacts[id] = a
		commit.Artifacts = append(commit.Artifacts, a)
	}
	for _, fn := range hooks {
		fn()
	}

	slog.Debug("graph dispatched",
		"graph", g.name,
		"trigger", trigger,
		"updated", len(commit.Artifacts),
		"suppressed", len(commit.Suppressed),
	)
	return commit, nil
}

func (g *Graph) inputsFor(s *Subscription, staged map[string]any, dirty map[string]bool) Inputs {
	in := Inputs{
		fields:    make(map[string]*float64),
		artifacts: make(map[string]any),
		changed:   make(map[string]bool),
	}
	for _, ids := range [][]string{s.Deps, s.State} {
		for _, id := range ids {
			if f, ok := g.fields[id]; ok {
				if f.Value != nil {
					in.fields[id] = Float(*f.Value)
				} else {
					in.fields[id] = nil
				}
			} else if v, ok := staged[id]; ok {
				in.artifacts[id] = v
			} else if a, ok := g.artifacts[id]; ok {
				in.artifacts[id] = a.Value
			}
			if dirty[id] {
				in.changed[id] = true
			}
		}
	}
	return in
}

func (g *Graph) observe(s *Subscription, outcome string, start time.Time) {
	if g.recorder != nil {
		g.recorder.ObserveRecompute(g.name, s.Name, outcome, time.Since(start))
	}
}

// Snapshot copies the current fields and artifacts.
func (g *Graph) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := Snapshot{
		Graph:     g.name,
		Fields:    make([]Field, 0, len(g.fieldOrder)),
		Artifacts: make(map[string]Artifact, len(g.artifacts)),
	}
	for _, id := range g.fieldOrder {
		snap.Fields = append(snap.Fields, g.fields[id].clone())
	}
	for id, a := range g.artifacts {
		snap.Artifacts[id] = a
	}
	return snap
}

// Artifact returns the current artifact with the given ID.
func (g *Graph) Artifact(id string) (Artifact, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.artifacts[id]
	return a, ok
}

// Field returns a copy of the field with the given ID.
func (g *Graph) Field(id string) (Field, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f, ok := g.fields[id]
	if !ok {
		return Field{}, false
	}
	return f.clone(), true
}

// Subscribe returns a channel receiving every non-empty commit.
func (g *Graph) Subscribe() (int, <-chan Commit) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	g.nextSubID++
	ch := make(chan Commit, subscriberBuffer)
	g.subscribers[g.nextSubID] = ch
	return g.nextSubID, ch
}

// Unsubscribe closes and removes a subscriber.
func (g *Graph) Unsubscribe(id int) {
	g.subMu.Lock()
	defer g.subMu.Unlock()
	if ch, ok := g.subscribers[id]; ok {
		close(ch)
		delete(g.subscribers, id)
	}
}

// publish fans a commit out to subscribers. Callers hold g.mu so commits
// reach every subscriber in version order.
func (g *Graph) publish(c Commit) {
	if len(c.Artifacts) == 0 {
		return
	}
	g.subMu.Lock()
	defer g.subMu.Unlock()
	for id, ch := range g.subscribers {
		select {
		case ch <- c:
		default:
			slog.Warn("dropping commit for slow subscriber", "graph", g.name, "sub_id", id)
		}
	}
}

func touched(deps []string, dirty map[string]bool) bool {
	for _, d := range deps {
		if dirty[d] {
			return true
		}
	}
	return false
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
