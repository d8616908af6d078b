package engine

// Inputs is the view of the graph a ComputeFunc receives: only the fields
// and artifacts its subscription declared.
type Inputs struct {
	fields    map[string]*float64
	artifacts map[string]any
	changed   map[string]bool
	hooks     *[]func()
}

// Value returns a field's value. ok is false when the field is null or was
// not declared.
func (in Inputs) Value(id string) (v float64, ok bool) {
	p := in.fields[id]
	if p == nil {
		return 0, false
	}
	return *p, true
}

// Require returns the values of ids in order, or ErrNoUpdate if any of them
// is null.
func (in Inputs) Require(ids ...string) ([]float64, error) {
	vals := make([]float64, len(ids))
	for i, id := range ids {
		v, ok := in.Value(id)
		if !ok {
			return nil, ErrNoUpdate
		}
		vals[i] = v
	}
	return vals, nil
}

// Artifact returns the value of a declared artifact dependency. Artifacts
// produced earlier in the same batch are visible.
func (in Inputs) Artifact(id string) (any, bool) {
	v, ok := in.artifacts[id]
	return v, ok
}

// Changed reports whether id changed in the batch being dispatched.
func (in Inputs) Changed(id string) bool {
	return in.changed[id]
}

// OnCommit defers fn until the batch commits. It is dropped if the
// subscription returns an error or a later subscription in the batch fails.
// Inputs built with NewInputs run fn immediately.
func (in Inputs) OnCommit(fn func()) {
	if in.hooks == nil {
		fn()
		return
	}
	*in.hooks = append(*in.hooks, fn)
}

// NewInputs builds Inputs directly, for exercising a ComputeFunc in
// isolation. Every listed field counts as changed.
func NewInputs(fields map[string]*float64, artifacts map[string]any) Inputs {
	in := Inputs{
		fields:    fields,
		artifacts: artifacts,
		changed:   make(map[string]bool, len(fields)+len(artifacts)),
	}
	for id := range fields {
		in.changed[id] = true
	}
	for id := range artifacts {
		in.changed[id] = true
	}
	return in
}
