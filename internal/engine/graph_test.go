package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSumGraph(t *testing.T) (*Graph, map[string]int) {
	t.Helper()

	g, err := NewGraph("test",
		Field{ID: "a", Value: Float(1), Min: Float(0)},
		Field{ID: "b", Value: Float(2), Min: Float(0)},
		Field{ID: "c", Value: Float(3)},
	)
	require.NoError(t, err)

	calls := map[string]int{}
	require.NoError(t, g.Register(Subscription{
		Outputs: []string{"sum"},
		Deps:    []string{"a", "b"},
		Fn: func(_ context.Context, in Inputs) (map[string]any, error) {
			calls["sum"]++
			vals, err := in.Require("a", "b")
			if err != nil {
				return nil, err
			}
			return map[string]any{"sum": vals[0] + vals[1]}, nil
		},
	}))
	require.NoError(t, g.Register(Subscription{
		Outputs: []string{"double"},
		Deps:    []string{"sum"},
		Fn: func(_ context.Context, in Inputs) (map[string]any, error) {
			calls["double"]++
			v, _ := in.Artifact("sum")
			return map[string]any{"double": v.(float64) * 2}, nil
		},
	}))
	require.NoError(t, g.Register(Subscription{
		Outputs: []string{"echo"},
		Deps:    []string{"c"},
		Fn: func(_ context.Context, in Inputs) (map[string]any, error) {
			calls["echo"]++
			v, ok := in.Value("c")
			if !ok {
				return nil, ErrNoUpdate
			}
			return map[string]any{"echo": v}, nil
		},
	}))
	return g, calls
}

func TestGraph_EvaluateRunsEverything(t *testing.T) {
	g, calls := newSumGraph(t)

	commit, err := g.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"sum", "double", "echo"}, commit.Updated())
	assert.Equal(t, map[string]int{"sum": 1, "double": 1, "echo": 1}, calls)

	a, ok := g.Artifact("double")
	require.True(t, ok)
	assert.Equal(t, 6.0, a.Value)
	assert.Equal(t, uint64(1), a.Version)
}

func TestGraph_SetReevaluatesOnlyAffected(t *testing.T) {
	g, calls := newSumGraph(t)
	_, err := g.Evaluate(context.Background())
	require.NoError(t, err)

	commit, err := g.Set(context.Background(), "c", Float(9))
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, commit.Updated())
	assert.Equal(t, 1, calls["sum"])
	assert.Equal(t, 1, calls["double"])
	assert.Equal(t, 2, calls["echo"])

	commit, err = g.Set(context.Background(), "a", Float(10))
	require.NoError(t, err)
	// Artifact dependents run after their producers.
	assert.Equal(t, []string{"sum", "double"}, commit.Updated())
	d, _ := g.Artifact("double")
	assert.Equal(t, 24.0, d.Value)
	assert.Equal(t, uint64(2), d.Version)
}

func TestGraph_NullInputSuppressesAndKeepsPrevious(t *testing.T) {
	g, calls := newSumGraph(t)
	_, err := g.Evaluate(context.Background())
	require.NoError(t, err)

	commit, err := g.Set(context.Background(), "a", nil)
	require.NoError(t, err)
	assert.Empty(t, commit.Artifacts)
	assert.Equal(t, []string{"sum"}, commit.Suppressed)
	// The dependent never ran because nothing upstream changed.
	assert.Equal(t, 1, calls["double"])

	sum, _ := g.Artifact("sum")
	assert.Equal(t, 3.0, sum.Value)
	assert.Equal(t, uint64(1), sum.Version)

	f, ok := g.Field("a")
	require.True(t, ok)
	assert.Nil(t, f.Value)
}

func TestGraph_SetSameValueIsNoop(t *testing.T) {
	g, calls := newSumGraph(t)
	_, err := g.Evaluate(context.Background())
	require.NoError(t, err)

	commit, err := g.Set(context.Background(), "a", Float(1))
	require.NoError(t, err)
	assert.Empty(t, commit.Artifacts)
	assert.Equal(t, 1, calls["sum"])
}

func TestGraph_SetRejectsInvalid(t *testing.T) {
	g, _ := newSumGraph(t)

	_, err := g.Set(context.Background(), "a", Float(-1))
	assert.ErrorIs(t, err, ErrInvalidValue)
	f, _ := g.Field("a")
	assert.Equal(t, 1.0, *f.Value)

	_, err = g.Set(context.Background(), "nope", Float(1))
	assert.ErrorIs(t, err, ErrUnknownField)
}

func TestGraph_FailedRecomputeCommitsNothing(t *testing.T) {
	g, err := NewGraph("fail", Field{ID: "x", Value: Float(1)})
	require.NoError(t, err)
	require.NoError(t, g.Register(Subscription{
		Outputs: []string{"first"},
		Deps:    []string{"x"},
		Fn: func(_ context.Context, in Inputs) (map[string]any, error) {
			v, _ := in.Value("x")
			return map[string]any{"first": v}, nil
		},
	}))
	boom := errors.New("boom")
	require.NoError(t, g.Register(Subscription{
		Outputs: []string{"second"},
		Deps:    []string{"first"},
		Fn: func(context.Context, Inputs) (map[string]any, error) {
			return nil, boom
		},
	}))

	_, err = g.Evaluate(context.Background())
	assert.ErrorIs(t, err, boom)
	_, ok := g.Artifact("first")
	assert.False(t, ok)
}

func TestGraph_FailedBatchRollsBack(t *testing.T) {
	g, err := NewGraph("rollback", Field{ID: "x", Value: Float(1)})
	require.NoError(t, err)

	var applied []float64
	require.NoError(t, g.Register(Subscription{
		Outputs: []string{"first"},
		Deps:    []string{"x"},
		Fn: func(_ context.Context, in Inputs) (map[string]any, error) {
			v, _ := in.Value("x")
			in.OnCommit(func() { applied = append(applied, v) })
			return map[string]any{"first": v}, nil
		},
	}))
	boom := errors.New("boom")
	require.NoError(t, g.Register(Subscription{
		Outputs: []string{"second"},
		Deps:    []string{"first"},
		Fn: func(_ context.Context, in Inputs) (map[string]any, error) {
			if v, _ := in.Artifact("first"); v == 2.0 {
				return nil, boom
			}
			return map[string]any{"second": true}, nil
		},
	}))

	_, err = g.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []float64{1}, applied)

	_, err = g.Set(context.Background(), "x", Float(2))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []float64{1}, applied)
	f, _ := g.Field("x")
	assert.Equal(t, 1.0, *f.Value)
	first, _ := g.Artifact("first")
	assert.Equal(t, uint64(1), first.Version)

	_, err = g.Set(context.Background(), "x", Float(3))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3}, applied)
}

func TestGraph_SuppressedSubscriptionDropsHooks(t *testing.T) {
	g, err := NewGraph("hooks", Field{ID: "x"})
	require.NoError(t, err)

	ran := false
	require.NoError(t, g.Register(Subscription{
		Outputs: []string{"y"},
		Deps:    []string{"x"},
		Fn: func(_ context.Context, in Inputs) (map[string]any, error) {
			in.OnCommit(func() { ran = true })
			return nil, ErrNoUpdate
		},
	}))

	commit, err := g.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, commit.Suppressed)
	assert.False(t, ran)
}

func TestGraph_UndeclaredOutputFails(t *testing.T) {
	g, err := NewGraph("bad", Field{ID: "x", Value: Float(1)})
	require.NoError(t, err)
	require.NoError(t, g.Register(Subscription{
		Outputs: []string{"y"},
		Deps:    []string{"x"},
		Fn: func(context.Context, Inputs) (map[string]any, error) {
			return map[string]any{"z": 1}, nil
		},
	}))
	_, err = g.Evaluate(context.Background())
	assert.Error(t, err)
}

func TestGraph_RegisterValidation(t *testing.T) {
	g, err := NewGraph("reg", Field{ID: "x"})
	require.NoError(t, err)
	fn := func(context.Context, Inputs) (map[string]any, error) { return nil, nil }

	err = g.Register(Subscription{Outputs: []string{"y"}, Deps: []string{"missing"}, Fn: fn})
	assert.ErrorIs(t, err, ErrUnknownDependency)

	// A subscription cannot depend on its own output.
	err = g.Register(Subscription{Outputs: []string{"y"}, Deps: []string{"y"}, Fn: fn})
	assert.ErrorIs(t, err, ErrUnknownDependency)

	require.NoError(t, g.Register(Subscription{Outputs: []string{"y"}, Deps: []string{"x"}, Fn: fn}))
	err = g.Register(Subscription{Outputs: []string{"y"}, Deps: []string{"x"}, Fn: fn})
	assert.ErrorIs(t, err, ErrDuplicateOutput)

	err = g.Register(Subscription{Outputs: []string{"x"}, Fn: fn})
	assert.ErrorIs(t, err, ErrDuplicateOutput)

	err = g.Register(Subscription{Outputs: []string{"z"}})
	assert.Error(t, err)
}

func TestNewGraph_RejectsBadFields(t *testing.T) {
	_, err := NewGraph("dup", Field{ID: "x"}, Field{ID: "x"})
	assert.Error(t, err)

	_, err = NewGraph("default", Field{ID: "x", Value: Float(-1), Min: Float(0)})
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestGraph_TriggerAndStateDeps(t *testing.T) {
	g, err := NewGraph("actions",
		Field{ID: "n", Value: Float(3)},
		Field{ID: "go", Action: true},
	)
	require.NoError(t, err)

	runs := 0
	require.NoError(t, g.Register(Subscription{
		Outputs: []string{"out"},
		Deps:    []string{"go"},
		State:   []string{"n"},
		Fn: func(_ context.Context, in Inputs) (map[string]any, error) {
			runs++
			assert.True(t, in.Changed("go"))
			assert.False(t, in.Changed("n"))
			n, _ := in.Value("n")
			return map[string]any{"out": n}, nil
		},
	}))

	// State-only fields do not trigger.
	_, err = g.Set(context.Background(), "n", Float(5))
	require.NoError(t, err)
	assert.Equal(t, 0, runs)

	commit, err := g.Trigger(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	assert.Equal(t, 5.0, commit.Artifacts[0].Value)

	f, _ := g.Field("go")
	assert.Equal(t, 1.0, *f.Value)

	_, err = g.Trigger(context.Background(), "n")
	assert.ErrorIs(t, err, ErrNotAction)
}

func TestGraph_Subscribe(t *testing.T) {
	g, _ := newSumGraph(t)
	id, ch := g.Subscribe()

	_, err := g.Evaluate(context.Background())
	require.NoError(t, err)

	select {
	case c := <-ch:
		assert.Equal(t, "test", c.Graph)
		assert.Len(t, c.Artifacts, 3)
	case <-time.After(time.Second):
		t.Fatal("no commit published")
	}

	// Suppressed batches are not published.
	_, err = g.Set(context.Background(), "c", nil)
	require.NoError(t, err)
	select {
	case c := <-ch:
		t.Fatalf("unexpected commit %+v", c)
	default:
	}

	g.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
}

func TestGraph_Snapshot(t *testing.T) {
	g, _ := newSumGraph(t)
	_, err := g.Evaluate(context.Background())
	require.NoError(t, err)

	snap := g.Snapshot()
	require.Len(t, snap.Fields, 3)
	assert.Equal(t, "a", snap.Fields[0].ID)
	assert.Contains(t, snap.Artifacts, "sum")

	// Snapshots are copies.
	*snap.Fields[0].Value = 100
	f, _ := g.Field("a")
	assert.Equal(t, 1.0, *f.Value)
}

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]string
}

func (r *recordingRecorder) ObserveRecompute(_, sub, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[sub] = outcome
}

func TestGraph_Recorder(t *testing.T) {
	g, _ := newSumGraph(t)
	rec := &recordingRecorder{outcomes: map[string]string{}}
	g.SetRecorder(rec)

	_, err := g.Set(context.Background(), "c", nil)
	require.NoError(t, err)
	_, err = g.Set(context.Background(), "a", Float(4))
	require.NoError(t, err)

	assert.Equal(t, OutcomeSuppressed, rec.outcomes["echo"])
	assert.Equal(t, OutcomeApplied, rec.outcomes["sum"])
	assert.Equal(t, OutcomeApplied, rec.outcomes["double"])
}

func TestGraph_ConcurrentSetsSerialize(t *testing.T) {
	g, _ := newSumGraph(t)
	_, err := g.Evaluate(context.Background())
	require.NoError(t, err)

	subID, ch := g.Subscribe()
	var (
		outOfOrder int
		received   int
		drained    = make(chan struct{})
	)
	go func() {
		defer close(drained)
		var last uint64
		for c := range ch {
			for _, a := range c.Artifacts {
				if a.ID != "sum" {
					continue
				}
				received++
				if a.Version <= last {
					outOfOrder++
				}
				last = a.Version
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = g.Set(context.Background(), "a", Float(float64(i*1000+j)))
			}
		}(i)
	}
	wg.Wait()
	g.Unsubscribe(subID)
	<-drained

	f, _ := g.Field("a")
	sum, _ := g.Artifact("sum")
	double, _ := g.Artifact("double")
	assert.Equal(t, *f.Value+2, sum.Value)
	assert.Equal(t, sum.Value.(float64)*2, double.Value)

	assert.Positive(t, received)
	assert.Zero(t, outOfOrder, "subscriber saw artifact versions go backwards")
}

func TestField_Validate(t *testing.T) {
	f := Field{ID: "n", Min: Float(1), Max: Float(10), Integer: true}
	assert.NoError(t, f.Validate(nil))
	assert.NoError(t, f.Validate(Float(5)))
	assert.ErrorIs(t, f.Validate(Float(0)), ErrInvalidValue)
	assert.ErrorIs(t, f.Validate(Float(11)), ErrInvalidValue)
	assert.ErrorIs(t, f.Validate(Float(2.5)), ErrInvalidValue)
}
