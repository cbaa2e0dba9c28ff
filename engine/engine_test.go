package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/internal/testutil"
	"github.com/hupe1980/agentgraph/node"
)

func fixed(execs core.ResolverMap) Compiler {
	return CompilerFunc(func(*graph.Spec) (core.Resolver, error) { return execs, nil })
}

func newEngine(execs core.ResolverMap, optFns ...func(o *Options)) *Engine {
	return New(append([]func(o *Options){func(o *Options) { o.Compiler = fixed(execs) }}, optFns...)...)
}

func linearSpec() *graph.Spec {
	return graph.NewBuilder("linear").
		Channel("x", core.Overwrite).
		Channel("y", core.Overwrite).
		Channel("z", core.Overwrite).
		Node("a", graph.Decision, []string{"x"}, nil).
		Node("b", graph.Decision, []string{"y"}, nil).
		Node("c", graph.Decision, []string{"z"}, nil).
		Edge("a", "b").
		Edge("b", "c").
		Edge("c", graph.End).
		Entry("a").
		MustBuild()
}

// fanSpec runs start, then a and b in one superstep, then join once.
func fanSpec() *graph.Spec {
	return graph.NewBuilder("fan").
		Channel("items", core.Append).
		Channel("answer", core.Overwrite).
		Node("start", graph.Decision, []string{"items"}, nil).
		Node("a", graph.Decision, []string{"items", "answer"}, nil).
		Node("b", graph.Decision, []string{"items", "answer"}, nil).
		Node("join", graph.Decision, []string{"answer"}, nil).
		Edge("start", "b").
		Edge("start", "a").
		Edge("a", "join").
		Edge("b", "join").
		Edge("join", graph.End).
		Entry("start").
		MustBuild()
}

func asRunError(t *testing.T, err error) *core.RunError {
	t.Helper()
	var rerr *core.RunError
	require.ErrorAs(t, err, &rerr)
	return rerr
}

func fastRetry(attempts int) graph.RetryPolicy {
	return graph.RetryPolicy{MaxAttempts: attempts, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestRunLinear(t *testing.T) {
	a := testutil.Returns(core.Delta{"x": "1"})
	b := testutil.Returns(core.Delta{"y": "2"})
	c := testutil.Returns(core.Delta{"z": 3})
	eng := newEngine(core.ResolverMap{"a": a, "b": b, "c": c})

	res, err := eng.Run(context.Background(), linearSpec(), nil, 0)
	require.NoError(t, err)

	assert.NotEmpty(t, res.ExecutionID)
	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, res.Frontiers)
	assert.Equal(t, "1", res.State.GetString("x"))
	assert.Equal(t, "2", res.State.GetString("y"))
	z, _ := res.State.Get("z")
	assert.Equal(t, float64(3), z)

	require.Len(t, res.Log, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, res.Log[i].Node)
		assert.Equal(t, i+1, res.Log[i].Step)
		assert.Equal(t, core.StepSuccess, res.Log[i].Status)
		assert.Equal(t, 1, res.Log[i].Attempt)
	}
	assert.Equal(t, core.Delta{"z": float64(3)}, res.Log[2].Output)

	require.Len(t, b.Inputs(), 1)
	assert.Equal(t, "1", b.Inputs()[0].GetString("x"))
	assert.Equal(t, 0, eng.Active())
}

func TestRunFanOutMergesInLexicalOrder(t *testing.T) {
	run := func() (*Result, *testutil.ScriptedExecutable) {
		join := testutil.Returns(core.Delta{"answer": "done"})
		eng := newEngine(core.ResolverMap{
			"start": testutil.Returns(core.Delta{"items": "s"}),
			"a":     testutil.Returns(core.Delta{"items": "a"}),
			"b":     testutil.Returns(core.Delta{"items": []any{"b1", "b2"}}),
			"join":  join,
		})
		res, err := eng.Run(context.Background(), fanSpec(), nil, 0)
		require.NoError(t, err)
		return res, join
	}

	res, join := run()
	assert.Equal(t, [][]string{{"start"}, {"a", "b"}, {"join"}}, res.Frontiers)
	assert.Equal(t, []any{"s", "a", "b1", "b2"}, res.State.List("items"))
	assert.Equal(t, 1, join.Calls())

	for i := 0; i < 5; i++ {
		again, _ := run()
		assert.Equal(t, res.Frontiers, again.Frontiers)
		assert.True(t, res.State.Equal(again.State))
	}
}

func TestRunStateConflict(t *testing.T) {
	eng := newEngine(core.ResolverMap{
		"start": testutil.Returns(core.Delta{"items": "s"}),
		"a":     testutil.Returns(core.Delta{"answer": "from a"}),
		"b":     testutil.Returns(core.Delta{"answer": "from b"}),
		"join":  testutil.Returns(nil),
	})

	_, err := eng.Run(context.Background(), fanSpec(), nil, 0)
	require.ErrorIs(t, err, core.ErrStateConflict)

	rerr := asRunError(t, err)
	assert.Equal(t, 2, rerr.Step)
	assert.Contains(t, rerr.Error(), `"a"`)
	assert.Contains(t, rerr.Error(), `"b"`)
	_, ok := rerr.State.Get("answer")
	assert.False(t, ok)
	assert.Equal(t, []any{"s"}, rerr.State.List("items"))
	assert.NotEmpty(t, rerr.CheckpointID)
}

func TestRunReducerChannel(t *testing.T) {
	spec := graph.NewBuilder("score").
		ReducedChannel("score", "sum").
		Channel("go", core.Overwrite).
		Node("start", graph.Decision, []string{"go"}, nil).
		Node("a", graph.Decision, []string{"score"}, nil).
		Node("b", graph.Decision, []string{"score"}, nil).
		Edge("start", "a").
		Edge("start", "b").
		Entry("start").
		MustBuild()

	eng := newEngine(core.ResolverMap{
		"start": testutil.Returns(core.Delta{"go": true}),
		"a":     testutil.Returns(core.Delta{"score": 1}),
		"b":     testutil.Returns(core.Delta{"score": 2}),
	})

	initial := testutil.NewStateBuilder().Set("score", 10).Build(t)
	res, err := eng.Run(context.Background(), spec, initial, 0)
	require.NoError(t, err)

	score, _ := res.State.Get("score")
	assert.Equal(t, float64(3), score)
	initialScore, _ := initial.Get("score")
	assert.Equal(t, float64(10), initialScore)
}

func TestRunReducerChannelSemantics(t *testing.T) {
	t.Run("concurrent writers replace the prior value", func(t *testing.T) {
		spec := graph.NewBuilder("peak").
			ReducedChannel("peak", "max").
			Channel("go", core.Overwrite).
			Node("start", graph.Decision, []string{"go"}, nil).
			Node("a", graph.Decision, []string{"peak"}, nil).
			Node("b", graph.Decision, []string{"peak"}, nil).
			Edge("start", "a").
			Edge("start", "b").
			Entry("start").
			MustBuild()

		eng := newEngine(core.ResolverMap{
			"start": testutil.Returns(core.Delta{"go": true}),
			"a":     testutil.Returns(core.Delta{"peak": 1}),
			"b":     testutil.Returns(core.Delta{"peak": 2}),
		})

		initial := testutil.NewStateBuilder().Set("peak", 100).Build(t)
		res, err := eng.Run(context.Background(), spec, initial, 0)
		require.NoError(t, err)

		peak, _ := res.State.Get("peak")
		assert.Equal(t, float64(2), peak)
	})

	t.Run("single writer overwrites", func(t *testing.T) {
		spec := graph.NewBuilder("peak").
			ReducedChannel("peak", "max").
			Node("first", graph.Decision, []string{"peak"}, nil).
			Node("second", graph.Decision, []string{"peak"}, nil).
			Edge("first", "second").
			Entry("first").
			MustBuild()

		eng := newEngine(core.ResolverMap{
			"first":  testutil.Returns(core.Delta{"peak": 5}),
			"second": testutil.Returns(core.Delta{"peak": 1}),
		})

		res, err := eng.Run(context.Background(), spec, nil, 0)
		require.NoError(t, err)

		peak, _ := res.State.Get("peak")
		assert.Equal(t, float64(1), peak)
	})
}

func TestRunConditionalEdges(t *testing.T) {
	spec := graph.NewBuilder("route").
		Channel("label", core.Overwrite).
		Channel("out", core.Overwrite).
		Node("classify", graph.Decision, []string{"label"}, nil).
		Node("greet", graph.Decision, []string{"out"}, nil).
		Node("answer", graph.Decision, []string{"out"}, nil).
		EdgeWhen("classify", "greet", "label=greeting").
		EdgeWhen("classify", "answer", "label!=greeting").
		Entry("classify").
		MustBuild()

	greet := testutil.Returns(core.Delta{"out": "hello"})
	answer := testutil.Returns(core.Delta{"out": "42"})
	eng := newEngine(core.ResolverMap{
		"classify": testutil.Returns(core.Delta{"label": "greeting"}),
		"greet":    greet,
		"answer":   answer,
	})

	res, err := eng.Run(context.Background(), spec, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", res.State.GetString("out"))
	assert.Equal(t, 1, greet.Calls())
	assert.Equal(t, 0, answer.Calls())
}

func TestRunStepBudget(t *testing.T) {
	loop := func(budget int) *graph.Spec {
		return graph.NewBuilder("loop").
			Channel("items", core.Append).
			Node("a", graph.Decision, []string{"items"}, nil).
			Edge("a", "a").
			Entry("a").
			Budget(budget).
			MustBuild()
	}

	t.Run("argument", func(t *testing.T) {
		a := testutil.Returns(core.Delta{"items": "tick"})
		eng := newEngine(core.ResolverMap{"a": a})

		_, err := eng.Run(context.Background(), loop(0), nil, 3)
		require.ErrorIs(t, err, core.ErrStepBudgetExceeded)

		rerr := asRunError(t, err)
		assert.Equal(t, 3, rerr.Step)
		assert.Equal(t, 3, a.Calls())
		assert.Len(t, rerr.State.List("items"), 3)
		assert.Len(t, rerr.Log, 3)
	})

	t.Run("spec", func(t *testing.T) {
		a := testutil.Returns(core.Delta{"items": "tick"})
		eng := newEngine(core.ResolverMap{"a": a})

		_, err := eng.Run(context.Background(), loop(2), nil, 0)
		require.ErrorIs(t, err, core.ErrStepBudgetExceeded)
		assert.Equal(t, 2, a.Calls())
	})

	t.Run("default", func(t *testing.T) {
		a := testutil.Returns(core.Delta{"items": "tick"})
		eng := newEngine(core.ResolverMap{"a": a}, func(o *Options) { o.Config.DefaultBudget = 4 })

		_, err := eng.Run(context.Background(), loop(0), nil, 0)
		require.ErrorIs(t, err, core.ErrStepBudgetExceeded)
		assert.Equal(t, 4, a.Calls())
	})
}

func TestRunRetriesNode(t *testing.T) {
	spec := linearSpec()
	spec.Nodes["b"] = graph.NodeSpec{Kind: graph.Decision, Outputs: []string{"y"}, Retry: &graph.RetryPolicy{
		MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond,
	}}

	b := testutil.FailTimes(2, errors.New("flaky"), core.Delta{"y": "ok"})
	eng := newEngine(core.ResolverMap{
		"a": testutil.Returns(core.Delta{"x": "1"}),
		"b": b,
		"c": testutil.Returns(nil),
	})

	res, err := eng.Run(context.Background(), spec, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, b.Calls())
	assert.Equal(t, "ok", res.State.GetString("y"))

	var statuses []core.StepStatus
	for _, rec := range res.Log {
		if rec.Node == "b" {
			statuses = append(statuses, rec.Status)
			assert.Equal(t, 2, rec.Step)
		}
	}
	assert.Equal(t, []core.StepStatus{core.StepRetry, core.StepRetry, core.StepSuccess}, statuses)
}

func TestRunKindRetryPolicy(t *testing.T) {
	spec := graph.NewBuilder("kind").
		Channel("x", core.Overwrite).
		Node("a", graph.Decision, []string{"x"}, nil).
		KindRetry(graph.Decision, fastRetry(2)).
		Entry("a").
		MustBuild()

	a := testutil.FailTimes(1, errors.New("flaky"), core.Delta{"x": "ok"})
	eng := newEngine(core.ResolverMap{"a": a})

	_, err := eng.Run(context.Background(), spec, nil, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, a.Calls())
}

func TestRunNodeFailed(t *testing.T) {
	boom := errors.New("boom")
	spec := linearSpec()
	spec.Nodes["b"] = graph.NodeSpec{Kind: graph.Decision, Outputs: []string{"y"}, Retry: &graph.RetryPolicy{
		MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond,
	}}

	c := testutil.Returns(nil)
	eng := newEngine(core.ResolverMap{
		"a": testutil.Returns(core.Delta{"x": "1"}),
		"b": testutil.Script(testutil.Outcome{Err: boom}),
		"c": c,
	})

	_, err := eng.Run(context.Background(), spec, nil, 0)
	require.ErrorIs(t, err, core.ErrNodeFailed)
	require.ErrorIs(t, err, boom)

	rerr := asRunError(t, err)
	assert.Equal(t, "b", rerr.Node)
	assert.Equal(t, 2, rerr.Step)
	assert.Equal(t, "1", rerr.State.GetString("x"))
	assert.NotEmpty(t, rerr.ExecutionID)
	assert.NotEmpty(t, rerr.CheckpointID)
	assert.Equal(t, 0, c.Calls())

	require.Len(t, rerr.Log, 3)
	assert.Equal(t, core.StepSuccess, rerr.Log[0].Status)
	assert.Equal(t, core.StepRetry, rerr.Log[1].Status)
	assert.Equal(t, 1, rerr.Log[1].Attempt)
	assert.Equal(t, core.StepError, rerr.Log[2].Status)
	assert.Equal(t, 2, rerr.Log[2].Attempt)
	assert.Equal(t, "boom", rerr.Log[2].Error)
}

func TestRunNodePanic(t *testing.T) {
	eng := newEngine(core.ResolverMap{
		"a": core.ExecutableFunc(func(context.Context, *core.State) (core.Delta, error) {
			panic("kaboom")
		}),
	})

	_, err := eng.Run(context.Background(), linearSpec(), nil, 0)
	require.ErrorIs(t, err, core.ErrNodeFailed)
	assert.Contains(t, err.Error(), "panic recovered: kaboom")
}

func TestRunUndeclaredWrite(t *testing.T) {
	spec := linearSpec()
	spec.Nodes["a"] = graph.NodeSpec{Kind: graph.Decision, Outputs: []string{"x"}, Retry: &graph.RetryPolicy{MaxAttempts: 3}}

	a := testutil.Returns(core.Delta{"x": "1", "y": "sneaky"})
	eng := newEngine(core.ResolverMap{"a": a})

	_, err := eng.Run(context.Background(), spec, nil, 0)
	require.ErrorIs(t, err, core.ErrNodeFailed)
	require.ErrorIs(t, err, core.ErrUndeclaredWrite)
	assert.Equal(t, 1, a.Calls())

	rerr := asRunError(t, err)
	_, ok := rerr.State.Get("x")
	assert.False(t, ok)
}

func TestRunCancelled(t *testing.T) {
	block := testutil.BlockUntilDone()
	eng := newEngine(core.ResolverMap{"a": testutil.Returns(core.Delta{"x": "1"}), "b": block})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := eng.Run(ctx, linearSpec(), nil, 0)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return block.Calls() == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, core.ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)

	rerr := asRunError(t, err)
	assert.Equal(t, 1, rerr.Step)
	assert.Equal(t, "1", rerr.State.GetString("x"))
	_, ok := rerr.State.Get("y")
	assert.False(t, ok)
}

func TestStop(t *testing.T) {
	block := testutil.BlockUntilDone()
	started := make(chan string, 1)
	eng := newEngine(core.ResolverMap{"a": block}, func(o *Options) {
		o.Callbacks = []Callback{NewFunctionCallback(CallbackBeforeNode, func(_ context.Context, cc *CallbackContext) error {
			started <- cc.ExecutionID
			return nil
		})}
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := eng.Run(context.Background(), linearSpec(), nil, 0)
		errCh <- err
	}()

	id := <-started
	assert.Equal(t, 1, eng.Active())
	assert.True(t, eng.Stop(id))

	err := <-errCh
	require.ErrorIs(t, err, core.ErrCancelled)
	assert.Equal(t, id, asRunError(t, err).ExecutionID)
	assert.Equal(t, 0, eng.Active())
	assert.False(t, eng.Stop(id))
}

func TestResumeReachesSameResult(t *testing.T) {
	ctx := context.Background()
	spec := linearSpec()
	deltas := map[string]core.Delta{
		"a": {"x": "1"},
		"b": {"y": "2"},
		"c": {"z": "3"},
	}

	reference := newEngine(core.ResolverMap{
		"a": testutil.Returns(deltas["a"]),
		"b": testutil.Returns(deltas["b"]),
		"c": testutil.Returns(deltas["c"]),
	})
	want, err := reference.Run(ctx, spec, nil, 0)
	require.NoError(t, err)

	a := testutil.Returns(deltas["a"])
	eng := newEngine(core.ResolverMap{
		"a": a,
		"b": testutil.FailTimes(1, errors.New("transient"), deltas["b"]),
		"c": testutil.Returns(deltas["c"]),
	})
	_, err = eng.Run(ctx, spec, nil, 0)
	require.ErrorIs(t, err, core.ErrNodeFailed)
	rerr := asRunError(t, err)

	got, err := eng.Resume(ctx, spec, checkpoint.ID(rerr.CheckpointID), 0)
	require.NoError(t, err)

	assert.Equal(t, rerr.ExecutionID, got.ExecutionID)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 3, got.Steps)
	assert.Equal(t, [][]string{{"b"}, {"c"}}, got.Frontiers)
	assert.True(t, want.State.Equal(got.State))

	require.Len(t, got.Log, len(want.Log))
	for i := range want.Log {
		assert.Equal(t, want.Log[i].Node, got.Log[i].Node)
		assert.Equal(t, want.Log[i].Step, got.Log[i].Step)
		assert.Equal(t, want.Log[i].Status, got.Log[i].Status)
		assert.Equal(t, want.Log[i].Output, got.Log[i].Output)
	}
}

func TestResumeLatest(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(core.ResolverMap{
		"a": testutil.Returns(core.Delta{"x": "1"}),
		"b": testutil.Returns(core.Delta{"y": "2"}),
		"c": testutil.Returns(core.Delta{"z": "3"}),
	})

	first, err := eng.Run(ctx, linearSpec(), nil, 0)
	require.NoError(t, err)

	again, err := eng.ResumeLatest(ctx, linearSpec(), first.ExecutionID, 0)
	require.NoError(t, err)
	assert.Empty(t, again.Frontiers)
	assert.Equal(t, 3, again.Steps)
	assert.True(t, first.State.Equal(again.State))
	assert.Equal(t, first.CheckpointID, again.CheckpointID)

	_, err = eng.ResumeLatest(ctx, linearSpec(), "missing", 0)
	require.ErrorIs(t, err, checkpoint.ErrNotFound)

	other := linearSpec()
	other.Name = "other"
	_, err = eng.Resume(ctx, other, first.CheckpointID, 0)
	require.ErrorIs(t, err, core.ErrInvalidGraphSpec)
}

func TestCheckpointsPerSuperstep(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(core.ResolverMap{
		"a": testutil.Returns(core.Delta{"x": "1"}),
		"b": testutil.Returns(core.Delta{"y": "2"}),
		"c": testutil.Returns(core.Delta{"z": "3"}),
	})

	res, err := eng.Run(ctx, linearSpec(), nil, 0)
	require.NoError(t, err)

	cps, err := eng.Checkpoints().List(ctx, res.ExecutionID)
	require.NoError(t, err)
	require.Len(t, cps, 4)

	for i, cp := range cps {
		assert.Equal(t, i, cp.Step)
		assert.Equal(t, "linear", cp.Graph)
		assert.Len(t, cp.Records, i)
		if i > 0 {
			assert.Equal(t, cps[i-1].ID, cp.Parent)
			assert.Equal(t, string(cps[i-1].ID), res.Log[i-1].Input)
		}
	}
	assert.Equal(t, []string{"a"}, cps[0].Pending)
	assert.True(t, cps[3].Done())
	assert.Equal(t, res.CheckpointID, cps[3].ID)
}

type failingStore struct {
	*checkpoint.MemoryStore
}

func (failingStore) Put(context.Context, string, checkpoint.ID, []byte) (bool, error) {
	return false, errors.New("disk full")
}

func TestRunCheckpointFailure(t *testing.T) {
	a := testutil.Returns(core.Delta{"x": "1"})
	eng := newEngine(core.ResolverMap{"a": a}, func(o *Options) {
		o.Checkpoints = checkpoint.NewManager(func(o *checkpoint.Options) {
			o.Store = failingStore{checkpoint.NewMemoryStore()}
		})
	})

	_, err := eng.Run(context.Background(), linearSpec(), nil, 0)
	require.ErrorIs(t, err, core.ErrCheckpointFailed)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 0, a.Calls())
}

func TestRunInvalidSpec(t *testing.T) {
	eng := newEngine(core.ResolverMap{})

	_, err := eng.Run(context.Background(), nil, nil, 0)
	require.ErrorIs(t, err, core.ErrInvalidGraphSpec)

	spec := linearSpec()
	spec.Entry = "missing"
	_, err = eng.Run(context.Background(), spec, nil, 0)
	require.ErrorIs(t, err, core.ErrInvalidGraphSpec)

	_, err = New().Run(context.Background(), linearSpec(), nil, 0)
	require.Error(t, err)
}

func TestRunEmitsSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	eng := newEngine(core.ResolverMap{
		"a": testutil.Returns(core.Delta{"x": "1"}),
		"b": testutil.Returns(core.Delta{"y": "2"}),
		"c": testutil.Returns(core.Delta{"z": "3"}),
	}, func(o *Options) { o.Tracer = tp.Tracer("test") })

	_, err := eng.Run(context.Background(), linearSpec(), nil, 0)
	require.NoError(t, err)

	counts := map[string]int{}
	for _, s := range sr.Ended() {
		counts[s.Name()]++
	}
	assert.Equal(t, map[string]int{
		"agentgraph.run":       1,
		"agentgraph.superstep": 3,
		"agentgraph.node":      3,
	}, counts)
}

func TestCallbacks(t *testing.T) {
	var before, after, checkpoints atomic.Int32
	var mu sync.Mutex
	var failures []string

	spec := linearSpec()
	spec.Nodes["b"] = graph.NodeSpec{Kind: graph.Decision, Outputs: []string{"y"}, Retry: &graph.RetryPolicy{
		MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond,
	}}

	eng := newEngine(core.ResolverMap{
		"a": testutil.Returns(core.Delta{"x": "1"}),
		"b": testutil.FailTimes(1, errors.New("flaky"), core.Delta{"y": "2"}),
		"c": testutil.Returns(core.Delta{"z": "3"}),
	}, func(o *Options) {
		o.Callbacks = []Callback{
			NewFunctionCallback(CallbackBeforeNode, func(context.Context, *CallbackContext) error {
				before.Add(1)
				return nil
			}),
			NewFunctionCallback(CallbackAfterNode, func(_ context.Context, cc *CallbackContext) error {
				after.Add(1)
				assert.NotEmpty(t, cc.Delta)
				return nil
			}),
			NewFunctionCallback(CallbackOnError, func(_ context.Context, cc *CallbackContext) error {
				mu.Lock()
				defer mu.Unlock()
				failures = append(failures, cc.Node)
				return errors.New("ignored")
			}),
			NewFunctionCallback(CallbackOnCheckpoint, func(_ context.Context, cc *CallbackContext) error {
				checkpoints.Add(1)
				assert.NotEmpty(t, cc.CheckpointID)
				return nil
			}),
		}
	})

	_, err := eng.Run(context.Background(), spec, nil, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 4, before.Load())
	assert.EqualValues(t, 3, after.Load())
	assert.EqualValues(t, 4, checkpoints.Load())
	assert.Equal(t, []string{"b"}, failures)
}

func TestValidationCallbackFailsNode(t *testing.T) {
	eng := newEngine(core.ResolverMap{"a": testutil.Returns(core.Delta{"x": ""})})
	eng.RegisterCallback(NewStateValidationCallback(func(delta core.Delta) error {
		if delta["x"] == "" {
			return errors.New("empty x")
		}
		return nil
	}))

	_, err := eng.Run(context.Background(), linearSpec(), nil, 0)
	require.ErrorIs(t, err, core.ErrNodeFailed)
	assert.Contains(t, err.Error(), "empty x")
}

func TestLoggingCallback(t *testing.T) {
	var lines []string
	cb := NewLoggingCallback(CallbackOnError, func(msg string) { lines = append(lines, msg) })

	require.NoError(t, cb.Execute(context.Background(), &CallbackContext{
		ExecutionID: "e1", Node: "a", Step: 2, Attempt: 1, Err: errors.New("x"),
	}))
	assert.Equal(t, []string{"[on_error] execution=e1 step=2 node=a attempt=1 error=x"}, lines)
}

func TestRunSubgraphThroughRegistry(t *testing.T) {
	child := graph.NewBuilder("classifier").
		Channel("question", core.Overwrite).
		Channel("label", core.Overwrite).
		Node("classify", graph.Decision, []string{"label"}, map[string]any{
			"rules":   []any{map[string]any{"when": "question=hi", "value": "greeting"}},
			"default": "question",
		}).
		Entry("classify").
		MustBuild()

	parent := graph.NewBuilder("parent").
		Channel("input", core.Overwrite).
		Channel("kind", core.Overwrite).
		Subgraph("classifier", child).
		Node("sub", graph.Subgraph, []string{"kind"}, map[string]any{
			"graph":   "classifier",
			"inputs":  map[string]any{"question": "input"},
			"outputs": map[string]any{"kind": "label"},
		}).
		Entry("sub").
		MustBuild()

	reg := node.NewRegistry()
	eng := New(func(o *Options) { o.Compiler = reg })
	reg.SetSubgraphRunner(eng)

	for input, want := range map[string]string{"hi": "greeting", "why?": "question"} {
		initial := testutil.NewStateBuilder().Set("input", input).Build(t)
		res, err := eng.Run(context.Background(), parent, initial, 0)
		require.NoError(t, err)
		assert.Equal(t, want, res.State.GetString("kind"))
	}
}
