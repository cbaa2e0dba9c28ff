package agentgraph

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/config"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/retrieval"
)

// stubStore always returns the same single document.
type stubStore struct {
	doc   core.Document
	calls atomic.Int32
}

func (s *stubStore) Name() string                   { return "kb" }
func (s *stubStore) ScoreKind() retrieval.ScoreKind { return retrieval.Similarity }
func (s *stubStore) Search(_ context.Context, _ string, _ int) ([]retrieval.Hit, error) {
	s.calls.Add(1)
	return []retrieval.Hit{{Document: s.doc, Score: 0.9}}, nil
}

const answerPrompt = "Context:{{range .docs}} [{{.id}}] {{.content}}{{end}}\nQuestion: {{.query}}"

func ragSpec() *graph.Spec {
	return graph.NewBuilder("rag").
		Channel("query", core.Overwrite).
		Channel("docs", core.Overwrite).
		Channel("answer", core.Overwrite).
		Node("retrieve", graph.Retrieval, []string{"docs"}, map[string]any{
			"query_channel": "query",
			"k":             3,
		}).
		Node("answer", graph.ModelCall, []string{"answer"}, map[string]any{
			"provider": "mock",
			"prompt":   answerPrompt,
		}).
		Edge("retrieve", "answer").
		Edge("answer", graph.End).
		Entry("retrieve").
		MustBuild()
}

func newRAG(t *testing.T) (*AgentGraph, *stubStore, *model.MockModel) {
	t.Helper()
	store := &stubStore{doc: core.Document{ID: "d1", Content: "Paris is the capital of France."}}
	mock := model.NewMockModel("mock-1", "mock")
	mock.AddResponse("Context: [d1] Paris is the capital of France.\nQuestion: X", "Paris [d1]")

	ag, err := New(func(o *Options) {
		o.Providers = map[string]model.Model{"mock": mock}
		o.ModelRetry = model.RetryConfig{MaxAttempts: 1}
		o.Stores = []retrieval.Store{store}
	})
	require.NoError(t, err)
	return ag, store, mock
}

func TestRetrieveThenAnswer(t *testing.T) {
	ag, _, mock := newRAG(t)

	res, err := ag.Run(context.Background(), ragSpec(), map[string]any{"query": "X"})
	require.NoError(t, err)

	var docs []retrieval.ScoredDocument
	require.NoError(t, res.State.Decode("docs", &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "d1", docs[0].ID)
	assert.Equal(t, "kb", docs[0].Store)
	assert.Equal(t, "Paris [d1]", res.State.GetString("answer"))
	assert.Equal(t, 1, mock.Calls())

	require.Len(t, res.Log, 2)
	for i, id := range []string{"retrieve", "answer"} {
		assert.Equal(t, id, res.Log[i].Node)
		assert.Equal(t, core.StepSuccess, res.Log[i].Status)
		assert.Equal(t, i+1, res.Log[i].Step)
	}
}

func TestResumeAfterProviderOutage(t *testing.T) {
	ctx := context.Background()
	ag, store, mock := newRAG(t)
	mock.FailNext(model.NewProviderError("mock", model.Permanent, errors.New("service unavailable")))

	_, err := ag.Run(ctx, ragSpec(), map[string]any{"query": "X"})
	require.ErrorIs(t, err, core.ErrNodeFailed)

	var rerr *core.RunError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "answer", rerr.Node)

	var perr *model.ProviderError
	require.ErrorAs(t, err, &perr)

	history, err := ag.History(ctx, rerr.ExecutionID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	res, err := ag.Resume(ctx, ragSpec(), checkpoint.ID(rerr.CheckpointID))
	require.NoError(t, err)
	assert.Equal(t, "Paris [d1]", res.State.GetString("answer"))
	assert.EqualValues(t, 1, store.calls.Load())

	var successes []string
	for _, rec := range res.Log {
		if rec.Status == core.StepSuccess {
			successes = append(successes, rec.Node)
		}
	}
	assert.Equal(t, []string{"retrieve", "answer"}, successes)
}

const routeYAML = `
name: route
entry: classify
channels:
  question: {kind: overwrite}
  label: {kind: overwrite}
  reply: {kind: overwrite}
nodes:
  classify:
    kind: decision
    outputs: [label]
    config:
      rules:
        - when: "question=hello"
          value: greeting
      default: other
  greet:
    kind: decision
    outputs: [reply]
    config:
      default: "hi there"
edges:
  classify:
    - to: greet
      when: "label=greeting"
  greet:
    - to: __end__
`

func TestRunFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "route.yaml")
	require.NoError(t, os.WriteFile(path, []byte(routeYAML), 0o600))

	ag, err := New()
	require.NoError(t, err)

	res, err := ag.RunFile(context.Background(), path, map[string]any{"question": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", res.State.GetString("reply"))
	assert.Equal(t, [][]string{{"classify"}, {"greet"}}, res.Frontiers)

	res, err = ag.RunFile(context.Background(), path, map[string]any{"question": "bye"})
	require.NoError(t, err)
	assert.Equal(t, "other", res.State.GetString("label"))
	assert.Empty(t, res.State.GetString("reply"))
}

func TestRunRejectsUnserializableInput(t *testing.T) {
	ag, err := New()
	require.NoError(t, err)

	_, err = ag.Run(context.Background(), ragSpec(), map[string]any{"query": make(chan int)})
	require.Error(t, err)
}

func TestNewFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	cfg.Engine.DefaultBudget = 1

	mock := model.NewMockModel("mock-1", "mock")
	ag, closeFn, err := NewFromConfig(context.Background(), cfg, func(o *Options) {
		o.Providers = map[string]model.Model{"mock": mock}
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()

	assert.Equal(t, []string{"mock"}, ag.Models().Providers())
	assert.Empty(t, ag.Retrieval().StoreNames())
	assert.Empty(t, ag.Tools().Names())

	spec, err := graph.LoadYAMLBytes([]byte(routeYAML))
	require.NoError(t, err)
	_, err = ag.Run(context.Background(), spec, map[string]any{"question": "hello"})
	require.ErrorIs(t, err, core.ErrStepBudgetExceeded)
}
