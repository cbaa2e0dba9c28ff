package node

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/internal/testutil"
	"github.com/hupe1980/agentgraph/retrieval"
	"github.com/hupe1980/agentgraph/retrieval/memstore"
)

func newKnowledgeBase(t *testing.T) (*retrieval.Gateway, *testutil.KeywordEmbedder) {
	t.Helper()
	emb := testutil.NewKeywordEmbedder("go", "rust", "channels", "borrow")
	store := memstore.New("kb", emb)
	require.NoError(t, store.Add(context.Background(),
		core.Document{ID: "go-1", Content: "Go channels"},
		core.Document{ID: "rust-1", Content: "Rust borrow checker"},
	))
	gw, err := retrieval.NewGateway(func(o *retrieval.GatewayOptions) {
		o.Stores = []retrieval.Store{store}
	})
	require.NoError(t, err)
	return gw, emb
}

func retrievalSpec(config map[string]any) *graph.Spec {
	return graph.NewBuilder("t").
		Channel("question", core.Overwrite).
		Channel("docs", core.Overwrite).
		Channel("trace", core.Append).
		Node("retrieve", graph.Retrieval, []string{"docs", "trace"}, config).
		Entry("retrieve").
		MustBuild()
}

func TestRetrievalNodeQueriesChannel(t *testing.T) {
	gw, _ := newKnowledgeBase(t)
	reg := NewRegistry(func(d *Deps) { d.Retrieval = gw })
	exec := resolve(t, reg, retrievalSpec(map[string]any{"query_channel": "question", "k": 1, "stores": []any{"k*"}}), "retrieve")

	st := testutil.NewStateBuilder().Set("question", "go channels").Build(t)
	delta, err := exec.Invoke(context.Background(), st)
	require.NoError(t, err)

	docs := delta["docs"].([]retrieval.ScoredDocument)
	require.Len(t, docs, 1)
	assert.Equal(t, "go-1", docs[0].ID)
	assert.Equal(t, "kb", docs[0].Store)
	assert.InDelta(t, 1.0, docs[0].Score, 1e-9)
}

func TestRetrievalNodeTemplateQuery(t *testing.T) {
	gw, _ := newKnowledgeBase(t)
	reg := NewRegistry(func(d *Deps) { d.Retrieval = gw })
	exec := resolve(t, reg, retrievalSpec(map[string]any{"query": "{{.lang}} borrow"}), "retrieve")

	st := testutil.NewStateBuilder().Set("lang", "rust").Build(t)
	delta, err := exec.Invoke(context.Background(), st)
	require.NoError(t, err)

	docs := delta["docs"].([]retrieval.ScoredDocument)
	require.Len(t, docs, 2)
	assert.Equal(t, "rust-1", docs[0].ID)
}

func TestRetrievalNodeBlankQuerySkipsGateway(t *testing.T) {
	gw, emb := newKnowledgeBase(t)
	reg := NewRegistry(func(d *Deps) { d.Retrieval = gw })
	exec := resolve(t, reg, retrievalSpec(map[string]any{"query_channel": "question"}), "retrieve")

	before := emb.Calls()
	delta, err := exec.Invoke(context.Background(), core.NewState())
	require.NoError(t, err)
	assert.Equal(t, core.Delta{"docs": []retrieval.ScoredDocument{}}, delta)
	assert.Equal(t, before, emb.Calls())
}

func TestRetrievalNodeConfigErrors(t *testing.T) {
	gw, _ := newKnowledgeBase(t)
	reg := NewRegistry(func(d *Deps) { d.Retrieval = gw })

	for _, cfg := range []map[string]any{
		{},
		{"query": "x", "query_channel": "question"},
		{"query_channel": "question", "k": -1},
		{"query_channel": "question", "stores": []any{"[unclosed"}},
	} {
		_, err := reg.Build(retrievalSpec(cfg))
		assert.ErrorIs(t, err, core.ErrInvalidGraphSpec, "%v", cfg)
	}
}
