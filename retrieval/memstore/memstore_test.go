package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/testutil"
	"github.com/hupe1980/agentgraph/retrieval"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := New("mem", testutil.NewKeywordEmbedder("go", "rust", "channels", "borrow", "garbage"))
	require.NoError(t, s.Add(context.Background(),
		core.Document{ID: "go-1", Content: "Go uses channels and garbage collection", Metadata: map[string]any{"lang": "go"}},
		core.Document{ID: "rust-1", Content: "Rust has a borrow checker"},
		core.Document{ID: "both", Content: "Go and Rust"},
	))
	return s
}

func TestSearchRanksByCosine(t *testing.T) {
	s := newStore(t)

	hits, err := s.Search(context.Background(), "go channels", 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "go-1", hits[0].Document.ID)
	assert.Equal(t, "both", hits[1].Document.ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "go", hits[0].Document.Metadata["lang"])
	assert.Equal(t, retrieval.Cosine, s.ScoreKind())
}

func TestSearchReturnsCopies(t *testing.T) {
	s := newStore(t)
	hits, err := s.Search(context.Background(), "garbage", 1)
	require.NoError(t, err)
	hits[0].Document.Metadata["lang"] = "changed"

	hits, err = s.Search(context.Background(), "garbage", 1)
	require.NoError(t, err)
	assert.Equal(t, "go", hits[0].Document.Metadata["lang"])
}

func TestAddReplaceAndDelete(t *testing.T) {
	s := newStore(t)
	assert.Equal(t, 3, s.Len())

	require.NoError(t, s.Add(context.Background(), core.Document{ID: "both", Content: "borrow borrow"}))
	assert.Equal(t, 3, s.Len())

	hits, err := s.Search(context.Background(), "borrow", 1)
	require.NoError(t, err)
	assert.Equal(t, "both", hits[0].Document.ID)

	require.NoError(t, s.Delete("both"))
	assert.Error(t, s.Delete("both"))
	assert.Equal(t, 2, s.Len())

	assert.Error(t, s.Add(context.Background(), core.Document{Content: "no id"}))
}

func TestGatewayOverMemstores(t *testing.T) {
	emb := testutil.NewKeywordEmbedder("go", "rust")
	a := New("docs", emb)
	b := New("faq", emb)
	ctx := context.Background()
	require.NoError(t, a.Add(ctx, core.Document{ID: "shared", Content: "go"}, core.Document{ID: "r", Content: "rust"}))
	require.NoError(t, b.Add(ctx, core.Document{ID: "shared", Content: "go rust"}))

	g, err := retrieval.NewGateway(func(o *retrieval.GatewayOptions) { o.Stores = []retrieval.Store{a, b} })
	require.NoError(t, err)

	res, err := g.Query(ctx, "go", 5, retrieval.Selector{})
	require.NoError(t, err)
	docs := res.Documents()
	require.Len(t, docs, 2)
	assert.Equal(t, "shared", docs[0].ID)
	assert.Equal(t, "docs", docs[0].Store)
	assert.InDelta(t, 1.0, docs[0].Score, 1e-9)
	assert.Equal(t, "r", docs[1].ID)
	assert.InDelta(t, 0.5, docs[1].Score, 1e-9)
}
