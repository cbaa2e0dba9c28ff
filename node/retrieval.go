package node

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/internal/util"
	"github.com/hupe1980/agentgraph/retrieval"
)

// DefaultK is the number of documents a retrieval node asks for when its
// config leaves k unset.
const DefaultK = 4

// RetrievalConfig configures a retrieval node. Exactly one of Query (a
// text/template over the state) and QueryChannel must be set.
type RetrievalConfig struct {
	Query        string   `mapstructure:"query"`
	QueryChannel string   `mapstructure:"query_channel"`
	K            int      `mapstructure:"k"`
	Stores       []string `mapstructure:"stores"` // doublestar patterns; empty = all
	Output       string   `mapstructure:"output"`
}

// RetrievalNode queries the retrieval gateway and writes the ranked
// documents as a list of scored documents.
type RetrievalNode struct {
	id     string
	cfg    RetrievalConfig
	output string
	client RetrievalClient
}

func newRetrievalNode(def Definition, deps Deps) (core.Executable, error) {
	var cfg RetrievalConfig
	if err := decodeConfig(def.Spec.Config, &cfg); err != nil {
		return nil, err
	}
	n, err := NewRetrievalNode(def, cfg, deps)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// NewRetrievalNode builds a retrieval node from a typed config.
func NewRetrievalNode(def Definition, cfg RetrievalConfig, deps Deps) (*RetrievalNode, error) {
	if deps.Retrieval == nil {
		return nil, errors.New("no retrieval gateway configured")
	}
	if (cfg.Query == "") == (cfg.QueryChannel == "") {
		return nil, errors.New("exactly one of query and query_channel is required")
	}
	if cfg.K < 0 {
		return nil, errors.New("k must not be negative")
	}
	if cfg.K == 0 {
		cfg.K = DefaultK
	}
	for _, p := range cfg.Stores {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid store pattern %q", p)
		}
	}
	output, err := def.output(cfg.Output)
	if err != nil {
		return nil, err
	}
	if output == "" {
		return nil, errors.New("node declares no output for the documents")
	}
	return &RetrievalNode{id: def.ID, cfg: cfg, output: output, client: deps.Retrieval}, nil
}

// Invoke implements core.Executable. A blank query writes an empty list
// without calling the gateway.
func (n *RetrievalNode) Invoke(ctx context.Context, st *core.State) (core.Delta, error) {
	query := st.GetString(n.cfg.QueryChannel)
	if n.cfg.Query != "" {
		var err error
		if query, err = util.RenderTemplate(n.cfg.Query, st.Values()); err != nil {
			return nil, fmt.Errorf("render query: %w", err)
		}
	}
	if strings.TrimSpace(query) == "" {
		return core.Delta{n.output: []retrieval.ScoredDocument{}}, nil
	}

	res, err := n.client.Query(ctx, query, n.cfg.K, retrieval.Selector{Stores: n.cfg.Stores})
	if err != nil {
		return nil, err
	}
	return core.Delta{n.output: res.Documents()}, nil
}
