package graph

import "github.com/hupe1980/agentgraph/core"

// Builder assembles a Spec fluently. Build validates the result.
//
//	spec, err := graph.NewBuilder("rag").
//	    Channel("question", core.Overwrite).
//	    Channel("docs", core.Overwrite).
//	    Node("retrieve", graph.Retrieval, []string{"docs"}, map[string]any{"query_channel": "question"}).
//	    Edge("retrieve", graph.End).
//	    Entry("retrieve").
//	    Build()
type Builder struct {
	spec *Spec
}

// NewBuilder starts an empty spec.
func NewBuilder(name string) *Builder {
	return &Builder{spec: &Spec{
		Name:      name,
		Channels:  map[string]Channel{},
		Nodes:     map[string]NodeSpec{},
		Edges:     map[string][]Edge{},
		Retry:     map[NodeKind]RetryPolicy{},
		Subgraphs: map[string]*Spec{},
	}}
}

// Channel declares a channel.
func (b *Builder) Channel(name string, kind core.ChannelKind) *Builder {
	b.spec.Channels[name] = Channel{Kind: kind}
	return b
}

// ReducedChannel declares an overwrite channel merged with the named reducer.
func (b *Builder) ReducedChannel(name, reducer string) *Builder {
	b.spec.Channels[name] = Channel{Kind: core.Overwrite, Reducer: reducer}
	return b
}

// Reducer registers a custom reducer usable by ReducedChannel.
func (b *Builder) Reducer(name string, r core.Reducer) *Builder {
	b.spec.RegisterReducer(name, r)
	return b
}

// Node declares a node.
func (b *Builder) Node(id string, kind NodeKind, outputs []string, config map[string]any) *Builder {
	b.spec.Nodes[id] = NodeSpec{Kind: kind, Outputs: outputs, Config: config}
	return b
}

// NodeRetry overrides the retry policy of a declared node.
func (b *Builder) NodeRetry(id string, p RetryPolicy) *Builder {
	n := b.spec.Nodes[id]
	n.Retry = &p
	b.spec.Nodes[id] = n
	return b
}

// KindRetry sets the default retry policy for a node kind.
func (b *Builder) KindRetry(kind NodeKind, p RetryPolicy) *Builder {
	b.spec.Retry[kind] = p
	return b
}

// Edge adds an unconditional edge.
func (b *Builder) Edge(from, to string) *Builder {
	b.spec.Edges[from] = append(b.spec.Edges[from], Edge{Target: to})
	return b
}

// EdgeWhen adds an edge guarded by a condition expression.
func (b *Builder) EdgeWhen(from, to, when string) *Builder {
	b.spec.Edges[from] = append(b.spec.Edges[from], Edge{Target: to, When: when})
	return b
}

// EdgeIf adds an edge guarded by a Go predicate.
func (b *Builder) EdgeIf(from, to string, p Predicate) *Builder {
	b.spec.Edges[from] = append(b.spec.Edges[from], Edge{Target: to, Predicate: p})
	return b
}

// Subgraph registers a nested spec addressable by subgraph nodes.
func (b *Builder) Subgraph(name string, sub *Spec) *Builder {
	b.spec.Subgraphs[name] = sub
	return b
}

// Entry sets the entry node.
func (b *Builder) Entry(id string) *Builder {
	b.spec.Entry = id
	return b
}

// Budget sets the superstep budget.
func (b *Builder) Budget(n int) *Builder {
	b.spec.Budget = n
	return b
}

// Build validates and returns the graph. Subgraphs are bound as copies that
// see the reducers registered on the builder.
func (b *Builder) Build() (*Spec, error) {
	for name, sub := range b.spec.Subgraphs {
		if sub != nil {
			b.spec.Subgraphs[name] = sub.inherit(b.spec.reducers)
		}
	}
	if err := b.spec.Validate(); err != nil {
		return nil, err
	}
	return b.spec, nil
}

// MustBuild is Build that panics on error. Intended for tests and examples.
func (b *Builder) MustBuild() *Spec {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}
