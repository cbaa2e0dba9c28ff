// Package graph defines GraphSpec, the immutable declarative description of
// an agent workflow: nodes and their kinds, ordered conditional edges, typed
// state channels, the entry node, the superstep budget and retry policies.
//
// Specs are built in Go with Builder or loaded from YAML with LoadYAML, and
// must pass Validate before an engine runs them.
package graph

import (
	"sort"
	"time"

	"github.com/hupe1980/agentgraph/core"
)

// End is the terminal sentinel edge target.
const End = "__end__"

// NodeKind is the closed set of node variants.
type NodeKind string

const (
	// ModelCall nodes call the Model Gateway.
	ModelCall NodeKind = "model_call"
	// ToolCall nodes execute tools.
	ToolCall NodeKind = "tool_call"
	// Retrieval nodes query the Retrieval Gateway.
	Retrieval NodeKind = "retrieval"
	// Decision nodes compute routing values from state.
	Decision NodeKind = "decision"
	// Subgraph nodes run a nested graph.
	Subgraph NodeKind = "subgraph"
)

// Kinds lists every supported node kind.
func Kinds() []NodeKind {
	return []NodeKind{ModelCall, ToolCall, Retrieval, Decision, Subgraph}
}

// Valid reports whether k belongs to the supported set.
func (k NodeKind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// RetryPolicy bounds node-level retries with exponential backoff.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
}

// DefaultRetryPolicy runs a node once.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    1,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
	Multiplier:     2,
}

// withDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultRetryPolicy.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = DefaultRetryPolicy.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultRetryPolicy.Multiplier
	}
	return p
}

// NodeSpec declares one node.
type NodeSpec struct {
	Kind    NodeKind       `yaml:"kind"`
	Config  map[string]any `yaml:"config,omitempty"`
	Outputs []string       `yaml:"outputs,omitempty"` // channels the node may write
	Retry   *RetryPolicy   `yaml:"retry,omitempty"`
}

// Writes reports whether the node declared channel as an output.
func (n NodeSpec) Writes(channel string) bool {
	for _, o := range n.Outputs {
		if o == channel {
			return true
		}
	}
	return false
}

// Predicate is a Go edge guard evaluated against the merged state.
type Predicate func(st *core.State) bool

// Edge is a guarded transition. Predicate takes precedence over When; an edge
// with neither is unconditional.
type Edge struct {
	Target    string    `yaml:"to"`
	When      string    `yaml:"when,omitempty"`
	Predicate Predicate `yaml:"-"`
}

// Satisfied evaluates the guard.
func (e Edge) Satisfied(st *core.State) (bool, error) {
	if e.Predicate != nil {
		return e.Predicate(st), nil
	}
	if e.When == "" {
		return true, nil
	}
	c, err := ParseCondition(e.When)
	if err != nil {
		return false, err
	}
	return c.Eval(st), nil
}

// Channel declares a state channel.
type Channel struct {
	Kind    core.ChannelKind `yaml:"kind"`
	Reducer string           `yaml:"reducer,omitempty"`
}

// Spec is the declarative graph. Treat it as read-only once validated.
type Spec struct {
	Name      string                   `yaml:"name"`
	Entry     string                   `yaml:"entry"`
	Budget    int                      `yaml:"budget,omitempty"`
	Channels  map[string]Channel       `yaml:"channels"`
	Nodes     map[string]NodeSpec      `yaml:"nodes"`
	Edges     map[string][]Edge        `yaml:"edges"`
	Retry     map[NodeKind]RetryPolicy `yaml:"retry,omitempty"`
	Subgraphs map[string]*Spec         `yaml:"subgraphs,omitempty"`

	reducers map[string]core.Reducer
}

// RegisterReducer makes a custom reducer available to channels of this spec
// and of its subgraphs that do not register the same name. Call it while
// assembling the spec, before it is validated or run.
func (s *Spec) RegisterReducer(name string, r core.Reducer) {
	if s.reducers == nil {
		s.reducers = map[string]core.Reducer{}
	}
	s.reducers[name] = r
	for _, sub := range s.Subgraphs {
		if sub == nil {
			continue
		}
		if _, own := sub.reducers[name]; !own {
			sub.RegisterReducer(name, r)
		}
	}
}

// inherit returns a shallow copy of s whose reducer table also holds the
// parent's reducers; names registered on s win. Nested subgraphs are copied
// the same way, so s itself is left untouched.
func (s *Spec) inherit(parent map[string]core.Reducer) *Spec {
	c := *s
	c.reducers = make(map[string]core.Reducer, len(parent)+len(s.reducers))
	for name, r := range parent {
		c.reducers[name] = r
	}
	for name, r := range s.reducers {
		c.reducers[name] = r
	}
	if len(s.Subgraphs) > 0 {
		c.Subgraphs = make(map[string]*Spec, len(s.Subgraphs))
		for name, sub := range s.Subgraphs {
			if sub != nil {
				sub = sub.inherit(c.reducers)
			}
			c.Subgraphs[name] = sub
		}
	}
	return &c
}

// Reducer returns the reducer declared on a channel, if any.
func (s *Spec) Reducer(channel string) (core.Reducer, bool) {
	ch, ok := s.Channels[channel]
	if !ok || ch.Reducer == "" {
		return nil, false
	}
	return s.lookupReducer(ch.Reducer)
}

func (s *Spec) lookupReducer(name string) (core.Reducer, bool) {
	if r, ok := s.reducers[name]; ok {
		return r, true
	}
	return core.BuiltinReducer(name)
}

// NodeIDs returns node ids in lexical order.
func (s *Spec) NodeIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RetryFor resolves the retry policy of a node: node override, then kind
// default, then DefaultRetryPolicy.
func (s *Spec) RetryFor(nodeID string) RetryPolicy {
	n := s.Nodes[nodeID]
	if n.Retry != nil {
		return n.Retry.withDefaults()
	}
	if p, ok := s.Retry[n.Kind]; ok {
		return p.withDefaults()
	}
	return DefaultRetryPolicy
}

// Successors evaluates the outgoing edges of nodeID in declaration order and
// returns every satisfied target, End included.
func (s *Spec) Successors(nodeID string, st *core.State) ([]string, error) {
	var out []string
	for _, e := range s.Edges[nodeID] {
		ok, err := e.Satisfied(st)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e.Target)
		}
	}
	return out, nil
}
