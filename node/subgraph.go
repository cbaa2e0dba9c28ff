package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
)

// SubgraphConfig configures a subgraph node.
//
//	config:
//	  graph: research
//	  inputs: {topic: question}      # child channel <- parent channel
//	  outputs: {summary: report}     # parent channel <- child channel
type SubgraphConfig struct {
	Graph   string            `mapstructure:"graph"`
	Inputs  map[string]string `mapstructure:"inputs"`
	Outputs map[string]string `mapstructure:"outputs"`
}

// SubgraphNode runs a nested graph registered on the parent spec and copies
// selected channels back. Without explicit outputs every declared output is
// copied from the child channel of the same name.
type SubgraphNode struct {
	id      string
	spec    *graph.Spec
	inputs  map[string]string
	outputs map[string]string
	runner  SubgraphRunner
}

func newSubgraphNode(def Definition, deps Deps) (core.Executable, error) {
	var cfg SubgraphConfig
	if err := decodeConfig(def.Spec.Config, &cfg); err != nil {
		return nil, err
	}
	n, err := NewSubgraphNode(def, cfg, deps)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// NewSubgraphNode builds a subgraph node from a typed config.
func NewSubgraphNode(def Definition, cfg SubgraphConfig, deps Deps) (*SubgraphNode, error) {
	if deps.Subgraphs == nil {
		return nil, errors.New("no subgraph runner configured")
	}
	sub, ok := def.Graph.Subgraphs[cfg.Graph]
	if !ok || sub == nil {
		return nil, fmt.Errorf("subgraph %q not registered", cfg.Graph)
	}

	outputs := cfg.Outputs
	if len(outputs) == 0 {
		outputs = make(map[string]string, len(def.Spec.Outputs))
		for _, o := range def.Spec.Outputs {
			outputs[o] = o
		}
	}
	for parent, child := range outputs {
		if !def.Spec.Writes(parent) {
			return nil, fmt.Errorf("output %q is not a declared output", parent)
		}
		if _, ok := sub.Channels[child]; !ok {
			return nil, fmt.Errorf("subgraph %q has no channel %q", cfg.Graph, child)
		}
	}
	for child := range cfg.Inputs {
		if _, ok := sub.Channels[child]; !ok {
			return nil, fmt.Errorf("subgraph %q has no channel %q", cfg.Graph, child)
		}
	}

	return &SubgraphNode{id: def.ID, spec: sub, inputs: cfg.Inputs, outputs: outputs, runner: deps.Subgraphs}, nil
}

// Invoke implements core.Executable.
func (n *SubgraphNode) Invoke(ctx context.Context, st *core.State) (core.Delta, error) {
	initial := map[string]any{}
	for child, parent := range n.inputs {
		if v, ok := st.Get(parent); ok {
			initial[child] = v
		}
	}
	childState, err := core.NewStateFrom(initial)
	if err != nil {
		return nil, err
	}

	final, err := n.runner.RunSubgraph(ctx, n.spec, childState)
	if err != nil {
		return nil, fmt.Errorf("subgraph %q: %w", n.spec.Name, err)
	}

	delta := core.Delta{}
	for parent, child := range n.outputs {
		if v, ok := final.Get(child); ok {
			delta[parent] = v
		}
	}
	return delta, nil
}
