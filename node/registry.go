package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-viper/mapstructure/v2"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/retrieval"
	"github.com/hupe1980/agentgraph/tool"
)

// ModelClient is the slice of the model gateway nodes depend on.
type ModelClient interface {
	Complete(ctx context.Context, req model.Request, sel model.Selector) (*model.Response, error)
}

// RetrievalClient is the slice of the retrieval gateway nodes depend on.
type RetrievalClient interface {
	Query(ctx context.Context, text string, k int, sel retrieval.Selector) (*retrieval.Result, error)
}

// SubgraphRunner executes a nested graph to completion and returns its final
// state. The engine implements it.
type SubgraphRunner interface {
	RunSubgraph(ctx context.Context, spec *graph.Spec, initial *core.State) (*core.State, error)
}

// Deps are the collaborators handed to factories.
type Deps struct {
	Models    ModelClient
	Retrieval RetrievalClient
	Tools     *tool.Registry
	Subgraphs SubgraphRunner
	Logger    logging.Logger
}

// Definition is everything a factory knows about the node it builds.
type Definition struct {
	ID    string
	Spec  graph.NodeSpec
	Graph *graph.Spec
}

// Factory builds the executable of one node.
type Factory func(def Definition, deps Deps) (core.Executable, error)

// Registry maps node kinds to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[graph.NodeKind]Factory
	deps      Deps
}

// NewRegistry creates a registry with the built-in factory of every kind.
func NewRegistry(optFns ...func(d *Deps)) *Registry {
	deps := Deps{}
	for _, fn := range optFns {
		fn(&deps)
	}
	deps.Logger = logging.OrNoOp(deps.Logger)

	return &Registry{
		deps: deps,
		factories: map[graph.NodeKind]Factory{
			graph.ModelCall: newModelCallNode,
			graph.ToolCall:  newToolCallNode,
			graph.Retrieval: newRetrievalNode,
			graph.Decision:  newDecisionNode,
			graph.Subgraph:  newSubgraphNode,
		},
	}
}

// Register replaces the factory of a supported kind.
func (r *Registry) Register(kind graph.NodeKind, f Factory) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", core.ErrUnknownNodeKind, kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
	return nil
}

// SetSubgraphRunner binds the runner used by subgraph nodes built afterwards.
func (r *Registry) SetSubgraphRunner(s SubgraphRunner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deps.Subgraphs = s
}

// Build validates spec and compiles every node. It fails with
// core.ErrUnknownNodeKind for kinds without a factory and with
// core.ErrInvalidGraphSpec for configs a factory rejects.
func (r *Registry) Build(spec *graph.Spec) (core.Resolver, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make(core.ResolverMap, len(spec.Nodes))
	for _, id := range spec.NodeIDs() {
		ns := spec.Nodes[id]
		f, ok := r.factories[ns.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: %q on node %q", core.ErrUnknownNodeKind, ns.Kind, id)
		}
		exec, err := f(Definition{ID: id, Spec: ns, Graph: spec}, r.deps)
		if err != nil {
			if errors.Is(err, core.ErrInvalidGraphSpec) || errors.Is(err, core.ErrUnknownNodeKind) {
				return nil, err
			}
			return nil, core.InvalidSpec("node %q: %v", id, err)
		}
		nodes[id] = exec
	}
	return nodes, nil
}

// decodeConfig decodes a raw node config into out. Unknown keys are errors.
func decodeConfig(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// output resolves the channel a node writes its main result to. An explicit
// name must be a declared output; otherwise the first declared output not in
// skip is used. It returns "" when none is left.
func (d Definition) output(explicit string, skip ...string) (string, error) {
	if explicit != "" {
		if !d.Spec.Writes(explicit) {
			return "", fmt.Errorf("output %q is not a declared output", explicit)
		}
		return explicit, nil
	}
outer:
	for _, o := range d.Spec.Outputs {
		for _, s := range skip {
			if o == s {
				continue outer
			}
		}
		return o, nil
	}
	return "", nil
}

// appendChannel checks that name is a declared append output of the node.
func (d Definition) appendChannel(name string) error {
	if !d.Spec.Writes(name) {
		return fmt.Errorf("channel %q is not a declared output", name)
	}
	if ch := d.Graph.Channels[name]; ch.Kind != core.Append {
		return fmt.Errorf("channel %q must be an append channel", name)
	}
	return nil
}

func (d Deps) logger(nodeID string) *logging.ExecutionLogger {
	return logging.Wrap(d.Logger).WithComponent("node").With("node", nodeID)
}
