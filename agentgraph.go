// Package agentgraph provides a high-level façade over the graph engine, the
// node registry and the model and retrieval gateways. Most applications
// interact with this package by:
//  1. Creating an AgentGraph via New() or NewFromConfig()
//  2. Declaring a graph with graph.NewBuilder or graph.LoadYAMLFile
//  3. Running it with Run, and resuming interrupted runs with Resume
//
// All defaults are safe for local development and testing: checkpoints are
// kept in memory and nothing is logged. Production deployments typically
// supply a Redis checkpoint backend, real providers and a structured logger,
// most conveniently through the config package.
package agentgraph

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/config"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/engine"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/model"
	"github.com/hupe1980/agentgraph/node"
	"github.com/hupe1980/agentgraph/retrieval"
	"github.com/hupe1980/agentgraph/tool"
)

// Options configures the AgentGraph instance.
type Options struct {
	// Engine configuration (parallelism, default budget)
	EngineConfig engine.Config

	// Providers are registered on the model gateway by name.
	Providers map[string]model.Model
	// ModelRules route requests without an explicit provider.
	ModelRules []model.Rule
	// ModelRetry bounds retries of transient provider failures.
	ModelRetry model.RetryConfig

	// Stores are registered on the retrieval gateway.
	Stores []retrieval.Store

	// Tools are available to model_call and tool_call nodes.
	Tools []tool.Tool

	// Checkpoints persists snapshots (defaults to an in-memory manager).
	Checkpoints *checkpoint.Manager

	// Callbacks hook into the node and checkpoint lifecycle.
	Callbacks []engine.Callback

	// Tracer receives run, superstep and node spans (defaults to the global
	// OpenTelemetry provider).
	Tracer trace.Tracer

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// AgentGraph is the high-level façade aggregating the engine, the node
// registry and the gateways.
type AgentGraph struct {
	engine    *engine.Engine
	registry  *node.Registry
	models    *model.Gateway
	retrieval *retrieval.Gateway
	tools     *tool.Registry
}

// New creates a new AgentGraph. Nodes reach models, stores and tools through
// the gateways built from opts; subgraph nodes run on the same engine.
func New(optFns ...func(o *Options)) (*AgentGraph, error) {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		ModelRetry:   model.DefaultRetryConfig,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	models := model.NewGateway(func(o *model.GatewayOptions) {
		o.Providers = opts.Providers
		o.Rules = opts.ModelRules
		o.Retry = opts.ModelRetry
		o.Logger = opts.Logger
	})
	stores, err := retrieval.NewGateway(func(o *retrieval.GatewayOptions) {
		o.Stores = opts.Stores
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, fmt.Errorf("agentgraph: %w", err)
	}
	return assemble(opts, models, stores), nil
}

func assemble(opts Options, models *model.Gateway, stores *retrieval.Gateway) *AgentGraph {
	tools := tool.NewRegistry(opts.Tools...)
	registry := node.NewRegistry(func(d *node.Deps) {
		d.Models = models
		d.Retrieval = stores
		d.Tools = tools
		d.Logger = opts.Logger
	})

	eng := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Compiler = registry
		o.Checkpoints = opts.Checkpoints
		o.Callbacks = opts.Callbacks
		o.Tracer = opts.Tracer
		o.Logger = opts.Logger
	})
	registry.SetSubgraphRunner(eng)

	return &AgentGraph{
		engine:    eng,
		registry:  registry,
		models:    models,
		retrieval: stores,
		tools:     tools,
	}
}

// NewFromConfig builds an AgentGraph from a loaded configuration: logger,
// providers with credentials, pgvector store, checkpoint backend and engine
// settings. optFns run afterwards and may add providers, stores or tools.
// The returned close function releases database and Redis connections.
func NewFromConfig(ctx context.Context, cfg *config.Config, optFns ...func(o *Options)) (*AgentGraph, func() error, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := cfg.Logging.Logger(nil)

	checkpoints, closeCheckpoints, err := cfg.Checkpoint.Checkpoints(ctx, logger)
	if err != nil {
		return nil, nil, err
	}
	stores, closeStores, err := cfg.Stores(ctx)
	if err != nil {
		_ = closeCheckpoints()
		return nil, nil, err
	}
	closeAll := func() error {
		closeStores()
		return closeCheckpoints()
	}

	opts := Options{
		EngineConfig: engine.Config{
			MaxParallelNodes: cfg.Engine.MaxParallelNodes,
			DefaultBudget:    cfg.Engine.DefaultBudget,
		},
		Providers:   cfg.Model.Providers(),
		ModelRules:  cfg.Model.Rules,
		ModelRetry:  cfg.Model.Retry,
		Stores:      stores,
		Checkpoints: checkpoints,
		Logger:      logger,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	models := model.NewGateway(func(o *model.GatewayOptions) {
		o.Providers = opts.Providers
		o.Rules = opts.ModelRules
		o.Retry = opts.ModelRetry
		o.Logger = opts.Logger
	})
	retrievalGateway, err := cfg.Retrieval.RetrievalGateway(opts.Logger, opts.Stores...)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("agentgraph: %w", err), closeAll())
	}
	return assemble(opts, models, retrievalGateway), closeAll, nil
}

// Run executes spec from an initial payload. Values are normalized to their
// JSON shape before the first superstep.
func (g *AgentGraph) Run(ctx context.Context, spec *graph.Spec, initial map[string]any) (*engine.Result, error) {
	st, err := core.NewStateFrom(initial)
	if err != nil {
		return nil, fmt.Errorf("agentgraph: initial state: %w", err)
	}
	return g.engine.Run(ctx, spec, st, 0)
}

// RunWithBudget is Run with an explicit superstep budget.
func (g *AgentGraph) RunWithBudget(ctx context.Context, spec *graph.Spec, initial *core.State, budget int) (*engine.Result, error) {
	return g.engine.Run(ctx, spec, initial, budget)
}

// RunFile loads a YAML graph and runs it.
func (g *AgentGraph) RunFile(ctx context.Context, path string, initial map[string]any) (*engine.Result, error) {
	spec, err := graph.LoadYAMLFile(path)
	if err != nil {
		return nil, err
	}
	return g.Run(ctx, spec, initial)
}

// Resume continues an execution from a checkpoint, typically the
// CheckpointID of a *core.RunError.
func (g *AgentGraph) Resume(ctx context.Context, spec *graph.Spec, id checkpoint.ID) (*engine.Result, error) {
	return g.engine.Resume(ctx, spec, id, 0)
}

// ResumeLatest continues an execution from its newest checkpoint.
func (g *AgentGraph) ResumeLatest(ctx context.Context, spec *graph.Spec, executionID string) (*engine.Result, error) {
	return g.engine.ResumeLatest(ctx, spec, executionID, 0)
}

// Stop cancels a running execution.
func (g *AgentGraph) Stop(executionID string) bool { return g.engine.Stop(executionID) }

// History lists the checkpoints of an execution, oldest first.
func (g *AgentGraph) History(ctx context.Context, executionID string) ([]*checkpoint.Checkpoint, error) {
	return g.engine.Checkpoints().List(ctx, executionID)
}

// Engine exposes the underlying engine.
func (g *AgentGraph) Engine() *engine.Engine { return g.engine }

// Registry exposes the node registry, e.g. to replace a node factory.
func (g *AgentGraph) Registry() *node.Registry { return g.registry }

// Models exposes the model gateway.
func (g *AgentGraph) Models() *model.Gateway { return g.models }

// Retrieval exposes the retrieval gateway.
func (g *AgentGraph) Retrieval() *retrieval.Gateway { return g.retrieval }

// Tools exposes the tool registry.
func (g *AgentGraph) Tools() *tool.Registry { return g.tools }
