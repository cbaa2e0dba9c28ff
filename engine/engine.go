package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/logging"
)

// TracerName is the instrumentation name of the default tracer.
const TracerName = "github.com/hupe1980/agentgraph/engine"

// Config defines tuning parameters for the Engine's operational behavior.
//
// Example:
//
//	cfg := Config{
//	    MaxParallelNodes: 8,
//	    DefaultBudget:    50,
//	}
type Config struct {
	// MaxParallelNodes bounds how many nodes of one superstep run at the
	// same time. 0 runs the whole frontier at once.
	MaxParallelNodes int

	// DefaultBudget is the superstep budget used when neither the caller
	// nor the graph sets one. 0 means unlimited.
	DefaultBudget int
}

// DefaultConfig runs every frontier node in parallel and stops runaway
// loops after 25 supersteps.
var DefaultConfig = Config{
	MaxParallelNodes: 0,
	DefaultBudget:    25,
}

// Compiler turns a validated spec into executables. node.Registry is the
// standard implementation.
type Compiler interface {
	Build(spec *graph.Spec) (core.Resolver, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(spec *graph.Spec) (core.Resolver, error)

// Build implements Compiler.
func (f CompilerFunc) Build(spec *graph.Spec) (core.Resolver, error) { return f(spec) }

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Compiler = registry
//	    o.Checkpoints = checkpoint.NewManager(func(o *checkpoint.Options) {
//	        o.Store = redisStore
//	    })
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters. Defaults to DefaultConfig.
	Config Config

	// Compiler builds the executables of a spec. Required.
	Compiler Compiler

	// Checkpoints persists a snapshot after every superstep. Defaults to a
	// manager over an in-memory store.
	Checkpoints *checkpoint.Manager

	// Callbacks are registered on the engine's CallbackManager.
	Callbacks []Callback

	// Tracer receives run, superstep and node spans. Defaults to the
	// global OpenTelemetry provider.
	Tracer trace.Tracer

	// Logger provides structured logging. Defaults to NoOp.
	Logger logging.Logger
}

// Result describes a completed execution.
type Result struct {
	ExecutionID string
	State       *core.State
	// Log is the full execution log, including records restored on resume.
	Log []core.StepRecord
	// Frontiers lists the frontier of every superstep run by this call.
	Frontiers [][]string
	// Steps is the total number of supersteps of the execution.
	Steps        int
	CheckpointID checkpoint.ID
}

// Engine runs graph executions. It holds no per-execution state besides the
// cancel functions of active runs and is safe for concurrent use.
type Engine struct {
	config      Config
	compiler    Compiler
	checkpoints *checkpoint.Manager
	callbacks   *CallbackManager
	tracer      trace.Tracer
	logger      *logging.ExecutionLogger

	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// New creates a new Engine. Without a Checkpoints manager snapshots are kept
// in memory, which still allows Resume within the process.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = checkpoint.NewManager(func(o *checkpoint.Options) { o.Logger = opts.Logger })
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(TracerName)
	}

	callbacks := NewCallbackManager()
	for _, cb := range opts.Callbacks {
		callbacks.RegisterCallback(cb)
	}

	return &Engine{
		config:      opts.Config,
		compiler:    opts.Compiler,
		checkpoints: opts.Checkpoints,
		callbacks:   callbacks,
		tracer:      opts.Tracer,
		logger:      logging.Wrap(opts.Logger).WithComponent("engine"),
		active:      make(map[string]context.CancelFunc),
	}
}

// Checkpoints returns the manager snapshots are saved to.
func (e *Engine) Checkpoints() *checkpoint.Manager { return e.checkpoints }

// RegisterCallback adds a lifecycle callback.
func (e *Engine) RegisterCallback(cb Callback) { e.callbacks.RegisterCallback(cb) }

// Run starts a new execution of spec from initial. budget > 0 overrides the
// spec's budget; otherwise spec.Budget, then Config.DefaultBudget applies.
//
// On abnormal termination the error is a *core.RunError matching one of
// core.ErrStepBudgetExceeded, core.ErrNodeFailed, core.ErrStateConflict,
// core.ErrCancelled or core.ErrCheckpointFailed. Spec problems are reported
// as core.ErrInvalidGraphSpec or core.ErrUnknownNodeKind before anything
// runs.
func (e *Engine) Run(ctx context.Context, spec *graph.Spec, initial *core.State, budget int) (*Result, error) {
	resolver, err := e.compile(spec)
	if err != nil {
		return nil, err
	}
	x := &execution{
		id:       uuid.NewString(),
		spec:     spec,
		resolver: resolver,
		state:    initial.Clone(),
		log:      core.NewExecutionLog(),
		budget:   core.NewStepBudget(e.budgetFor(spec, budget), 0),
		frontier: []string{spec.Entry},
		persist:  true,
	}
	return e.execute(ctx, x)
}

// Resume continues the execution saved in checkpoint id. State, step
// counter, log and frontier come from the checkpoint; spec must be the graph
// the checkpoint was taken from. Resuming a finished execution returns its
// final result without running anything.
func (e *Engine) Resume(ctx context.Context, spec *graph.Spec, id checkpoint.ID, budget int) (*Result, error) {
	cp, err := e.checkpoints.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.resume(ctx, spec, cp, budget)
}

// ResumeLatest continues an execution from its most recent checkpoint.
func (e *Engine) ResumeLatest(ctx context.Context, spec *graph.Spec, executionID string, budget int) (*Result, error) {
	cp, err := e.checkpoints.Latest(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, fmt.Errorf("%w: no checkpoint for execution %s", checkpoint.ErrNotFound, executionID)
	}
	return e.resume(ctx, spec, cp, budget)
}

func (e *Engine) resume(ctx context.Context, spec *graph.Spec, cp *checkpoint.Checkpoint, budget int) (*Result, error) {
	if cp.Graph != "" && cp.Graph != spec.Name {
		return nil, core.InvalidSpec("checkpoint %s belongs to graph %q, not %q", cp.ID, cp.Graph, spec.Name)
	}
	resolver, err := e.compile(spec)
	if err != nil {
		return nil, err
	}
	x := &execution{
		id:       cp.ExecutionID,
		spec:     spec,
		resolver: resolver,
		state:    cp.State.Clone(),
		log:      core.NewExecutionLog(cp.Records...),
		budget:   core.NewStepBudget(e.budgetFor(spec, budget), cp.Step),
		step:     cp.Step,
		frontier: append([]string(nil), cp.Pending...),
		lastCP:   cp.ID,
		persist:  true,
	}
	e.logger.WithExecution(x.id).Info("engine.resume", "checkpoint_id", cp.ID, "step", cp.Step, "pending", len(cp.Pending))
	return e.execute(ctx, x)
}

// RunSubgraph executes a nested graph to completion without checkpointing
// and returns its final state. It implements node.SubgraphRunner.
func (e *Engine) RunSubgraph(ctx context.Context, spec *graph.Spec, initial *core.State) (*core.State, error) {
	resolver, err := e.compile(spec)
	if err != nil {
		return nil, err
	}
	x := &execution{
		id:       uuid.NewString(),
		spec:     spec,
		resolver: resolver,
		state:    initial.Clone(),
		log:      core.NewExecutionLog(),
		budget:   core.NewStepBudget(e.budgetFor(spec, 0), 0),
		frontier: []string{spec.Entry},
	}
	res, err := e.execute(ctx, x)
	if err != nil {
		return nil, err
	}
	return res.State, nil
}

// Stop cancels an active execution. It reports whether the execution was
// running.
func (e *Engine) Stop(executionID string) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	cancel, ok := e.active[executionID]
	if ok {
		cancel()
	}
	return ok
}

// Active returns the number of running executions.
func (e *Engine) Active() int {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	return len(e.active)
}

func (e *Engine) track(ctx context.Context, executionID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	e.activeMu.Lock()
	e.active[executionID] = cancel
	e.activeMu.Unlock()
	return ctx, func() {
		e.activeMu.Lock()
		delete(e.active, executionID)
		e.activeMu.Unlock()
		cancel()
	}
}

func (e *Engine) compile(spec *graph.Spec) (core.Resolver, error) {
	if spec == nil {
		return nil, core.InvalidSpec("nil spec")
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if e.compiler == nil {
		return nil, errors.New("engine: no compiler configured")
	}
	return e.compiler.Build(spec)
}

func (e *Engine) budgetFor(spec *graph.Spec, budget int) int {
	switch {
	case budget > 0:
		return budget
	case spec.Budget > 0:
		return spec.Budget
	default:
		return e.config.DefaultBudget
	}
}
