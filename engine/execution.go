package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentgraph/checkpoint"
	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/graph"
	"github.com/hupe1980/agentgraph/logging"
)

// execution is the mutable bookkeeping of one run. Only the goroutine
// driving execute touches it; nodes see clones of state.
type execution struct {
	id        string
	spec      *graph.Spec
	resolver  core.Resolver
	state     *core.State
	log       *core.ExecutionLog
	budget    *core.StepBudget
	step      int
	frontier  []string
	frontiers [][]string
	lastCP    checkpoint.ID
	persist   bool
	logger    *logging.ExecutionLogger
}

type nodeResult struct {
	node    string
	delta   core.Delta
	records []core.StepRecord
	err     error
}

func (x *execution) runError(kind error, node string, step int, cause error) *core.RunError {
	return &core.RunError{
		Kind:         kind,
		ExecutionID:  x.id,
		Node:         node,
		Step:         step,
		State:        x.state.Clone(),
		Log:          x.log.Records(),
		CheckpointID: string(x.lastCP),
		Cause:        cause,
	}
}

func (e *Engine) execute(ctx context.Context, x *execution) (*Result, error) {
	ctx, untrack := e.track(ctx, x.id)
	defer untrack()
	x.logger = e.logger.WithExecution(x.id)

	ctx, span := e.tracer.Start(ctx, "agentgraph.run", trace.WithAttributes(
		attribute.String("agentgraph.graph", x.spec.Name),
		attribute.String("agentgraph.execution_id", x.id),
		attribute.Int("agentgraph.start_step", x.step),
	))
	defer span.End()

	x.logger.Info("engine.run.start", "graph", x.spec.Name, "step", x.step, "frontier", x.frontier)

	if x.persist && x.lastCP == "" {
		if err := e.saveCheckpoint(ctx, x); err != nil {
			return nil, e.fail(span, x, x.runError(core.ErrCheckpointFailed, "", x.step, err))
		}
	}

	for len(x.frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, e.fail(span, x, x.runError(core.ErrCancelled, "", x.step, err))
		}
		if err := x.budget.Consume(); err != nil {
			return nil, e.fail(span, x, x.runError(core.ErrStepBudgetExceeded, "", x.step, err))
		}
		if rerr := e.superstep(ctx, x); rerr != nil {
			return nil, e.fail(span, x, rerr)
		}
	}

	span.SetAttributes(attribute.Int("agentgraph.steps", x.step))
	x.logger.Info("engine.run.complete", "steps", x.step, "records", x.log.Len(), "checkpoint_id", x.lastCP)

	return &Result{
		ExecutionID:  x.id,
		State:        x.state.Clone(),
		Log:          x.log.Records(),
		Frontiers:    x.frontiers,
		Steps:        x.step,
		CheckpointID: x.lastCP,
	}, nil
}

func (e *Engine) fail(span trace.Span, x *execution, rerr *core.RunError) error {
	span.RecordError(rerr)
	span.SetStatus(codes.Error, rerr.Kind.Error())
	x.logger.Error("engine.run.failed", "kind", rerr.Kind.Error(), "node", rerr.Node, "step", rerr.Step, "error", rerr.Error())
	return rerr
}

// superstep runs the frontier, merges the deltas and advances x. On failure
// x is left at the previous consistent state.
func (e *Engine) superstep(ctx context.Context, x *execution) *core.RunError {
	step := x.step + 1
	frontier := x.frontier
	x.frontiers = append(x.frontiers, append([]string(nil), frontier...))

	ctx, span := e.tracer.Start(ctx, "agentgraph.superstep", trace.WithAttributes(
		attribute.Int("agentgraph.step", step),
		attribute.StringSlice("agentgraph.frontier", frontier),
	))
	defer span.End()

	start := time.Now()
	x.logger.Debug("engine.superstep.start", "step", step, "frontier", frontier)

	results := make([]nodeResult, len(frontier))
	var g errgroup.Group
	if e.config.MaxParallelNodes > 0 {
		g.SetLimit(e.config.MaxParallelNodes)
	}
	for i, id := range frontier {
		g.Go(func() error {
			results[i] = e.runNode(ctx, x, id, step)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		x.log.Append(r.records...)
	}

	rerr := e.advance(ctx, x, step, frontier, results)
	if rerr != nil {
		span.RecordError(rerr)
		span.SetStatus(codes.Error, rerr.Kind.Error())
		x.logger.LogSuperstep(step, len(frontier), time.Since(start), rerr)
		return rerr
	}
	x.logger.LogSuperstep(step, len(frontier), time.Since(start), nil)
	return nil
}

func (e *Engine) advance(ctx context.Context, x *execution, step int, frontier []string, results []nodeResult) *core.RunError {
	if err := ctx.Err(); err != nil {
		return x.runError(core.ErrCancelled, "", x.step, err)
	}
	for _, r := range results {
		if r.err != nil {
			return x.runError(core.ErrNodeFailed, r.node, step, r.err)
		}
	}

	merged, err := merge(x.spec, x.state, results)
	if err != nil {
		return x.runError(core.ErrStateConflict, "", step, err)
	}
	next, err := nextFrontier(x.spec, frontier, merged)
	if err != nil {
		return x.runError(core.ErrInvalidGraphSpec, "", step, err)
	}

	x.state = merged
	x.step = step
	x.frontier = next

	if x.persist {
		if err := e.saveCheckpoint(ctx, x); err != nil {
			return x.runError(core.ErrCheckpointFailed, "", step, err)
		}
	}
	return nil
}

// saveCheckpoint persists the current state and frontier. Cancellation of
// ctx does not abort a save of a completed superstep.
func (e *Engine) saveCheckpoint(ctx context.Context, x *execution) error {
	id, err := e.checkpoints.Save(context.WithoutCancel(ctx), x.id, x.step, x.state, x.frontier,
		checkpoint.WithParent(x.lastCP),
		checkpoint.WithRecords(x.log.Records()),
		checkpoint.WithGraph(x.spec.Name),
	)
	if err != nil {
		return err
	}
	x.lastCP = id

	cc := &CallbackContext{
		ExecutionID:  x.id,
		Graph:        x.spec.Name,
		Step:         x.step,
		State:        x.state.Clone(),
		CheckpointID: string(id),
	}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnCheckpoint, cc); err != nil {
		x.logger.Warn("engine.callback.error", "type", CallbackOnCheckpoint, "error", err)
	}
	return nil
}

// runNode executes one node with its retry policy and returns the records of
// every attempt.
func (e *Engine) runNode(ctx context.Context, x *execution, id string, step int) nodeResult {
	res := nodeResult{node: id}
	input := string(x.lastCP)

	ctx, span := e.tracer.Start(ctx, "agentgraph.node", trace.WithAttributes(
		attribute.String("agentgraph.node", id),
		attribute.String("agentgraph.node.kind", string(x.spec.Nodes[id].Kind)),
		attribute.Int("agentgraph.step", step),
	))
	defer span.End()

	exec, err := x.resolver.Resolve(id)
	if err != nil {
		res.err = err
		res.records = append(res.records, failedRecord(step, id, input, 1, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res
	}

	policy := x.spec.RetryFor(id)
	attempt := 0
	op := func() (core.Delta, error) {
		attempt++
		start := time.Now()
		delta, err := e.attempt(ctx, x, exec, id, step, attempt)
		x.logger.LogNodeExecution(id, step, attempt, time.Since(start), err)
		if err == nil {
			return delta, nil
		}
		e.notifyError(ctx, x, id, step, attempt, err)
		if ctx.Err() != nil || errors.Is(err, core.ErrUndeclaredWrite) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	delta, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(retryBackOff(policy)),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			rec := core.NewStepRecord(step, id, input, core.StepRetry, attempt)
			rec.Error = err.Error()
			res.records = append(res.records, rec)
			x.logger.Warn("engine.node.retry", "node", id, "step", step, "attempt", attempt, "backoff", next, "error", err)
		}),
	)
	span.SetAttributes(attribute.Int("agentgraph.attempts", attempt))
	if err != nil {
		res.err = err
		res.records = append(res.records, failedRecord(step, id, input, attempt, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res
	}

	rec := core.NewStepRecord(step, id, input, core.StepSuccess, attempt)
	rec.Output = delta
	res.records = append(res.records, rec)
	res.delta = delta
	return res
}

func (e *Engine) attempt(ctx context.Context, x *execution, exec core.Executable, id string, step, attempt int) (core.Delta, error) {
	cc := &CallbackContext{
		ExecutionID: x.id,
		Graph:       x.spec.Name,
		Node:        id,
		Step:        step,
		Attempt:     attempt,
		State:       x.state.Clone(),
	}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackBeforeNode, cc); err != nil {
		return nil, err
	}

	raw, err := invokeSafely(ctx, exec, x.state.Clone())
	if err != nil {
		return nil, err
	}
	delta, err := checkDelta(x.spec, id, raw)
	if err != nil {
		return nil, err
	}

	cc.Delta = delta
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackAfterNode, cc); err != nil {
		return nil, err
	}
	return delta, nil
}

func (e *Engine) notifyError(ctx context.Context, x *execution, id string, step, attempt int, cause error) {
	cc := &CallbackContext{
		ExecutionID: x.id,
		Graph:       x.spec.Name,
		Node:        id,
		Step:        step,
		Attempt:     attempt,
		Err:         cause,
	}
	if err := e.callbacks.ExecuteCallbacks(ctx, CallbackOnError, cc); err != nil {
		x.logger.Warn("engine.callback.error", "type", CallbackOnError, "node", id, "error", err)
	}
}

func invokeSafely(ctx context.Context, exec core.Executable, st *core.State) (delta core.Delta, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()
	return exec.Invoke(ctx, st)
}

// checkDelta rejects writes to undeclared channels and normalizes values.
func checkDelta(spec *graph.Spec, id string, delta core.Delta) (core.Delta, error) {
	ns := spec.Nodes[id]
	for _, ch := range delta.Channels() {
		if !ns.Writes(ch) {
			return nil, fmt.Errorf("%w: node %q wrote %q", core.ErrUndeclaredWrite, id, ch)
		}
	}
	return delta.Normalized()
}

func failedRecord(step int, id, input string, attempt int, err error) core.StepRecord {
	rec := core.NewStepRecord(step, id, input, core.StepError, attempt)
	rec.Error = err.Error()
	return rec
}

func retryBackOff(p graph.RetryPolicy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	return b
}

// merge folds the deltas into a copy of base in the order of results, which
// is lexical node order. Append channels concatenate. Overwrite channels are
// replaced; a second writer is a conflict unless the channel has a reducer,
// which then folds the writes of the superstep in order and replaces the
// prior value with the result.
func merge(spec *graph.Spec, base *core.State, results []nodeResult) (*core.State, error) {
	type write struct {
		node  string
		value any
	}

	st := base.Clone()
	var order []string
	writes := map[string][]write{}
	for _, r := range results {
		for _, ch := range r.delta.Channels() {
			v := r.delta[ch]
			if spec.Channels[ch].Kind == core.Append {
				st.Append(ch, core.Items(v)...)
				continue
			}
			if _, seen := writes[ch]; !seen {
				order = append(order, ch)
			}
			writes[ch] = append(writes[ch], write{node: r.node, value: v})
		}
	}

	for _, ch := range order {
		ws := writes[ch]
		v := ws[0].value
		if len(ws) > 1 {
			reducer, ok := spec.Reducer(ch)
			if !ok {
				return nil, fmt.Errorf("%w: channel %q written by %q and %q", core.ErrStateConflict, ch, ws[0].node, ws[1].node)
			}
			for _, w := range ws[1:] {
				folded, err := reducer(v, w.value)
				if err != nil {
					return nil, fmt.Errorf("%w: reduce channel %q: %v", core.ErrStateConflict, ch, err)
				}
				if v, err = core.Normalize(folded); err != nil {
					return nil, fmt.Errorf("%w: reduce channel %q: %v", core.ErrStateConflict, ch, err)
				}
			}
		}
		st.Set(ch, v)
	}
	return st, nil
}

// nextFrontier unions the satisfied edge targets of the executed nodes,
// drops graph.End and sorts the result.
func nextFrontier(spec *graph.Spec, executed []string, st *core.State) ([]string, error) {
	seen := map[string]bool{}
	var next []string
	for _, id := range executed {
		targets, err := spec.Successors(id, st)
		if err != nil {
			return nil, fmt.Errorf("edges of %q: %w", id, err)
		}
		for _, t := range targets {
			if t == graph.End || seen[t] {
				continue
			}
			seen[t] = true
			next = append(next, t)
		}
	}
	sort.Strings(next)
	return next, nil
}
