package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/agentgraph/core"
	"github.com/hupe1980/agentgraph/logging"
	"github.com/hupe1980/agentgraph/tool"
)

// ToolCallConfig configures a tool_call node. With Tool set the node calls
// that tool once using Args overlaid with channel values from ArgsFrom.
// Otherwise it answers the pending tool calls of the last assistant message
// in History.
//
//	config:
//	  history: messages
//	  tools: [search, read_state]
//	  max_parallel: 4
type ToolCallConfig struct {
	Tool     string            `mapstructure:"tool"`
	Args     map[string]any    `mapstructure:"args"`
	ArgsFrom map[string]string `mapstructure:"args_from"` // argument -> channel

	History     string   `mapstructure:"history"`
	Tools       []string `mapstructure:"tools"` // allow-list for pending calls
	MaxParallel int      `mapstructure:"max_parallel"`

	// Output receives the tool result (fixed tool) or the list of results
	// (pending calls). Defaults to the first declared output other than
	// History.
	Output string `mapstructure:"output"`
}

// ToolCallNode executes tools.
type ToolCallNode struct {
	id      string
	cfg     ToolCallConfig
	output  string
	tools   map[string]tool.Tool
	logger  *logging.ExecutionLogger
	rawLogs logging.Logger
}

// ToolResult is one executed call as written to the output channel.
type ToolResult struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newToolCallNode(def Definition, deps Deps) (core.Executable, error) {
	var cfg ToolCallConfig
	if err := decodeConfig(def.Spec.Config, &cfg); err != nil {
		return nil, err
	}
	n, err := NewToolCallNode(def, cfg, deps)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// NewToolCallNode builds a tool_call node from a typed config.
func NewToolCallNode(def Definition, cfg ToolCallConfig, deps Deps) (*ToolCallNode, error) {
	if deps.Tools == nil {
		return nil, errors.New("no tool registry configured")
	}
	if cfg.Tool == "" && cfg.History == "" {
		return nil, errors.New("tool or history is required")
	}
	if cfg.History != "" {
		if err := def.appendChannel(cfg.History); err != nil {
			return nil, err
		}
	}
	output, err := def.output(cfg.Output, cfg.History)
	if err != nil {
		return nil, err
	}
	if cfg.Tool != "" && output == "" {
		return nil, errors.New("node declares no output for the tool result")
	}

	names := cfg.Tools
	if cfg.Tool != "" {
		names = []string{cfg.Tool}
	}
	list, err := deps.Tools.Lookup(names...)
	if err != nil {
		return nil, err
	}
	tools := make(map[string]tool.Tool, len(list))
	for _, t := range list {
		tools[t.Name()] = t
	}

	return &ToolCallNode{
		id:      def.ID,
		cfg:     cfg,
		output:  output,
		tools:   tools,
		logger:  deps.logger(def.ID),
		rawLogs: deps.Logger,
	}, nil
}

// Invoke implements core.Executable.
func (n *ToolCallNode) Invoke(ctx context.Context, st *core.State) (core.Delta, error) {
	if n.cfg.Tool != "" {
		return n.invokeFixed(ctx, st)
	}
	return n.invokePending(ctx, st)
}

func (n *ToolCallNode) invokeFixed(ctx context.Context, st *core.State) (core.Delta, error) {
	args := make(map[string]any, len(n.cfg.Args)+len(n.cfg.ArgsFrom))
	for k, v := range n.cfg.Args {
		args[k] = v
	}
	for arg, channel := range n.cfg.ArgsFrom {
		v, ok := st.Get(channel)
		if !ok {
			return nil, fmt.Errorf("argument %q: channel %q not set", arg, channel)
		}
		args[arg] = v
	}

	toolCtx := core.NewToolContext(ctx, n.id, "", st, n.rawLogs)
	result, err := n.safeCall(toolCtx, n.tools[n.cfg.Tool], args)
	if err != nil {
		return nil, err
	}
	return core.Delta{n.output: result}, nil
}

func (n *ToolCallNode) invokePending(ctx context.Context, st *core.State) (core.Delta, error) {
	history, err := readMessages(st, n.cfg.History)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return core.Delta{}, nil
	}
	last := history[len(history)-1]
	if last.Role != "assistant" || len(last.ToolCalls) == 0 {
		return core.Delta{}, nil
	}

	results := n.execute(ctx, st, last.ToolCalls)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msgs := make([]any, len(results))
	for i, r := range results {
		var callErr error
		if r.Error != "" {
			callErr = errors.New(r.Error)
		}
		msgs[i] = core.Message{Role: "tool", ToolCallID: r.ID, Name: r.Name, Content: encodeResult(r.Result, callErr)}
	}

	delta := core.Delta{n.cfg.History: msgs}
	if n.output != "" {
		delta[n.output] = results
	}
	return delta, nil
}

// execute runs calls concurrently, bounded by MaxParallel, and returns one
// result per call in call order. Tool failures and panics become error
// results; they do not fail the node.
func (n *ToolCallNode) execute(ctx context.Context, st *core.State, calls []core.FunctionCall) []ToolResult {
	maxPar := n.cfg.MaxParallel
	if maxPar <= 0 || maxPar > len(calls) {
		maxPar = len(calls)
	}

	results := make([]ToolResult, len(calls))
	sem := make(chan struct{}, maxPar)
	var wg sync.WaitGroup

	batchStart := time.Now()
	for i, fc := range calls {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			res := ToolResult{ID: fc.ID, Name: fc.Name}
			start := time.Now()
			out, err := n.callFunction(core.NewToolContext(ctx, n.id, fc.ID, st, n.rawLogs), fc)
			n.logger.Info("node.tool.executed",
				"function", fc.Name,
				"function_call_id", fc.ID,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err != nil,
			)
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Result = out
			}
			results[i] = res
		}()
	}
	wg.Wait()

	n.logger.Debug("node.tools.batch.complete",
		"count", len(calls),
		"parallelism", maxPar,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return results
}

func (n *ToolCallNode) callFunction(toolCtx *core.ToolContext, fc core.FunctionCall) (any, error) {
	impl, ok := n.tools[fc.Name]
	if !ok {
		return nil, tool.NewToolError(fc.Name, "tool not available to this node", tool.CodeNotFound)
	}
	args := map[string]any{}
	if fc.Arguments != "" {
		if err := json.Unmarshal([]byte(fc.Arguments), &args); err != nil {
			return nil, tool.NewToolError(fc.Name, fmt.Sprintf("invalid arguments: %v", err), tool.CodeValidation)
		}
	}
	return n.safeCall(toolCtx, impl, args)
}

func (n *ToolCallNode) safeCall(toolCtx *core.ToolContext, t tool.Tool, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicErr{val: r, stack: debug.Stack()}
			n.logger.Error("node.tool.panic", "function", t.Name(), "recover", r)
		}
	}()
	return t.Call(toolCtx, args)
}

type panicErr struct {
	val   any
	stack []byte
}

func (p *panicErr) Error() string { return fmt.Sprintf("panic recovered: %v", p.val) }
