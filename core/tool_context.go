package core

import (
	"context"

	"github.com/hupe1980/agentgraph/logging"
)

// ToolContext provides a constrained surface for tool implementations invoked
// by a node. Tools see a read-only snapshot of the execution state; any state
// change must flow back through the node's Delta.
type ToolContext struct {
	context.Context

	nodeID         string
	functionCallID string
	state          *State
	logger         logging.Logger
}

// NewToolContext binds a tool invocation to its node and function call id.
func NewToolContext(ctx context.Context, nodeID, functionCallID string, state *State, logger logging.Logger) *ToolContext {
	if state == nil {
		state = NewState()
	}
	return &ToolContext{
		Context:        ctx,
		nodeID:         nodeID,
		functionCallID: functionCallID,
		state:          state,
		logger:         logging.OrNoOp(logger),
	}
}

// NodeID returns the id of the node running the tool.
func (tc *ToolContext) NodeID() string { return tc.nodeID }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

// GetState returns a deep copy of a channel value from the snapshot. Tools
// of one node share the snapshot and may run concurrently.
func (tc *ToolContext) GetState(k string) (any, bool) {
	v, ok := tc.state.Get(k)
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}
