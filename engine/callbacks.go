package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentgraph/core"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks hook into the superstep pipeline without changing the engine:
//   - BeforeNode/AfterNode: around every node attempt
//   - OnError: when a node attempt fails
//   - OnCheckpoint: after a snapshot was persisted
//
// BeforeNode and AfterNode run synchronously inside the attempt; an error
// from them fails the attempt (and is retried like any node error). Errors
// from OnError and OnCheckpoint callbacks are logged and otherwise ignored.
type CallbackType string

const (
	// CallbackBeforeNode is triggered before a node attempt starts.
	CallbackBeforeNode CallbackType = "before_node"

	// CallbackAfterNode is triggered after a node attempt produced a valid
	// delta and before the delta is accepted for merging. Use it to
	// validate or audit writes.
	CallbackAfterNode CallbackType = "after_node"

	// CallbackOnError is triggered when a node attempt fails.
	CallbackOnError CallbackType = "on_error"

	// CallbackOnCheckpoint is triggered after a checkpoint was saved.
	CallbackOnCheckpoint CallbackType = "on_checkpoint"
)

// CallbackContext carries what a callback may inspect. Fields that do not
// apply to a callback type are left zero.
type CallbackContext struct {
	ExecutionID  string
	Graph        string
	Node         string
	Step         int
	Attempt      int
	CallbackType CallbackType

	// State is a private snapshot of the state the node read, or the merged
	// state for OnCheckpoint.
	State *core.State

	// Delta is the node's normalized output (AfterNode only).
	Delta core.Delta

	// Err is the attempt failure (OnError only).
	Err error

	// CheckpointID is the saved snapshot (OnCheckpoint only).
	CheckpointID string

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback defines the interface for execution lifecycle hooks.
//
// Nodes of one superstep run concurrently, so node callbacks may be invoked
// from several goroutines at once and must be safe for concurrent use.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
//	audit := NewFunctionCallback(CallbackAfterNode,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("%s wrote %v", cc.Node, cc.Delta.Channels())
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager routes callbacks by type. Callbacks of one type run in
// registration order and the first error stops the chain. It is safe for
// concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback to the manager for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	cm.mu.RLock()
	callbacks := cm.callbacks[callbackType]
	cm.mu.RUnlock()

	callbackCtx.CallbackType = callbackType
	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}

	return nil
}

// LoggingCallback forwards lifecycle events to a logging function.
//
//	callback := NewLoggingCallback(CallbackAfterNode, func(msg string) {
//	    log.Printf("[ENGINE] %s", msg)
//	})
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	msg := fmt.Sprintf("[%s] execution=%s step=%d", c.callbackType, callbackCtx.ExecutionID, callbackCtx.Step)
	if callbackCtx.Node != "" {
		msg += fmt.Sprintf(" node=%s attempt=%d", callbackCtx.Node, callbackCtx.Attempt)
	}
	if callbackCtx.CheckpointID != "" {
		msg += " checkpoint=" + callbackCtx.CheckpointID
	}
	if callbackCtx.Err != nil {
		msg += " error=" + callbackCtx.Err.Error()
	}
	c.logger(msg)
	return nil
}

// StateValidationCallback validates node writes before they are merged.
// A validation error fails the node attempt.
//
//	validator := func(delta core.Delta) error {
//	    if v, ok := delta["answer"]; ok && v == "" {
//	        return errors.New("empty answer")
//	    }
//	    return nil
//	}
//	callback := NewStateValidationCallback(validator)
type StateValidationCallback struct {
	validator func(delta core.Delta) error
}

// NewStateValidationCallback creates a new state validation callback.
func NewStateValidationCallback(validator func(delta core.Delta) error) *StateValidationCallback {
	return &StateValidationCallback{
		validator: validator,
	}
}

// Type returns the callback type (always CallbackAfterNode).
func (c *StateValidationCallback) Type() CallbackType {
	return CallbackAfterNode
}

// Execute validates the delta of the attempt.
func (c *StateValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator != nil && callbackCtx.Delta != nil {
		return c.validator(callbackCtx.Delta)
	}
	return nil
}
