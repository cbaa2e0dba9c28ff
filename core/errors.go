package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Callers match them with errors.Is; the structured details
// travel in RunError or in the gateway specific error types.
var (
	// ErrInvalidGraphSpec reports a structurally invalid graph definition.
	ErrInvalidGraphSpec = errors.New("invalid graph spec")
	// ErrUnknownNodeKind reports a node kind outside the supported set.
	ErrUnknownNodeKind = errors.New("unknown node kind")
	// ErrStateConflict reports two writers of one overwrite channel in a superstep.
	ErrStateConflict = errors.New("state conflict")
	// ErrStepBudgetExceeded reports that the superstep budget ran out.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")
	// ErrNodeFailed reports a node that failed after exhausting its retries.
	ErrNodeFailed = errors.New("node failed")
	// ErrCancelled reports an execution stopped by its context.
	ErrCancelled = errors.New("execution cancelled")
	// ErrUndeclaredWrite reports a node writing a channel it did not declare.
	ErrUndeclaredWrite = errors.New("write to undeclared channel")
	// ErrCheckpointFailed reports a snapshot that could not be persisted.
	ErrCheckpointFailed = errors.New("checkpoint failed")
)

// RunError is returned by engine runs that terminate abnormally. It carries
// the last consistent state, the execution log and the id of the last
// checkpoint so the caller can inspect or resume the execution.
type RunError struct {
	Kind         error // one of the sentinels above
	ExecutionID  string
	Node         string // failing node, if any
	Step         int
	State        *State
	Log          []StepRecord
	CheckpointID string
	Cause        error
}

func (e *RunError) Error() string {
	msg := e.Kind.Error()
	if e.Node != "" {
		msg = fmt.Sprintf("%s: node %q at step %d", msg, e.Node, e.Step)
	} else {
		msg = fmt.Sprintf("%s at step %d", msg, e.Step)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel kind and the cause.
func (e *RunError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// InvalidSpec wraps a validation message as ErrInvalidGraphSpec.
func InvalidSpec(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidGraphSpec, fmt.Sprintf(format, args...))
}
