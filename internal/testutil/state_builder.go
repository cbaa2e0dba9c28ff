package testutil

import (
	"testing"

	"github.com/hupe1980/agentgraph/core"
)

// StateBuilder helps construct execution state with fluent chaining.
// Example:
//
//	st := NewStateBuilder().Set("question", "why?").Append("messages", msg).Build(t)
type StateBuilder struct {
	values  map[string]any
	appends map[string][]any
	order   []string
}

// NewStateBuilder creates an empty builder.
func NewStateBuilder() *StateBuilder {
	return &StateBuilder{values: map[string]any{}, appends: map[string][]any{}}
}

// Set sets or overwrites a channel value (chainable).
func (b *StateBuilder) Set(channel string, v any) *StateBuilder {
	b.values[channel] = v
	return b
}

// Append appends items to an append channel (chainable).
func (b *StateBuilder) Append(channel string, items ...any) *StateBuilder {
	if _, ok := b.appends[channel]; !ok {
		b.order = append(b.order, channel)
	}
	b.appends[channel] = append(b.appends[channel], items...)
	return b
}

// Build returns the normalized state, failing the test on encoding errors.
func (b *StateBuilder) Build(t testing.TB) *core.State {
	t.Helper()
	values := make(map[string]any, len(b.values)+len(b.appends))
	for k, v := range b.values {
		values[k] = v
	}
	for _, ch := range b.order {
		values[ch] = append([]any(nil), b.appends[ch]...)
	}
	st, err := core.NewStateFrom(values)
	if err != nil {
		t.Fatalf("build state: %v", err)
	}
	return st
}
