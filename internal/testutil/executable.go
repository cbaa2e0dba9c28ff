package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/agentgraph/core"
)

// ScriptedExecutable returns queued outcomes in order, repeating the last
// one once the script is exhausted. Safe for concurrent use.
type ScriptedExecutable struct {
	mu      sync.Mutex
	script  []Outcome
	calls   int
	inputs  []*core.State
	onStart func(ctx context.Context) error
}

// Outcome is one scripted Invoke result.
type Outcome struct {
	Delta core.Delta
	Err   error
}

// Returns creates an executable that always succeeds with delta.
func Returns(delta core.Delta) *ScriptedExecutable {
	return Script(Outcome{Delta: delta})
}

// Script creates an executable replaying outcomes.
func Script(outcomes ...Outcome) *ScriptedExecutable {
	return &ScriptedExecutable{script: outcomes}
}

// FailTimes creates an executable failing n times with err before
// returning delta.
func FailTimes(n int, err error, delta core.Delta) *ScriptedExecutable {
	outcomes := make([]Outcome, 0, n+1)
	for i := 0; i < n; i++ {
		outcomes = append(outcomes, Outcome{Err: err})
	}
	return Script(append(outcomes, Outcome{Delta: delta})...)
}

// BlockUntilDone creates an executable that waits for context cancellation
// and returns its error.
func BlockUntilDone() *ScriptedExecutable {
	return &ScriptedExecutable{onStart: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
}

// Invoke implements core.Executable.
func (s *ScriptedExecutable) Invoke(ctx context.Context, st *core.State) (core.Delta, error) {
	s.mu.Lock()
	s.calls++
	s.inputs = append(s.inputs, st.Clone())
	var out Outcome
	if n := len(s.script); n > 0 {
		idx := s.calls - 1
		if idx >= n {
			idx = n - 1
		}
		out = s.script[idx]
	}
	start := s.onStart
	s.mu.Unlock()

	if start != nil {
		if err := start(ctx); err != nil {
			return nil, err
		}
	}
	if out.Err != nil {
		return nil, out.Err
	}
	d := make(core.Delta, len(out.Delta))
	for k, v := range out.Delta {
		d[k] = v
	}
	return d, nil
}

// Calls returns the number of Invoke calls.
func (s *ScriptedExecutable) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Inputs returns snapshots of the states passed to Invoke.
func (s *ScriptedExecutable) Inputs() []*core.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*core.State(nil), s.inputs...)
}
