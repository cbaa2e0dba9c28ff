package core

import (
	"context"
	"fmt"
)

// Executable is the uniform contract every node variant satisfies. It reads
// a private snapshot of the state and returns the writes it wants merged.
type Executable interface {
	Invoke(ctx context.Context, state *State) (Delta, error)
}

// ExecutableFunc adapts a plain function to Executable.
type ExecutableFunc func(ctx context.Context, state *State) (Delta, error)

// Invoke implements Executable.
func (f ExecutableFunc) Invoke(ctx context.Context, state *State) (Delta, error) {
	return f(ctx, state)
}

// Resolver maps node ids of a compiled graph to executables.
type Resolver interface {
	Resolve(nodeID string) (Executable, error)
}

// ResolverMap is a static Resolver.
type ResolverMap map[string]Executable

// Resolve implements Resolver.
func (m ResolverMap) Resolve(nodeID string) (Executable, error) {
	e, ok := m[nodeID]
	if !ok {
		return nil, fmt.Errorf("no executable for node %q", nodeID)
	}
	return e, nil
}
