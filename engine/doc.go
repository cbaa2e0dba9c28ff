// Package engine executes graph.Spec workflows in supersteps.
//
// The Engine is the single writer of an execution's state. It hands every
// node a private snapshot, collects the deltas, merges them and decides what
// runs next. Nodes themselves are opaque core.Executables produced by a
// Compiler (normally node.Registry).
//
// # Superstep Lifecycle
//
//	┌──────────────┐   ┌──────────────┐   ┌──────────────┐   ┌──────────────┐
//	│   frontier   │──▶│   dispatch   │──▶│    merge     │──▶│  checkpoint  │
//	│ (sorted ids) │   │ (concurrent) │   │(lexical order)│  │ + edges      │
//	└──────────────┘   └──────────────┘   └──────────────┘   └──────┬───────┘
//	       ▲                                                        │
//	       └────────────────────── next frontier ◀──────────────────┘
//
//  1. The budget is charged one superstep.
//  2. Every frontier node runs on its own goroutine (bounded by
//     Config.MaxParallelNodes) against a clone of the state. Failed attempts
//     are retried per the node's graph.RetryPolicy.
//  3. At the barrier, deltas merge in lexical node-id order. Append channels
//     concatenate. Overwrite channels are replaced; a second writer in the
//     same superstep is a core.ErrStateConflict unless the channel declares a
//     reducer.
//  4. The merged state and the next frontier are saved as a checkpoint.
//  5. Outgoing edges of every executed node are evaluated in declaration
//     order; the union of satisfied targets, sorted and without graph.End,
//     is the next frontier.
//
// The run ends when the frontier is empty. Abnormal terminations return a
// *core.RunError carrying the last consistent state, the execution log and
// the id of the last checkpoint.
//
// # Resume
//
// Resume restores state, step counter, log and frontier from any saved
// checkpoint. Because checkpoint ids are content derived and merges are
// deterministic, a resumed execution reaches the same final state and the
// same sequence of successful step records as an uninterrupted one.
//
// # Observability
//
// Each run, superstep and node attempt is a span on the configured
// OpenTelemetry tracer (agentgraph.run, agentgraph.superstep,
// agentgraph.node). Lifecycle callbacks (before_node, after_node, on_error,
// on_checkpoint) are registered through Options.Callbacks.
package engine
