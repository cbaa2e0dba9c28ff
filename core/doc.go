// Package core provides the foundational domain types shared by every
// agentgraph component:
//
//   - State, the channel-addressed blackboard an execution mutates
//   - Delta, the set of channel writes a node invocation produces
//   - StepRecord / ExecutionLog, the append-only audit trail of a run
//   - Executable / Resolver, the contract between the engine and nodes
//   - Content / Part / Message, the provider neutral conversation envelope
//   - Document, the unit returned by retrieval
//   - the error taxonomy (sentinels plus RunError)
//
// The package keeps orchestration, persistence and provider concerns out of
// scope so that engine, node, model, retrieval and checkpoint packages can
// depend on it without cycles.
package core
