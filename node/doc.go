// Package node turns the declarative nodes of a graph.Spec into executables.
//
// A Registry maps every node kind to a Factory. Build decodes each
// NodeSpec.Config with mapstructure into the kind's typed configuration and
// returns a core.Resolver the engine dispatches through:
//
//	reg := node.NewRegistry(func(d *node.Deps) {
//	    d.Models = modelGateway
//	    d.Retrieval = retrievalGateway
//	    d.Tools = tools
//	})
//	resolver, err := reg.Build(spec)
//
// The variant set is closed: ModelCallNode, ToolCallNode, RetrievalNode,
// DecisionNode and SubgraphNode. Executables never mutate the state they are
// handed; every change is expressed in the returned delta.
package node
