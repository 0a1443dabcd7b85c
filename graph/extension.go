package graph

import "context"

// Extension is the per-node-type behavioral contract. The
// scheduler never special-cases a node type directly; it only ever calls
// through this interface, resolved by the node's Type via a Registry.
type Extension interface {
	// Execute runs the node's behavior for one invocation. The returned
	// NextNodes list drives skip propagation in the scheduler: children not
	// named there are skipped unless the node type manages its own control
	// flow (WhileLoop).
	Execute(ctx context.Context, node *Node, ec *ExecutionContext, g *Graph) (ExtensionResult, error)

	// Validate checks a node's Data for structural problems the scheduler
	// should refuse to run. A nil return means the node is well-formed.
	Validate(node *Node, g *Graph) error
}

// Registry maps a NodeType to its Extension implementation. Lookup is by
// string because workflows are user-authored JSON with no static type
// information.
type Registry struct {
	extensions map[NodeType]Extension
}

// NewRegistry builds a Registry pre-populated with the seven built-in node
// extensions, backed by llm for any extension that calls a model.
func NewRegistry(llm ChatModel) *Registry {
	r := &Registry{extensions: make(map[NodeType]Extension, 7)}
	r.Register(NodeStart, &StartExtension{})
	r.Register(NodeAgent, &AgentExtension{LLM: llm})
	r.Register(NodeRouter, &RouterExtension{LLM: llm})
	r.Register(NodeParallel, &ParallelExtension{LLM: llm})
	r.Register(NodeWhileLoop, &WhileLoopExtension{LLM: llm})
	r.Register(NodeSubflow, &SubflowExtension{})
	r.Register(NodeOutput, &OutputExtension{})
	return r
}

// Register installs or replaces the extension for a node type.
func (r *Registry) Register(t NodeType, ext Extension) {
	r.extensions[t] = ext
}

// Get resolves a node type to its extension, reporting false if unregistered.
func (r *Registry) Get(t NodeType) (Extension, bool) {
	ext, ok := r.extensions[t]
	return ext, ok
}
