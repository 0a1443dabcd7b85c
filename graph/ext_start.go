package graph

import "context"

// StartExtension is the graph's single entry point: a passthrough that
// forwards the run's input unchanged.
type StartExtension struct{}

func (StartExtension) Execute(_ context.Context, node *Node, ec *ExecutionContext, g *Graph) (ExtensionResult, error) {
	var next []string
	for _, c := range g.OutgoingEdges(node.ID, "") {
		next = append(next, c.NodeID)
	}
	return ExtensionResult{Output: ec.CurrentInput, NextNodes: next}, nil
}

func (StartExtension) Validate(node *Node, g *Graph) error {
	if len(g.Parents[node.ID]) > 0 {
		return &StructuredError{Message: "start node must have no incoming edges", Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	return nil
}

var _ Extension = StartExtension{}
