package graph

import (
	"context"
	"encoding/json"
	"regexp"
)

// OutputExtension is a pure formatter: it interpolates outputs collected so
// far into a template and renders the result, with no LLM call.
type OutputExtension struct{}

var outputPlaceholder = regexp.MustCompile(`\{\{([^}]+)\}\}`)

func (OutputExtension) Execute(_ context.Context, node *Node, ec *ExecutionContext, g *Graph) (ExtensionResult, error) {
	var data OutputData
	if err := decodeData(node.Data, &data); err != nil {
		return ExtensionResult{}, err
	}

	rendered := outputPlaceholder.ReplaceAllStringFunc(data.Template, func(m string) string {
		key := outputPlaceholder.FindStringSubmatch(m)[1]
		if v, ok := ec.GetOutput(key); ok {
			return v
		}
		return ""
	})

	formatted := rendered
	switch data.Format {
	case "json":
		encoded, err := json.Marshal(map[string]string{"output": rendered})
		if err == nil {
			formatted = string(encoded)
		}
	case "markdown", "text", "":
		// rendered as-is
	}

	var next []string
	for _, c := range g.OutgoingEdges(node.ID, "") {
		next = append(next, c.NodeID)
	}
	return ExtensionResult{Output: formatted, NextNodes: next}, nil
}

func (OutputExtension) Validate(node *Node, _ *Graph) error {
	var data OutputData
	if err := decodeData(node.Data, &data); err != nil {
		return &StructuredError{Message: err.Error(), Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	if data.Template == "" {
		return &StructuredError{Message: "output node requires a template", Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	return nil
}

var _ Extension = OutputExtension{}
