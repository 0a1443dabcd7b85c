package graph

import (
	"context"
	"fmt"
)

// SubflowExtension looks up a nested workflow by id and runs it as a fresh
// scheduler instance, translating the parent's outputs into the child's
// input text.
type SubflowExtension struct{}

func (s *SubflowExtension) Execute(ctx context.Context, node *Node, ec *ExecutionContext, g *Graph) (ExtensionResult, error) {
	var data SubflowData
	if err := decodeData(node.Data, &data); err != nil {
		return ExtensionResult{}, err
	}
	if data.SubflowID == "" {
		return ExtensionResult{}, fmt.Errorf("subflow %s has no subflowId", node.ID)
	}

	maxDepth := ec.MaxSubflowDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	if ec.SubflowDepth >= maxDepth {
		return ExtensionResult{}, ErrSubflowDepthExceeded
	}

	if ec.SubflowReg == nil {
		return ExtensionResult{}, fmt.Errorf("subflow %s: no subflow registry configured", node.ID)
	}
	sub, ok := ec.SubflowReg.Get(data.SubflowID)
	if !ok {
		return ExtensionResult{}, fmt.Errorf("subflow %s: unknown subflowId %q", node.ID, data.SubflowID)
	}

	mappedInput := mapSubflowInput(data.InputMappings, ec)

	result, err := ec.ExecuteWorkflow(ctx, sub, mappedInput, &ExecuteOptions{MaxSubflowDepth: maxDepth, CallingNodeID: node.ID})
	if err != nil {
		return ExtensionResult{}, err
	}
	if !result.Success {
		if result.Error != nil {
			return ExtensionResult{}, result.Error
		}
		return ExtensionResult{}, fmt.Errorf("subflow %s failed", node.ID)
	}

	var next []string
	for _, c := range g.OutgoingEdges(node.ID, "") {
		next = append(next, c.NodeID)
	}
	return ExtensionResult{Output: result.FinalOutput, NextNodes: next}, nil
}

// mapSubflowInput resolves the source reference of the mapping keyed "input"
// (an outputs key, or the literal "input" for the running current input) into
// the child workflow's single input text; mappings under other keys are not
// read. With no such mapping, or no stored output for its source, the
// parent's current input passes through unchanged.
func mapSubflowInput(mappings map[string]string, ec *ExecutionContext) string {
	if len(mappings) == 0 {
		return ec.CurrentInput
	}
	if src, ok := mappings["input"]; ok {
		if src == "input" || src == "" {
			return ec.CurrentInput
		}
		if v, ok := ec.GetOutput(src); ok {
			return v
		}
	}
	return ec.CurrentInput
}

func (s *SubflowExtension) Validate(node *Node, _ *Graph) error {
	var data SubflowData
	if err := decodeData(node.Data, &data); err != nil {
		return &StructuredError{Message: err.Error(), Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	if data.SubflowID == "" {
		return &StructuredError{Message: "subflow node requires subflowId", Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	return nil
}

var _ Extension = (*SubflowExtension)(nil)
