package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// WhileLoopExtension repeatedly executes a body subgraph, either while an
// LLM-or-custom condition holds or for a fixed iteration count.
type WhileLoopExtension struct {
	LLM ChatModel
}

const defaultLoopMaxIterations = 20

func (w *WhileLoopExtension) Execute(ctx context.Context, node *Node, ec *ExecutionContext, g *Graph) (ExtensionResult, error) {
	var data WhileLoopData
	if err := decodeData(node.Data, &data); err != nil {
		return ExtensionResult{}, err
	}
	if data.BodyStartNodeID == "" {
		return ExtensionResult{}, fmt.Errorf("whileLoop %s has no bodyStartNodeId", node.ID)
	}

	maxIter := data.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultLoopMaxIterations
	}
	mode := data.Mode
	if mode == "" {
		mode = "condition"
	}
	outputMode := data.OutputMode
	if outputMode == "" {
		outputMode = "last"
	}
	onMax := data.OnMaxIterations
	if onMax == "" {
		onMax = "warning"
	}

	var accumulated []string
	var lastOutput string
	i := 0
	for {
		if ctx.Err() != nil {
			return ExtensionResult{}, ctx.Err()
		}
		if i >= maxIter {
			switch onMax {
			case "error":
				return ExtensionResult{}, fmt.Errorf("whileLoop %s exceeded max iterations (%d)", node.ID, maxIter)
			case "continue":
				// fall through to exit as if condition became false
			default: // warning
				ec.AppendMessage(ChatMessage{Role: RoleSystem, Content: fmt.Sprintf("Loop %s reached max iterations (%d); exiting.", node.ID, maxIter)})
			}
			break
		}

		iterationInput := buildLoopInput(data, i, maxIter, lastOutput, ec.CurrentInput)

		if ec.Callbacks != nil {
			ec.Callbacks.OnLoopIteration(node.ID, i+1, maxIter)
		}

		result, err := ec.ExecuteSubgraph(ctx, data.BodyStartNodeID, iterationInput, nil)
		if err != nil {
			return ExtensionResult{}, err
		}
		lastOutput = result.Output
		accumulated = append(accumulated, lastOutput)
		i++

		if mode == "fixed" {
			if i >= maxIter {
				break
			}
			continue
		}

		keepGoing, err := w.evaluateCondition(ctx, data, ec, lastOutput)
		if err != nil {
			return ExtensionResult{}, err
		}
		if !keepGoing {
			break
		}
	}

	var output string
	if outputMode == "accumulate" {
		b, _ := json.Marshal(accumulated)
		output = string(b)
	} else {
		output = lastOutput
	}

	var next []string
	for _, c := range g.OutgoingEdges(node.ID, HandleExit) {
		next = append(next, c.NodeID)
	}
	return ExtensionResult{Output: output, NextNodes: next}, nil
}

func buildLoopInput(data WhileLoopData, iteration, max int, lastOutput, currentInput string) string {
	input := lastOutput
	if input == "" {
		input = currentInput
	}
	if data.LoopPrompt != "" {
		input = data.LoopPrompt + "\n\n" + input
	}
	if data.IncludeIterationContext {
		input = fmt.Sprintf("[iteration %d/%d]\n%s", iteration+1, max, input)
	}
	return input
}

func (w *WhileLoopExtension) evaluateCondition(ctx context.Context, data WhileLoopData, ec *ExecutionContext, output string) (bool, error) {
	if data.CustomEvaluator != "" && ec.CustomEvaluators != nil {
		if fn, ok := ec.CustomEvaluators[data.CustomEvaluator]; ok {
			return fn(ctx, output)
		}
	}
	if w.LLM == nil {
		return false, fmt.Errorf("whileLoop has no LLM configured for condition evaluation")
	}
	model := data.ConditionModel
	if model == "" {
		model = ec.DefaultModel
	}
	prompt := data.ConditionPrompt
	if prompt == "" {
		prompt = "Reply with only \"true\" or \"false\": should the loop continue given this latest output?"
	}
	messages := []ChatMessage{
		{Role: RoleSystem, Content: prompt},
		{Role: RoleUser, Content: output},
	}
	resp, err := w.LLM.Chat(ctx, model, messages, ChatOptions{})
	if err != nil {
		return false, err
	}
	decision := strings.ToLower(strings.TrimSpace(resp.Content))
	if b, err := strconv.ParseBool(decision); err == nil {
		return b, nil
	}
	return strings.Contains(decision, "true"), nil
}

func (w *WhileLoopExtension) Validate(node *Node, g *Graph) error {
	var data WhileLoopData
	if err := decodeData(node.Data, &data); err != nil {
		return &StructuredError{Message: err.Error(), Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	if data.BodyStartNodeID == "" {
		return &StructuredError{Message: "whileLoop node requires bodyStartNodeId", Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	if _, ok := g.NodeMap[data.BodyStartNodeID]; !ok {
		return &StructuredError{Message: "whileLoop bodyStartNodeId does not exist", Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	return nil
}

var _ Extension = (*WhileLoopExtension)(nil)
