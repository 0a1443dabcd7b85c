package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ParallelExtension runs each declared branch as an independent LLM turn
// concurrently, merging their outputs into one document.
type ParallelExtension struct {
	LLM ChatModel
}

const defaultBranchTimeout = 5 * time.Minute

func (p *ParallelExtension) Execute(ctx context.Context, node *Node, ec *ExecutionContext, g *Graph) (ExtensionResult, error) {
	var data ParallelData
	if err := decodeData(node.Data, &data); err != nil {
		return ExtensionResult{}, err
	}
	if len(data.Branches) == 0 {
		return ExtensionResult{}, fmt.Errorf("parallel %s declares no branches", node.ID)
	}

	timeout := data.BranchTimeout
	if timeout <= 0 {
		timeout = defaultBranchTimeout
	}

	type branchOutcome struct {
		id     string
		text   string
		err    error
	}
	results := make([]branchOutcome, len(data.Branches))

	var wg sync.WaitGroup
	for i, branch := range data.Branches {
		wg.Add(1)
		go func(i int, branch BranchSpec) {
			defer wg.Done()
			text, err := p.runBranch(ctx, node, ec, branch, timeout)
			results[i] = branchOutcome{id: branch.ID, text: text, err: err}
		}(i, branch)
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return ExtensionResult{}, fmt.Errorf("parallel %s branch %s: %w", node.ID, r.id, r.err)
		}
		ec.SetOutput(node.ID+":"+r.id, r.text)
	}

	sorted := make([]branchOutcome, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].id < sorted[j].id })

	var merged strings.Builder
	for i, r := range sorted {
		if i > 0 {
			merged.WriteString("\n\n")
		}
		merged.WriteString("## Output ")
		merged.WriteString(r.id)
		merged.WriteString("\n")
		merged.WriteString(r.text)
	}

	var next []string
	for _, c := range g.OutgoingEdges(node.ID, "") {
		next = append(next, c.NodeID)
	}
	return ExtensionResult{Output: merged.String(), NextNodes: next}, nil
}

func (p *ParallelExtension) runBranch(ctx context.Context, node *Node, ec *ExecutionContext, branch BranchSpec, timeout time.Duration) (string, error) {
	branchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if ec.Callbacks != nil {
		ec.Callbacks.OnBranchStart(node.ID, branch.ID)
	}

	model := branch.Model
	if model == "" {
		model = ec.DefaultModel
	}

	messages := ec.History()
	prompt := branch.Prompt
	if prompt == "" {
		prompt = ec.CurrentInput
	}
	messages = append(messages, ChatMessage{Role: RoleUser, Content: prompt})

	opts := ChatOptions{Tools: resolveToolSpecs(branch.Tools, ec)}
	if ec.Callbacks != nil {
		opts.OnToken = func(delta string) { ec.Callbacks.OnBranchToken(node.ID, branch.ID, delta) }
		opts.OnReasoning = func(delta string) { ec.Callbacks.OnBranchReasoning(node.ID, branch.ID, delta) }
	}

	if p.LLM == nil {
		return "", fmt.Errorf("no LLM configured for branch %s", branch.ID)
	}
	resp, err := p.LLM.Chat(branchCtx, model, messages, opts)
	if err != nil {
		return "", err
	}
	if ec.Callbacks != nil {
		ec.Callbacks.OnBranchComplete(node.ID, branch.ID, resp.Content)
	}
	return resp.Content, nil
}

func (p *ParallelExtension) Validate(node *Node, _ *Graph) error {
	var data ParallelData
	if err := decodeData(node.Data, &data); err != nil {
		return &StructuredError{Message: err.Error(), Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	if len(data.Branches) == 0 {
		return &StructuredError{Message: "parallel node requires at least one branch", Code: CodeValidation, NodeID: node.ID, NodeType: node.Type}
	}
	return nil
}

var _ Extension = (*ParallelExtension)(nil)
