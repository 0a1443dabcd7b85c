package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/flowforge/workflow-engine/graph"
	"github.com/flowforge/workflow-engine/graph/emit"
)

// RunCmd executes a workflow JSON file from its start node through
// completion (or until it pauses on a human-in-the-loop request).
type RunCmd struct {
	Workflow string `required:"" type:"path" help:"Path to a workflow JSON file."`
	Input    string `help:"Input text passed to the start node."`
	RunID    string `name:"run-id" help:"Run id to persist under (random if omitted)."`

	Provider string `help:"LLM provider: anthropic, openai or google." default:"anthropic"`
	Model    string `help:"Model id; provider default if omitted."`
	APIKey   string `name:"api-key" help:"Provider API key (defaults to the provider's env var)."`

	JSON bool `help:"Emit execution events as JSON lines instead of text."`
}

func (c *RunCmd) Run(cli *CLI) error {
	wf, err := loadWorkflow(c.Workflow)
	if err != nil {
		return err
	}
	llm, err := buildChatModel(c.Provider, c.Model, c.APIKey)
	if err != nil {
		return err
	}
	runStore, err := openRunStore(cli)
	if err != nil {
		return err
	}
	sched := newScheduler(llm, runStore)

	runID := c.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	callbacks := graph.NewEmitterCallbacks(emit.NewLogEmitter(os.Stderr, c.JSON), runID)

	result, err := sched.Execute(context.Background(), wf, c.Input, callbacks, nil)
	if err != nil {
		return fmt.Errorf("execute %s: %w", c.Workflow, err)
	}
	return printResult(runID, result)
}

func loadWorkflow(path string) (*graph.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow %s: %w", path, err)
	}
	var wf graph.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", path, err)
	}
	return &wf, nil
}

func printResult(runID string, result *graph.ExecutionResult) error {
	fmt.Printf("run %s: success=%v finalNode=%s\n", runID, result.Success, result.FinalNodeID)
	if result.Error != nil {
		fmt.Printf("error: [%s] %s\n", result.Error.Code, result.Error.Error())
	}
	fmt.Println(result.Output)
	return nil
}
