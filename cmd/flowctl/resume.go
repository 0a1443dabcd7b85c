package main

import (
	"context"
	"fmt"
	"os"

	"github.com/flowforge/workflow-engine/graph"
	"github.com/flowforge/workflow-engine/graph/emit"
)

// ResumeCmd continues a run from its last persisted checkpoint, e.g. after
// a human-in-the-loop pause or a process crash mid-execution.
type ResumeCmd struct {
	Workflow string `required:"" type:"path" help:"Path to the same workflow JSON file the run started from."`
	RunID    string `required:"" name:"run-id" help:"Run id to resume."`
	Input    string `help:"Input to continue with (e.g. the human's HITL response)."`

	Provider string `help:"LLM provider: anthropic, openai or google." default:"anthropic"`
	Model    string `help:"Model id; provider default if omitted."`
	APIKey   string `name:"api-key" help:"Provider API key (defaults to the provider's env var)."`

	JSON bool `help:"Emit execution events as JSON lines instead of text."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
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

	resumeState, err := graph.LoadResumeState(context.Background(), runStore, c.RunID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", c.RunID, err)
	}
	resumeState.ResumeInput = c.Input

	callbacks := graph.NewEmitterCallbacks(emit.NewLogEmitter(os.Stderr, c.JSON), c.RunID)
	opts := &graph.ExecuteOptions{ResumeFrom: resumeState}

	result, err := sched.Execute(context.Background(), wf, c.Input, callbacks, opts)
	if err != nil {
		return fmt.Errorf("resume %s: %w", c.RunID, err)
	}
	return printResult(c.RunID, result)
}
