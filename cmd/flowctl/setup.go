package main

import (
	"fmt"
	"os"

	"github.com/flowforge/workflow-engine/graph"
	"github.com/flowforge/workflow-engine/graph/llm/anthropic"
	"github.com/flowforge/workflow-engine/graph/llm/google"
	"github.com/flowforge/workflow-engine/graph/llm/openai"
	"github.com/flowforge/workflow-engine/graph/store"
)

// buildChatModel resolves provider/model/apiKey into a graph.ChatModel,
// falling back to the provider's usual environment variable when apiKey is
// empty, matching the zero-config convention the example CLIs use.
func buildChatModel(provider, model, apiKey string) (graph.ChatModel, error) {
	switch provider {
	case "", "anthropic":
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("no Anthropic API key: pass --api-key or set ANTHROPIC_API_KEY")
		}
		return anthropic.NewChatModel(apiKey, model), nil
	case "openai":
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("no OpenAI API key: pass --api-key or set OPENAI_API_KEY")
		}
		return openai.NewChatModel(apiKey, model), nil
	case "google", "gemini":
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("no Google API key: pass --api-key or set GOOGLE_API_KEY")
		}
		return google.NewChatModel(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic, openai or google)", provider)
	}
}

// openRunStore builds the RunStore a Scheduler needs from the CLI's global
// --store/--store-db flags. "memory" only lasts for one process, which is
// enough for a single `run`; resuming or inspecting a run across process
// invocations requires sqlite.
func openRunStore(cli *CLI) (store.RunStore, error) {
	switch cli.Store {
	case "", "memory":
		return store.AsRunStore(store.NewMemStore[store.RunRecord]()), nil
	case "sqlite":
		if cli.StoreDB == "" {
			return nil, fmt.Errorf("--store=sqlite requires --store-db")
		}
		s, err := store.NewSQLiteStore[store.RunRecord](cli.StoreDB)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store.AsRunStore(s), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q (want memory or sqlite)", cli.Store)
	}
}

func newScheduler(llm graph.ChatModel, runStore store.RunStore) *graph.Scheduler {
	return &graph.Scheduler{
		Registry: graph.NewRegistry(llm),
		LLM:      llm,
		RunStore: runStore,
	}
}
