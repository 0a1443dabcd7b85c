package memory

import (
	"context"
	"testing"

	chromem "github.com/philippgille/chromem-go"

	"github.com/flowforge/workflow-engine/graph"
)

// hashEmbedding is a deterministic stand-in for a real embedding model:
// good enough to exercise chromem's nearest-neighbor search in tests
// without a network call.
func hashEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%len(vec)] += float32(r)
	}
	return vec, nil
}

func TestChromemMemory_StoreAndQuery(t *testing.T) {
	m, err := NewChromemMemory("", chromem.EmbeddingFunc(hashEmbedding))
	if err != nil {
		t.Fatalf("NewChromemMemory returned error: %v", err)
	}
	ctx := context.Background()

	entries := []graph.MemoryEntry{
		{ID: "1", Text: "the user prefers dark mode", SessionID: "s1"},
		{ID: "2", Text: "the user's favorite color is blue", SessionID: "s1"},
		{ID: "3", Text: "unrelated memory in another session", SessionID: "s2"},
	}
	for _, e := range entries {
		if err := m.Store(ctx, e); err != nil {
			t.Fatalf("Store(%s) returned error: %v", e.ID, err)
		}
	}

	results, err := m.Query(ctx, graph.MemoryQuery{Text: "dark mode", SessionID: "s1", Limit: 5})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 entries in session s1, got %d", len(results))
	}
}

func TestChromemMemory_Clear(t *testing.T) {
	m, err := NewChromemMemory("", chromem.EmbeddingFunc(hashEmbedding))
	if err != nil {
		t.Fatalf("NewChromemMemory returned error: %v", err)
	}
	ctx := context.Background()

	if err := m.Store(ctx, graph.MemoryEntry{ID: "1", Text: "hello", SessionID: "s1"}); err != nil {
		t.Fatalf("Store returned error: %v", err)
	}
	if err := m.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear returned error: %v", err)
	}

	results, err := m.Query(ctx, graph.MemoryQuery{Text: "hello", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Query after Clear returned error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results after Clear, got %d", len(results))
	}
}

func TestChromemMemory_SessionIsolation(t *testing.T) {
	m, err := NewChromemMemory("", chromem.EmbeddingFunc(hashEmbedding))
	if err != nil {
		t.Fatalf("NewChromemMemory returned error: %v", err)
	}
	ctx := context.Background()
	_ = m.Store(ctx, graph.MemoryEntry{ID: "1", Text: "session one memory", SessionID: "s1"})
	_ = m.Store(ctx, graph.MemoryEntry{ID: "2", Text: "session two memory", SessionID: "s2"})

	results, err := m.Query(ctx, graph.MemoryQuery{Text: "memory", SessionID: "s2", Limit: 10})
	if err != nil {
		t.Fatalf("Query returned error: %v", err)
	}
	if len(results) != 1 || results[0].ID != "2" {
		t.Fatalf("expected only session s2's entry, got %+v", results)
	}
}
