// Package memory provides long-term memory backends for Agent nodes,
// implementing graph.MemoryAdapter.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/flowforge/workflow-engine/graph"
)

// ChromemMemory implements graph.MemoryAdapter over an embedded chromem-go
// vector database: no external service, optional on-disk persistence.
// Entries are stored under one collection per SessionID so Clear can drop a
// session's memory without touching others.
type ChromemMemory struct {
	db            *chromem.DB
	embeddingFunc chromem.EmbeddingFunc

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemMemory opens (or creates) a chromem database at persistPath. An
// empty persistPath keeps everything in memory (lost on process exit).
// embeddingFunc computes the vector for a stored or queried text; the
// OpenAI-backed chromem.NewEmbeddingFuncOpenAI is the usual choice.
func NewChromemMemory(persistPath string, embeddingFunc chromem.EmbeddingFunc) (*ChromemMemory, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("open chromem db at %s: %w", persistPath, err)
		}
	} else {
		db = chromem.NewDB()
	}
	return &ChromemMemory{
		db:            db,
		embeddingFunc: embeddingFunc,
		collections:   make(map[string]*chromem.Collection),
	}, nil
}

func (m *ChromemMemory) collectionFor(sessionID string) (*chromem.Collection, error) {
	name := collectionName(sessionID)

	m.mu.RLock()
	if col, ok := m.collections[name]; ok {
		m.mu.RUnlock()
		return col, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if col, ok := m.collections[name]; ok {
		return col, nil
	}
	col, err := m.db.GetOrCreateCollection(name, nil, m.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("get/create collection %s: %w", name, err)
	}
	m.collections[name] = col
	return col, nil
}

func collectionName(sessionID string) string {
	if sessionID == "" {
		return "default"
	}
	return "session_" + sessionID
}

// Store embeds and upserts a memory entry.
func (m *ChromemMemory) Store(ctx context.Context, entry graph.MemoryEntry) error {
	col, err := m.collectionFor(entry.SessionID)
	if err != nil {
		return err
	}
	strMeta := make(map[string]string, len(entry.Metadata))
	for k, v := range entry.Metadata {
		strMeta[k] = fmt.Sprint(v)
	}
	doc := chromem.Document{
		ID:       entry.ID,
		Content:  entry.Text,
		Metadata: strMeta,
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("store memory entry %s: %w", entry.ID, err)
	}
	return nil
}

// Query embeds q.Text and returns the nearest stored entries in q.SessionID.
func (m *ChromemMemory) Query(ctx context.Context, q graph.MemoryQuery) ([]graph.MemoryEntry, error) {
	col, err := m.collectionFor(q.SessionID)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 5
	}
	if n := col.Count(); n < limit {
		limit = n
	}
	if limit == 0 {
		return nil, nil
	}

	var whereFilter map[string]string
	if len(q.Filter) > 0 {
		whereFilter = make(map[string]string, len(q.Filter))
		for k, v := range q.Filter {
			whereFilter[k] = fmt.Sprint(v)
		}
	}

	results, err := col.Query(ctx, q.Text, limit, whereFilter, nil)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}

	out := make([]graph.MemoryEntry, 0, len(results))
	for _, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		out = append(out, graph.MemoryEntry{
			ID:        r.ID,
			Text:      r.Content,
			SessionID: q.SessionID,
			Metadata:  meta,
			CreatedAt: time.Time{}, // chromem does not track insertion time
		})
	}
	return out, nil
}

// Delete removes one entry by id. SessionID-scoped lookups mean the caller
// must know which session a given id lives in; this sweeps every known
// collection since chromem's own Delete is collection-scoped.
func (m *ChromemMemory) Delete(ctx context.Context, id string) error {
	m.mu.RLock()
	cols := make([]*chromem.Collection, 0, len(m.collections))
	for _, c := range m.collections {
		cols = append(cols, c)
	}
	m.mu.RUnlock()

	var lastErr error
	for _, col := range cols {
		if err := col.Delete(ctx, nil, nil, id); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Clear removes every entry stored under sessionID.
func (m *ChromemMemory) Clear(ctx context.Context, sessionID string) error {
	name := collectionName(sessionID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	delete(m.collections, name)
	return nil
}

var _ graph.MemoryAdapter = (*ChromemMemory)(nil)
