package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sweetpotato0/grounded/memory"
	"github.com/sweetpotato0/grounded/vector"
)

// InMemorySessionStore keeps session state in a process-local map.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*memory.SessionState
}

// NewInMemorySessionStore creates an empty session store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{
		sessions: make(map[string]*memory.SessionState),
	}
}

// LoadSession returns the stored state or a fresh zero state.
func (s *InMemorySessionStore) LoadSession(ctx context.Context, sessionID string) (*memory.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.sessions[sessionID]; ok {
		clone := *state
		clone.Summary = append([]memory.SummaryBullet(nil), state.Summary...)
		clone.Salience = append([]memory.SalienceNote(nil), state.Salience...)
		return &clone, nil
	}
	return &memory.SessionState{}, nil
}

// SaveSession overwrites the stored state for a session.
func (s *InMemorySessionStore) SaveSession(ctx context.Context, sessionID string, state *memory.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *state
	clone.Summary = append([]memory.SummaryBullet(nil), state.Summary...)
	clone.Salience = append([]memory.SalienceNote(nil), state.Salience...)
	s.sessions[sessionID] = &clone
	return nil
}

// InMemorySemanticStore is a cosine-similarity semantic memory for tests and
// single-process deployments.
type InMemorySemanticStore struct {
	mu      sync.RWMutex
	entries map[string]*memory.SemanticMemory
}

// NewInMemorySemanticStore creates an empty semantic store.
func NewInMemorySemanticStore() *InMemorySemanticStore {
	return &InMemorySemanticStore{
		entries: make(map[string]*memory.SemanticMemory),
	}
}

// Add stores a memory, minting an ID and timestamps when missing.
func (s *InMemorySemanticStore) Add(ctx context.Context, mem *memory.SemanticMemory) error {
	if mem == nil {
		return nil
	}
	if mem.ID == "" {
		mem.ID = memory.GenerateID()
	}
	now := time.Now()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = now
	}
	if mem.LastAccessedAt.IsZero() {
		mem.LastAccessedAt = now
	}
	clone := *mem
	s.mu.Lock()
	s.entries[mem.ID] = &clone
	s.mu.Unlock()
	return nil
}

// Recall returns the topK entries most similar to the query embedding and
// bumps their usage counters.
func (s *InMemorySemanticStore) Recall(ctx context.Context, embedding []float32, topK int) ([]*memory.SemanticMemory, error) {
	if topK <= 0 {
		topK = 5
	}
	type scored struct {
		mem   *memory.SemanticMemory
		score float32
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := make([]scored, 0, len(s.entries))
	for _, mem := range s.entries {
		candidates = append(candidates, scored{
			mem:   mem,
			score: vector.CosineSimilarity(embedding, mem.Embedding),
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	now := time.Now()
	out := make([]*memory.SemanticMemory, 0, len(candidates))
	for _, c := range candidates {
		c.mem.UsageCount++
		c.mem.LastAccessedAt = now
		clone := *c.mem
		out = append(out, &clone)
	}
	return out, nil
}

// Prune removes entries that are both older than maxAge and used fewer than
// minUsage times.
func (s *InMemorySemanticStore) Prune(ctx context.Context, maxAge time.Duration, minUsage int) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, mem := range s.entries {
		if mem.CreatedAt.Before(cutoff) && mem.UsageCount < minUsage {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Count returns how many entries the store holds.
func (s *InMemorySemanticStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
