// Package memory holds the two memory tiers the pipeline reads and writes:
// session-scoped memory (running summary bullets and salience notes) and a
// long-lived similarity-searchable semantic store. Session memory is only
// mutated at the end-of-turn commit so a turn sees a consistent view.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SummaryBullet is one line of the running conversation summary.
type SummaryBullet struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// SalienceNote is a durable fact noticed during the conversation.
type SalienceNote struct {
	Fact         string `json:"fact"`
	Topic        string `json:"topic,omitempty"`
	LastSeenTurn int    `json:"last_seen_turn"`
}

// SessionState is everything persisted per conversation session.
type SessionState struct {
	Turn     int             `json:"turn"`
	Summary  []SummaryBullet `json:"summary,omitempty"`
	Salience []SalienceNote  `json:"salience,omitempty"`
}

// SessionStore is the key-value session memory collaborator.
type SessionStore interface {
	LoadSession(ctx context.Context, sessionID string) (*SessionState, error)
	SaveSession(ctx context.Context, sessionID string, state *SessionState) error
}

// SemanticMemory is one entry of the long-lived store.
type SemanticMemory struct {
	ID             string         `json:"id"`
	Text           string         `json:"text"`
	Type           string         `json:"type"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	UsageCount     int            `json:"usage_count"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
}

// SemanticStore is the durable similarity-searchable collaborator.
// Recall increments each returned entry's usage count and refreshes its
// last-accessed time.
type SemanticStore interface {
	Add(ctx context.Context, mem *SemanticMemory) error
	Recall(ctx context.Context, embedding []float32, topK int) ([]*SemanticMemory, error)
	// Prune removes entries older than maxAge whose usage count is below
	// minUsage, returning how many were removed. Old but frequently used
	// entries survive.
	Prune(ctx context.Context, maxAge time.Duration, minUsage int) (int, error)
}

// MergeBullets appends incoming bullets onto existing ones, deduplicating by
// exact trimmed text and keeping first-arrival order.
func MergeBullets(existing, incoming []SummaryBullet) []SummaryBullet {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]SummaryBullet, 0, len(existing)+len(incoming))
	for _, b := range existing {
		key := strings.TrimSpace(b.Text)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, b)
	}
	for _, b := range incoming {
		key := strings.TrimSpace(b.Text)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		merged = append(merged, b)
	}
	return merged
}

// MergeNotes folds incoming notes into existing ones by exact fact text,
// bumping LastSeenTurn on repeats.
func MergeNotes(existing, incoming []SalienceNote, turn int) []SalienceNote {
	index := make(map[string]int, len(existing))
	merged := make([]SalienceNote, 0, len(existing)+len(incoming))
	for _, n := range existing {
		key := strings.TrimSpace(n.Fact)
		if key == "" {
			continue
		}
		if _, ok := index[key]; ok {
			continue
		}
		index[key] = len(merged)
		merged = append(merged, n)
	}
	for _, n := range incoming {
		key := strings.TrimSpace(n.Fact)
		if key == "" {
			continue
		}
		if idx, ok := index[key]; ok {
			merged[idx].LastSeenTurn = turn
			if n.Topic != "" {
				merged[idx].Topic = n.Topic
			}
			continue
		}
		n.LastSeenTurn = turn
		index[key] = len(merged)
		merged = append(merged, n)
	}
	return merged
}

// PruneNotes drops notes not seen for more than maxAgeTurns turns.
func PruneNotes(notes []SalienceNote, currentTurn, maxAgeTurns int) []SalienceNote {
	if maxAgeTurns <= 0 {
		return notes
	}
	kept := notes[:0]
	for _, n := range notes {
		if currentTurn-n.LastSeenTurn <= maxAgeTurns {
			kept = append(kept, n)
		}
	}
	return kept
}

// idGenerator mints unique memory IDs without a syscall per call.
type idGenerator struct {
	mu      sync.Mutex
	counter int64
	lastTs  int64
}

var defaultIDGenerator = &idGenerator{}

// GenerateID generates a unique ID for a memory entry.
func GenerateID() string {
	return defaultIDGenerator.generate()
}

func (g *idGenerator) generate() string {
	now := time.Now().UnixNano()

	g.mu.Lock()
	if now > g.lastTs {
		g.lastTs = now
		g.counter = 0
		g.mu.Unlock()
		return fmt.Sprintf("mem_%d", now)
	}
	g.counter++
	counter := g.counter
	g.mu.Unlock()

	return fmt.Sprintf("mem_%d_%d", now, counter)
}
