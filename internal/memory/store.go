// Package memory implements the embedding-indexed conversation memory.
// Retrieval combines the most recent entries (guaranteed, for local coherence)
// with semantically relevant entries from the rest of the history.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"chorus/internal/embedding"
	"chorus/internal/logging"
)

// Role identifies who produced a memory entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one remembered turn. DisplayContent is what the user saw;
// RecallContent is what gets embedded and fed back into prompts (for assistant
// turns it is usually a condensed summary). Entries are appended, never mutated.
type Entry struct {
	Role           Role
	DisplayContent string
	RecallContent  string
	Embedding      []float32
	Timestamp      time.Time
}

// Recalled is the projection of an entry handed to prompt assembly.
// Embeddings and timestamps never cross this boundary.
type Recalled struct {
	Role    Role
	Content string
}

// Store holds the in-process memory log. A single writer per turn is assumed,
// but reads and writes are serialized anyway so overlapping turns cannot
// corrupt the log.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	engine  embedding.Engine
}

// NewStore creates a memory store backed by the given embedding engine.
func NewStore(engine embedding.Engine) *Store {
	return &Store{engine: engine}
}

// embed generates an embedding, degrading to a zero vector on failure.
// Memory writes must never abort because the embedding service is down;
// CosineSimilarity treats zero vectors as similarity 0.
func (s *Store) embed(ctx context.Context, text string) []float32 {
	vec, err := s.engine.Embed(ctx, text)
	if err != nil {
		logging.EmbeddingWarn("Embedding failed, storing zero vector: %v", err)
		return make([]float32, s.engine.Dimensions())
	}
	return vec
}

// Add appends a new entry, generating and storing its embedding.
func (s *Store) Add(ctx context.Context, role Role, recallContent, displayContent string) Entry {
	logging.MemoryDebug("Embedding new '%s' message...", role)

	entry := Entry{
		Role:           role,
		DisplayContent: displayContent,
		RecallContent:  recallContent,
		Embedding:      s.embed(ctx, recallContent),
		Timestamp:      time.Now(),
	}

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	total := len(s.entries)
	s.mu.Unlock()

	logging.Memory("Message added. Total memories: %d", total)
	return entry
}

// Retrieve returns contextual history for a query: up to topK semantically
// relevant older entries followed by the last lastN entries. Semantic search is
// skipped entirely (including the query embedding call) when topK <= 0 or when
// no older entries exist.
func (s *Store) Retrieve(ctx context.Context, query string, topK, lastN int) []Recalled {
	s.mu.RLock()
	snapshot := make([]Entry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.RUnlock()

	if len(snapshot) == 0 {
		logging.MemoryDebug("Memory is empty. No messages to retrieve.")
		return nil
	}

	logging.Memory("Retrieving contextual history: %d semantic + last %d guaranteed.", topK, lastN)

	actualLastN := lastN
	if actualLastN > len(snapshot) {
		actualLastN = len(snapshot)
	}
	if actualLastN < 0 {
		actualLastN = 0
	}
	guaranteed := snapshot[len(snapshot)-actualLastN:]
	searchable := snapshot[:len(snapshot)-actualLastN]

	var semantic []Entry
	switch {
	case topK <= 0:
		logging.MemoryDebug("Semantic search skipped (topK=%d).", topK)
	case len(searchable) == 0:
		logging.MemoryDebug("No older messages available for semantic search.")
	default:
		queryVec := s.embed(ctx, query)

		type scored struct {
			entry Entry
			score float64
		}
		scoredEntries := make([]scored, 0, len(searchable))
		for _, e := range searchable {
			scoredEntries = append(scoredEntries, scored{
				entry: e,
				score: embedding.CosineSimilarity(queryVec, e.Embedding),
			})
		}

		sort.SliceStable(scoredEntries, func(i, j int) bool {
			return scoredEntries[i].score > scoredEntries[j].score
		})

		take := topK
		if take > len(scoredEntries) {
			take = len(scoredEntries)
		}
		for _, item := range scoredEntries[:take] {
			logging.MemoryDebug("Retrieved semantically (score %.4f): %.60q", item.score, item.entry.RecallContent)
			semantic = append(semantic, item.entry)
		}
	}

	result := make([]Recalled, 0, len(semantic)+len(guaranteed))
	for _, e := range semantic {
		result = append(result, Recalled{Role: e.Role, Content: e.RecallContent})
	}
	for _, e := range guaranteed {
		result = append(result, Recalled{Role: e.Role, Content: e.RecallContent})
	}

	logging.Memory("Final contextual history contains %d messages.", len(result))
	return result
}

// Clear removes all entries.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
	logging.Memory("Memory has been cleared.")
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// LoadAll replaces the store contents, re-embedding entries whose vectors are
// missing. Used when rehydrating a persisted conversation.
func (s *Store) LoadAll(ctx context.Context, entries []Entry) {
	loaded := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			e.Embedding = s.embed(ctx, e.RecallContent)
		}
		loaded = append(loaded, e)
	}

	s.mu.Lock()
	s.entries = loaded
	s.mu.Unlock()

	logging.Memory("Rehydrated %d memories.", len(loaded))
}
