// Package mock provides an in-memory test double for the memory store
// interfaces. It implements both memory.HistoryStore and memory.FactStore.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/buddy-assistant/buddy/pkg/memory"
)

// Store is an in-memory implementation of the persistence contracts. The
// zero value is ready to use. Set Err to inject a failure into every method.
type Store struct {
	mu      sync.Mutex
	entries []memory.HistoryEntry
	facts   []memory.Fact
	nextID  int64

	// Err, if non-nil, is returned from every method.
	Err error
}

var (
	_ memory.HistoryStore = (*Store)(nil)
	_ memory.FactStore    = (*Store)(nil)
)

// Append implements memory.HistoryStore.
func (s *Store) Append(_ context.Context, sessionID, role, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.nextID++
	s.entries = append(s.entries, memory.HistoryEntry{
		ID:        s.nextID,
		SessionID: sessionID,
		Role:      role,
		Text:      text,
		Timestamp: time.Now(),
	})
	return nil
}

// UnprocessedSessions implements memory.HistoryStore.
func (s *Store) UnprocessedSessions(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range s.entries {
		if !e.Processed && !seen[e.SessionID] {
			seen[e.SessionID] = true
			ids = append(ids, e.SessionID)
		}
	}
	return ids, nil
}

// SessionEntries implements memory.HistoryStore.
func (s *Store) SessionEntries(_ context.Context, sessionID string) ([]memory.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []memory.HistoryEntry
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// MarkProcessed implements memory.HistoryStore.
func (s *Store) MarkProcessed(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	for i := range s.entries {
		if s.entries[i].SessionID == sessionID {
			s.entries[i].Processed = true
		}
	}
	return nil
}

// SaveFact implements memory.FactStore.
func (s *Store) SaveFact(_ context.Context, fact memory.Fact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.nextID++
	fact.ID = s.nextID
	if fact.Timestamp.IsZero() {
		fact.Timestamp = time.Now()
	}
	s.facts = append(s.facts, fact)
	return nil
}

// SearchFacts implements memory.FactStore using exact cosine distance.
func (s *Store) SearchFacts(_ context.Context, embedding []float32, topK int) ([]memory.FactResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	results := make([]memory.FactResult, 0, len(s.facts))
	for _, f := range s.facts {
		results = append(results, memory.FactResult{
			Fact:     f,
			Distance: cosineDistance(embedding, f.Embedding),
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Facts returns a copy of every stored fact, in insertion order.
func (s *Store) Facts() []memory.Fact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.Fact(nil), s.facts...)
}

// Entries returns a copy of every stored history entry, in insertion order.
func (s *Store) Entries() []memory.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]memory.HistoryEntry(nil), s.entries...)
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
