// Package memory defines the persistence contracts of the assistant: an
// append-only conversational history with a processed flag, and a
// vector-indexed store of distilled facts.
//
// The history accumulates raw conversation turns per chat session; the
// archivist periodically distills unprocessed sessions into facts and marks
// them processed. Facts carry an embedding so they can be recalled by
// semantic similarity.
package memory

import (
	"context"
	"time"
)

// HistoryEntry is one stored conversation turn.
type HistoryEntry struct {
	ID        int64
	SessionID string
	// Role is "user" or "model".
	Role      string
	Text      string
	Timestamp time.Time
	// Processed is set once the archivist has distilled the entry's session.
	Processed bool
}

// Fact is one distilled memory with its vector embedding.
type Fact struct {
	ID         int64
	Fact       string
	Category   string
	Notes      string
	Importance int
	Timestamp  time.Time
	Embedding  []float32
}

// FactResult is a search hit with its cosine distance from the query vector.
// Lower distance means more similar.
type FactResult struct {
	Fact     Fact
	Distance float64
}

// HistoryStore is the append-only conversation log.
//
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Append stores one conversation turn in the given chat session.
	Append(ctx context.Context, sessionID, role, text string) error

	// UnprocessedSessions lists the session IDs that still have
	// unprocessed entries, oldest first.
	UnprocessedSessions(ctx context.Context) ([]string, error)

	// SessionEntries returns all entries of one session in insertion order.
	SessionEntries(ctx context.Context, sessionID string) ([]HistoryEntry, error)

	// MarkProcessed flags every entry of the session as processed.
	MarkProcessed(ctx context.Context, sessionID string) error
}

// FactStore is the vector-indexed memory of distilled facts.
//
// Implementations must be safe for concurrent use.
type FactStore interface {
	// SaveFact stores one fact with its embedding.
	SaveFact(ctx context.Context, fact Fact) error

	// SearchFacts returns the topK facts closest to the query embedding,
	// most similar first.
	SearchFacts(ctx context.Context, embedding []float32, topK int) ([]FactResult, error)
}
