// Package persist implements the persistence output adapter. It appends
// conversation turns to the history store and writes distilled facts, with
// their embeddings, to the vector-indexed fact store.
package persist

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
	"github.com/buddy-assistant/buddy/pkg/memory"
	"github.com/buddy-assistant/buddy/pkg/provider/embeddings"
)

const queueSize = 64

// Recorder is the persistence output adapter.
type Recorder struct {
	*adapter.Worker
	log        *slog.Logger
	history    memory.HistoryStore
	facts      memory.FactStore
	embeddings embeddings.Provider
	sessionID  func() string
}

var _ adapter.OutputAdapter = (*Recorder)(nil)

// New builds a Recorder. It takes no adapter options; everything comes from
// the shared environment.
func New(_ map[string]any, env adapter.Env) (adapter.OutputAdapter, error) {
	if env.History == nil || env.Facts == nil {
		return nil, fmt.Errorf("persist: history and fact stores are required")
	}
	if env.Embeddings == nil {
		return nil, fmt.Errorf("persist: an embeddings provider is required")
	}
	if env.SessionID == nil {
		return nil, fmt.Errorf("persist: a session id source is required")
	}
	r := &Recorder{
		log:        env.Log.With("adapter", "persist"),
		history:    env.History,
		facts:      env.Facts,
		embeddings: env.Embeddings,
		sessionID:  env.SessionID,
	}
	r.Worker = adapter.NewWorker("persist", queueSize, env.Log, r.store)
	return r, nil
}

// Name implements [adapter.OutputAdapter].
func (r *Recorder) Name() string { return "persist" }

// Kinds implements [adapter.OutputAdapter].
func (r *Recorder) Kinds() []event.OutputKind {
	return []event.OutputKind{event.OutputSaveHistory, event.OutputSaveMemory}
}

// HandleCommand implements [adapter.OutputAdapter]. The recorder reacts to no
// adapter commands.
func (r *Recorder) HandleCommand(adapter.Command) bool { return false }

func (r *Recorder) store(ctx context.Context, ev event.Event) error {
	switch ev.Output {
	case event.OutputSaveHistory:
		return r.storeHistory(ctx, ev)
	case event.OutputSaveMemory:
		return r.storeFact(ctx, ev)
	default:
		return fmt.Errorf("unexpected kind %q", ev.Kind())
	}
}

func (r *Recorder) storeHistory(ctx context.Context, ev event.Event) error {
	entry, ok := ev.Content.(event.HistoryEntry)
	if !ok {
		return fmt.Errorf("save_history content is %T, want HistoryEntry", ev.Content)
	}
	if entry.Role != "user" && entry.Role != "model" {
		return fmt.Errorf("save_history role %q, want user or model", entry.Role)
	}
	id := r.sessionID()
	if err := r.history.Append(ctx, id, entry.Role, entry.Text); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	r.log.Debug("history appended", "session_id", id, "role", entry.Role)
	return nil
}

func (r *Recorder) storeFact(ctx context.Context, ev event.Event) error {
	f, ok := ev.Content.(event.MemoryFact)
	if !ok {
		return fmt.Errorf("save_memory content is %T, want MemoryFact", ev.Content)
	}
	if f.Fact == "" {
		return fmt.Errorf("save_memory with empty fact")
	}

	vec, err := r.embeddings.Embed(ctx, f.Fact)
	if err != nil {
		return fmt.Errorf("embed fact: %w", err)
	}
	err = r.facts.SaveFact(ctx, memory.Fact{
		Fact:       f.Fact,
		Category:   f.Category,
		Notes:      f.Notes,
		Importance: f.Importance,
		Embedding:  vec,
	})
	if err != nil {
		return fmt.Errorf("save fact: %w", err)
	}
	r.log.Info("fact stored", "category", f.Category, "importance", f.Importance)
	return nil
}
