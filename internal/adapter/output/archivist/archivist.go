// Package archivist implements the memory-distiller output adapter. On every
// distill_memory event it walks the unprocessed conversation sessions one at
// a time, asks the model to extract long-term facts worth remembering, embeds
// them and writes them to the fact store, then marks the session processed.
package archivist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/buddy-assistant/buddy/internal/adapter"
	"github.com/buddy-assistant/buddy/pkg/event"
	"github.com/buddy-assistant/buddy/pkg/memory"
	"github.com/buddy-assistant/buddy/pkg/provider/embeddings"
	"github.com/buddy-assistant/buddy/pkg/provider/llm"
)

const queueSize = 8

// distillPrompt instructs the model to return extracted facts as a JSON
// array. The reply is parsed strictly; anything else fails the session and
// leaves it unprocessed for the next run.
const distillPrompt = `Sei l'archivista di un assistente vocale domestico.
Dalla conversazione qui sotto estrai i fatti sull'utente che vale la pena
ricordare a lungo termine (preferenze, abitudini, persone, date). Rispondi
SOLO con un array JSON di oggetti con i campi: "fact" (stringa), "category"
(stringa breve), "notes" (stringa, può essere vuota), "importance" (intero
1-5). Se non c'è nulla da ricordare rispondi con [].`

// Distiller is the archivist output adapter.
type Distiller struct {
	*adapter.Worker
	log        *slog.Logger
	llm        llm.Provider
	history    memory.HistoryStore
	facts      memory.FactStore
	embeddings embeddings.Provider
	sessionID  func() string
}

var _ adapter.OutputAdapter = (*Distiller)(nil)

// New builds a Distiller. It takes no adapter options; everything comes from
// the shared environment.
func New(_ map[string]any, env adapter.Env) (adapter.OutputAdapter, error) {
	if env.LLM == nil {
		return nil, fmt.Errorf("archivist: an llm provider is required")
	}
	if env.History == nil || env.Facts == nil {
		return nil, fmt.Errorf("archivist: history and fact stores are required")
	}
	if env.Embeddings == nil {
		return nil, fmt.Errorf("archivist: an embeddings provider is required")
	}
	d := &Distiller{
		log:        env.Log.With("adapter", "archivist"),
		llm:        env.LLM,
		history:    env.History,
		facts:      env.Facts,
		embeddings: env.Embeddings,
		sessionID:  env.SessionID,
	}
	d.Worker = adapter.NewWorker("archivist", queueSize, env.Log, d.distill)
	return d, nil
}

// Name implements [adapter.OutputAdapter].
func (d *Distiller) Name() string { return "archivist" }

// Kinds implements [adapter.OutputAdapter].
func (d *Distiller) Kinds() []event.OutputKind {
	return []event.OutputKind{event.OutputDistillMemory}
}

// HandleCommand implements [adapter.OutputAdapter]. The distiller reacts to
// no adapter commands.
func (d *Distiller) HandleCommand(adapter.Command) bool { return false }

// distill processes every unprocessed session, one at a time. A failing
// session is logged and skipped; it stays unprocessed and is retried on the
// next distill_memory event.
func (d *Distiller) distill(ctx context.Context, _ event.Event) error {
	sessions, err := d.history.UnprocessedSessions(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(sessions) == 0 {
		d.log.Debug("nothing to distill")
		return nil
	}

	for _, id := range sessions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.sessionID != nil && id == d.sessionID() {
			// The live session is still growing; distill it next time.
			continue
		}
		if err := d.distillSession(ctx, id); err != nil {
			d.log.Error("session distillation failed", "session_id", id, "error", err)
		}
	}
	return nil
}

func (d *Distiller) distillSession(ctx context.Context, id string) error {
	entries, err := d.history.SessionEntries(ctx, id)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	if len(entries) == 0 {
		return d.history.MarkProcessed(ctx, id)
	}

	facts, err := d.extract(ctx, entries)
	if err != nil {
		return err
	}
	for _, f := range facts {
		vec, err := d.embeddings.Embed(ctx, f.Fact)
		if err != nil {
			return fmt.Errorf("embed fact: %w", err)
		}
		if err := d.facts.SaveFact(ctx, memory.Fact{
			Fact:       f.Fact,
			Category:   f.Category,
			Notes:      f.Notes,
			Importance: f.Importance,
			Embedding:  vec,
		}); err != nil {
			return fmt.Errorf("save fact: %w", err)
		}
	}

	if err := d.history.MarkProcessed(ctx, id); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	d.log.Info("session distilled", "session_id", id,
		"turns", len(entries), "facts", len(facts))
	return nil
}

// extract asks the model for the session's memorable facts.
func (d *Distiller) extract(ctx context.Context, entries []memory.HistoryEntry) ([]event.MemoryFact, error) {
	var sb strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s: %s\n", e.Role, e.Text)
	}

	resp, err := d.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: distillPrompt,
		Messages:     []llm.Message{{Role: "user", Content: sb.String()}},
	})
	if err != nil {
		return nil, fmt.Errorf("model extraction: %w", err)
	}

	var facts []event.MemoryFact
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &facts); err != nil {
		return nil, fmt.Errorf("parse extraction %q: %w", resp.Content, err)
	}

	kept := facts[:0]
	for _, f := range facts {
		if f.Fact == "" {
			continue
		}
		kept = append(kept, f)
	}
	return kept, nil
}

// stripFences removes a markdown code fence around the model's JSON reply.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
