package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/buddy-assistant/buddy/pkg/memory"
)

// Append implements [memory.HistoryStore].
func (s *Store) Append(ctx context.Context, sessionID, role, text string) error {
	const q = `
		INSERT INTO history_entries (session_id, role, text)
		VALUES ($1, $2, $3)`

	if _, err := s.pool.Exec(ctx, q, sessionID, role, text); err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// UnprocessedSessions implements [memory.HistoryStore]. Sessions are ordered
// by the timestamp of their oldest unprocessed entry so the archivist drains
// the backlog oldest first.
func (s *Store) UnprocessedSessions(ctx context.Context) ([]string, error) {
	const q = `
		SELECT   session_id
		FROM     history_entries
		WHERE    NOT processed
		GROUP BY session_id
		ORDER BY min(timestamp)`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("history: unprocessed sessions: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("history: scan sessions: %w", err)
	}
	return ids, nil
}

// SessionEntries implements [memory.HistoryStore].
func (s *Store) SessionEntries(ctx context.Context, sessionID string) ([]memory.HistoryEntry, error) {
	const q = `
		SELECT   id, session_id, role, text, timestamp, processed
		FROM     history_entries
		WHERE    session_id = $1
		ORDER BY id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("history: session entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.HistoryEntry, error) {
		var e memory.HistoryEntry
		err := row.Scan(&e.ID, &e.SessionID, &e.Role, &e.Text, &e.Timestamp, &e.Processed)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("history: scan entries: %w", err)
	}
	return entries, nil
}

// MarkProcessed implements [memory.HistoryStore].
func (s *Store) MarkProcessed(ctx context.Context, sessionID string) error {
	const q = `
		UPDATE history_entries
		SET    processed = true
		WHERE  session_id = $1`

	if _, err := s.pool.Exec(ctx, q, sessionID); err != nil {
		return fmt.Errorf("history: mark processed: %w", err)
	}
	return nil
}
