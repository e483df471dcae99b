package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — conversation history
// ─────────────────────────────────────────────────────────────────────────────

const ddlHistory = `
CREATE TABLE IF NOT EXISTS history_entries (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    processed   BOOLEAN      NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_history_session_id
    ON history_entries (session_id);

CREATE INDEX IF NOT EXISTS idx_history_unprocessed
    ON history_entries (session_id) WHERE NOT processed;
`

// ddlFacts returns the fact-store DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlFacts(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS facts (
    id          BIGSERIAL    PRIMARY KEY,
    fact        TEXT         NOT NULL,
    category    TEXT         NOT NULL DEFAULT '',
    notes       TEXT         NOT NULL DEFAULT '',
    importance  INT          NOT NULL DEFAULT 0,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    embedding   vector(%d)
);

CREATE INDEX IF NOT EXISTS idx_facts_category
    ON facts (category);

CREATE INDEX IF NOT EXISTS idx_facts_embedding
    ON facts USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g. 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text). Changing this value after the first migration requires
// a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlHistory,
		ddlFacts(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
