package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/buddy-assistant/buddy/pkg/memory"
)

// SaveFact implements [memory.FactStore].
func (s *Store) SaveFact(ctx context.Context, fact memory.Fact) error {
	const q = `
		INSERT INTO facts (fact, category, notes, importance, embedding)
		VALUES ($1, $2, $3, $4, $5)`

	vec := pgvector.NewVector(fact.Embedding)
	if _, err := s.pool.Exec(ctx, q,
		fact.Fact, fact.Category, fact.Notes, fact.Importance, vec,
	); err != nil {
		return fmt.Errorf("facts: save: %w", err)
	}
	return nil
}

// SearchFacts implements [memory.FactStore]. Results are ordered by
// ascending cosine distance (most similar first).
func (s *Store) SearchFacts(ctx context.Context, embedding []float32, topK int) ([]memory.FactResult, error) {
	const q = `
		SELECT id, fact, category, notes, importance, timestamp, embedding,
		       embedding <=> $1 AS distance
		FROM   facts
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("facts: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.FactResult, error) {
		var (
			fr  memory.FactResult
			vec pgvector.Vector
		)
		if err := row.Scan(
			&fr.Fact.ID,
			&fr.Fact.Fact,
			&fr.Fact.Category,
			&fr.Fact.Notes,
			&fr.Fact.Importance,
			&fr.Fact.Timestamp,
			&vec,
			&fr.Distance,
		); err != nil {
			return memory.FactResult{}, err
		}
		fr.Fact.Embedding = vec.Slice()
		return fr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("facts: scan rows: %w", err)
	}
	if results == nil {
		results = []memory.FactResult{}
	}
	return results, nil
}
