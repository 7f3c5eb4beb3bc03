// Package postgres persists call outcomes in PostgreSQL.
//
// The store holds a single [pgxpool.Pool]. When an embedder is configured
// the pgvector extension must be available in the target database; the
// migration installs it via CREATE EXTENSION IF NOT EXISTS and adds an
// embedding column sized to the embedder's output dimension.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/vocalith/internal/outcome"
)

var _ outcome.Sink = (*Store)(nil)

const ddlOutcomes = `
CREATE TABLE IF NOT EXISTS call_outcomes (
    id                  BIGSERIAL    PRIMARY KEY,
    call_id             TEXT         NOT NULL,
    turn_id             BIGINT       NOT NULL DEFAULT 0,
    epoch               BIGINT       NOT NULL DEFAULT 0,
    intent              TEXT         NOT NULL DEFAULT '',
    action_type         TEXT         NOT NULL DEFAULT '',
    objection           TEXT         NOT NULL DEFAULT '',
    offered_slots_count INT          NOT NULL DEFAULT 0,
    accepted            BOOLEAN      NOT NULL DEFAULT FALSE,
    escalated           BOOLEAN      NOT NULL DEFAULT FALSE,
    drop_off_point      TEXT         NOT NULL DEFAULT '',
    t_ms                BIGINT       NOT NULL DEFAULT 0,
    summary             TEXT         NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_call_outcomes_call_id
    ON call_outcomes (call_id);

CREATE INDEX IF NOT EXISTS idx_call_outcomes_created_at
    ON call_outcomes (created_at);
`

// Store is a pgx-backed outcome sink. Safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	embedder outcome.Embedder
	dims     int
}

// NewStore connects to dsn, runs the migration and returns the store.
// embedder may be nil, in which case outcomes are stored without vectors
// and Similar returns an error. dims must match the embedder's output
// dimension (e.g. 1536 for text-embedding-3-small).
func NewStore(ctx context.Context, dsn string, embedder outcome.Embedder, dims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("outcome store: parse dsn: %w", err)
	}
	if embedder != nil {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgxvec.RegisterTypes(ctx, conn)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("outcome store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("outcome store: ping: %w", err)
	}
	if err := migrate(ctx, pool, embedder != nil, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("outcome store: migrate: %w", err)
	}
	return &Store{pool: pool, embedder: embedder, dims: dims}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, withVectors bool, dims int) error {
	if _, err := pool.Exec(ctx, ddlOutcomes); err != nil {
		return fmt.Errorf("create call_outcomes: %w", err)
	}
	if !withVectors {
		return nil
	}
	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	alter := fmt.Sprintf(
		`ALTER TABLE call_outcomes ADD COLUMN IF NOT EXISTS embedding vector(%d)`, dims)
	if _, err := pool.Exec(ctx, alter); err != nil {
		return fmt.Errorf("add embedding column: %w", err)
	}
	return nil
}

// Record inserts one outcome. With an embedder configured the summary is
// embedded inline; an embedding failure stores the row without a vector
// rather than losing the outcome.
func (s *Store) Record(ctx context.Context, o outcome.CallOutcome) error {
	summary := o.Summary()

	var vec *pgvector.Vector
	if s.embedder != nil {
		if emb, err := s.embedder.Embed(ctx, summary); err == nil {
			v := pgvector.NewVector(emb)
			vec = &v
		}
	}

	if vec != nil {
		_, err := s.pool.Exec(ctx, `
INSERT INTO call_outcomes
    (call_id, turn_id, epoch, intent, action_type, objection,
     offered_slots_count, accepted, escalated, drop_off_point, t_ms,
     summary, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			o.CallID, o.TurnID, o.Epoch, o.Intent, o.ActionType, o.Objection,
			o.OfferedSlotsCount, o.Accepted, o.Escalated, o.DropOffPoint, o.TMS,
			summary, *vec)
		if err != nil {
			return fmt.Errorf("outcome store: insert: %w", err)
		}
		return nil
	}

	_, err := s.pool.Exec(ctx, `
INSERT INTO call_outcomes
    (call_id, turn_id, epoch, intent, action_type, objection,
     offered_slots_count, accepted, escalated, drop_off_point, t_ms, summary)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		o.CallID, o.TurnID, o.Epoch, o.Intent, o.ActionType, o.Objection,
		o.OfferedSlotsCount, o.Accepted, o.Escalated, o.DropOffPoint, o.TMS,
		summary)
	if err != nil {
		return fmt.Errorf("outcome store: insert: %w", err)
	}
	return nil
}

// SimilarResult is one nearest-neighbour hit from Similar.
type SimilarResult struct {
	Outcome  outcome.CallOutcome
	Summary  string
	Distance float64
}

// Similar embeds text and returns the k stored outcomes with the closest
// embeddings by cosine distance.
func (s *Store) Similar(ctx context.Context, text string, k int) ([]SimilarResult, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("outcome store: similarity requires an embedder")
	}
	if k <= 0 {
		k = 5
	}
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("outcome store: embed query: %w", err)
	}
	queryVec := pgvector.NewVector(emb)

	rows, err := s.pool.Query(ctx, `
SELECT call_id, turn_id, epoch, intent, action_type, objection,
       offered_slots_count, accepted, escalated, drop_off_point, t_ms,
       summary,
       embedding <=> $1 AS distance
FROM call_outcomes
WHERE embedding IS NOT NULL
ORDER BY distance
LIMIT $2`, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("outcome store: similar query: %w", err)
	}
	defer rows.Close()

	var results []SimilarResult
	for rows.Next() {
		var r SimilarResult
		o := &r.Outcome
		if err := rows.Scan(&o.CallID, &o.TurnID, &o.Epoch, &o.Intent,
			&o.ActionType, &o.Objection, &o.OfferedSlotsCount, &o.Accepted,
			&o.Escalated, &o.DropOffPoint, &o.TMS, &r.Summary, &r.Distance); err != nil {
			return nil, fmt.Errorf("outcome store: scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outcome store: rows: %w", err)
	}
	return results, nil
}

// Recent returns the latest n outcomes by insert order, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]outcome.CallOutcome, error) {
	if n <= 0 {
		n = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT call_id, turn_id, epoch, intent, action_type, objection,
       offered_slots_count, accepted, escalated, drop_off_point, t_ms
FROM call_outcomes
ORDER BY id DESC
LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("outcome store: recent query: %w", err)
	}
	defer rows.Close()

	var results []outcome.CallOutcome
	for rows.Next() {
		var o outcome.CallOutcome
		if err := rows.Scan(&o.CallID, &o.TurnID, &o.Epoch, &o.Intent,
			&o.ActionType, &o.Objection, &o.OfferedSlotsCount, &o.Accepted,
			&o.Escalated, &o.DropOffPoint, &o.TMS); err != nil {
			return nil, fmt.Errorf("outcome store: scan: %w", err)
		}
		results = append(results, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outcome store: rows: %w", err)
	}
	return results, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
