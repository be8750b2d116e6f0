package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements every repository interface against one pgx pool.
//
// Expected schema (managed externally):
//
//	queue_entries(id, survey_id, contact jsonb, status, priority,
//	    assigned_to, assigned_at, scheduled_for, attempts jsonb,
//	    created_at, updated_at)
//	call_records(id, provider_id unique, queue_entry_id, attempt_seq,
//	    from_number, to_number, status, agent_answered, raw_event jsonb,
//	    started_at, ended_at, talk_seconds, recording_url, event_applied,
//	    created_at, updated_at)
//	interview_responses(id, survey_id, queue_entry_id, attempt_seq,
//	    call_record_id, status, outcome, consent_granted, duration_seconds,
//	    completed_at, created_at, updated_at)
//	qc_batches(id, survey_id, day, response_ids jsonb, sample_ids jsonb,
//	    remainder_ids jsonb, sample_approved, sample_rejected,
//	    sample_pending, approval_rate, status, decided_at, created_at,
//	    updated_at, unique(survey_id, day))
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
