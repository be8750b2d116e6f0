package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fieldscope/cati-back/internal/domain"
)

const callColumns = `id, provider_id, queue_entry_id, attempt_seq, from_number,
	to_number, status, agent_answered, raw_event, started_at, ended_at,
	talk_seconds, recording_url, event_applied, created_at, updated_at`

func (s *PostgresStore) CreateCall(ctx context.Context, record *domain.CallRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO call_records (
			id, provider_id, queue_entry_id, attempt_seq, from_number,
			to_number, status, agent_answered, raw_event, started_at,
			ended_at, talk_seconds, recording_url, event_applied,
			created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`,
		record.ID,
		record.ProviderID,
		record.QueueEntryID,
		record.AttemptSeq,
		record.FromNumber,
		record.ToNumber,
		string(record.Status),
		record.AgentAnswered,
		record.RawEvent,
		record.StartedAt,
		record.EndedAt,
		record.TalkSeconds,
		record.RecordingURL,
		record.EventApplied,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCall(ctx context.Context, record *domain.CallRecord) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE call_records
		SET status = $2,
			agent_answered = $3,
			raw_event = $4,
			started_at = $5,
			ended_at = $6,
			talk_seconds = $7,
			recording_url = $8,
			event_applied = $9,
			updated_at = $10
		WHERE id = $1
	`,
		record.ID,
		string(record.Status),
		record.AgentAnswered,
		record.RawEvent,
		record.StartedAt,
		record.EndedAt,
		record.TalkSeconds,
		record.RecordingURL,
		record.EventApplied,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update call record: %w", err)
	}
	if command.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetCall(ctx context.Context, callID string) (*domain.CallRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM call_records WHERE id = $1`, callID)
	record, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query call record: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) GetCallByProviderID(
	ctx context.Context,
	providerID string,
) (*domain.CallRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+callColumns+` FROM call_records WHERE provider_id = $1`, providerID)
	record, err := scanCall(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query call record by provider id: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) ListCallsSince(
	ctx context.Context,
	since time.Time,
) ([]*domain.CallRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+callColumns+`
		FROM call_records
		WHERE created_at >= $1
		ORDER BY created_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.CallRecord, 0)
	for rows.Next() {
		record, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		result = append(result, record)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate call records: %w", rows.Err())
	}
	return result, nil
}

func scanCall(row pgx.Row) (*domain.CallRecord, error) {
	var (
		record domain.CallRecord
		status string
	)

	err := row.Scan(
		&record.ID,
		&record.ProviderID,
		&record.QueueEntryID,
		&record.AttemptSeq,
		&record.FromNumber,
		&record.ToNumber,
		&status,
		&record.AgentAnswered,
		&record.RawEvent,
		&record.StartedAt,
		&record.EndedAt,
		&record.TalkSeconds,
		&record.RecordingURL,
		&record.EventApplied,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Status = domain.CallStatus(status)
	return &record, nil
}
