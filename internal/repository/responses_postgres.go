package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fieldscope/cati-back/internal/domain"
)

const responseColumns = `id, survey_id, queue_entry_id, attempt_seq,
	call_record_id, status, outcome, consent_granted, duration_seconds,
	completed_at, created_at, updated_at`

func (s *PostgresStore) CreateResponse(
	ctx context.Context,
	response *domain.InterviewResponse,
) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO interview_responses (
			id, survey_id, queue_entry_id, attempt_seq, call_record_id,
			status, outcome, consent_granted, duration_seconds,
			completed_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		response.ID,
		response.SurveyID,
		response.QueueEntryID,
		response.AttemptSeq,
		response.CallRecordID,
		string(response.Status),
		string(response.Outcome),
		response.ConsentGranted,
		response.DurationSeconds,
		response.CompletedAt,
		response.CreatedAt,
		response.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert interview response: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateResponse(
	ctx context.Context,
	response *domain.InterviewResponse,
) error {
	command, err := s.pool.Exec(ctx, `
		UPDATE interview_responses
		SET status = $2,
			outcome = $3,
			consent_granted = $4,
			duration_seconds = $5,
			completed_at = $6,
			updated_at = $7
		WHERE id = $1
	`,
		response.ID,
		string(response.Status),
		string(response.Outcome),
		response.ConsentGranted,
		response.DurationSeconds,
		response.CompletedAt,
		response.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update interview response: %w", err)
	}
	if command.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetResponse(
	ctx context.Context,
	responseID string,
) (*domain.InterviewResponse, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+responseColumns+` FROM interview_responses WHERE id = $1`, responseID)
	response, err := scanResponse(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query interview response: %w", err)
	}
	return response, nil
}

func (s *PostgresStore) GetResponseByAttempt(
	ctx context.Context,
	entryID string,
	attemptSeq int,
) (*domain.InterviewResponse, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+responseColumns+`
		FROM interview_responses
		WHERE queue_entry_id = $1 AND attempt_seq = $2
	`, entryID, attemptSeq)
	response, err := scanResponse(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query interview response by attempt: %w", err)
	}
	return response, nil
}

func (s *PostgresStore) SetResponseStatuses(
	ctx context.Context,
	responseIDs []string,
	status domain.ResponseStatus,
) error {
	if len(responseIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE interview_responses
		SET status = $2, updated_at = NOW()
		WHERE id = ANY($1)
	`, responseIDs, string(status))
	if err != nil {
		return fmt.Errorf("set response statuses: %w", err)
	}
	return nil
}

func scanResponse(row pgx.Row) (*domain.InterviewResponse, error) {
	var (
		response domain.InterviewResponse
		status   string
		outcome  string
	)

	err := row.Scan(
		&response.ID,
		&response.SurveyID,
		&response.QueueEntryID,
		&response.AttemptSeq,
		&response.CallRecordID,
		&status,
		&outcome,
		&response.ConsentGranted,
		&response.DurationSeconds,
		&response.CompletedAt,
		&response.CreatedAt,
		&response.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	response.Status = domain.ResponseStatus(status)
	response.Outcome = domain.AttemptOutcome(outcome)
	return &response, nil
}
