package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fieldscope/cati-back/internal/domain"
)

const entryColumns = `id, survey_id, contact, status, priority, assigned_to,
	assigned_at, scheduled_for, attempts, created_at, updated_at`

func (s *PostgresStore) CreateEntry(ctx context.Context, entry *domain.QueueEntry) error {
	contact, err := json.Marshal(entry.Contact)
	if err != nil {
		return fmt.Errorf("encode contact: %w", err)
	}
	attempts, err := marshalAttempts(entry.Attempts)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO queue_entries (
			id, survey_id, contact, status, priority, assigned_to,
			assigned_at, scheduled_for, attempts, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		entry.ID,
		entry.SurveyID,
		contact,
		string(entry.Status),
		entry.Priority,
		entry.AssignedTo,
		entry.AssignedAt,
		entry.ScheduledFor,
		attempts,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateEntry(ctx context.Context, entry *domain.QueueEntry) error {
	attempts, err := marshalAttempts(entry.Attempts)
	if err != nil {
		return err
	}

	command, err := s.pool.Exec(ctx, `
		UPDATE queue_entries
		SET status = $2,
			priority = $3,
			assigned_to = $4,
			assigned_at = $5,
			scheduled_for = $6,
			attempts = $7,
			created_at = $8,
			updated_at = $9
		WHERE id = $1
	`,
		entry.ID,
		string(entry.Status),
		entry.Priority,
		entry.AssignedTo,
		entry.AssignedAt,
		entry.ScheduledFor,
		attempts,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update queue entry: %w", err)
	}
	if command.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, entryID string) (*domain.QueueEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM queue_entries WHERE id = $1`, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query queue entry: %w", err)
	}
	return entry, nil
}

func (s *PostgresStore) ListPendingEntries(
	ctx context.Context,
	surveyID string,
) ([]*domain.QueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE survey_id = $1 AND status = $2
	`, surveyID, string(domain.EntryStatusPending))
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.QueueEntry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		result = append(result, entry)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate queue entries: %w", rows.Err())
	}
	return result, nil
}

func (s *PostgresStore) ListEntryPhones(
	ctx context.Context,
	surveyID string,
) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT contact->>'phone_number'
		FROM queue_entries
		WHERE survey_id = $1
	`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list entry phones: %w", err)
	}
	defer rows.Close()

	phones := make(map[string]struct{})
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			return nil, fmt.Errorf("scan entry phone: %w", err)
		}
		phones[phone] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate entry phones: %w", rows.Err())
	}
	return phones, nil
}

// ClaimEntry performs the compare-and-set in a single conditional UPDATE so
// concurrent callers racing for the same entry have exactly one winner.
func (s *PostgresStore) ClaimEntry(
	ctx context.Context,
	entryID, caller string,
	at time.Time,
) (*domain.QueueEntry, error) {
	command, err := s.pool.Exec(ctx, `
		UPDATE queue_entries
		SET status = $3, assigned_to = $2, assigned_at = $4, updated_at = $4
		WHERE id = $1 AND status = $5 AND assigned_to = ''
	`,
		entryID,
		caller,
		string(domain.EntryStatusAssigned),
		at,
		string(domain.EntryStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("claim queue entry: %w", err)
	}
	if command.RowsAffected() == 0 {
		if _, getErr := s.GetEntry(ctx, entryID); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: entry %s already claimed", domain.ErrStateConflict, entryID)
	}
	return s.GetEntry(ctx, entryID)
}

func scanEntry(row pgx.Row) (*domain.QueueEntry, error) {
	var (
		entry    domain.QueueEntry
		contact  []byte
		status   string
		attempts []byte
	)

	err := row.Scan(
		&entry.ID,
		&entry.SurveyID,
		&contact,
		&status,
		&entry.Priority,
		&entry.AssignedTo,
		&entry.AssignedAt,
		&entry.ScheduledFor,
		&attempts,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Status = domain.EntryStatus(status)
	if err := json.Unmarshal(contact, &entry.Contact); err != nil {
		return nil, fmt.Errorf("decode contact: %w", err)
	}
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &entry.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts: %w", err)
		}
	}
	return &entry, nil
}
