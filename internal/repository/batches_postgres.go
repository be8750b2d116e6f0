package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fieldscope/cati-back/internal/domain"
)

const batchColumns = `id, survey_id, day, response_ids, sample_ids,
	remainder_ids, sample_approved, sample_rejected, sample_pending,
	approval_rate, status, decided_at, created_at, updated_at`

func (s *PostgresStore) GetOrCreateBatch(
	ctx context.Context,
	surveyID, day string,
) (*domain.QCBatch, error) {
	now := time.Now().UTC()
	empty, _ := json.Marshal([]string{})

	// ON CONFLICT keeps creation race-free under concurrent intake.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO qc_batches (
			id, survey_id, day, response_ids, sample_ids, remainder_ids,
			sample_approved, sample_rejected, sample_pending, approval_rate,
			status, decided_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$4,$4,0,0,0,0,$5,NULL,$6,$6)
		ON CONFLICT (survey_id, day) DO NOTHING
	`, uuid.NewString(), surveyID, day, empty, string(domain.BatchStatusCollecting), now)
	if err != nil {
		return nil, fmt.Errorf("insert qc batch: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+batchColumns+`
		FROM qc_batches
		WHERE survey_id = $1 AND day = $2
	`, surveyID, day)
	batch, err := scanBatch(row)
	if err != nil {
		return nil, fmt.Errorf("query qc batch: %w", err)
	}
	return batch, nil
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*domain.QCBatch, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM qc_batches WHERE id = $1`, batchID)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query qc batch: %w", err)
	}
	return batch, nil
}

func (s *PostgresStore) GetBatchForResponse(
	ctx context.Context,
	responseID string,
) (*domain.QCBatch, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+batchColumns+`
		FROM qc_batches
		WHERE response_ids @> to_jsonb(ARRAY[$1::text])
	`, responseID)
	batch, err := scanBatch(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("query qc batch for response: %w", err)
	}
	return batch, nil
}

func (s *PostgresStore) ListCollectingBatches(ctx context.Context) ([]*domain.QCBatch, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+batchColumns+`
		FROM qc_batches
		WHERE status = $1
	`, string(domain.BatchStatusCollecting))
	if err != nil {
		return nil, fmt.Errorf("list collecting batches: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.QCBatch, 0)
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("scan qc batch: %w", err)
		}
		result = append(result, batch)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate qc batches: %w", rows.Err())
	}
	return result, nil
}

func (s *PostgresStore) UpdateBatch(ctx context.Context, batch *domain.QCBatch) error {
	responseIDs, sampleIDs, remainderIDs, err := encodeBatchSets(batch)
	if err != nil {
		return err
	}

	command, err := s.pool.Exec(ctx, `
		UPDATE qc_batches
		SET response_ids = $2,
			sample_ids = $3,
			remainder_ids = $4,
			sample_approved = $5,
			sample_rejected = $6,
			sample_pending = $7,
			approval_rate = $8,
			status = $9,
			updated_at = $10
		WHERE id = $1 AND status NOT IN ($11, $12)
	`,
		batch.ID,
		responseIDs,
		sampleIDs,
		remainderIDs,
		batch.SampleApproved,
		batch.SampleRejected,
		batch.SamplePending,
		batch.ApprovalRate,
		string(batch.Status),
		batch.UpdatedAt,
		string(domain.BatchStatusAutoApproved),
		string(domain.BatchStatusQueuedForQC),
	)
	if err != nil {
		return fmt.Errorf("update qc batch: %w", err)
	}
	if command.RowsAffected() == 0 {
		if _, getErr := s.GetBatch(ctx, batch.ID); getErr != nil {
			return getErr
		}
		return domain.ErrStateConflict
	}
	return nil
}

// DecideBatch applies the terminal status only when the batch is not yet
// decided; the conditional UPDATE makes the transition exactly-once even
// when sweep and reviewer paths race.
func (s *PostgresStore) DecideBatch(
	ctx context.Context,
	batchID string,
	status domain.BatchStatus,
	decidedAt time.Time,
) (bool, error) {
	command, err := s.pool.Exec(ctx, `
		UPDATE qc_batches
		SET status = $2, decided_at = $3, updated_at = $3
		WHERE id = $1 AND status NOT IN ($4, $5)
	`,
		batchID,
		string(status),
		decidedAt,
		string(domain.BatchStatusAutoApproved),
		string(domain.BatchStatusQueuedForQC),
	)
	if err != nil {
		return false, fmt.Errorf("decide qc batch: %w", err)
	}
	if command.RowsAffected() == 0 {
		if _, getErr := s.GetBatch(ctx, batchID); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

func encodeBatchSets(batch *domain.QCBatch) ([]byte, []byte, []byte, error) {
	encode := func(ids []string) ([]byte, error) {
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(ids)
	}

	responseIDs, err := encode(batch.ResponseIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode response ids: %w", err)
	}
	sampleIDs, err := encode(batch.SampleIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode sample ids: %w", err)
	}
	remainderIDs, err := encode(batch.RemainderIDs)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("encode remainder ids: %w", err)
	}
	return responseIDs, sampleIDs, remainderIDs, nil
}

func scanBatch(row pgx.Row) (*domain.QCBatch, error) {
	var (
		batch        domain.QCBatch
		responseIDs  []byte
		sampleIDs    []byte
		remainderIDs []byte
		status       string
	)

	err := row.Scan(
		&batch.ID,
		&batch.SurveyID,
		&batch.Day,
		&responseIDs,
		&sampleIDs,
		&remainderIDs,
		&batch.SampleApproved,
		&batch.SampleRejected,
		&batch.SamplePending,
		&batch.ApprovalRate,
		&status,
		&batch.DecidedAt,
		&batch.CreatedAt,
		&batch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	batch.Status = domain.BatchStatus(status)
	for target, raw := range map[*[]string][]byte{
		&batch.ResponseIDs:  responseIDs,
		&batch.SampleIDs:    sampleIDs,
		&batch.RemainderIDs: remainderIDs,
	} {
		if len(raw) == 0 {
			continue
		}
		if err := json.Unmarshal(raw, target); err != nil {
			return nil, fmt.Errorf("decode batch id set: %w", err)
		}
	}
	return &batch, nil
}
