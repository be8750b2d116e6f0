package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldscope/cati-back/internal/domain"
)

// BatchesRepository abstracts QC batch persistence. DecideBatch is the
// exactly-once transition into a terminal status: it reports false without
// mutating anything when the batch is already decided.
type BatchesRepository interface {
	GetOrCreateBatch(ctx context.Context, surveyID, day string) (*domain.QCBatch, error)
	GetBatch(ctx context.Context, batchID string) (*domain.QCBatch, error)
	GetBatchForResponse(ctx context.Context, responseID string) (*domain.QCBatch, error)
	ListCollectingBatches(ctx context.Context) ([]*domain.QCBatch, error)
	UpdateBatch(ctx context.Context, batch *domain.QCBatch) error
	DecideBatch(ctx context.Context, batchID string, status domain.BatchStatus, decidedAt time.Time) (bool, error)
}

// MemoryBatchesRepository stores QC batches in memory for local development
// and tests.
type MemoryBatchesRepository struct {
	mu      sync.RWMutex
	batches map[string]*domain.QCBatch
	byKey   map[string]string // surveyID|day -> batch id
}

func NewMemoryBatchesRepository() *MemoryBatchesRepository {
	return &MemoryBatchesRepository{
		batches: make(map[string]*domain.QCBatch),
		byKey:   make(map[string]string),
	}
}

func batchKey(surveyID, day string) string {
	return surveyID + "|" + day
}

func (r *MemoryBatchesRepository) GetOrCreateBatch(
	_ context.Context,
	surveyID, day string,
) (*domain.QCBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if batchID, ok := r.byKey[batchKey(surveyID, day)]; ok {
		return cloneBatch(r.batches[batchID]), nil
	}

	now := time.Now().UTC()
	batch := &domain.QCBatch{
		ID:        uuid.NewString(),
		SurveyID:  surveyID,
		Day:       day,
		Status:    domain.BatchStatusCollecting,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.batches[batch.ID] = batch
	r.byKey[batchKey(surveyID, day)] = batch.ID
	return cloneBatch(batch), nil
}

func (r *MemoryBatchesRepository) GetBatch(_ context.Context, batchID string) (*domain.QCBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	batch, ok := r.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneBatch(batch), nil
}

func (r *MemoryBatchesRepository) GetBatchForResponse(
	_ context.Context,
	responseID string,
) (*domain.QCBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, batch := range r.batches {
		for _, id := range batch.ResponseIDs {
			if id == responseID {
				return cloneBatch(batch), nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryBatchesRepository) ListCollectingBatches(_ context.Context) ([]*domain.QCBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.QCBatch, 0)
	for _, batch := range r.batches {
		if batch.Status == domain.BatchStatusCollecting {
			result = append(result, cloneBatch(batch))
		}
	}
	return result, nil
}

func (r *MemoryBatchesRepository) UpdateBatch(_ context.Context, batch *domain.QCBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.batches[batch.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status.Decided() {
		return domain.ErrStateConflict
	}
	r.batches[batch.ID] = cloneBatch(batch)
	return nil
}

func (r *MemoryBatchesRepository) DecideBatch(
	_ context.Context,
	batchID string,
	status domain.BatchStatus,
	decidedAt time.Time,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	batch, ok := r.batches[batchID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if batch.Status.Decided() {
		return false, nil
	}

	batch.Status = status
	at := decidedAt
	batch.DecidedAt = &at
	batch.UpdatedAt = decidedAt
	return true, nil
}

func cloneBatch(batch *domain.QCBatch) *domain.QCBatch {
	if batch == nil {
		return nil
	}
	clone := *batch
	clone.ResponseIDs = append([]string(nil), batch.ResponseIDs...)
	clone.SampleIDs = append([]string(nil), batch.SampleIDs...)
	clone.RemainderIDs = append([]string(nil), batch.RemainderIDs...)
	if batch.DecidedAt != nil {
		decidedAt := *batch.DecidedAt
		clone.DecidedAt = &decidedAt
	}
	return &clone
}
