package repository

import (
	"context"
	"sync"
	"time"

	"github.com/fieldscope/cati-back/internal/domain"
)

// CallsRepository abstracts call-record persistence. The reconciler walks
// ListCallsSince candidates for its fuzzy matching strategies.
type CallsRepository interface {
	CreateCall(ctx context.Context, record *domain.CallRecord) error
	UpdateCall(ctx context.Context, record *domain.CallRecord) error
	GetCall(ctx context.Context, callID string) (*domain.CallRecord, error)
	GetCallByProviderID(ctx context.Context, providerID string) (*domain.CallRecord, error)
	ListCallsSince(ctx context.Context, since time.Time) ([]*domain.CallRecord, error)
}

// MemoryCallsRepository stores call records in memory for local development
// and tests.
type MemoryCallsRepository struct {
	mu    sync.RWMutex
	calls map[string]*domain.CallRecord
}

func NewMemoryCallsRepository() *MemoryCallsRepository {
	return &MemoryCallsRepository{
		calls: make(map[string]*domain.CallRecord),
	}
}

func (r *MemoryCallsRepository) CreateCall(_ context.Context, record *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls[record.ID] = cloneCall(record)
	return nil
}

func (r *MemoryCallsRepository) UpdateCall(_ context.Context, record *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.calls[record.ID]; !ok {
		return domain.ErrNotFound
	}
	r.calls[record.ID] = cloneCall(record)
	return nil
}

func (r *MemoryCallsRepository) GetCall(_ context.Context, callID string) (*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.calls[callID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneCall(record), nil
}

func (r *MemoryCallsRepository) GetCallByProviderID(
	_ context.Context,
	providerID string,
) (*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, record := range r.calls {
		if record.ProviderID == providerID {
			return cloneCall(record), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryCallsRepository) ListCallsSince(
	_ context.Context,
	since time.Time,
) ([]*domain.CallRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.CallRecord, 0)
	for _, record := range r.calls {
		if record.CreatedAt.Before(since) {
			continue
		}
		result = append(result, cloneCall(record))
	}
	return result, nil
}

func cloneCall(record *domain.CallRecord) *domain.CallRecord {
	if record == nil {
		return nil
	}
	clone := *record
	clone.RawEvent = append([]byte(nil), record.RawEvent...)
	if record.StartedAt != nil {
		startedAt := *record.StartedAt
		clone.StartedAt = &startedAt
	}
	if record.EndedAt != nil {
		endedAt := *record.EndedAt
		clone.EndedAt = &endedAt
	}
	return &clone
}
