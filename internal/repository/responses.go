package repository

import (
	"context"
	"sync"

	"github.com/fieldscope/cati-back/internal/domain"
)

// ResponsesRepository abstracts interview-outcome persistence.
// GetResponseByAttempt backs the recorder's idempotent completion.
type ResponsesRepository interface {
	CreateResponse(ctx context.Context, response *domain.InterviewResponse) error
	UpdateResponse(ctx context.Context, response *domain.InterviewResponse) error
	GetResponse(ctx context.Context, responseID string) (*domain.InterviewResponse, error)
	GetResponseByAttempt(ctx context.Context, entryID string, attemptSeq int) (*domain.InterviewResponse, error)
	SetResponseStatuses(ctx context.Context, responseIDs []string, status domain.ResponseStatus) error
}

// MemoryResponsesRepository stores interview responses in memory for local
// development and tests.
type MemoryResponsesRepository struct {
	mu        sync.RWMutex
	responses map[string]*domain.InterviewResponse
}

func NewMemoryResponsesRepository() *MemoryResponsesRepository {
	return &MemoryResponsesRepository{
		responses: make(map[string]*domain.InterviewResponse),
	}
}

func (r *MemoryResponsesRepository) CreateResponse(
	_ context.Context,
	response *domain.InterviewResponse,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clone := *response
	r.responses[response.ID] = &clone
	return nil
}

func (r *MemoryResponsesRepository) UpdateResponse(
	_ context.Context,
	response *domain.InterviewResponse,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.responses[response.ID]; !ok {
		return domain.ErrNotFound
	}
	clone := *response
	r.responses[response.ID] = &clone
	return nil
}

func (r *MemoryResponsesRepository) GetResponse(
	_ context.Context,
	responseID string,
) (*domain.InterviewResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	response, ok := r.responses[responseID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *response
	return &clone, nil
}

func (r *MemoryResponsesRepository) GetResponseByAttempt(
	_ context.Context,
	entryID string,
	attemptSeq int,
) (*domain.InterviewResponse, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, response := range r.responses {
		if response.QueueEntryID == entryID && response.AttemptSeq == attemptSeq {
			clone := *response
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemoryResponsesRepository) SetResponseStatuses(
	_ context.Context,
	responseIDs []string,
	status domain.ResponseStatus,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, responseID := range responseIDs {
		response, ok := r.responses[responseID]
		if !ok {
			continue
		}
		response.Status = status
	}
	return nil
}
