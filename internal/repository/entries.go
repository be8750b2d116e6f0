package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fieldscope/cati-back/internal/domain"
)

// EntriesRepository abstracts queue-entry persistence. ClaimEntry is the
// atomic compare-and-set: exactly one concurrent caller wins, the rest get
// ErrStateConflict.
type EntriesRepository interface {
	CreateEntry(ctx context.Context, entry *domain.QueueEntry) error
	UpdateEntry(ctx context.Context, entry *domain.QueueEntry) error
	GetEntry(ctx context.Context, entryID string) (*domain.QueueEntry, error)
	ListPendingEntries(ctx context.Context, surveyID string) ([]*domain.QueueEntry, error)
	ListEntryPhones(ctx context.Context, surveyID string) (map[string]struct{}, error)
	ClaimEntry(ctx context.Context, entryID, caller string, at time.Time) (*domain.QueueEntry, error)
}

// MemoryEntriesRepository stores queue entries in memory for local
// development and tests.
type MemoryEntriesRepository struct {
	mu      sync.RWMutex
	entries map[string]*domain.QueueEntry
}

func NewMemoryEntriesRepository() *MemoryEntriesRepository {
	return &MemoryEntriesRepository{
		entries: make(map[string]*domain.QueueEntry),
	}
}

func (r *MemoryEntriesRepository) CreateEntry(_ context.Context, entry *domain.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[entry.ID] = cloneEntry(entry)
	return nil
}

func (r *MemoryEntriesRepository) UpdateEntry(_ context.Context, entry *domain.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[entry.ID]; !ok {
		return domain.ErrNotFound
	}
	r.entries[entry.ID] = cloneEntry(entry)
	return nil
}

func (r *MemoryEntriesRepository) GetEntry(_ context.Context, entryID string) (*domain.QueueEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[entryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneEntry(entry), nil
}

func (r *MemoryEntriesRepository) ListPendingEntries(
	_ context.Context,
	surveyID string,
) ([]*domain.QueueEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.QueueEntry, 0)
	for _, entry := range r.entries {
		if entry.SurveyID != surveyID {
			continue
		}
		if entry.Status != domain.EntryStatusPending {
			continue
		}
		result = append(result, cloneEntry(entry))
	}
	return result, nil
}

func (r *MemoryEntriesRepository) ListEntryPhones(
	_ context.Context,
	surveyID string,
) (map[string]struct{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	phones := make(map[string]struct{})
	for _, entry := range r.entries {
		if entry.SurveyID == surveyID {
			phones[entry.Contact.PhoneNumber] = struct{}{}
		}
	}
	return phones, nil
}

func (r *MemoryEntriesRepository) ClaimEntry(
	_ context.Context,
	entryID, caller string,
	at time.Time,
) (*domain.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[entryID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if entry.Status != domain.EntryStatusPending || entry.AssignedTo != "" {
		return nil, fmt.Errorf("%w: entry %s already claimed", domain.ErrStateConflict, entryID)
	}

	entry.Status = domain.EntryStatusAssigned
	entry.AssignedTo = caller
	assignedAt := at
	entry.AssignedAt = &assignedAt
	entry.UpdatedAt = at
	return cloneEntry(entry), nil
}

func cloneEntry(entry *domain.QueueEntry) *domain.QueueEntry {
	if entry == nil {
		return nil
	}
	clone := *entry
	clone.Attempts = append([]domain.AttemptRecord(nil), entry.Attempts...)
	if entry.AssignedAt != nil {
		assignedAt := *entry.AssignedAt
		clone.AssignedAt = &assignedAt
	}
	if entry.ScheduledFor != nil {
		scheduledFor := *entry.ScheduledFor
		clone.ScheduledFor = &scheduledFor
	}
	return &clone
}

func marshalAttempts(attempts []domain.AttemptRecord) ([]byte, error) {
	if attempts == nil {
		attempts = []domain.AttemptRecord{}
	}
	encoded, err := json.Marshal(attempts)
	if err != nil {
		return nil, fmt.Errorf("encode attempts: %w", err)
	}
	return encoded, nil
}
