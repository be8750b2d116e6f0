package dialqueue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/fieldscope/cati-back/internal/domain"
	"github.com/fieldscope/cati-back/internal/priority"
	"github.com/fieldscope/cati-back/internal/repository"
)

// Dispatcher is the telephony boundary the queue dials through. Any error
// it returns is treated uniformly as a dispatch failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, request DispatchRequest) (DispatchResult, error)
}

type DispatchRequest struct {
	FromNumber         string
	ToNumber           string
	RingTimeoutFrom    int
	RingTimeoutTo      int
	MaxDurationSeconds int
}

type DispatchResult struct {
	CallID string
}

type Config struct {
	FromNumber         string
	RingTimeoutFrom    int
	RingTimeoutTo      int
	MaxDurationSeconds int
	CallLaterDelay     time.Duration
}

// Service owns the respondent dial queue: enqueueing, prioritized
// selection, atomic claims and attempt lifecycle.
type Service struct {
	entries    repository.EntriesRepository
	calls      repository.CallsRepository
	dispatcher Dispatcher
	priorities *priority.Cache
	config     Config
	logger     *log.Logger

	now     func() time.Time
	randInt func(n int) int
}

func NewService(
	entries repository.EntriesRepository,
	calls repository.CallsRepository,
	dispatcher Dispatcher,
	priorities *priority.Cache,
	config Config,
	logger *log.Logger,
) *Service {
	if config.CallLaterDelay <= 0 {
		config.CallLaterDelay = time.Hour
	}
	if config.RingTimeoutFrom <= 0 {
		config.RingTimeoutFrom = 25
	}
	if config.RingTimeoutTo <= 0 {
		config.RingTimeoutTo = 35
	}
	return &Service{
		entries:    entries,
		calls:      calls,
		dispatcher: dispatcher,
		priorities: priorities,
		config:     config,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		randInt:    rand.Intn,
	}
}

// Enqueue adds contacts not already present for the survey, deduplicated by
// normalized phone number. Returns how many entries were created.
func (s *Service) Enqueue(
	ctx context.Context,
	surveyID string,
	contacts []domain.RespondentContact,
) (int, error) {
	if surveyID == "" {
		return 0, fmt.Errorf("%w: survey id is required", domain.ErrValidation)
	}

	existing, err := s.entries.ListEntryPhones(ctx, surveyID)
	if err != nil {
		return 0, fmt.Errorf("list existing phones: %w", err)
	}

	added := 0
	for _, contact := range contacts {
		if err := contact.Validate(); err != nil {
			return added, err
		}
		phone, err := domain.NormalizePhone(contact.PhoneNumber)
		if err != nil {
			return added, err
		}
		if _, ok := existing[phone]; ok {
			continue
		}

		contact.PhoneNumber = phone
		now := s.now()
		entry := &domain.QueueEntry{
			ID:        uuid.NewString(),
			SurveyID:  surveyID,
			Contact:   contact,
			Status:    domain.EntryStatusPending,
			Priority:  domain.PriorityUnset,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.entries.CreateEntry(ctx, entry); err != nil {
			return added, fmt.Errorf("create entry: %w", err)
		}
		existing[phone] = struct{}{}
		added++
	}
	return added, nil
}

// SelectNext picks the entry to dial next without claiming it.
//
// Selection order: units with the lowest positive priority that have an
// eligible entry, a uniform random pick within that tier; then a uniform
// random pick among non-prioritized entries; then the globally oldest
// eligible entry. Priority-0 units never enter the tiers, so they are only
// reachable through the final fallback once everything else is drained.
// Randomizing within a tier spreads caller load across its units instead of
// exhausting one unit first.
func (s *Service) SelectNext(ctx context.Context, surveyID string) (*domain.QueueEntry, error) {
	pending, err := s.entries.ListPendingEntries(ctx, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}

	now := s.now()
	eligible := pending[:0]
	for _, entry := range pending {
		if entry.Eligible(now) {
			eligible = append(eligible, entry)
		}
	}
	if len(eligible) == 0 {
		return nil, domain.ErrNoneAvailable
	}

	priorities := map[string]int{}
	if s.priorities != nil {
		priorities = s.priorities.Priorities(ctx)
	}

	tiers := make(map[int][]*domain.QueueEntry)
	unprioritized := make([]*domain.QueueEntry, 0)
	for _, entry := range eligible {
		unitPriority, ok := priorities[entry.Contact.AssemblyUnit]
		if !ok || unitPriority < 0 {
			// Negative values are malformed source data; treat the unit
			// as unassigned rather than poisoning the tier scan.
			unprioritized = append(unprioritized, entry)
			continue
		}
		if unitPriority == priority.Excluded {
			continue
		}
		tiers[unitPriority] = append(tiers[unitPriority], entry)
	}

	lowest := 0
	for tier := range tiers {
		if lowest == 0 || tier < lowest {
			lowest = tier
		}
	}
	if lowest > 0 {
		return s.pickPreferred(tiers[lowest]), nil
	}
	if len(unprioritized) > 0 {
		return s.pickPreferred(unprioritized), nil
	}

	oldest := eligible[0]
	for _, entry := range eligible[1:] {
		if entry.CreatedAt.Before(oldest.CreatedAt) {
			oldest = entry
		}
	}
	return oldest, nil
}

// pickPreferred narrows a pool to its most urgent entry-priority group
// (call-later entries come before unset, unset before back-of-line) and
// picks uniformly at random inside that group.
func (s *Service) pickPreferred(pool []*domain.QueueEntry) *domain.QueueEntry {
	best := make([]*domain.QueueEntry, 0, len(pool))
	bestRank := 0
	for _, entry := range pool {
		rank := entryRank(entry.Priority)
		switch {
		case len(best) == 0 || rank < bestRank:
			best = append(best[:0], entry)
			bestRank = rank
		case rank == bestRank:
			best = append(best, entry)
		}
	}
	return best[s.randInt(len(best))]
}

func entryRank(entryPriority int) int {
	switch {
	case entryPriority == domain.PriorityUnset:
		return 1
	case entryPriority >= domain.PriorityBackOfLine:
		return 2
	default:
		return 0
	}
}

// ClaimNext selects and atomically claims an entry for the caller. When a
// concurrent caller wins the race for a candidate, the next candidate is
// tried instead of surfacing the conflict.
func (s *Service) ClaimNext(ctx context.Context, surveyID, caller string) (*domain.QueueEntry, error) {
	if caller == "" {
		return nil, fmt.Errorf("%w: caller is required", domain.ErrValidation)
	}

	const maxRaces = 5
	for i := 0; i < maxRaces; i++ {
		candidate, err := s.SelectNext(ctx, surveyID)
		if err != nil {
			return nil, err
		}
		claimed, err := s.Claim(ctx, candidate.ID, caller)
		if err == nil {
			return claimed, nil
		}
		if !errors.Is(err, domain.ErrStateConflict) {
			return nil, err
		}
	}
	return nil, domain.ErrNoneAvailable
}

// Claim is the atomic compare-and-set on a single entry.
func (s *Service) Claim(ctx context.Context, entryID, caller string) (*domain.QueueEntry, error) {
	return s.entries.ClaimEntry(ctx, entryID, caller, s.now())
}

// Dial dispatches a call for a claimed entry. On success the entry
// transitions assigned -> calling with a new attempt record and a call
// record linked to it. On any dispatch failure the entry is requeued at the
// back of the line before the error is returned, so no partially-claimed
// state survives.
func (s *Service) Dial(ctx context.Context, entryID string) (*domain.CallRecord, error) {
	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status != domain.EntryStatusAssigned {
		return nil, fmt.Errorf("%w: entry %s is %s, expected assigned",
			domain.ErrStateConflict, entryID, entry.Status)
	}

	result, dispatchErr := s.dispatcher.Dispatch(ctx, DispatchRequest{
		FromNumber:         s.config.FromNumber,
		ToNumber:           entry.Contact.PhoneNumber,
		RingTimeoutFrom:    s.config.RingTimeoutFrom,
		RingTimeoutTo:      s.config.RingTimeoutTo,
		MaxDurationSeconds: s.config.MaxDurationSeconds,
	})
	if dispatchErr != nil {
		if err := s.requeue(ctx, entry, domain.OutcomeDispatchFailed, dispatchErr.Error()); err != nil {
			return nil, err
		}
		if s.logger != nil {
			s.logger.Printf("dispatch failed entry_id=%s err=%v", entry.ID, dispatchErr)
		}
		return nil, fmt.Errorf("dial entry %s: %w", entryID, dispatchErr)
	}

	now := s.now()
	entry.Attempts = append(entry.Attempts, domain.AttemptRecord{
		Seq:        len(entry.Attempts) + 1,
		At:         now,
		Dispatcher: entry.AssignedTo,
		CallID:     result.CallID,
	})
	entry.Status = domain.EntryStatusCalling
	entry.UpdatedAt = now
	if err := s.entries.UpdateEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("mark dialing: %w", err)
	}

	record := &domain.CallRecord{
		ID:           uuid.NewString(),
		ProviderID:   result.CallID,
		QueueEntryID: entry.ID,
		AttemptSeq:   len(entry.Attempts),
		FromNumber:   s.config.FromNumber,
		ToNumber:     entry.Contact.PhoneNumber,
		Status:       domain.CallStatusRinging,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.calls.CreateCall(ctx, record); err != nil {
		return nil, fmt.Errorf("create call record: %w", err)
	}
	return record, nil
}

// Abandon applies a reason-coded disposition for a call that did not end in
// a completed interview. Busy and no-pickup requeue at the back of the
// line; call-later requeues elevated with a not-before hold; invalid number
// and consent refusal are terminal.
func (s *Service) Abandon(ctx context.Context, entryID string, outcome domain.AttemptOutcome, reason string) error {
	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status.Terminal() {
		return fmt.Errorf("%w: entry %s already finalized", domain.ErrStateConflict, entryID)
	}

	switch outcome {
	case domain.OutcomeBusy, domain.OutcomeNoPickup, domain.OutcomeDispatchFailed:
		return s.requeue(ctx, entry, outcome, reason)
	case domain.OutcomeCallLater:
		return s.callLater(ctx, entry, reason)
	case domain.OutcomeInvalidNumber:
		return s.finalize(ctx, entry, domain.EntryStatusInvalidNumber, outcome, reason)
	case domain.OutcomeConsentRefused:
		return s.finalize(ctx, entry, domain.EntryStatusConsentRefused, outcome, reason)
	default:
		return fmt.Errorf("%w: unsupported abandon outcome %q", domain.ErrValidation, outcome)
	}
}

// Finalize marks the entry terminally; used by the response recorder on
// completed interviews.
func (s *Service) Finalize(
	ctx context.Context,
	entryID string,
	status domain.EntryStatus,
	outcome domain.AttemptOutcome,
) error {
	entry, err := s.entries.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	return s.finalize(ctx, entry, status, outcome, "")
}

func (s *Service) requeue(
	ctx context.Context,
	entry *domain.QueueEntry,
	outcome domain.AttemptOutcome,
	reason string,
) error {
	now := s.now()
	s.stampOutcome(entry, now, outcome, reason)
	entry.Status = domain.EntryStatusPending
	entry.Priority = domain.PriorityBackOfLine
	entry.AssignedTo = ""
	entry.AssignedAt = nil
	entry.ScheduledFor = nil
	// Refreshing CreatedAt pushes the entry behind fresher ones in the
	// FIFO fallback.
	entry.CreatedAt = now
	entry.UpdatedAt = now
	if err := s.entries.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("requeue entry: %w", err)
	}
	return nil
}

func (s *Service) callLater(ctx context.Context, entry *domain.QueueEntry, reason string) error {
	now := s.now()
	s.stampOutcome(entry, now, domain.OutcomeCallLater, reason)
	notBefore := now.Add(s.config.CallLaterDelay)
	entry.Status = domain.EntryStatusPending
	entry.Priority = domain.PriorityCallLater
	entry.AssignedTo = ""
	entry.AssignedAt = nil
	entry.ScheduledFor = &notBefore
	entry.UpdatedAt = now
	if err := s.entries.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("requeue entry for later: %w", err)
	}
	return nil
}

func (s *Service) finalize(
	ctx context.Context,
	entry *domain.QueueEntry,
	status domain.EntryStatus,
	outcome domain.AttemptOutcome,
	reason string,
) error {
	now := s.now()
	s.stampOutcome(entry, now, outcome, reason)
	entry.Status = status
	entry.AssignedTo = ""
	entry.AssignedAt = nil
	entry.ScheduledFor = nil
	entry.UpdatedAt = now
	if err := s.entries.UpdateEntry(ctx, entry); err != nil {
		return fmt.Errorf("finalize entry: %w", err)
	}
	return nil
}

// stampOutcome writes the outcome onto the attempt the dial created, or
// appends a fresh record when the failure happened before any dial (e.g. a
// dispatch error). The sequence number is assigned here exactly once.
func (s *Service) stampOutcome(
	entry *domain.QueueEntry,
	at time.Time,
	outcome domain.AttemptOutcome,
	reason string,
) {
	last := entry.LastAttempt()
	if last != nil && last.Outcome == "" {
		last.Outcome = outcome
		last.Reason = reason
		return
	}
	entry.Attempts = append(entry.Attempts, domain.AttemptRecord{
		Seq:        len(entry.Attempts) + 1,
		At:         at,
		Dispatcher: entry.AssignedTo,
		Outcome:    outcome,
		Reason:     reason,
	})
}
