package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/fieldscope/cati-back/internal/dialqueue"
	"github.com/fieldscope/cati-back/internal/domain"
	"github.com/fieldscope/cati-back/internal/qc"
	"github.com/fieldscope/cati-back/internal/repository"
)

// Recorder turns a finished or abandoned call into exactly one durable
// InterviewResponse per attempt and hands review-eligible ones to QC
// intake.
type Recorder struct {
	responses repository.ResponsesRepository
	entries   repository.EntriesRepository
	calls     repository.CallsRepository
	queue     *dialqueue.Service
	intake    *qc.Engine
	logger    *log.Logger
	now       func() time.Time
}

func NewRecorder(
	responses repository.ResponsesRepository,
	entries repository.EntriesRepository,
	calls repository.CallsRepository,
	queue *dialqueue.Service,
	intake *qc.Engine,
	logger *log.Logger,
) *Recorder {
	return &Recorder{
		responses: responses,
		entries:   entries,
		calls:     calls,
		queue:     queue,
		intake:    intake,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Complete records the interviewer-submitted outcome of the entry's latest
// attempt. Idempotent per attempt: replaying returns the existing response.
// Only a connected call with granted consent proceeds to pending review;
// everything else is recorded as abandoned.
func (r *Recorder) Complete(
	ctx context.Context,
	entryID string,
	outcome domain.AttemptOutcome,
	consentGranted bool,
) (*domain.InterviewResponse, error) {
	entry, err := r.entries.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	attempt := entry.LastAttempt()
	if attempt == nil || attempt.CallID == "" {
		return nil, fmt.Errorf("%w: entry %s has no dialed attempt to complete", domain.ErrValidation, entryID)
	}

	if existing, err := r.responses.GetResponseByAttempt(ctx, entry.ID, attempt.Seq); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	record, err := r.calls.GetCallByProviderID(ctx, attempt.CallID)
	if err != nil {
		return nil, fmt.Errorf("load call record for attempt: %w", err)
	}

	connected := record.Status.Connected()
	now := r.now()
	response := &domain.InterviewResponse{
		ID:              uuid.NewString(),
		SurveyID:        entry.SurveyID,
		QueueEntryID:    entry.ID,
		AttemptSeq:      attempt.Seq,
		CallRecordID:    record.ID,
		Outcome:         outcome,
		ConsentGranted:  consentGranted,
		DurationSeconds: record.TalkSeconds,
		CompletedAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if connected && consentGranted {
		response.Status = domain.ResponseStatusPendingReview
	} else {
		response.Status = domain.ResponseStatusAbandoned
	}

	if err := r.responses.CreateResponse(ctx, response); err != nil {
		return nil, fmt.Errorf("create interview response: %w", err)
	}

	if err := r.settleEntry(ctx, entry, connected, consentGranted, outcome); err != nil {
		return nil, err
	}

	if response.Status == domain.ResponseStatusPendingReview {
		if err := r.intake.Intake(ctx, response); err != nil {
			return nil, fmt.Errorf("qc intake: %w", err)
		}
	}

	if r.logger != nil {
		r.logger.Printf(
			"interview recorded entry_id=%s attempt=%d status=%s outcome=%s",
			entry.ID, attempt.Seq, response.Status, outcome,
		)
	}
	return response, nil
}

// Abandon records an explicit non-completion and delegates the queue
// disposition (requeue, call-later hold or terminal status) to the queue
// service. A response is only written when a dial actually happened.
func (r *Recorder) Abandon(
	ctx context.Context,
	entryID string,
	outcome domain.AttemptOutcome,
	reason string,
) (*domain.InterviewResponse, error) {
	// Reject unsupported outcomes before anything is persisted; a durable
	// abandoned response would otherwise block Complete for the attempt.
	if !outcome.Abandonable() {
		return nil, fmt.Errorf("%w: unsupported abandon outcome %q", domain.ErrValidation, outcome)
	}

	entry, err := r.entries.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	var response *domain.InterviewResponse
	attempt := entry.LastAttempt()
	if attempt != nil && attempt.CallID != "" {
		existing, err := r.responses.GetResponseByAttempt(ctx, entry.ID, attempt.Seq)
		switch {
		case err == nil:
			response = existing
		case errors.Is(err, domain.ErrNotFound):
			now := r.now()
			response = &domain.InterviewResponse{
				ID:           uuid.NewString(),
				SurveyID:     entry.SurveyID,
				QueueEntryID: entry.ID,
				AttemptSeq:   attempt.Seq,
				Status:       domain.ResponseStatusAbandoned,
				Outcome:      outcome,
				CompletedAt:  now,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if record, err := r.calls.GetCallByProviderID(ctx, attempt.CallID); err == nil {
				response.CallRecordID = record.ID
				response.DurationSeconds = record.TalkSeconds
			}
			if err := r.responses.CreateResponse(ctx, response); err != nil {
				return nil, fmt.Errorf("create abandoned response: %w", err)
			}
		default:
			return nil, err
		}
	}

	if err := r.queue.Abandon(ctx, entryID, outcome, reason); err != nil {
		return nil, err
	}
	return response, nil
}

func (r *Recorder) settleEntry(
	ctx context.Context,
	entry *domain.QueueEntry,
	connected, consentGranted bool,
	outcome domain.AttemptOutcome,
) error {
	switch {
	case connected && consentGranted:
		return r.queue.Finalize(ctx, entry.ID, domain.EntryStatusCompleted, domain.OutcomeInterviewDone)
	case connected && !consentGranted:
		return r.queue.Abandon(ctx, entry.ID, domain.OutcomeConsentRefused, "consent declined")
	default:
		// Never connected: the reconciler's disposition owns the requeue.
		// If the delivery event already moved the entry this is a no-op.
		if entry.Status == domain.EntryStatusCalling {
			return r.queue.Abandon(ctx, entry.ID, domain.OutcomeNoPickup, string(outcome))
		}
		return nil
	}
}
