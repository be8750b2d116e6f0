package domain

import "time"

type EntryStatus string

const (
	EntryStatusPending        EntryStatus = "pending"
	EntryStatusAssigned       EntryStatus = "assigned"
	EntryStatusCalling        EntryStatus = "calling"
	EntryStatusCompleted      EntryStatus = "completed"
	EntryStatusInvalidNumber  EntryStatus = "invalid_number"
	EntryStatusConsentRefused EntryStatus = "consent_refused"
)

// Terminal reports whether the status excludes the entry from selection
// permanently.
func (s EntryStatus) Terminal() bool {
	switch s {
	case EntryStatusCompleted, EntryStatusInvalidNumber, EntryStatusConsentRefused:
		return true
	}
	return false
}

// Entry-level priority sentinels. Lower values are dialed sooner.
// PriorityUnset entries sit between elevated call-later entries and
// back-of-line requeues.
const (
	PriorityCallLater  = 1
	PriorityUnset      = -1
	PriorityBackOfLine = 1 << 20
)

// AttemptOutcome classifies how a single dial attempt ended, as selected by
// the interviewer or derived from the delivery event.
type AttemptOutcome string

const (
	OutcomeInterviewDone  AttemptOutcome = "interview_done"
	OutcomeBusy           AttemptOutcome = "busy"
	OutcomeNoPickup       AttemptOutcome = "no_pickup"
	OutcomeCallLater      AttemptOutcome = "call_later"
	OutcomeInvalidNumber  AttemptOutcome = "invalid_number"
	OutcomeConsentRefused AttemptOutcome = "consent_refused"
	OutcomeDispatchFailed AttemptOutcome = "dispatch_failed"
)

// Abandonable reports whether the outcome is one of the accepted abandon
// dispositions.
func (o AttemptOutcome) Abandonable() bool {
	switch o {
	case OutcomeBusy, OutcomeNoPickup, OutcomeCallLater,
		OutcomeInvalidNumber, OutcomeConsentRefused, OutcomeDispatchFailed:
		return true
	}
	return false
}

// AttemptRecord is one dial attempt against a queue entry. Seq is assigned
// exactly once by the queue service when the record is appended; nothing
// rewrites it afterward.
type AttemptRecord struct {
	Seq        int            `json:"seq"`
	At         time.Time      `json:"at"`
	Dispatcher string         `json:"dispatcher"`
	CallID     string         `json:"call_id,omitempty"`
	Outcome    AttemptOutcome `json:"outcome,omitempty"`
	Reason     string         `json:"reason,omitempty"`
}

// QueueEntry is one respondent awaiting (or through) a dial attempt for a
// survey. CreatedAt doubles as the FIFO tiebreaker: requeueing refreshes it
// so the entry sorts behind fresher ones.
type QueueEntry struct {
	ID           string
	SurveyID     string
	Contact      RespondentContact
	Status       EntryStatus
	Priority     int
	AssignedTo   string
	AssignedAt   *time.Time
	ScheduledFor *time.Time
	Attempts     []AttemptRecord
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Eligible reports whether the entry may be handed to a caller at the given
// instant: pending and past any call-later hold.
func (e *QueueEntry) Eligible(now time.Time) bool {
	if e.Status != EntryStatusPending {
		return false
	}
	if e.ScheduledFor != nil && now.Before(*e.ScheduledFor) {
		return false
	}
	return true
}

// LastAttempt returns the most recent attempt record, or nil when the entry
// was never dialed.
func (e *QueueEntry) LastAttempt() *AttemptRecord {
	if len(e.Attempts) == 0 {
		return nil
	}
	return &e.Attempts[len(e.Attempts)-1]
}
