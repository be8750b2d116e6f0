package domain

import "time"

type ResponseStatus string

const (
	ResponseStatusPendingReview ResponseStatus = "pending_review"
	ResponseStatusApproved      ResponseStatus = "approved"
	ResponseStatusRejected      ResponseStatus = "rejected"
	ResponseStatusCompleted     ResponseStatus = "completed"
	ResponseStatusAbandoned     ResponseStatus = "abandoned"
)

// InterviewResponse is the terminal outcome of one queue attempt. At most
// one exists per (queue entry, attempt); completion is idempotent.
type InterviewResponse struct {
	ID              string
	SurveyID        string
	QueueEntryID    string
	AttemptSeq      int
	CallRecordID    string
	Status          ResponseStatus
	Outcome         AttemptOutcome
	ConsentGranted  bool
	DurationSeconds int
	CompletedAt     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
