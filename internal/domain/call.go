package domain

import (
	"encoding/json"
	"time"
)

// CallStatus is the closed set of semantic call outcomes the provider's
// numeric and string codes normalize into.
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusAnswered  CallStatus = "answered"
	CallStatusCompleted CallStatus = "completed"
	CallStatusBusy      CallStatus = "busy"
	CallStatusNoAnswer  CallStatus = "no-answer"
	CallStatusFailed    CallStatus = "failed"
	CallStatusCancelled CallStatus = "cancelled"
	CallStatusUnknown   CallStatus = "unknown"
)

// Connected reports whether the respondent side of the call was reached.
// This drives queue disposition and is deliberately independent from the
// agent-answered flag used for attendance metrics.
func (s CallStatus) Connected() bool {
	switch s {
	case CallStatusAnswered, CallStatusCompleted:
		return true
	}
	return false
}

// CallRecord links one provider call to the queue attempt that produced it.
// Created at dispatch time; the reconciler applies delivery events to it
// idempotently.
type CallRecord struct {
	ID            string
	ProviderID    string
	QueueEntryID  string
	AttemptSeq    int
	FromNumber    string
	ToNumber      string
	Status        CallStatus
	AgentAnswered bool
	RawEvent      json.RawMessage
	StartedAt     *time.Time
	EndedAt       *time.Time
	TalkSeconds   int
	RecordingURL  string
	EventApplied  bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
