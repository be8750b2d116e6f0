package domain

import "errors"

// Error taxonomy shared across services and handlers. Handlers map these to
// HTTP status codes; everything else wraps them with %w.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("resource not found")
	ErrStateConflict      = errors.New("state conflict")
	ErrNoneAvailable      = errors.New("no respondent available")
	ErrReconciliationMiss = errors.New("delivery event matched no call record")
)

// DispatchError is the structured failure returned by the telephony
// provider boundary. Timeouts and malformed responses are folded into it so
// the queue treats every dispatch failure uniformly.
type DispatchError struct {
	Code    string
	Message string
}

func (e *DispatchError) Error() string {
	if e.Code == "" {
		return "dispatch failed: " + e.Message
	}
	return "dispatch failed (" + e.Code + "): " + e.Message
}
