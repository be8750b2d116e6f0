package domain

import (
	"encoding/json"
	"time"
)

// DeliveryTask is the transport format handed to queue backends for the
// decoupled webhook pipeline: the endpoint acks the provider immediately
// and the worker reconciles the raw payload later.
type DeliveryTask struct {
	TaskID     string          `json:"task_id"`
	RawPayload json.RawMessage `json:"raw_payload"`
	ReceivedAt time.Time       `json:"received_at"`
	Attempt    int             `json:"attempt"`
}
