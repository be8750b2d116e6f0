package telephony

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fieldscope/cati-back/internal/domain"
)

// DeliveryEvent is the normalized view of one provider webhook payload.
// Every field is optional; absent fields stay zero so a partial retry never
// nulls out data already applied.
type DeliveryEvent struct {
	CallID       string
	FromNumber   string
	ToNumber     string
	StatusCode   string
	StartedAt    *time.Time
	EndedAt      *time.Time
	TalkSeconds  *int
	RecordingURL string
}

// Status returns the normalized semantic outcome for the event.
func (e DeliveryEvent) Status() domain.CallStatus {
	return NormalizeStatus(e.StatusCode)
}

// DecodeDeliveryEvent parses the provider's inconsistent wire format. Some
// deliveries nest the real fields inside a string-encoded sub-document
// under "data" or "call_report"; those are unwrapped and merged, with the
// outer document winning on conflicts.
func DecodeDeliveryEvent(raw []byte) (DeliveryEvent, error) {
	var outer map[string]any
	if err := json.Unmarshal(raw, &outer); err != nil {
		return DeliveryEvent{}, fmt.Errorf("decode delivery event: %w", err)
	}

	merged := make(map[string]any)
	for _, nestedKey := range []string{"data", "call_report", "payload"} {
		nested, ok := outer[nestedKey]
		if !ok {
			continue
		}
		switch value := nested.(type) {
		case string:
			var inner map[string]any
			if err := json.Unmarshal([]byte(value), &inner); err == nil {
				for k, v := range inner {
					merged[k] = v
				}
			}
		case map[string]any:
			for k, v := range value {
				merged[k] = v
			}
		}
	}
	for k, v := range outer {
		merged[k] = v
	}

	event := DeliveryEvent{
		CallID:       firstString(merged, "call_id", "callId", "call_sid", "uuid"),
		FromNumber:   firstString(merged, "from_number", "fromNumber", "caller_id", "from"),
		ToNumber:     firstString(merged, "to_number", "toNumber", "destination", "to"),
		StatusCode:   firstString(merged, "status", "call_status", "dial_status"),
		RecordingURL: firstString(merged, "recording_url", "recordingUrl", "recording"),
	}
	event.StartedAt = firstTime(merged, "start_time", "startTime", "answered_at")
	event.EndedAt = firstTime(merged, "end_time", "endTime", "hangup_at")
	event.TalkSeconds = firstInt(merged, "talk_duration", "talkDuration", "duration")
	return event, nil
}

func firstString(values map[string]any, keys ...string) string {
	for _, key := range keys {
		raw, ok := values[key]
		if !ok {
			continue
		}
		switch value := raw.(type) {
		case string:
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(value, 'f', -1, 64)
		}
	}
	return ""
}

func firstInt(values map[string]any, keys ...string) *int {
	for _, key := range keys {
		raw, ok := values[key]
		if !ok {
			continue
		}
		switch value := raw.(type) {
		case float64:
			parsed := int(value)
			return &parsed
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				return &parsed
			}
		}
	}
	return nil
}

func firstTime(values map[string]any, keys ...string) *time.Time {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
	}
	for _, key := range keys {
		raw, ok := values[key].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		for _, layout := range layouts {
			if parsed, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
				utc := parsed.UTC()
				return &utc
			}
		}
	}
	return nil
}
