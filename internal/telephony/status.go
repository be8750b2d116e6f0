package telephony

import (
	"strings"

	"github.com/fieldscope/cati-back/internal/domain"
)

// statusTable maps every provider status code we have observed, string and
// numeric, to its semantic outcome. Unlisted codes normalize to unknown
// rather than guessing from substrings.
var statusTable = map[string]domain.CallStatus{
	"ringing":     domain.CallStatusRinging,
	"ring":        domain.CallStatusRinging,
	"in-progress": domain.CallStatusRinging,
	"1":           domain.CallStatusRinging,

	"answer":   domain.CallStatusAnswered,
	"answered": domain.CallStatusAnswered,
	"2":        domain.CallStatusAnswered,

	"complete":  domain.CallStatusCompleted,
	"completed": domain.CallStatusCompleted,
	"3":         domain.CallStatusCompleted,

	"busy": domain.CallStatusBusy,
	"4":    domain.CallStatusBusy,

	"noanswer":  domain.CallStatusNoAnswer,
	"no-answer": domain.CallStatusNoAnswer,
	"no_answer": domain.CallStatusNoAnswer,
	"5":         domain.CallStatusNoAnswer,

	"failed":     domain.CallStatusFailed,
	"failure":    domain.CallStatusFailed,
	"congestion": domain.CallStatusFailed,
	"chanunavail": domain.CallStatusFailed,
	"6":          domain.CallStatusFailed,

	"cancel":    domain.CallStatusCancelled,
	"cancelled": domain.CallStatusCancelled,
	"canceled":  domain.CallStatusCancelled,
	"7":         domain.CallStatusCancelled,
}

// agentAnsweredCodes is the disjoint code subset meaning the agent leg was
// picked up, regardless of whether the respondent was ever reached. It
// feeds attendance metrics and is deliberately independent from
// CallStatus.Connected.
var agentAnsweredCodes = map[string]struct{}{
	"answer":    {},
	"answered":  {},
	"complete":  {},
	"completed": {},
	"busy":      {},
	"noanswer":  {},
	"no-answer": {},
	"no_answer": {},
	"2":         {},
	"3":         {},
	"4":         {},
	"5":         {},
}

// NormalizeStatus maps a raw provider code to the closed semantic set,
// falling back to unknown for anything unrecognized.
func NormalizeStatus(code string) domain.CallStatus {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if normalized == "" {
		return domain.CallStatusUnknown
	}
	if status, ok := statusTable[normalized]; ok {
		return status
	}
	return domain.CallStatusUnknown
}

// AgentAnswered reports whether the code implies the agent side answered.
func AgentAnswered(code string) bool {
	normalized := strings.ToLower(strings.TrimSpace(code))
	_, ok := agentAnsweredCodes[normalized]
	return ok
}
