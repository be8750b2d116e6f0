package domain

import "time"

type BatchStatus string

const (
	BatchStatusCollecting   BatchStatus = "collecting"
	BatchStatusProcessing   BatchStatus = "processing"
	BatchStatusQCInProgress BatchStatus = "qc_in_progress"
	BatchStatusAutoApproved BatchStatus = "auto_approved"
	BatchStatusQueuedForQC  BatchStatus = "queued_for_qc"
)

// Decided reports whether the remainder decision has been applied. Once
// true the batch never changes again.
func (s BatchStatus) Decided() bool {
	return s == BatchStatusAutoApproved || s == BatchStatusQueuedForQC
}

// QCBatch groups one survey's pending-review responses for one calendar
// day. Sample and Remainder partition ResponseIDs exactly; the invariant is
// established when the sweep freezes membership and never violated after.
type QCBatch struct {
	ID             string
	SurveyID       string
	Day            string // YYYY-MM-DD
	ResponseIDs    []string
	SampleIDs      []string
	RemainderIDs   []string
	SampleApproved int
	SampleRejected int
	SamplePending  int
	ApprovalRate   float64
	Status         BatchStatus
	DecidedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InSample reports whether the response id belongs to the reviewed subset.
func (b *QCBatch) InSample(responseID string) bool {
	for _, id := range b.SampleIDs {
		if id == responseID {
			return true
		}
	}
	return false
}

// BatchDay formats the calendar-day key batches are grouped under.
func BatchDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
