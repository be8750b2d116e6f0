package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/fieldscope/cati-back/internal/dialqueue"
	"github.com/fieldscope/cati-back/internal/domain"
	"github.com/fieldscope/cati-back/internal/repository"
	"github.com/fieldscope/cati-back/internal/telephony"
)

// minPrefixLength guards the defensive prefix strategy against matching on
// a couple of shared leading characters.
const minPrefixLength = 6

type Config struct {
	RecencyWindow time.Duration
}

// Reconciler associates at-least-once, loosely-keyed delivery events with
// the call record that produced them and applies their fields idempotently.
type Reconciler struct {
	calls   repository.CallsRepository
	entries repository.EntriesRepository
	queue   *dialqueue.Service
	window  time.Duration
	logger  *log.Logger
	now     func() time.Time
}

func NewReconciler(
	calls repository.CallsRepository,
	entries repository.EntriesRepository,
	queue *dialqueue.Service,
	config Config,
	logger *log.Logger,
) *Reconciler {
	if config.RecencyWindow <= 0 {
		config.RecencyWindow = 2 * time.Hour
	}
	return &Reconciler{
		calls:   calls,
		entries: entries,
		queue:   queue,
		window:  config.RecencyWindow,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Process decodes and applies one raw delivery payload. A reconciliation
// miss is logged and swallowed: the provider already got its ack and a
// retry would not find a better match.
func (r *Reconciler) Process(ctx context.Context, raw json.RawMessage) error {
	event, err := telephony.DecodeDeliveryEvent(raw)
	if err != nil {
		if r.logger != nil {
			r.logger.Printf("delivery event undecodable err=%v", err)
		}
		return nil
	}

	record, err := r.Match(ctx, event)
	if err != nil {
		if errors.Is(err, domain.ErrReconciliationMiss) {
			if r.logger != nil {
				r.logger.Printf(
					"reconciliation miss call_id=%q from=%q to=%q status=%q",
					event.CallID, event.FromNumber, event.ToNumber, event.StatusCode,
				)
			}
			return nil
		}
		return err
	}

	if err := r.apply(ctx, record, event, raw); err != nil {
		return err
	}
	return r.disposition(ctx, record)
}

// Match walks the strategy ladder and stops at the first hit:
// exact provider id, recent (from,to) pair, provider-id prefix, then the
// newest unmatched record in the recency window.
func (r *Reconciler) Match(
	ctx context.Context,
	event telephony.DeliveryEvent,
) (*domain.CallRecord, error) {
	if event.CallID != "" {
		record, err := r.calls.GetCallByProviderID(ctx, event.CallID)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	candidates, err := r.calls.ListCallsSince(ctx, r.now().Add(-r.window))
	if err != nil {
		return nil, fmt.Errorf("list reconciliation candidates: %w", err)
	}

	if event.FromNumber != "" && event.ToNumber != "" {
		if record := newest(candidates, func(c *domain.CallRecord) bool {
			return c.FromNumber == event.FromNumber && c.ToNumber == event.ToNumber
		}); record != nil {
			return record, nil
		}
	}

	if len(event.CallID) >= minPrefixLength {
		if record := newest(candidates, func(c *domain.CallRecord) bool {
			return strings.HasPrefix(c.ProviderID, event.CallID) ||
				strings.HasPrefix(event.CallID, c.ProviderID)
		}); record != nil {
			return record, nil
		}
	}

	if record := newest(candidates, func(c *domain.CallRecord) bool {
		return !c.EventApplied
	}); record != nil {
		return record, nil
	}

	return nil, domain.ErrReconciliationMiss
}

func newest(
	candidates []*domain.CallRecord,
	match func(*domain.CallRecord) bool,
) *domain.CallRecord {
	var best *domain.CallRecord
	for _, candidate := range candidates {
		if !match(candidate) {
			continue
		}
		if best == nil || candidate.CreatedAt.After(best.CreatedAt) {
			best = candidate
		}
	}
	return best
}

// apply overwrites fields present in the event and leaves absent fields
// untouched, so a partial retry never erases earlier data. Replaying the
// same event is a no-op beyond the timestamp.
func (r *Reconciler) apply(
	ctx context.Context,
	record *domain.CallRecord,
	event telephony.DeliveryEvent,
	raw json.RawMessage,
) error {
	if event.StatusCode != "" {
		record.Status = event.Status()
		record.AgentAnswered = telephony.AgentAnswered(event.StatusCode)
	}
	if event.StartedAt != nil {
		record.StartedAt = event.StartedAt
	}
	if event.EndedAt != nil {
		record.EndedAt = event.EndedAt
	}
	if event.TalkSeconds != nil {
		record.TalkSeconds = *event.TalkSeconds
	}
	if event.RecordingURL != "" {
		record.RecordingURL = event.RecordingURL
	}
	record.RawEvent = append([]byte(nil), raw...)
	record.EventApplied = true
	record.UpdatedAt = r.now()

	if err := r.calls.UpdateCall(ctx, record); err != nil {
		return fmt.Errorf("apply delivery event: %w", err)
	}
	return nil
}

// disposition feeds a failed connection back into the queue. Only the
// attempt the record belongs to may requeue its entry; the check against
// the entry's live state keeps duplicate deliveries from double-requeueing.
func (r *Reconciler) disposition(ctx context.Context, record *domain.CallRecord) error {
	var outcome domain.AttemptOutcome
	switch record.Status {
	case domain.CallStatusBusy:
		outcome = domain.OutcomeBusy
	case domain.CallStatusNoAnswer:
		outcome = domain.OutcomeNoPickup
	case domain.CallStatusFailed, domain.CallStatusCancelled:
		outcome = domain.OutcomeDispatchFailed
	default:
		return nil
	}

	entry, err := r.entries.GetEntry(ctx, record.QueueEntryID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if entry.Status != domain.EntryStatusCalling {
		return nil
	}
	last := entry.LastAttempt()
	if last == nil || last.CallID != record.ProviderID {
		return nil
	}

	if err := r.queue.Abandon(ctx, entry.ID, outcome, "delivery event: "+string(record.Status)); err != nil {
		if errors.Is(err, domain.ErrStateConflict) {
			return nil
		}
		return err
	}
	return nil
}
