package dialqueue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fieldscope/cati-back/internal/domain"
	"github.com/fieldscope/cati-back/internal/priority"
	"github.com/fieldscope/cati-back/internal/repository"
)

type fakeDispatcher struct {
	dispatched int
	fail       error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, _ DispatchRequest) (DispatchResult, error) {
	d.dispatched++
	if d.fail != nil {
		return DispatchResult{}, d.fail
	}
	return DispatchResult{CallID: fmt.Sprintf("prov-call-%d", d.dispatched)}, nil
}

type testHarness struct {
	service    *Service
	entries    *repository.MemoryEntriesRepository
	calls      *repository.MemoryCallsRepository
	dispatcher *fakeDispatcher
	clock      *time.Time
}

func newHarness(t *testing.T, unitPriorities priority.StaticSource) *testHarness {
	t.Helper()
	entries := repository.NewMemoryEntriesRepository()
	calls := repository.NewMemoryCallsRepository()
	dispatcher := &fakeDispatcher{}
	cache := priority.NewCache(priority.Config{TTL: time.Hour, Source: unitPriorities})

	service := NewService(entries, calls, dispatcher, cache, Config{
		FromNumber:     "+15550000000",
		CallLaterDelay: time.Hour,
	}, nil)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return now }
	service.randInt = func(n int) int { return 0 }

	return &testHarness{
		service:    service,
		entries:    entries,
		calls:      calls,
		dispatcher: dispatcher,
		clock:      &now,
	}
}

func (h *testHarness) advance(d time.Duration) {
	*h.clock = h.clock.Add(d)
}

func (h *testHarness) seed(t *testing.T, surveyID, phone, unit string) *domain.QueueEntry {
	t.Helper()
	added, err := h.service.Enqueue(context.Background(), surveyID, []domain.RespondentContact{
		{Name: "Respondent " + phone, PhoneNumber: phone, AssemblyUnit: unit},
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", phone, err)
	}
	if added != 1 {
		t.Fatalf("expected 1 entry added for %s, got %d", phone, added)
	}
	pending, err := h.entries.ListPendingEntries(context.Background(), surveyID)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	for _, entry := range pending {
		if entry.Contact.PhoneNumber == phone {
			return entry
		}
	}
	t.Fatalf("seeded entry for %s not found", phone)
	return nil
}

func (h *testHarness) mustGet(t *testing.T, entryID string) *domain.QueueEntry {
	t.Helper()
	entry, err := h.entries.GetEntry(context.Background(), entryID)
	if err != nil {
		t.Fatalf("get entry %s: %v", entryID, err)
	}
	return entry
}

func TestEnqueueDeduplicatesByNormalizedPhone(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	added, err := h.service.Enqueue(ctx, "survey-1", []domain.RespondentContact{
		{Name: "Asha", PhoneNumber: "+91 98765-43210"},
		{Name: "Asha again", PhoneNumber: "+919876543210"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if added != 1 {
		t.Fatalf("expected 1 entry from duplicate phones, got %d", added)
	}

	added, err = h.service.Enqueue(ctx, "survey-1", []domain.RespondentContact{
		{Name: "Asha third time", PhoneNumber: "9876543210", CountryCode: "+91"},
	})
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	// Same digits without the + prefix normalize differently and count as a
	// distinct number.
	if added != 1 {
		t.Fatalf("expected distinct normalized number to be added, got %d", added)
	}
}

func TestEnqueueRejectsInvalidContacts(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.service.Enqueue(context.Background(), "survey-1", []domain.RespondentContact{
		{Name: "", PhoneNumber: "+15551234567"},
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing name, got %v", err)
	}

	_, err = h.service.Enqueue(context.Background(), "", nil)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing survey id, got %v", err)
	}
}

func TestSelectNextPrefersLowestPositiveTier(t *testing.T) {
	h := newHarness(t, priority.StaticSource{
		"UnitX": 1,
		"UnitY": 2,
		"UnitZ": priority.Excluded,
	})
	ctx := context.Background()

	h.seed(t, "survey-1", "+15550000101", "UnitY")
	h.seed(t, "survey-1", "+15550000102", "UnitZ")
	wantX := h.seed(t, "survey-1", "+15550000103", "UnitX")

	picked, err := h.service.SelectNext(ctx, "survey-1")
	if err != nil {
		t.Fatalf("select next: %v", err)
	}
	if picked.ID != wantX.ID {
		t.Fatalf("expected tier-1 unit entry %s, got %s (unit %s)",
			wantX.ID, picked.ID, picked.Contact.AssemblyUnit)
	}
}

func TestSelectNextIgnoresNegativeUnitPriorities(t *testing.T) {
	h := newHarness(t, priority.StaticSource{
		"UnitBad": -5,
		"UnitY":   2,
	})
	ctx := context.Background()

	h.seed(t, "survey-1", "+15550000111", "UnitBad")
	wantY := h.seed(t, "survey-1", "+15550000112", "UnitY")

	// A malformed negative value must not shadow the real tiers; the
	// tier-2 entry still wins and the bad unit sorts with the
	// unprioritized pool.
	picked, err := h.service.SelectNext(ctx, "survey-1")
	if err != nil {
		t.Fatalf("select next: %v", err)
	}
	if picked.ID != wantY.ID {
		t.Fatalf("expected tier-2 entry %s, got %s (unit %s)",
			wantY.ID, picked.ID, picked.Contact.AssemblyUnit)
	}
}

func TestSelectNextFallsBackThroughTiers(t *testing.T) {
	h := newHarness(t, priority.StaticSource{
		"UnitY": 2,
		"UnitZ": priority.Excluded,
	})
	ctx := context.Background()

	entryY := h.seed(t, "survey-1", "+15550000201", "UnitY")
	entryZ := h.seed(t, "survey-1", "+15550000202", "UnitZ")
	entryFree := h.seed(t, "survey-1", "+15550000203", "UnitNowhere")

	// Tier 2 exists, so it wins over the unprioritized pool.
	picked, err := h.service.SelectNext(ctx, "survey-1")
	if err != nil {
		t.Fatalf("select next: %v", err)
	}
	if picked.ID != entryY.ID {
		t.Fatalf("expected tier entry %s, got %s", entryY.ID, picked.ID)
	}

	claimAndComplete(t, h, entryY.ID)

	// With tiers drained, the unprioritized pool is next.
	picked, err = h.service.SelectNext(ctx, "survey-1")
	if err != nil {
		t.Fatalf("select next after tier drained: %v", err)
	}
	if picked.ID != entryFree.ID {
		t.Fatalf("expected unprioritized entry %s, got %s", entryFree.ID, picked.ID)
	}

	claimAndComplete(t, h, entryFree.ID)

	// Excluded units are reachable only through the oldest-entry fallback.
	picked, err = h.service.SelectNext(ctx, "survey-1")
	if err != nil {
		t.Fatalf("select next after pools drained: %v", err)
	}
	if picked.ID != entryZ.ID {
		t.Fatalf("expected excluded-unit entry %s via fallback, got %s", entryZ.ID, picked.ID)
	}
}

func claimAndComplete(t *testing.T, h *testHarness, entryID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.service.Claim(ctx, entryID, "agent-1"); err != nil {
		t.Fatalf("claim %s: %v", entryID, err)
	}
	if _, err := h.service.Dial(ctx, entryID); err != nil {
		t.Fatalf("dial %s: %v", entryID, err)
	}
	if err := h.service.Finalize(ctx, entryID, domain.EntryStatusCompleted, domain.OutcomeInterviewDone); err != nil {
		t.Fatalf("finalize %s: %v", entryID, err)
	}
}

func TestSelectNextHonorsCallLaterHold(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	entry := h.seed(t, "survey-1", "+15550000301", "")
	if _, err := h.service.Claim(ctx, entry.ID, "agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := h.service.Dial(ctx, entry.ID); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := h.service.Abandon(ctx, entry.ID, domain.OutcomeCallLater, "respondent asked for evening"); err != nil {
		t.Fatalf("abandon call later: %v", err)
	}

	if _, err := h.service.SelectNext(ctx, "survey-1"); !errors.Is(err, domain.ErrNoneAvailable) {
		t.Fatalf("expected none available during hold, got %v", err)
	}

	h.advance(time.Hour + time.Minute)
	picked, err := h.service.SelectNext(ctx, "survey-1")
	if err != nil {
		t.Fatalf("select next after hold expired: %v", err)
	}
	if picked.ID != entry.ID {
		t.Fatalf("expected held entry %s, got %s", entry.ID, picked.ID)
	}
}

func TestCallLaterOutranksFreshAndRequeuedEntries(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	held := h.seed(t, "survey-1", "+15550000401", "")
	if _, err := h.service.Claim(ctx, held.ID, "agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := h.service.Dial(ctx, held.ID); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := h.service.Abandon(ctx, held.ID, domain.OutcomeCallLater, ""); err != nil {
		t.Fatalf("abandon: %v", err)
	}

	h.advance(2 * time.Hour)
	h.seed(t, "survey-1", "+15550000402", "")

	picked, err := h.service.SelectNext(ctx, "survey-1")
	if err != nil {
		t.Fatalf("select next: %v", err)
	}
	if picked.ID != held.ID {
		t.Fatalf("expected matured call-later entry %s first, got %s", held.ID, picked.ID)
	}
}

func TestClaimIsSingleWinner(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	entry := h.seed(t, "survey-1", "+15550000501", "")

	claimed, err := h.service.Claim(ctx, entry.ID, "agent-1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if claimed.Status != domain.EntryStatusAssigned || claimed.AssignedTo != "agent-1" {
		t.Fatalf("unexpected claimed state: status=%s assigned_to=%s",
			claimed.Status, claimed.AssignedTo)
	}

	if _, err := h.service.Claim(ctx, entry.ID, "agent-2"); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected state conflict for losing claim, got %v", err)
	}

	if _, err := h.service.ClaimNext(ctx, "survey-1", "agent-2"); !errors.Is(err, domain.ErrNoneAvailable) {
		t.Fatalf("expected none available once the only entry is claimed, got %v", err)
	}
}

func TestClaimNextRequiresCaller(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.service.ClaimNext(context.Background(), "survey-1", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDialSuccessOpensAttemptAndCallRecord(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	entry := h.seed(t, "survey-1", "+15550000601", "")
	if _, err := h.service.Claim(ctx, entry.ID, "agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	record, err := h.service.Dial(ctx, entry.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if record.ProviderID == "" || record.Status != domain.CallStatusRinging {
		t.Fatalf("unexpected call record: provider_id=%q status=%s", record.ProviderID, record.Status)
	}
	if record.QueueEntryID != entry.ID || record.AttemptSeq != 1 {
		t.Fatalf("call record not linked to first attempt: entry=%s seq=%d",
			record.QueueEntryID, record.AttemptSeq)
	}

	updated := h.mustGet(t, entry.ID)
	if updated.Status != domain.EntryStatusCalling {
		t.Fatalf("expected calling entry, got %s", updated.Status)
	}
	last := updated.LastAttempt()
	if last == nil || last.Seq != 1 || last.CallID != record.ProviderID || last.Dispatcher != "agent-1" {
		t.Fatalf("unexpected attempt record: %+v", last)
	}
}

func TestDialRejectsUnclaimedEntry(t *testing.T) {
	h := newHarness(t, nil)
	entry := h.seed(t, "survey-1", "+15550000701", "")

	if _, err := h.service.Dial(context.Background(), entry.ID); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected state conflict for pending entry, got %v", err)
	}
}

func TestDialDispatchFailureRequeuesBackOfLine(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	entry := h.seed(t, "survey-1", "+15550000801", "")
	if _, err := h.service.Claim(ctx, entry.ID, "agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	h.dispatcher.fail = &domain.DispatchError{Code: "transport", Message: "connection refused"}
	if _, err := h.service.Dial(ctx, entry.ID); err == nil {
		t.Fatalf("expected dial error when dispatch fails")
	}

	updated := h.mustGet(t, entry.ID)
	if updated.Status != domain.EntryStatusPending {
		t.Fatalf("expected pending after failed dispatch, got %s", updated.Status)
	}
	if updated.Priority != domain.PriorityBackOfLine {
		t.Fatalf("expected back-of-line priority, got %d", updated.Priority)
	}
	if updated.AssignedTo != "" || updated.AssignedAt != nil {
		t.Fatalf("expected claim cleared, got assigned_to=%q", updated.AssignedTo)
	}
	if len(updated.Attempts) != 1 {
		t.Fatalf("expected exactly one attempt record, got %d", len(updated.Attempts))
	}
	if updated.Attempts[0].Outcome != domain.OutcomeDispatchFailed {
		t.Fatalf("expected dispatch_failed outcome, got %s", updated.Attempts[0].Outcome)
	}

	// The requeued entry is selectable again right away.
	h.dispatcher.fail = nil
	picked, err := h.service.ClaimNext(ctx, "survey-1", "agent-2")
	if err != nil {
		t.Fatalf("claim after requeue: %v", err)
	}
	if picked.ID != entry.ID {
		t.Fatalf("expected the requeued entry, got %s", picked.ID)
	}
}

func TestAbandonOutcomes(t *testing.T) {
	cases := []struct {
		name        string
		outcome     domain.AttemptOutcome
		wantStatus  domain.EntryStatus
		reselectable bool
	}{
		{"busy requeues", domain.OutcomeBusy, domain.EntryStatusPending, true},
		{"no pickup requeues", domain.OutcomeNoPickup, domain.EntryStatusPending, true},
		{"invalid number finalizes", domain.OutcomeInvalidNumber, domain.EntryStatusInvalidNumber, false},
		{"consent refused finalizes", domain.OutcomeConsentRefused, domain.EntryStatusConsentRefused, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			ctx := context.Background()

			entry := h.seed(t, "survey-1", "+15550000901", "")
			if _, err := h.service.Claim(ctx, entry.ID, "agent-1"); err != nil {
				t.Fatalf("claim: %v", err)
			}
			if _, err := h.service.Dial(ctx, entry.ID); err != nil {
				t.Fatalf("dial: %v", err)
			}
			if err := h.service.Abandon(ctx, entry.ID, tc.outcome, "line outcome"); err != nil {
				t.Fatalf("abandon: %v", err)
			}

			updated := h.mustGet(t, entry.ID)
			if updated.Status != tc.wantStatus {
				t.Fatalf("expected status %s, got %s", tc.wantStatus, updated.Status)
			}
			last := updated.LastAttempt()
			if last == nil || last.Outcome != tc.outcome || last.Seq != 1 {
				t.Fatalf("expected outcome %s stamped on attempt 1, got %+v", tc.outcome, last)
			}

			_, err := h.service.SelectNext(ctx, "survey-1")
			if tc.reselectable && err != nil {
				t.Fatalf("expected requeued entry to be selectable: %v", err)
			}
			if !tc.reselectable && !errors.Is(err, domain.ErrNoneAvailable) {
				t.Fatalf("expected terminal entry to leave the queue, got %v", err)
			}
		})
	}
}

func TestAbandonRejectsTerminalEntriesAndUnknownOutcomes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	entry := h.seed(t, "survey-1", "+15550001001", "")
	if _, err := h.service.Claim(ctx, entry.ID, "agent-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := h.service.Abandon(ctx, entry.ID, "mystery", ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for unknown outcome, got %v", err)
	}

	if _, err := h.service.Dial(ctx, entry.ID); err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := h.service.Abandon(ctx, entry.ID, domain.OutcomeInvalidNumber, ""); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if err := h.service.Abandon(ctx, entry.ID, domain.OutcomeBusy, ""); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected state conflict on finalized entry, got %v", err)
	}
}
