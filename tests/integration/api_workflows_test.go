package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fieldscope/cati-back/internal/dialqueue"
	"github.com/fieldscope/cati-back/internal/domain"
	httpserver "github.com/fieldscope/cati-back/internal/http"
	"github.com/fieldscope/cati-back/internal/http/handlers"
	"github.com/fieldscope/cati-back/internal/interview"
	"github.com/fieldscope/cati-back/internal/priority"
	"github.com/fieldscope/cati-back/internal/qc"
	"github.com/fieldscope/cati-back/internal/queue"
	"github.com/fieldscope/cati-back/internal/reconcile"
	"github.com/fieldscope/cati-back/internal/repository"
	"github.com/fieldscope/cati-back/internal/worker"
)

type scriptedDispatcher struct {
	mu   sync.Mutex
	next int
}

func (d *scriptedDispatcher) Dispatch(
	_ context.Context,
	_ dialqueue.DispatchRequest,
) (dialqueue.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	return dialqueue.DispatchResult{CallID: fmt.Sprintf("prov-call-%04d", d.next)}, nil
}

type integrationRuntime struct {
	server  *httptest.Server
	cancel  context.CancelFunc
	entries *repository.MemoryEntriesRepository
	calls   *repository.MemoryCallsRepository
	batches *repository.MemoryBatchesRepository
}

func startIntegrationRuntime(t *testing.T, unitPriorities priority.StaticSource) integrationRuntime {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(io.Discard, "", 0)

	entries := repository.NewMemoryEntriesRepository()
	calls := repository.NewMemoryCallsRepository()
	responses := repository.NewMemoryResponsesRepository()
	batches := repository.NewMemoryBatchesRepository()
	localQueue := queue.NewLocalQueue(2048, 3, logger)

	priorityCache := priority.NewCache(priority.Config{
		TTL:    time.Hour,
		Source: unitPriorities,
		Logger: logger,
	})
	dialQueue := dialqueue.NewService(entries, calls, &scriptedDispatcher{}, priorityCache, dialqueue.Config{
		FromNumber: "+15559990000",
	}, logger)
	qcEngine := qc.NewEngine(batches, responses, qc.Config{
		SampleFraction:       0.4,
		ApprovalThresholdPct: 50,
	}, logger)
	recorder := interview.NewRecorder(responses, entries, calls, dialQueue, qcEngine, logger)
	reconciler := reconcile.NewReconciler(calls, entries, dialQueue, reconcile.Config{}, logger)

	processor := worker.NewProcessor(localQueue, reconciler, logger)
	go processor.Start(ctx)

	api := handlers.NewAPI(dialQueue, recorder, qcEngine, localQueue, batches, logger)
	router := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      "",
		RateLimitRPS:   1000,
		RateLimitBurst: 1000,
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		cancel()
	})

	return integrationRuntime{
		server:  server,
		cancel:  cancel,
		entries: entries,
		calls:   calls,
		batches: batches,
	}
}

func (rt integrationRuntime) postJSON(t *testing.T, path string, payload any) (int, map[string]any) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	response, err := http.Post(rt.server.URL+path, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer response.Body.Close()

	result := map[string]any{}
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil && err != io.EOF {
		t.Fatalf("decode response for %s: %v", path, err)
	}
	return response.StatusCode, result
}

func (rt integrationRuntime) getJSON(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	response, err := http.Get(rt.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer response.Body.Close()

	result := map[string]any{}
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		t.Fatalf("decode response for %s: %v", path, err)
	}
	return response.StatusCode, result
}

func (rt integrationRuntime) postWebhook(t *testing.T, payload string) string {
	t.Helper()
	response, err := http.Post(
		rt.server.URL+"/webhooks/call-status",
		"application/json",
		strings.NewReader(payload),
	)
	if err != nil {
		t.Fatalf("POST webhook: %v", err)
	}
	defer response.Body.Close()

	ack, _ := io.ReadAll(response.Body)
	if response.StatusCode != http.StatusOK {
		t.Fatalf("webhook status = %d, want 200", response.StatusCode)
	}
	return string(ack)
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// runInterview drives one respondent through claim, dial, delivery event and
// interviewer completion, returning the provider call id.
func (rt integrationRuntime) runInterview(t *testing.T, surveyID string) string {
	t.Helper()

	status, next := rt.postJSON(t, "/v1/queue/next", map[string]any{
		"survey_id": surveyID,
		"caller":    "agent-integration",
	})
	if status != http.StatusOK {
		t.Fatalf("next status = %d body=%v", status, next)
	}
	entryID := next["entry_id"].(string)

	status, dispatched := rt.postJSON(t, "/v1/queue/"+entryID+"/dispatch", map[string]any{})
	if status != http.StatusOK {
		t.Fatalf("dispatch status = %d body=%v", status, dispatched)
	}
	callID := dispatched["call_id"].(string)

	rt.postWebhook(t, fmt.Sprintf(
		`{"call_id":%q,"status":"completed","talk_duration":210,"end_time":"2026-03-10T10:00:00Z"}`,
		callID,
	))
	waitFor(t, "delivery event applied", func() bool {
		record, err := rt.calls.GetCallByProviderID(context.Background(), callID)
		return err == nil && record.EventApplied && record.Status == domain.CallStatusCompleted
	})

	status, completed := rt.postJSON(t, "/v1/queue/"+entryID+"/complete", map[string]any{
		"outcome":         "interview_done",
		"consent_granted": true,
	})
	if status != http.StatusOK {
		t.Fatalf("complete status = %d body=%v", status, completed)
	}
	if completed["status"] != string(domain.ResponseStatusPendingReview) {
		t.Fatalf("response status = %v, want pending_review", completed["status"])
	}
	return callID
}

func TestInterviewLifecycleEndToEnd(t *testing.T) {
	rt := startIntegrationRuntime(t, nil)

	status, enqueued := rt.postJSON(t, "/v1/queue/enqueue", map[string]any{
		"survey_id": "survey-e2e",
		"contacts": []map[string]any{
			{"name": "First Respondent", "phone_number": "+15550020001"},
		},
	})
	if status != http.StatusCreated || enqueued["added"].(float64) != 1 {
		t.Fatalf("enqueue status = %d body=%v", status, enqueued)
	}

	rt.runInterview(t, "survey-e2e")

	// Sweep: one response means a sample of one and an empty remainder.
	status, swept := rt.postJSON(t, "/v1/qc/run", map[string]any{})
	if status != http.StatusOK || swept["swept_batches"].(float64) != 1 {
		t.Fatalf("qc run status = %d body=%v", status, swept)
	}

	batch, err := rt.batches.GetOrCreateBatch(
		context.Background(), "survey-e2e", domain.BatchDay(time.Now().UTC()),
	)
	if err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if len(batch.SampleIDs) != 1 {
		t.Fatalf("expected the lone response sampled, got %d", len(batch.SampleIDs))
	}

	status, reviewed := rt.postJSON(t, "/v1/qc/reviews", map[string]any{
		"response_id": batch.SampleIDs[0],
		"approved":    true,
	})
	if status != http.StatusOK {
		t.Fatalf("review status = %d body=%v", status, reviewed)
	}

	status, view := rt.getJSON(t, "/v1/qc/batches/"+batch.ID)
	if status != http.StatusOK {
		t.Fatalf("batch status = %d body=%v", status, view)
	}
	if view["status"] != string(domain.BatchStatusAutoApproved) {
		t.Fatalf("batch decided as %v, want auto_approved", view["status"])
	}
	if view["approval_rate"].(float64) != 100 {
		t.Fatalf("approval rate = %v, want 100", view["approval_rate"])
	}
}

func TestBusyDeliveryRequeuesThroughWorker(t *testing.T) {
	rt := startIntegrationRuntime(t, nil)

	rt.postJSON(t, "/v1/queue/enqueue", map[string]any{
		"survey_id": "survey-busy",
		"contacts": []map[string]any{
			{"name": "Busy Respondent", "phone_number": "+15550021001"},
		},
	})
	_, next := rt.postJSON(t, "/v1/queue/next", map[string]any{
		"survey_id": "survey-busy",
		"caller":    "agent-1",
	})
	entryID := next["entry_id"].(string)
	_, dispatched := rt.postJSON(t, "/v1/queue/"+entryID+"/dispatch", map[string]any{})
	callID := dispatched["call_id"].(string)

	if ack := rt.postWebhook(t, fmt.Sprintf(`{"call_id":%q,"status":"busy"}`, callID)); ack != "OK" {
		t.Fatalf("webhook ack = %q, want OK", ack)
	}

	waitFor(t, "busy disposition requeue", func() bool {
		entry, err := rt.entries.GetEntry(context.Background(), entryID)
		return err == nil &&
			entry.Status == domain.EntryStatusPending &&
			entry.Priority == domain.PriorityBackOfLine
	})

	entry, _ := rt.entries.GetEntry(context.Background(), entryID)
	if len(entry.Attempts) != 1 || entry.Attempts[0].Outcome != domain.OutcomeBusy {
		t.Fatalf("unexpected attempt history: %+v", entry.Attempts)
	}
}

func TestUnmatchedDeliveryEventIsAckedAndDropped(t *testing.T) {
	rt := startIntegrationRuntime(t, nil)

	rt.postJSON(t, "/v1/queue/enqueue", map[string]any{
		"survey_id": "survey-quiet",
		"contacts": []map[string]any{
			{"name": "Untouched Respondent", "phone_number": "+15550022001"},
		},
	})

	if ack := rt.postWebhook(t, `{"call_id":"prov-never-dialed","status":"failed"}`); ack != "OK" {
		t.Fatalf("webhook ack = %q, want OK", ack)
	}

	// Give the worker a moment; the event must not touch the pending entry.
	time.Sleep(200 * time.Millisecond)
	pending, err := rt.entries.ListPendingEntries(context.Background(), "survey-quiet")
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || len(pending[0].Attempts) != 0 {
		t.Fatalf("unmatched event mutated queue state: %+v", pending)
	}
}

func TestSplitReviewQueuesBatchForManualQC(t *testing.T) {
	rt := startIntegrationRuntime(t, nil)

	contacts := make([]map[string]any, 0, 5)
	for i := 0; i < 5; i++ {
		contacts = append(contacts, map[string]any{
			"name":         fmt.Sprintf("Respondent %d", i),
			"phone_number": fmt.Sprintf("+1555003%04d", i),
		})
	}
	status, enqueued := rt.postJSON(t, "/v1/queue/enqueue", map[string]any{
		"survey_id": "survey-split",
		"contacts":  contacts,
	})
	if status != http.StatusCreated || enqueued["added"].(float64) != 5 {
		t.Fatalf("enqueue status = %d body=%v", status, enqueued)
	}

	for i := 0; i < 5; i++ {
		rt.runInterview(t, "survey-split")
	}

	status, swept := rt.postJSON(t, "/v1/qc/run", map[string]any{})
	if status != http.StatusOK || swept["swept_batches"].(float64) != 1 {
		t.Fatalf("qc run status = %d body=%v", status, swept)
	}

	batch, err := rt.batches.GetOrCreateBatch(
		context.Background(), "survey-split", domain.BatchDay(time.Now().UTC()),
	)
	if err != nil {
		t.Fatalf("load batch: %v", err)
	}
	if len(batch.SampleIDs) != 2 || len(batch.RemainderIDs) != 3 {
		t.Fatalf("expected 2/3 split, got %d/%d", len(batch.SampleIDs), len(batch.RemainderIDs))
	}

	// One approval and one rejection land exactly on the threshold, which
	// must not auto-approve.
	rt.postJSON(t, "/v1/qc/reviews", map[string]any{
		"response_id": batch.SampleIDs[0], "approved": true,
	})
	rt.postJSON(t, "/v1/qc/reviews", map[string]any{
		"response_id": batch.SampleIDs[1], "approved": false,
	})

	status, view := rt.getJSON(t, "/v1/qc/batches/"+batch.ID)
	if status != http.StatusOK {
		t.Fatalf("batch status = %d body=%v", status, view)
	}
	if view["status"] != string(domain.BatchStatusQueuedForQC) {
		t.Fatalf("batch decided as %v, want queued_for_qc", view["status"])
	}

	// Reviewing a decided batch is rejected.
	status, _ = rt.postJSON(t, "/v1/qc/reviews", map[string]any{
		"response_id": batch.SampleIDs[0], "approved": true,
	})
	if status != http.StatusConflict {
		t.Fatalf("post-decision review status = %d, want 409", status)
	}
}
