package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/fieldscope/cati-back/internal/domain"
)

type enqueueRequest struct {
	SurveyID string                     `json:"survey_id"`
	Contacts []domain.RespondentContact `json:"contacts"`
}

type nextRequest struct {
	SurveyID string `json:"survey_id"`
	Caller   string `json:"caller"`
}

type abandonRequest struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

type completeRequest struct {
	Outcome        string `json:"outcome"`
	ConsentGranted bool   `json:"consent_granted"`
}

func (api *API) Enqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request enqueueRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(request.SurveyID) == "" || len(request.Contacts) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "survey_id and contacts are required")
		return
	}

	added, err := api.dialQueue.Enqueue(r.Context(), request.SurveyID, request.Contacts)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"survey_id": request.SurveyID,
		"received":  len(request.Contacts),
		"added":     added,
	})
}

func (api *API) Next(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request nextRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(request.SurveyID) == "" || strings.TrimSpace(request.Caller) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "survey_id and caller are required")
		return
	}

	entry, err := api.dialQueue.ClaimNext(r.Context(), request.SurveyID, request.Caller)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entryView(entry))
}

// QueueEntryAction routes /v1/queue/{id}/{action} for dispatch, abandon and
// complete.
func (api *API) QueueEntryAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/queue/")
	entryID, action, ok := strings.Cut(rest, "/")
	entryID = strings.TrimSpace(entryID)
	if !ok || entryID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "entry id and action are required")
		return
	}

	switch strings.TrimSuffix(action, "/") {
	case "dispatch":
		api.dispatchEntry(w, r, entryID)
	case "abandon":
		api.abandonEntry(w, r, entryID)
	case "complete":
		api.completeEntry(w, r, entryID)
	default:
		writeError(w, r, http.StatusNotFound, "not_found", "unknown queue action")
	}
}

func (api *API) dispatchEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	record, err := api.dialQueue.Dial(r.Context(), entryID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"call_record_id": record.ID,
		"call_id":        record.ProviderID,
		"entry_id":       record.QueueEntryID,
		"attempt":        record.AttemptSeq,
		"status":         record.Status,
	})
}

func (api *API) abandonEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	var request abandonRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	outcome := domain.AttemptOutcome(strings.TrimSpace(request.Outcome))
	if outcome == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "outcome is required")
		return
	}

	response, err := api.recorder.Abandon(r.Context(), entryID, outcome, request.Reason)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	result := map[string]any{"entry_id": entryID, "outcome": outcome}
	if response != nil {
		result["response_id"] = response.ID
		result["response_status"] = response.Status
	}
	writeJSON(w, http.StatusOK, result)
}

func (api *API) completeEntry(w http.ResponseWriter, r *http.Request, entryID string) {
	var request completeRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	outcome := domain.AttemptOutcome(strings.TrimSpace(request.Outcome))
	if outcome == "" {
		outcome = domain.OutcomeInterviewDone
	}

	response, err := api.recorder.Complete(r.Context(), entryID, outcome, request.ConsentGranted)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"response_id": response.ID,
		"status":      response.Status,
		"entry_id":    response.QueueEntryID,
		"attempt":     response.AttemptSeq,
	})
}

func entryView(entry *domain.QueueEntry) map[string]any {
	view := map[string]any{
		"entry_id":  entry.ID,
		"survey_id": entry.SurveyID,
		"status":    entry.Status,
		"contact": map[string]any{
			"name":          entry.Contact.Name,
			"phone_number":  entry.Contact.PhoneNumber,
			"assembly_unit": entry.Contact.AssemblyUnit,
		},
		"attempts": len(entry.Attempts),
	}
	if entry.AssignedAt != nil {
		view["assigned_at"] = entry.AssignedAt.Format(time.RFC3339)
	}
	return view
}
