package handlers

import (
	"net/http"
	"strings"
)

type reviewRequest struct {
	ResponseID string `json:"response_id"`
	Approved   bool   `json:"approved"`
}

// QCRun is the on-demand administrative sweep trigger; a no-op when no
// batch is eligible.
func (api *API) QCRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	swept, err := api.qcEngine.RunSweep(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"swept_batches": swept})
}

func (api *API) QCReview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	var request reviewRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}
	if strings.TrimSpace(request.ResponseID) == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "response_id is required")
		return
	}

	if err := api.qcEngine.ReviewSample(r.Context(), request.ResponseID, request.Approved); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response_id": request.ResponseID,
		"approved":    request.Approved,
	})
}

func (api *API) QCBatchStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	batchID := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/qc/batches/"))
	if batchID == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "batch id is required")
		return
	}

	batch, err := api.batches.GetBatch(r.Context(), batchID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	view := map[string]any{
		"batch_id":        batch.ID,
		"survey_id":       batch.SurveyID,
		"day":             batch.Day,
		"status":          batch.Status,
		"total":           len(batch.ResponseIDs),
		"sample_size":     len(batch.SampleIDs),
		"remainder_size":  len(batch.RemainderIDs),
		"sample_approved": batch.SampleApproved,
		"sample_rejected": batch.SampleRejected,
		"sample_pending":  batch.SamplePending,
		"approval_rate":   batch.ApprovalRate,
	}
	if batch.DecidedAt != nil {
		view["decided_at"] = batch.DecidedAt
	}
	writeJSON(w, http.StatusOK, view)
}
