package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fieldscope/cati-back/internal/domain"
)

func TestWriteDomainErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", fmt.Errorf("%w: bad phone", domain.ErrValidation), http.StatusBadRequest, "invalid_request"},
		{"not found", fmt.Errorf("entry: %w", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{"state conflict", fmt.Errorf("%w: already claimed", domain.ErrStateConflict), http.StatusConflict, "state_conflict"},
		{"none available", domain.ErrNoneAvailable, http.StatusNotFound, "none_available"},
		{"dispatch failure", fmt.Errorf("dial: %w", &domain.DispatchError{Code: "transport", Message: "refused"}), http.StatusBadGateway, "dispatch_failed"},
		{"unclassified", fmt.Errorf("disk on fire"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			request := httptest.NewRequest(http.MethodGet, "/", nil)
			writeDomainError(recorder, request, tc.err)

			if recorder.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, tc.wantStatus)
			}
			var payload errorPayload
			if err := json.NewDecoder(recorder.Body).Decode(&payload); err != nil {
				t.Fatalf("decode error payload: %v", err)
			}
			if payload.Error.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", payload.Error.Code, tc.wantCode)
			}
		})
	}
}

func TestEnqueueRequestValidation(t *testing.T) {
	api := NewAPI(nil, nil, nil, nil, nil, nil)

	cases := []struct {
		name       string
		method     string
		body       string
		wantStatus int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"broken json", http.MethodPost, `{"survey_id":`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, `{"survey":"s1"}`, http.StatusBadRequest},
		{"missing contacts", http.MethodPost, `{"survey_id":"s1","contacts":[]}`, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			request := httptest.NewRequest(tc.method, "/v1/queue/enqueue", strings.NewReader(tc.body))
			recorder := httptest.NewRecorder()
			api.Enqueue(recorder, request)
			if recorder.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, tc.wantStatus)
			}
		})
	}
}

func TestQueueEntryActionRouting(t *testing.T) {
	api := NewAPI(nil, nil, nil, nil, nil, nil)

	cases := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"missing action", "/v1/queue/abc123", http.StatusBadRequest},
		{"unknown action", "/v1/queue/abc123/promote", http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(`{}`))
			recorder := httptest.NewRecorder()
			api.QueueEntryAction(recorder, request)
			if recorder.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", recorder.Code, tc.wantStatus)
			}
		})
	}
}
