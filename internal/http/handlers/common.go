package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/fieldscope/cati-back/internal/dialqueue"
	"github.com/fieldscope/cati-back/internal/domain"
	"github.com/fieldscope/cati-back/internal/http/middleware"
	"github.com/fieldscope/cati-back/internal/interview"
	"github.com/fieldscope/cati-back/internal/qc"
	"github.com/fieldscope/cati-back/internal/queue"
	"github.com/fieldscope/cati-back/internal/repository"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	dialQueue *dialqueue.Service
	recorder  *interview.Recorder
	qcEngine  *qc.Engine
	producer  queue.Producer
	batches   repository.BatchesRepository
	log       *log.Logger
}

func NewAPI(
	dialQueue *dialqueue.Service,
	recorder *interview.Recorder,
	qcEngine *qc.Engine,
	producer queue.Producer,
	batches repository.BatchesRepository,
	logger *log.Logger,
) *API {
	return &API{
		dialQueue: dialQueue,
		recorder:  recorder,
		qcEngine:  qcEngine,
		producer:  producer,
		batches:   batches,
		log:       logger,
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeDomainError maps the service error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var dispatchErr *domain.DispatchError
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrStateConflict):
		writeError(w, r, http.StatusConflict, "state_conflict", err.Error())
	case errors.Is(err, domain.ErrNoneAvailable):
		writeError(w, r, http.StatusNotFound, "none_available", "no respondent available to dial")
	case errors.As(err, &dispatchErr):
		writeError(w, r, http.StatusBadGateway, "dispatch_failed", dispatchErr.Message)
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", "request failed")
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}
