package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fieldscope/cati-back/internal/domain"
	"github.com/fieldscope/cati-back/internal/http/middleware"
)

// webhookAck is the fixed literal the provider expects. It must go out
// regardless of what happens to the payload, or the provider retry-storms.
const webhookAck = "OK"

// CallStatusWebhook accepts provider delivery events. The acknowledgment is
// written first; the payload is handed to the task queue as a decoupled,
// best-effort step so internal failures never surface to the provider.
func (api *API) CallStatusWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(webhookAck))

	if err != nil || len(body) == 0 {
		return
	}

	task := domain.DeliveryTask{
		TaskID:     uuid.NewString(),
		RawPayload: body,
		ReceivedAt: time.Now().UTC(),
	}

	// Detached context: the provider's request is already answered and the
	// enqueue must not die with it.
	enqueueCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if enqueueErr := api.producer.Enqueue(enqueueCtx, task); enqueueErr != nil && api.log != nil {
		api.log.Printf(
			"delivery enqueue failed request_id=%s err=%v",
			middleware.GetRequestID(r.Context()), enqueueErr,
		)
	}
}
