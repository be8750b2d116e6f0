package httpserver

import (
	"log"
	"net/http"

	"github.com/fieldscope/cati-back/internal/http/handlers"
	"github.com/fieldscope/cati-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)
	mux.HandleFunc("/v1/queue/enqueue", deps.API.Enqueue)
	mux.HandleFunc("/v1/queue/next", deps.API.Next)
	mux.HandleFunc("/v1/queue/", deps.API.QueueEntryAction)
	mux.HandleFunc("/v1/qc/run", deps.API.QCRun)
	mux.HandleFunc("/v1/qc/reviews", deps.API.QCReview)
	mux.HandleFunc("/v1/qc/batches/", deps.API.QCBatchStatus)
	// Provider callbacks stay outside /v1 so bearer auth never blocks the
	// fixed acknowledgment.
	mux.HandleFunc("/webhooks/call-status", deps.API.CallStatusWebhook)

	handler := http.Handler(mux)
	handler = middleware.Auth(deps.AuthToken)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
