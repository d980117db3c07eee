package api

import (
	"log/slog"
	"net/http"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/api/handler"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/api/middleware"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
)

// NewRouter creates and configures the HTTP router agents talk to.
func NewRouter(
	logger *slog.Logger,
	m *metrics.DispatchMetrics,
	resolver middleware.TenantResolver,
	dispatch handler.Dispatcher,
	maxBodyBytes int64,
) http.Handler {
	mux := http.NewServeMux()

	agentHandler := handler.NewAgentHandler(dispatch, logger, m, maxBodyBytes)

	auth := middleware.Auth(resolver, logger, m, nil)
	// A poll whose key cannot be checked still gets an empty batch.
	pollAuth := middleware.Auth(resolver, logger, m, http.HandlerFunc(agentHandler.EmptyPoll))

	mux.Handle("POST /heartbeat", auth(http.HandlerFunc(agentHandler.Heartbeat)))
	mux.Handle("GET /commands", pollAuth(http.HandlerFunc(agentHandler.Poll)))
	mux.Handle("POST /commands/ack", auth(http.HandlerFunc(agentHandler.Ack)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return middleware.Chain(mux, middleware.Logging(logger, m), middleware.Recover(logger))
}
