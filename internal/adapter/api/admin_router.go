package api

import (
	"log/slog"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/api/handler"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/api/middleware"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
)

// NewAdminRouter creates and configures the HTTP router for operator
// endpoints, Prometheus scraping and the live event stream.
func NewAdminRouter(
	logger *slog.Logger,
	m *metrics.DispatchMetrics,
	adminToken string,
	operatorHandler *handler.OperatorHandler,
	events *handler.SSEBroker,
	gatherer prometheus.Gatherer,
) http.Handler {
	admin := http.NewServeMux()

	// Places
	admin.HandleFunc("GET /admin/places", operatorHandler.ListPlaces)
	admin.HandleFunc("POST /admin/places", operatorHandler.CreatePlace)
	admin.HandleFunc("GET /admin/places/{placeID}", operatorHandler.GetPlace)
	admin.HandleFunc("POST /admin/places/{placeID}/rotate-key", operatorHandler.RotateKey)
	admin.HandleFunc("DELETE /admin/places/{placeID}", operatorHandler.DeletePlace)

	// Commands
	admin.HandleFunc("POST /admin/places/{placeID}/commands", operatorHandler.EnqueueCommand)
	admin.HandleFunc("GET /admin/places/{placeID}/commands", operatorHandler.CommandHistory)

	// Players
	admin.HandleFunc("GET /admin/places/{placeID}/players", operatorHandler.ListPlayers)
	admin.HandleFunc("PUT /admin/places/{placeID}/players/{playerID}/flags/{flag}", operatorHandler.SetPlayerFlag)

	admin.HandleFunc("GET /admin/places/{placeID}/stats", operatorHandler.Stats)
	admin.HandleFunc("GET /admin/activity", operatorHandler.Activity)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", operatorHandler.HealthCheck)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	guard := middleware.AdminAuth(adminToken, logger)
	// The event stream is not compressed: gzip buffering would hold events back.
	mux.Handle("GET /admin/events", guard(events))
	mux.Handle("/admin/", guard(gzhttp.GzipHandler(admin)))

	return middleware.Chain(mux, middleware.Logging(logger, m), middleware.Recover(logger))
}
