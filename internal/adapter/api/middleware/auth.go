package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

const APIKeyHeader = "X-API-Key"

// TenantResolver maps an API key onto its tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, key string) (*domain.Tenant, error)
}

// Auth is a middleware factory that authenticates agents by API key, taken
// from X-API-Key or an Authorization bearer token. A missing key is a 401,
// a key that resolves to no tenant a 403. When the tenant store itself fails,
// onStoreFailure serves the request instead, or a 500 if it is nil. Every
// rejection is counted under the "auth" operation.
func Auth(resolver TenantResolver, logger *slog.Logger, m *metrics.DispatchMetrics, onStoreFailure http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := credential(r)
			if apiKey == "" {
				logger.Warn("API key missing from request", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				m.ObserveRequest("auth", "unauthorized")
				writeError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			tenant, err := resolver.Resolve(r.Context(), apiKey)
			switch {
			case errors.Is(err, domain.ErrTenantNotFound):
				logger.Warn("invalid API key provided", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
				m.ObserveRequest("auth", "forbidden")
				writeError(w, http.StatusForbidden, "invalid API key")
				return
			case err != nil:
				logger.Error("failed to validate API key", "error", err)
				m.ObserveRequest("auth", "error")
				if onStoreFailure != nil {
					onStoreFailure.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenant)))
		})
	}
}

func credential(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
