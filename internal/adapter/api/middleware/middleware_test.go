package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

type fakeResolver struct {
	keys map[string]*domain.Tenant
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, key string) (*domain.Tenant, error) {
	if f.err != nil {
		return nil, f.err
	}
	if t, ok := f.keys[key]; ok {
		return t, nil
	}
	return nil, domain.ErrTenantNotFound
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var echoTenant = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	t, ok := TenantFrom(r.Context())
	if !ok {
		w.WriteHeader(http.StatusTeapot)
		return
	}
	w.Write([]byte(t.PlaceID))
})

func TestAuth(t *testing.T) {
	resolver := &fakeResolver{keys: map[string]*domain.Tenant{"good": {PlaceID: "place-1"}}}

	tests := []struct {
		name           string
		headers        map[string]string
		resolverErr    error
		fallback       http.Handler
		expectedStatus int
		expectedBody   string
	}{
		{"X-API-Key", map[string]string{APIKeyHeader: "good"}, nil, nil, http.StatusOK, "place-1"},
		{"Bearer token", map[string]string{"Authorization": "Bearer good"}, nil, nil, http.StatusOK, "place-1"},
		{"Lower-case bearer", map[string]string{"Authorization": "bearer good"}, nil, nil, http.StatusOK, "place-1"},
		{"Missing key", nil, nil, nil, http.StatusUnauthorized, `{"error":"missing API key"}`},
		{"Basic auth is not a key", map[string]string{"Authorization": "Basic Z29vZA=="}, nil, nil, http.StatusUnauthorized, ""},
		{"Unknown key", map[string]string{APIKeyHeader: "bad"}, nil, nil, http.StatusForbidden, `{"error":"invalid API key"}`},
		{"Store failure", map[string]string{APIKeyHeader: "good"}, errors.New("db down"), nil, http.StatusInternalServerError, ""},
		{
			"Store failure with fallback",
			map[string]string{APIKeyHeader: "good"},
			errors.New("db down"),
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("fallback")) }),
			http.StatusOK,
			"fallback",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver.err = tt.resolverErr
			h := Auth(resolver, discardLogger(), nil, tt.fallback)(echoTenant)

			req := httptest.NewRequest(http.MethodGet, "/commands", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
			if tt.expectedBody != "" && strings.TrimSpace(rr.Body.String()) != tt.expectedBody {
				t.Errorf("body = %q, want %q", rr.Body.String(), tt.expectedBody)
			}
		})
	}
}

func TestAuthCountsRejections(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewDispatchMetrics(reg)
	resolver := &fakeResolver{keys: map[string]*domain.Tenant{"good": {PlaceID: "place-1"}}}
	h := Auth(resolver, discardLogger(), m, nil)(echoTenant)

	for _, key := range []string{"", "bad", "bad", "good"} {
		req := httptest.NewRequest(http.MethodGet, "/commands", nil)
		if key != "" {
			req.Header.Set(APIKeyHeader, key)
		}
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	got := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "fleet_dispatch_agent_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["operation"] == "auth" {
				got[labels["status"]] = metric.GetCounter().GetValue()
			}
		}
	}
	if got["unauthorized"] != 1 || got["forbidden"] != 2 || len(got) != 2 {
		t.Errorf("auth rejections = %v, want unauthorized=1 forbidden=2", got)
	}
}

func TestAdminAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name           string
		token          string
		header         string
		expectedStatus int
	}{
		{"Disabled", "", "", http.StatusNoContent},
		{"Correct token", "s3cret", "s3cret", http.StatusNoContent},
		{"Missing token", "s3cret", "", http.StatusUnauthorized},
		{"Wrong token", "s3cret", "guess", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/places", nil)
			if tt.header != "" {
				req.Header.Set(AdminTokenHeader, tt.header)
			}
			rr := httptest.NewRecorder()
			AdminAuth(tt.token, discardLogger())(ok).ServeHTTP(rr, req)
			if rr.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.expectedStatus)
			}
		})
	}
}

func TestLoggingRecordsPlaceID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	resolver := &fakeResolver{keys: map[string]*domain.Tenant{"good": {PlaceID: "place-7"}}}

	mux := http.NewServeMux()
	mux.Handle("GET /commands", Auth(resolver, discardLogger(), nil, nil)(echoTenant))
	h := Chain(mux, Logging(logger, nil), Recover(logger))

	req := httptest.NewRequest(http.MethodGet, "/commands", nil)
	req.Header.Set(APIKeyHeader, "good")
	h.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{`"place_id":"place-7"`, `"status":200`, `"path":"/commands"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log line %s missing %s", out, want)
		}
	}
}

func TestRecover(t *testing.T) {
	boom := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") })
	rr := httptest.NewRecorder()
	Recover(discardLogger())(boom).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.NotFoundHandler(), mw("outer"), mw("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if strings.Join(order, ",") != "outer,inner" {
		t.Errorf("order = %v", order)
	}
}
