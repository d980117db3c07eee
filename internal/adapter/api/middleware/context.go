package middleware

import (
	"context"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

type contextKey int

const (
	tenantKey contextKey = iota
	requestStateKey
)

// requestState is shared between the outermost logging middleware and the
// inner auth middleware so the access log can record the resolved tenant.
type requestState struct {
	placeID string
}

// WithTenant returns a copy of ctx carrying the authenticated tenant.
func WithTenant(ctx context.Context, t *domain.Tenant) context.Context {
	if st, ok := ctx.Value(requestStateKey).(*requestState); ok {
		st.placeID = t.PlaceID
	}
	return context.WithValue(ctx, tenantKey, t)
}

// TenantFrom returns the tenant authenticated for this request, if any.
func TenantFrom(ctx context.Context) (*domain.Tenant, bool) {
	t, ok := ctx.Value(tenantKey).(*domain.Tenant)
	return t, ok && t != nil
}
