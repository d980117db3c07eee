package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

var _ domain.TenantRepository = (*TenantRepository)(nil)

// TenantRepository keeps tenants in process memory.
type TenantRepository struct {
	mu      sync.RWMutex
	tenants map[string]*domain.Tenant
	byHash  map[string]string // string(key hash) -> place id
}

func NewTenantRepository() *TenantRepository {
	return &TenantRepository{
		tenants: make(map[string]*domain.Tenant),
		byHash:  make(map[string]string),
	}
}

func (r *TenantRepository) FindByKeyHash(ctx context.Context, hash []byte) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	placeID, ok := r.byHash[string(hash)]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	t := r.tenants[placeID]
	if t == nil || !bytes.Equal(t.KeyHash, hash) {
		return nil, domain.ErrTenantNotFound
	}
	return copyTenant(t), nil
}

func (r *TenantRepository) Get(ctx context.Context, placeID string) (*domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tenants[placeID]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	return copyTenant(t), nil
}

func (r *TenantRepository) List(ctx context.Context) ([]domain.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, *copyTenant(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlaceID < out[j].PlaceID })
	return out, nil
}

func (r *TenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[t.PlaceID]; ok {
		return domain.ErrTenantExists
	}
	if _, ok := r.byHash[string(t.KeyHash)]; ok {
		return domain.ErrTenantExists
	}
	r.tenants[t.PlaceID] = copyTenant(t)
	r.byHash[string(t.KeyHash)] = t.PlaceID
	return nil
}

func (r *TenantRepository) UpdateKeyHash(ctx context.Context, placeID string, hash []byte, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[placeID]
	if !ok {
		return domain.ErrTenantNotFound
	}
	if owner, taken := r.byHash[string(hash)]; taken && owner != placeID {
		return domain.ErrTenantExists
	}
	delete(r.byHash, string(t.KeyHash))
	t.KeyHash = append([]byte(nil), hash...)
	t.UpdatedAt = at
	r.byHash[string(hash)] = placeID
	return nil
}

func (r *TenantRepository) Delete(ctx context.Context, placeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[placeID]
	if !ok {
		return domain.ErrTenantNotFound
	}
	delete(r.byHash, string(t.KeyHash))
	delete(r.tenants, placeID)
	return nil
}

func copyTenant(t *domain.Tenant) *domain.Tenant {
	c := *t
	c.KeyHash = append([]byte(nil), t.KeyHash...)
	return &c
}
