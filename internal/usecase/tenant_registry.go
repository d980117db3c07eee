package usecase

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/apikey"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/clock"
)

const defaultMaxCacheEntries = 10000

var placeIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type cacheEntry struct {
	tenant    *domain.Tenant // nil caches a miss
	expiresAt time.Time
}

// TenantRegistry resolves API keys to tenants and manages tenant lifecycle.
// Lookups are fronted by a TTL cache keyed by key digest that remembers
// both hits and misses; store errors are never cached.
type TenantRegistry struct {
	repo     domain.TenantRepository
	activity domain.ActivityPublisher
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.DispatchMetrics
	hasher   apikey.Hasher

	ttl        time.Duration
	maxEntries int
	mu         sync.RWMutex
	cache      map[string]cacheEntry
	gen        uint64 // bumped by invalidate; lookups that straddle a bump are not cached
}

func NewTenantRegistry(repo domain.TenantRepository, activity domain.ActivityPublisher, clk clock.Clock, logger *slog.Logger, m *metrics.DispatchMetrics, ttl time.Duration) *TenantRegistry {
	return &TenantRegistry{
		repo:       repo,
		activity:   activity,
		clock:      clk,
		logger:     logger.With("component", "tenant_registry"),
		metrics:    m,
		ttl:        ttl,
		maxEntries: defaultMaxCacheEntries,
		cache:      make(map[string]cacheEntry),
	}
}

// WithHasher sets the digest used for stored keys. Call it before serving;
// changing the pepper orphans every key stored under the old one.
func (r *TenantRegistry) WithHasher(h apikey.Hasher) *TenantRegistry {
	r.hasher = h
	return r
}

// Resolve returns the tenant owning key, or ErrTenantNotFound.
func (r *TenantRegistry) Resolve(ctx context.Context, key string) (*domain.Tenant, error) {
	if key == "" {
		return nil, domain.ErrTenantNotFound
	}
	digest := r.hasher.Hash(key)
	cacheKey := hex.EncodeToString(digest)
	now := r.clock.Now()

	r.mu.RLock()
	entry, found := r.cache[cacheKey]
	gen := r.gen
	r.mu.RUnlock()

	if found && now.Before(entry.expiresAt) {
		r.metrics.CacheHit()
		if entry.tenant == nil {
			return nil, domain.ErrTenantNotFound
		}
		t := *entry.tenant
		return &t, nil
	}
	r.metrics.CacheMiss()

	t, err := r.repo.FindByKeyHash(ctx, digest)
	switch {
	case errors.Is(err, domain.ErrTenantNotFound):
		t = nil
	case err != nil:
		return nil, fmt.Errorf("failed to resolve api key: %w", err)
	case !apikey.Equal(t.KeyHash, digest):
		t = nil
	}

	if r.ttl > 0 {
		r.store(cacheKey, cacheEntry{tenant: t, expiresAt: now.Add(r.ttl)}, now, gen)
	}
	if t == nil {
		return nil, domain.ErrTenantNotFound
	}
	out := *t
	return &out, nil
}

// store caches e unless the cache was invalidated since gen was read, in
// which case the looked-up tenant may already be stale.
func (r *TenantRegistry) store(key string, e cacheEntry, now time.Time, gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.gen != gen {
		return
	}

	if len(r.cache) >= r.maxEntries {
		for k, v := range r.cache {
			if !now.Before(v.expiresAt) {
				delete(r.cache, k)
			}
		}
		if len(r.cache) >= r.maxEntries {
			r.cache = make(map[string]cacheEntry)
		}
	}
	r.cache[key] = e
}

// invalidate drops every cached entry for placeID. Misses are dropped too,
// since a new key may now resolve.
func (r *TenantRegistry) invalidate(placeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gen++
	for k, v := range r.cache {
		if v.tenant == nil || v.tenant.PlaceID == placeID {
			delete(r.cache, k)
		}
	}
}

// Create registers a new tenant and returns it with its freshly generated key.
// The plaintext key is only ever returned here and by RotateKey.
func (r *TenantRegistry) Create(ctx context.Context, placeID, name string) (*domain.Tenant, string, error) {
	key, err := apikey.Generate()
	if err != nil {
		return nil, "", err
	}
	t, err := r.create(ctx, placeID, name, key)
	if err != nil {
		return nil, "", err
	}
	return t, key, nil
}

// Provision creates a tenant with a known key, or resets the key of an
// existing one. Used to apply the start-up seed file.
func (r *TenantRegistry) Provision(ctx context.Context, placeID, name, key string) error {
	if key == "" {
		return domain.NewValidationError("api_key", "")
	}
	_, err := r.create(ctx, placeID, name, key)
	if !errors.Is(err, domain.ErrTenantExists) {
		return err
	}
	if err := r.repo.UpdateKeyHash(ctx, placeID, r.hasher.Hash(key), r.clock.Now()); err != nil {
		return fmt.Errorf("failed to reset key for seeded place %s: %w", placeID, err)
	}
	r.invalidate(placeID)
	return nil
}

func (r *TenantRegistry) create(ctx context.Context, placeID, name, key string) (*domain.Tenant, error) {
	if placeID == "" {
		return nil, domain.NewValidationError("place_id", "")
	}
	if !placeIDPattern.MatchString(placeID) {
		return nil, domain.NewValidationError("place_id", "must be 1-64 letters, digits, '-' or '_'")
	}

	now := r.clock.Now()
	t := &domain.Tenant{
		PlaceID:   placeID,
		Name:      name,
		KeyHash:   r.hasher.Hash(key),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	r.invalidate(placeID)
	r.logger.Info("Place created", "place_id", placeID)
	r.publish(ctx, domain.ActivityEvent{Type: domain.ActivityPlaceCreated, PlaceID: placeID, At: now})
	return t, nil
}

// RotateKey replaces the tenant's key. The old key stops resolving immediately
// in this process and within the cache TTL in others.
func (r *TenantRegistry) RotateKey(ctx context.Context, placeID string) (string, error) {
	key, err := apikey.Generate()
	if err != nil {
		return "", err
	}
	now := r.clock.Now()
	if err := r.repo.UpdateKeyHash(ctx, placeID, r.hasher.Hash(key), now); err != nil {
		return "", err
	}
	r.invalidate(placeID)
	r.logger.Info("Place key rotated", "place_id", placeID)
	r.publish(ctx, domain.ActivityEvent{Type: domain.ActivityPlaceKeyRotated, PlaceID: placeID, At: now})
	return key, nil
}

// Delete removes the tenant. Its commands and player records are left orphaned.
func (r *TenantRegistry) Delete(ctx context.Context, placeID string) error {
	if err := r.repo.Delete(ctx, placeID); err != nil {
		return err
	}
	r.invalidate(placeID)
	r.logger.Info("Place deleted", "place_id", placeID)
	r.publish(ctx, domain.ActivityEvent{Type: domain.ActivityPlaceDeleted, PlaceID: placeID, At: r.clock.Now()})
	return nil
}

func (r *TenantRegistry) Get(ctx context.Context, placeID string) (*domain.Tenant, error) {
	return r.repo.Get(ctx, placeID)
}

func (r *TenantRegistry) List(ctx context.Context) ([]domain.Tenant, error) {
	return r.repo.List(ctx)
}

func (r *TenantRegistry) publish(ctx context.Context, ev domain.ActivityEvent) {
	if r.activity == nil {
		return
	}
	if err := r.activity.Publish(ctx, ev); err != nil {
		r.logger.Warn("Failed to publish activity event", "type", ev.Type, "error", err)
	}
}
