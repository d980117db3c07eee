package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/domain/mocks"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/apikey"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/clock"
)

func newRegistry(repo *mocks.MockTenantRepository, clk *clock.Mock, ttl time.Duration) (*TenantRegistry, *mocks.MockActivityPublisher) {
	activity := &mocks.MockActivityPublisher{}
	return NewTenantRegistry(repo, activity, clk, discardLogger(), nil, ttl), activity
}

func TestTenantRegistry_ResolveCachesHits(t *testing.T) {
	repo := mocks.NewMockTenantRepository(testTenant("place-1", "key-1"))
	reg, _ := newRegistry(repo, newTestClock(), time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tenant, err := reg.Resolve(ctx, "key-1")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if tenant.PlaceID != "place-1" {
			t.Fatalf("Resolve() place = %s, want place-1", tenant.PlaceID)
		}
	}
	if repo.FindCalls != 1 {
		t.Errorf("store queried %d times, want 1", repo.FindCalls)
	}
}

func TestTenantRegistry_ResolveCachesMisses(t *testing.T) {
	repo := mocks.NewMockTenantRepository()
	reg, _ := newRegistry(repo, newTestClock(), time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := reg.Resolve(ctx, "nope"); !errors.Is(err, domain.ErrTenantNotFound) {
			t.Fatalf("Resolve() error = %v, want ErrTenantNotFound", err)
		}
	}
	if repo.FindCalls != 1 {
		t.Errorf("store queried %d times, want 1", repo.FindCalls)
	}
}

func TestTenantRegistry_EmptyKeyNeverHitsStore(t *testing.T) {
	repo := mocks.NewMockTenantRepository()
	reg, _ := newRegistry(repo, newTestClock(), time.Minute)

	if _, err := reg.Resolve(context.Background(), ""); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrTenantNotFound", err)
	}
	if repo.FindCalls != 0 {
		t.Errorf("store queried %d times, want 0", repo.FindCalls)
	}
}

func TestTenantRegistry_CacheExpires(t *testing.T) {
	repo := mocks.NewMockTenantRepository(testTenant("place-1", "key-1"))
	clk := newTestClock()
	reg, _ := newRegistry(repo, clk, time.Minute)
	ctx := context.Background()

	_, _ = reg.Resolve(ctx, "key-1")
	clk.Advance(2 * time.Minute)
	_, _ = reg.Resolve(ctx, "key-1")

	if repo.FindCalls != 2 {
		t.Errorf("store queried %d times, want 2", repo.FindCalls)
	}
}

func TestTenantRegistry_StoreErrorsAreNotCached(t *testing.T) {
	repo := mocks.NewMockTenantRepository(testTenant("place-1", "key-1"))
	repo.FindErr = errors.New("connection refused")
	reg, _ := newRegistry(repo, newTestClock(), time.Minute)
	ctx := context.Background()

	if _, err := reg.Resolve(ctx, "key-1"); err == nil || errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("Resolve() error = %v, want a store error", err)
	}

	repo.FindErr = nil
	tenant, err := reg.Resolve(ctx, "key-1")
	if err != nil {
		t.Fatalf("Resolve() after recovery error = %v", err)
	}
	if tenant.PlaceID != "place-1" {
		t.Errorf("Resolve() place = %s, want place-1", tenant.PlaceID)
	}
}

func TestTenantRegistry_RotateKeyInvalidatesOldKey(t *testing.T) {
	repo := mocks.NewMockTenantRepository()
	reg, activity := newRegistry(repo, newTestClock(), time.Hour)
	ctx := context.Background()

	_, oldKey, err := reg.Create(ctx, "place-1", "Place One")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !strings.HasPrefix(oldKey, "plc_") {
		t.Errorf("generated key %q lacks plc_ prefix", oldKey)
	}
	if _, err := reg.Resolve(ctx, oldKey); err != nil {
		t.Fatalf("Resolve(old) error = %v", err)
	}

	newKey, err := reg.RotateKey(ctx, "place-1")
	if err != nil {
		t.Fatalf("RotateKey() error = %v", err)
	}
	if _, err := reg.Resolve(ctx, oldKey); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("Resolve(old) after rotation error = %v, want ErrTenantNotFound", err)
	}
	if _, err := reg.Resolve(ctx, newKey); err != nil {
		t.Errorf("Resolve(new) error = %v", err)
	}

	got := activity.Types()
	want := []domain.ActivityType{domain.ActivityPlaceCreated, domain.ActivityPlaceKeyRotated}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("activity = %v, want %v", got, want)
	}
}

func TestTenantRegistry_NewKeyResolvesDespiteCachedMiss(t *testing.T) {
	repo := mocks.NewMockTenantRepository()
	reg, _ := newRegistry(repo, newTestClock(), time.Hour)
	ctx := context.Background()

	if _, err := reg.Resolve(ctx, "seeded-key"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("Resolve() error = %v, want ErrTenantNotFound", err)
	}
	if err := reg.Provision(ctx, "place-1", "Place One", "seeded-key"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if _, err := reg.Resolve(ctx, "seeded-key"); err != nil {
		t.Errorf("Resolve() after provision error = %v", err)
	}
}

func TestTenantRegistry_ProvisionResetsExistingKey(t *testing.T) {
	repo := mocks.NewMockTenantRepository(testTenant("place-1", "old"))
	reg, _ := newRegistry(repo, newTestClock(), time.Hour)
	ctx := context.Background()

	if err := reg.Provision(ctx, "place-1", "Place One", "new"); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if _, err := reg.Resolve(ctx, "old"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("Resolve(old) error = %v, want ErrTenantNotFound", err)
	}
	if _, err := reg.Resolve(ctx, "new"); err != nil {
		t.Errorf("Resolve(new) error = %v", err)
	}
}

func TestTenantRegistry_StoresPepperedDigest(t *testing.T) {
	hasher, err := apikey.NewHasher("server-secret")
	if err != nil {
		t.Fatalf("NewHasher() error = %v", err)
	}
	repo := mocks.NewMockTenantRepository()
	reg, _ := newRegistry(repo, newTestClock(), time.Hour)
	reg.WithHasher(hasher)
	ctx := context.Background()

	_, key, err := reg.Create(ctx, "place-1", "Place One")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	stored, _ := repo.Get(ctx, "place-1")
	if !apikey.Equal(stored.KeyHash, hasher.Hash(key)) || apikey.Equal(stored.KeyHash, apikey.Hash(key)) {
		t.Errorf("stored digest is not keyed by the pepper")
	}
	if _, err := reg.Resolve(ctx, key); err != nil {
		t.Errorf("Resolve() error = %v", err)
	}

	unpeppered, _ := newRegistry(repo, newTestClock(), time.Hour)
	if _, err := unpeppered.Resolve(ctx, key); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("Resolve() without pepper error = %v, want ErrTenantNotFound", err)
	}
}

func TestTenantRegistry_CreateValidation(t *testing.T) {
	repo := mocks.NewMockTenantRepository(testTenant("taken", "k"))
	reg, _ := newRegistry(repo, newTestClock(), time.Hour)
	ctx := context.Background()

	tests := []struct {
		name    string
		placeID string
		check   func(error) bool
	}{
		{"empty", "", domain.IsValidationError},
		{"bad characters", "has space", domain.IsValidationError},
		{"too long", strings.Repeat("a", 65), domain.IsValidationError},
		{"duplicate", "taken", func(err error) bool { return errors.Is(err, domain.ErrTenantExists) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := reg.Create(ctx, tt.placeID, "x")
			if !tt.check(err) {
				t.Errorf("Create(%q) error = %v", tt.placeID, err)
			}
		})
	}
}

func TestTenantRegistry_DeleteStopsResolving(t *testing.T) {
	repo := mocks.NewMockTenantRepository(testTenant("place-1", "key-1"))
	reg, activity := newRegistry(repo, newTestClock(), time.Hour)
	ctx := context.Background()

	_, _ = reg.Resolve(ctx, "key-1")
	if err := reg.Delete(ctx, "place-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := reg.Resolve(ctx, "key-1"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("Resolve() after delete error = %v, want ErrTenantNotFound", err)
	}
	if err := reg.Delete(ctx, "place-1"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("second Delete() error = %v, want ErrTenantNotFound", err)
	}
	if types := activity.Types(); len(types) != 1 || types[0] != domain.ActivityPlaceDeleted {
		t.Errorf("activity = %v", types)
	}
}

// gatedTenantRepo pauses the first key lookup after it has read the store,
// until release is closed.
type gatedTenantRepo struct {
	*mocks.MockTenantRepository
	once    sync.Once
	looked  chan struct{}
	release chan struct{}
}

func (g *gatedTenantRepo) FindByKeyHash(ctx context.Context, hash []byte) (*domain.Tenant, error) {
	t, err := g.MockTenantRepository.FindByKeyHash(ctx, hash)
	g.once.Do(func() {
		close(g.looked)
		<-g.release
	})
	return t, err
}

func TestTenantRegistry_DeleteDuringLookupIsNotCached(t *testing.T) {
	repo := &gatedTenantRepo{
		MockTenantRepository: mocks.NewMockTenantRepository(testTenant("place-1", "key-1")),
		looked:               make(chan struct{}),
		release:              make(chan struct{}),
	}
	reg := NewTenantRegistry(repo, &mocks.MockActivityPublisher{}, newTestClock(), discardLogger(), nil, time.Hour)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := reg.Resolve(ctx, "key-1")
		done <- err
	}()

	<-repo.looked
	if err := reg.Delete(ctx, "place-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	close(repo.release)
	if err := <-done; err != nil {
		t.Fatalf("in-flight Resolve() error = %v", err)
	}

	if _, err := reg.Resolve(ctx, "key-1"); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("Resolve() after delete error = %v, want ErrTenantNotFound", err)
	}
}

func TestTenantRegistry_CacheIsBounded(t *testing.T) {
	repo := mocks.NewMockTenantRepository()
	reg, _ := newRegistry(repo, newTestClock(), time.Hour)
	reg.maxEntries = 4
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = reg.Resolve(ctx, strings.Repeat("k", i+1))
	}
	if n := len(reg.cache); n > 4 {
		t.Errorf("cache holds %d entries, want at most 4", n)
	}
}
