package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

// MockTenantRepository is a mock implementation of domain.TenantRepository for testing.
type MockTenantRepository struct {
	mu         sync.Mutex
	Tenants    map[string]*domain.Tenant
	FindCalls  int
	FindErr    error
	CreateErr  error
	UpdateErr  error
	DeleteErr  error
	GetErr     error
	ListResult []domain.Tenant
}

func NewMockTenantRepository(tenants ...*domain.Tenant) *MockTenantRepository {
	m := &MockTenantRepository{Tenants: make(map[string]*domain.Tenant)}
	for _, t := range tenants {
		m.Tenants[t.PlaceID] = t
	}
	return m
}

func (m *MockTenantRepository) FindByKeyHash(ctx context.Context, hash []byte) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FindCalls++
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	for _, t := range m.Tenants {
		if string(t.KeyHash) == string(hash) {
			c := *t
			return &c, nil
		}
	}
	return nil, domain.ErrTenantNotFound
}

func (m *MockTenantRepository) Get(ctx context.Context, placeID string) (*domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	t, ok := m.Tenants[placeID]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	c := *t
	return &c, nil
}

func (m *MockTenantRepository) List(ctx context.Context) ([]domain.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListResult != nil {
		return m.ListResult, nil
	}
	out := make([]domain.Tenant, 0, len(m.Tenants))
	for _, t := range m.Tenants {
		out = append(out, *t)
	}
	return out, nil
}

func (m *MockTenantRepository) Create(ctx context.Context, t *domain.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.Tenants[t.PlaceID]; ok {
		return domain.ErrTenantExists
	}
	c := *t
	m.Tenants[t.PlaceID] = &c
	return nil
}

func (m *MockTenantRepository) UpdateKeyHash(ctx context.Context, placeID string, hash []byte, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	t, ok := m.Tenants[placeID]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.KeyHash = hash
	t.UpdatedAt = at
	return nil
}

func (m *MockTenantRepository) Delete(ctx context.Context, placeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if _, ok := m.Tenants[placeID]; !ok {
		return domain.ErrTenantNotFound
	}
	delete(m.Tenants, placeID)
	return nil
}

// AckCall records one call to MockCommandRepository.Ack.
type AckCall struct {
	PlaceID   string
	CommandID string
	Outcome   domain.CommandStatus
	Message   *string
}

// MockCommandRepository is a mock implementation of domain.CommandRepository for testing.
type MockCommandRepository struct {
	mu           sync.Mutex
	Enqueued     []domain.Command
	ClaimResult  []domain.Command
	ClaimLimits  []int
	AckCalls     []AckCall
	AckApplied   bool
	ExpireResult int64
	ExpireCalls  int
	HistoryRes   []domain.Command
	Total        int64
	Pending      int64
	EnqueueErr   error
	ClaimErr     error
	AckErr       error
	ExpireErr    error
	HistoryErr   error
	CountsErr    error
}

func (m *MockCommandRepository) Enqueue(ctx context.Context, cmd *domain.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	cmd.Status = domain.StatusPending
	cmd.Seq = int64(len(m.Enqueued) + 1)
	m.Enqueued = append(m.Enqueued, cmd.Clone())
	return nil
}

func (m *MockCommandRepository) Claim(ctx context.Context, placeID, serverID string, limit int, now time.Time) ([]domain.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClaimLimits = append(m.ClaimLimits, limit)
	if m.ClaimErr != nil {
		return nil, m.ClaimErr
	}
	return m.ClaimResult, nil
}

func (m *MockCommandRepository) Ack(ctx context.Context, placeID, commandID string, outcome domain.CommandStatus, message *string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AckCalls = append(m.AckCalls, AckCall{PlaceID: placeID, CommandID: commandID, Outcome: outcome, Message: message})
	if m.AckErr != nil {
		return false, m.AckErr
	}
	return m.AckApplied, nil
}

func (m *MockCommandRepository) Expire(ctx context.Context, createdBefore, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExpireCalls++
	if m.ExpireErr != nil {
		return 0, m.ExpireErr
	}
	return m.ExpireResult, nil
}

// ExpireCallCount is safe to call while the mock is in use.
func (m *MockCommandRepository) ExpireCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExpireCalls
}

func (m *MockCommandRepository) History(ctx context.Context, placeID string, filter domain.CommandFilter) ([]domain.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}
	return m.HistoryRes, nil
}

func (m *MockCommandRepository) Counts(ctx context.Context, placeID string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CountsErr != nil {
		return 0, 0, m.CountsErr
	}
	return m.Total, m.Pending, nil
}

// MockPlayerRepository is a mock implementation of domain.PlayerRepository for testing.
// FailFor makes Upsert fail for specific player ids.
type MockPlayerRepository struct {
	mu         sync.Mutex
	Upserted   []domain.PlayerFact
	FlagCalls  []FlagCall
	FailFor    map[string]error
	UpsertErr  error
	SetFlagErr error
	ListResult []domain.PlayerSnapshot
	ListErr    error
	CountValue int64
	CountErr   error
}

// FlagCall records one call to MockPlayerRepository.SetFlag.
type FlagCall struct {
	PlaceID  string
	PlayerID string
	Flag     domain.PlayerFlag
	Value    bool
}

func (m *MockPlayerRepository) Upsert(ctx context.Context, placeID, serverID string, fact domain.PlayerFact, seenAt time.Time) (*domain.PlayerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailFor[fact.PlayerID]; ok {
		return nil, err
	}
	if m.UpsertErr != nil {
		return nil, m.UpsertErr
	}
	m.Upserted = append(m.Upserted, fact)
	snap := &domain.PlayerSnapshot{PlaceID: placeID, PlayerID: fact.PlayerID, FirstSeen: seenAt}
	snap.MergeFact(serverID, fact, seenAt)
	return snap, nil
}

func (m *MockPlayerRepository) List(ctx context.Context, placeID string, filter domain.PlayerFilter) ([]domain.PlayerSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.ListResult, nil
}

func (m *MockPlayerRepository) SetFlag(ctx context.Context, placeID, playerID string, flag domain.PlayerFlag, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlagCalls = append(m.FlagCalls, FlagCall{PlaceID: placeID, PlayerID: playerID, Flag: flag, Value: value})
	return m.SetFlagErr
}

func (m *MockPlayerRepository) Count(ctx context.Context, placeID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CountValue, m.CountErr
}

// MockActivityPublisher records published events.
type MockActivityPublisher struct {
	mu     sync.Mutex
	events []domain.ActivityEvent
	Err    error
}

func (m *MockActivityPublisher) Publish(ctx context.Context, event domain.ActivityEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.Err
}

// Events returns a copy of everything published so far.
func (m *MockActivityPublisher) Events() []domain.ActivityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ActivityEvent(nil), m.events...)
}

// Types returns the type of every published event in order.
func (m *MockActivityPublisher) Types() []domain.ActivityType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ActivityType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}
