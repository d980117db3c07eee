package postgres

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

// RepositorySuite runs against a real database named by POSTGRES_TEST_URL.
// Every test works in its own place id, so no cleanup between tests is needed.
type RepositorySuite struct {
	suite.Suite
	db       *sql.DB
	tenants  *TenantRepository
	commands *CommandRepository
	players  *PlayerRepository
	placeID  string
	now      time.Time
}

func TestRepositorySuite(t *testing.T) {
	url := os.Getenv("POSTGRES_TEST_URL")
	if url == "" {
		t.Skip("POSTGRES_TEST_URL not set")
	}
	suite.Run(t, &RepositorySuite{db: mustOpen(t, url)})
}

func mustOpen(t *testing.T, url string) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func (s *RepositorySuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.tenants = NewTenantRepository(s.db, logger)
	s.commands = NewCommandRepository(s.db, logger)
	s.players = NewPlayerRepository(s.db, logger)
	s.placeID = "test-" + uuid.NewString()
	s.now = time.Now().UTC().Truncate(time.Millisecond)
}

func (s *RepositorySuite) enqueue(serverID *string, age time.Duration) *domain.Command {
	cmd := &domain.Command{
		ID:        uuid.NewString(),
		PlaceID:   s.placeID,
		ServerID:  serverID,
		Type:      domain.CommandKick,
		Payload:   domain.Payload{"reason": "test"},
		CreatedAt: s.now.Add(-age),
	}
	s.Require().NoError(s.commands.Enqueue(context.Background(), cmd))
	return cmd
}

func strPtr(s string) *string { return &s }

func (s *RepositorySuite) TestTenantLifecycle() {
	ctx := context.Background()
	hash := []byte(uuid.NewString())
	t := &domain.Tenant{PlaceID: s.placeID, Name: "Crossroads", KeyHash: hash, CreatedAt: s.now, UpdatedAt: s.now}

	s.Require().NoError(s.tenants.Create(ctx, t))
	s.ErrorIs(s.tenants.Create(ctx, t), domain.ErrTenantExists)

	got, err := s.tenants.FindByKeyHash(ctx, hash)
	s.Require().NoError(err)
	s.Equal("Crossroads", got.Name)

	newHash := []byte(uuid.NewString())
	s.Require().NoError(s.tenants.UpdateKeyHash(ctx, s.placeID, newHash, s.now.Add(time.Minute)))
	_, err = s.tenants.FindByKeyHash(ctx, hash)
	s.ErrorIs(err, domain.ErrTenantNotFound)

	got, err = s.tenants.Get(ctx, s.placeID)
	s.Require().NoError(err)
	s.Equal(newHash, got.KeyHash)
	s.True(got.UpdatedAt.After(got.CreatedAt))

	s.Require().NoError(s.tenants.Delete(ctx, s.placeID))
	s.ErrorIs(s.tenants.Delete(ctx, s.placeID), domain.ErrTenantNotFound)
	_, err = s.tenants.Get(ctx, s.placeID)
	s.ErrorIs(err, domain.ErrTenantNotFound)
	s.ErrorIs(s.tenants.UpdateKeyHash(ctx, s.placeID, []byte("x"), s.now), domain.ErrTenantNotFound)
}

func (s *RepositorySuite) TestClaimScopesAndOrders() {
	ctx := context.Background()
	older := s.enqueue(nil, 2*time.Minute)
	mine := s.enqueue(strPtr("srv-a"), time.Minute)
	s.enqueue(strPtr("srv-b"), 90*time.Second)

	claimed, err := s.commands.Claim(ctx, s.placeID, "srv-a", 20, s.now)
	s.Require().NoError(err)
	s.Require().Len(claimed, 2)
	s.Equal(older.ID, claimed[0].ID)
	s.Equal(mine.ID, claimed[1].ID)
	s.Equal(domain.StatusSent, claimed[0].Status)
	s.Require().NotNil(claimed[0].SentAt)
	s.Equal("test", claimed[0].Payload["reason"])

	again, err := s.commands.Claim(ctx, s.placeID, "srv-a", 20, s.now)
	s.Require().NoError(err)
	s.Empty(again)

	other, err := s.commands.Claim(ctx, s.placeID, "srv-b", 20, s.now)
	s.Require().NoError(err)
	s.Len(other, 1)
}

func (s *RepositorySuite) TestClaimSkipsExpiredAndHonoursLimit() {
	ctx := context.Background()
	past := s.now.Add(-time.Second)
	expired := &domain.Command{ID: uuid.NewString(), PlaceID: s.placeID, Type: domain.CommandKick, CreatedAt: s.now, ExpiresAt: &past}
	s.Require().NoError(s.commands.Enqueue(ctx, expired))
	for i := 0; i < 5; i++ {
		s.enqueue(nil, time.Duration(5-i)*time.Second)
	}

	claimed, err := s.commands.Claim(ctx, s.placeID, "srv", 3, s.now)
	s.Require().NoError(err)
	s.Len(claimed, 3)
	for _, c := range claimed {
		s.NotEqual(expired.ID, c.ID)
	}
}

func (s *RepositorySuite) TestConcurrentClaimsAreDisjoint() {
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		s.enqueue(nil, time.Duration(30-i)*time.Second)
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.commands.Claim(ctx, s.placeID, "", 4, s.now)
				if err != nil || len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, c := range batch {
					seen[c.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Len(seen, 30)
	for id, n := range seen {
		s.Equal(1, n, "command %s claimed %d times", id, n)
	}
}

func (s *RepositorySuite) TestAck() {
	ctx := context.Background()
	cmd := s.enqueue(nil, time.Second)

	applied, err := s.commands.Ack(ctx, s.placeID, cmd.ID, domain.StatusSuccess, strPtr("kicked"), s.now)
	s.Require().NoError(err)
	s.True(applied)

	applied, err = s.commands.Ack(ctx, s.placeID, cmd.ID, domain.StatusFailed, strPtr("late"), s.now)
	s.Require().NoError(err)
	s.False(applied)

	history, err := s.commands.History(ctx, s.placeID, domain.CommandFilter{})
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(domain.StatusSuccess, history[0].Status)
	s.Equal("kicked", *history[0].ResultMessage)

	_, err = s.commands.Ack(ctx, "other-place", cmd.ID, domain.StatusSuccess, nil, s.now)
	s.ErrorIs(err, domain.ErrCommandNotFound)
	_, err = s.commands.Ack(ctx, s.placeID, uuid.NewString(), domain.StatusSuccess, nil, s.now)
	s.ErrorIs(err, domain.ErrCommandNotFound)
	_, err = s.commands.Ack(ctx, s.placeID, "not-a-uuid", domain.StatusSuccess, nil, s.now)
	s.ErrorIs(err, domain.ErrCommandNotFound)
}

func (s *RepositorySuite) TestExpireHistoryCounts() {
	ctx := context.Background()
	stale := s.enqueue(nil, time.Hour)
	fresh := s.enqueue(nil, time.Second)

	total, pending, err := s.commands.Counts(ctx, s.placeID)
	s.Require().NoError(err)
	s.Equal(int64(2), total)
	s.Equal(int64(2), pending)

	// Other tests' rows may expire too, so only check our own.
	_, err = s.commands.Expire(ctx, s.now.Add(-10*time.Minute), s.now)
	s.Require().NoError(err)

	history, err := s.commands.History(ctx, s.placeID, domain.CommandFilter{})
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.Equal(fresh.ID, history[0].ID)
	s.Equal(stale.ID, history[1].ID)
	s.Equal(domain.StatusExpired, history[1].Status)

	expired, err := s.commands.History(ctx, s.placeID, domain.CommandFilter{Status: domain.StatusExpired})
	s.Require().NoError(err)
	s.Len(expired, 1)

	_, pending, err = s.commands.Counts(ctx, s.placeID)
	s.Require().NoError(err)
	s.Equal(int64(1), pending)
}

func (s *RepositorySuite) TestPlayerUpsertKeepsFlags() {
	ctx := context.Background()
	fact := domain.PlayerFact{PlayerID: "42", Username: "alice", DisplayName: "Alice", Ping: 80}

	first, err := s.players.Upsert(ctx, s.placeID, "srv-a", fact, s.now)
	s.Require().NoError(err)
	s.True(s.now.Equal(first.FirstSeen), "first_seen = %s", first.FirstSeen)

	s.Require().NoError(s.players.SetFlag(ctx, s.placeID, "42", domain.FlagBanned, true))

	fact.Ping = 120
	second, err := s.players.Upsert(ctx, s.placeID, "srv-b", fact, s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.True(second.IsBanned)
	s.Equal("srv-b", second.ServerID)
	s.Equal(120, second.Ping)
	s.Equal(first.ID, second.ID)
	s.True(s.now.Equal(second.FirstSeen), "first_seen = %s", second.FirstSeen)

	// An older sighting does not move last_seen backwards.
	third, err := s.players.Upsert(ctx, s.placeID, "srv-a", fact, s.now)
	s.Require().NoError(err)
	s.True(s.now.Add(time.Minute).Equal(third.LastSeen), "last_seen = %s", third.LastSeen)

	s.ErrorIs(s.players.SetFlag(ctx, s.placeID, "nobody", domain.FlagAlt, true), domain.ErrPlayerNotFound)
}

func (s *RepositorySuite) TestPlayerBatchAndList() {
	ctx := context.Background()
	facts := []domain.PlayerFact{
		{PlayerID: "1", Username: "alice", Ping: 10},
		{PlayerID: "2", Username: "bob_100%", Ping: 20},
		{PlayerID: "1", Username: "alice", Ping: 15},
		{PlayerID: ""},
	}

	n, err := s.players.UpsertBatch(ctx, s.placeID, "srv-a", facts, s.now)
	s.Require().NoError(err)
	s.Equal(3, n)

	count, err := s.players.Count(ctx, s.placeID)
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	all, err := s.players.List(ctx, s.placeID, domain.PlayerFilter{})
	s.Require().NoError(err)
	s.Len(all, 2)
	for _, p := range all {
		if p.PlayerID == "1" {
			s.Equal(15, p.Ping)
		}
	}

	found, err := s.players.List(ctx, s.placeID, domain.PlayerFilter{Search: "100%"})
	s.Require().NoError(err)
	s.Require().Len(found, 1)
	s.Equal("2", found[0].PlayerID)

	s.Require().NoError(s.players.SetFlag(ctx, s.placeID, "2", domain.FlagSuspicious, true))
	flagged, err := s.players.List(ctx, s.placeID, domain.PlayerFilter{Flag: domain.FlagSuspicious})
	s.Require().NoError(err)
	s.Require().Len(flagged, 1)
	s.Equal("2", flagged[0].PlayerID)

	none, err := s.players.List(ctx, s.placeID, domain.PlayerFilter{ServerID: "srv-z"})
	s.Require().NoError(err)
	s.Empty(none)
}
