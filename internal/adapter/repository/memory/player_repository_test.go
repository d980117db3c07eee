package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

type PlayerRepositorySuite struct {
	suite.Suite
	repo *PlayerRepository
	ctx  context.Context
	now  time.Time
}

func TestPlayerRepositorySuite(t *testing.T) {
	suite.Run(t, new(PlayerRepositorySuite))
}

func (s *PlayerRepositorySuite) SetupTest() {
	s.repo = NewPlayerRepository()
	s.ctx = context.Background()
	s.now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
}

func (s *PlayerRepositorySuite) TestFirstSightingCreatesRecord() {
	snap, err := s.repo.Upsert(s.ctx, "p1", "A", domain.PlayerFact{PlayerID: "42", Username: "alice", DisplayName: "Alice", AccountAge: 300, Ping: 50}, s.now)
	s.Require().NoError(err)

	s.NotEmpty(snap.ID)
	s.Equal("A", snap.ServerID)
	s.True(snap.FirstSeen.Equal(s.now))
	s.True(snap.LastSeen.Equal(s.now))
	s.False(snap.IsBanned)
}

func (s *PlayerRepositorySuite) TestCrossInstanceLastWriterWins() {
	first, err := s.repo.Upsert(s.ctx, "p1", "A", domain.PlayerFact{PlayerID: "42", Username: "alice", Ping: 42}, s.now)
	s.Require().NoError(err)
	second, err := s.repo.Upsert(s.ctx, "p1", "B", domain.PlayerFact{PlayerID: "42", Username: "alice", Ping: 10}, s.now.Add(time.Second))
	s.Require().NoError(err)

	s.Equal(first.ID, second.ID)

	list, err := s.repo.List(s.ctx, "p1", domain.PlayerFilter{})
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	s.Equal("B", list[0].ServerID)
	s.Equal(10, list[0].Ping)
	s.True(list[0].FirstSeen.Equal(s.now))
}

func (s *PlayerRepositorySuite) TestLastSeenNeverMovesBackward() {
	_, _ = s.repo.Upsert(s.ctx, "p1", "A", domain.PlayerFact{PlayerID: "42"}, s.now)
	snap, err := s.repo.Upsert(s.ctx, "p1", "A", domain.PlayerFact{PlayerID: "42"}, s.now.Add(-time.Minute))
	s.Require().NoError(err)
	s.True(snap.LastSeen.Equal(s.now))
}

func (s *PlayerRepositorySuite) TestFlagsAreSticky() {
	_, _ = s.repo.Upsert(s.ctx, "p1", "A", domain.PlayerFact{PlayerID: "42", Username: "alice"}, s.now)
	s.Require().NoError(s.repo.SetFlag(s.ctx, "p1", "42", domain.FlagBanned, true))

	snap, err := s.repo.Upsert(s.ctx, "p1", "B", domain.PlayerFact{PlayerID: "42", Username: "alice2"}, s.now.Add(time.Second))
	s.Require().NoError(err)
	s.True(snap.IsBanned)
	s.Equal("alice2", snap.Username)

	s.Require().NoError(s.repo.SetFlag(s.ctx, "p1", "42", domain.FlagBanned, false))
	list, _ := s.repo.List(s.ctx, "p1", domain.PlayerFilter{})
	s.False(list[0].IsBanned)
}

func (s *PlayerRepositorySuite) TestSetFlagUnknownPlayer() {
	err := s.repo.SetFlag(s.ctx, "p1", "nobody", domain.FlagAlt, true)
	s.ErrorIs(err, domain.ErrPlayerNotFound)
}

func (s *PlayerRepositorySuite) TestTenantIsolation() {
	_, _ = s.repo.Upsert(s.ctx, "p1", "A", domain.PlayerFact{PlayerID: "42"}, s.now)
	_, _ = s.repo.Upsert(s.ctx, "p2", "A", domain.PlayerFact{PlayerID: "42"}, s.now)

	n, err := s.repo.Count(s.ctx, "p1")
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	s.Require().NoError(s.repo.SetFlag(s.ctx, "p2", "42", domain.FlagSuspicious, true))
	list, _ := s.repo.List(s.ctx, "p1", domain.PlayerFilter{})
	s.False(list[0].IsSuspicious)
}

func (s *PlayerRepositorySuite) TestListFiltersAndOrder() {
	_, _ = s.repo.Upsert(s.ctx, "p1", "A", domain.PlayerFact{PlayerID: "1", Username: "alice"}, s.now)
	_, _ = s.repo.Upsert(s.ctx, "p1", "B", domain.PlayerFact{PlayerID: "2", Username: "bob", DisplayName: "Bobby"}, s.now.Add(time.Second))
	_, _ = s.repo.Upsert(s.ctx, "p1", "A", domain.PlayerFact{PlayerID: "3", Username: "carol"}, s.now.Add(2*time.Second))
	_ = s.repo.SetFlag(s.ctx, "p1", "2", domain.FlagAlt, true)

	list, err := s.repo.List(s.ctx, "p1", domain.PlayerFilter{})
	s.Require().NoError(err)
	s.Require().Len(list, 3)
	s.Equal([]string{"3", "2", "1"}, []string{list[0].PlayerID, list[1].PlayerID, list[2].PlayerID})

	list, _ = s.repo.List(s.ctx, "p1", domain.PlayerFilter{Search: "BOBB"})
	s.Require().Len(list, 1)
	s.Equal("2", list[0].PlayerID)

	list, _ = s.repo.List(s.ctx, "p1", domain.PlayerFilter{Flag: domain.FlagAlt})
	s.Require().Len(list, 1)

	list, _ = s.repo.List(s.ctx, "p1", domain.PlayerFilter{ServerID: "A"})
	s.Len(list, 2)

	list, _ = s.repo.List(s.ctx, "p1", domain.PlayerFilter{Limit: 1})
	s.Len(list, 1)
}

func (s *PlayerRepositorySuite) TestConcurrentUpsertsKeepOneRecord() {
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.repo.Upsert(s.ctx, "p1", fmt.Sprintf("srv-%d", i), domain.PlayerFact{PlayerID: "42", Ping: i}, s.now.Add(time.Duration(i)*time.Millisecond))
		}(i)
	}
	wg.Wait()

	n, _ := s.repo.Count(s.ctx, "p1")
	s.Equal(int64(1), n)
	list, _ := s.repo.List(s.ctx, "p1", domain.PlayerFilter{})
	s.True(list[0].LastSeen.Equal(s.now.Add(19 * time.Millisecond)))
}

func (s *PlayerRepositorySuite) TestUpsertRequiresPlayerID() {
	_, err := s.repo.Upsert(s.ctx, "p1", "A", domain.PlayerFact{}, s.now)
	s.True(domain.IsValidationError(err))
}
