package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

type TenantRepositorySuite struct {
	suite.Suite
	repo *TenantRepository
	ctx  context.Context
}

func TestTenantRepositorySuite(t *testing.T) {
	suite.Run(t, new(TenantRepositorySuite))
}

func (s *TenantRepositorySuite) SetupTest() {
	s.repo = NewTenantRepository()
	s.ctx = context.Background()
}

func (s *TenantRepositorySuite) TestCreateAndFind() {
	t := &domain.Tenant{PlaceID: "1818", Name: "Crossroads", KeyHash: []byte("h1"), CreatedAt: time.Now()}
	s.Require().NoError(s.repo.Create(s.ctx, t))

	got, err := s.repo.FindByKeyHash(s.ctx, []byte("h1"))
	s.Require().NoError(err)
	s.Equal("1818", got.PlaceID)

	_, err = s.repo.FindByKeyHash(s.ctx, []byte("h2"))
	s.ErrorIs(err, domain.ErrTenantNotFound)
}

func (s *TenantRepositorySuite) TestCreateDuplicate() {
	s.Require().NoError(s.repo.Create(s.ctx, &domain.Tenant{PlaceID: "a", KeyHash: []byte("h1")}))
	s.ErrorIs(s.repo.Create(s.ctx, &domain.Tenant{PlaceID: "a", KeyHash: []byte("h2")}), domain.ErrTenantExists)
	s.ErrorIs(s.repo.Create(s.ctx, &domain.Tenant{PlaceID: "b", KeyHash: []byte("h1")}), domain.ErrTenantExists)
}

func (s *TenantRepositorySuite) TestUpdateKeyHashRetiresOldKey() {
	s.Require().NoError(s.repo.Create(s.ctx, &domain.Tenant{PlaceID: "a", KeyHash: []byte("old")}))
	s.Require().NoError(s.repo.UpdateKeyHash(s.ctx, "a", []byte("new"), time.Now()))

	_, err := s.repo.FindByKeyHash(s.ctx, []byte("old"))
	s.ErrorIs(err, domain.ErrTenantNotFound)
	got, err := s.repo.FindByKeyHash(s.ctx, []byte("new"))
	s.Require().NoError(err)
	s.Equal("a", got.PlaceID)

	s.ErrorIs(s.repo.UpdateKeyHash(s.ctx, "missing", []byte("x"), time.Now()), domain.ErrTenantNotFound)
}

func (s *TenantRepositorySuite) TestDeleteAndList() {
	_ = s.repo.Create(s.ctx, &domain.Tenant{PlaceID: "b", KeyHash: []byte("hb")})
	_ = s.repo.Create(s.ctx, &domain.Tenant{PlaceID: "a", KeyHash: []byte("ha")})

	list, err := s.repo.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal("a", list[0].PlaceID)

	s.Require().NoError(s.repo.Delete(s.ctx, "a"))
	_, err = s.repo.FindByKeyHash(s.ctx, []byte("ha"))
	s.ErrorIs(err, domain.ErrTenantNotFound)
	s.ErrorIs(s.repo.Delete(s.ctx, "a"), domain.ErrTenantNotFound)
}
