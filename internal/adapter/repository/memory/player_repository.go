package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

var _ domain.PlayerRepository = (*PlayerRepository)(nil)

type playerKey struct {
	placeID  string
	playerID string
}

// PlayerRepository holds the live player table in process memory.
type PlayerRepository struct {
	mu      sync.RWMutex
	players map[playerKey]*domain.PlayerSnapshot
}

func NewPlayerRepository() *PlayerRepository {
	return &PlayerRepository{players: make(map[playerKey]*domain.PlayerSnapshot)}
}

func (r *PlayerRepository) Upsert(ctx context.Context, placeID, serverID string, fact domain.PlayerFact, seenAt time.Time) (*domain.PlayerSnapshot, error) {
	if fact.PlayerID == "" {
		return nil, domain.NewValidationError("player_id", "")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := playerKey{placeID, fact.PlayerID}
	p, ok := r.players[key]
	if !ok {
		p = &domain.PlayerSnapshot{
			ID:        uuid.NewString(),
			PlaceID:   placeID,
			PlayerID:  fact.PlayerID,
			FirstSeen: seenAt,
		}
		r.players[key] = p
	}
	p.MergeFact(serverID, fact, seenAt)

	out := *p
	return &out, nil
}

func (r *PlayerRepository) List(ctx context.Context, placeID string, filter domain.PlayerFilter) ([]domain.PlayerSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.PlayerSnapshot
	for k, p := range r.players {
		if k.placeID == placeID && filter.Matches(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	if limit := filter.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *PlayerRepository) SetFlag(ctx context.Context, placeID, playerID string, flag domain.PlayerFlag, value bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.players[playerKey{placeID, playerID}]
	if !ok {
		return domain.ErrPlayerNotFound
	}
	p.SetFlag(flag, value)
	return nil
}

func (r *PlayerRepository) Count(ctx context.Context, placeID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for k := range r.players {
		if k.placeID == placeID {
			n++
		}
	}
	return n, nil
}
