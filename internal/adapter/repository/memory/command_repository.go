package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

var _ domain.CommandRepository = (*CommandRepository)(nil)

// CommandRepository is an in-process command queue. A single mutex makes
// every claim one critical section, so concurrent pollers never receive
// the same command.
type CommandRepository struct {
	mu       sync.Mutex
	seq      int64
	commands map[string]*domain.Command
	byPlace  map[string][]*domain.Command // insertion order
}

func NewCommandRepository() *CommandRepository {
	return &CommandRepository{
		commands: make(map[string]*domain.Command),
		byPlace:  make(map[string][]*domain.Command),
	}
}

func (r *CommandRepository) Enqueue(ctx context.Context, cmd *domain.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.commands[cmd.ID]; dup {
		return domain.NewValidationError("id", "duplicate command id")
	}

	r.seq++
	cmd.Seq = r.seq
	cmd.Status = domain.StatusPending
	cmd.SentAt, cmd.ExecutedAt, cmd.ResultMessage = nil, nil, nil

	stored := cmd.Clone()
	r.commands[cmd.ID] = &stored
	r.byPlace[cmd.PlaceID] = append(r.byPlace[cmd.PlaceID], &stored)
	return nil
}

func (r *CommandRepository) Claim(ctx context.Context, placeID, serverID string, limit int, now time.Time) ([]domain.Command, error) {
	if limit <= 0 {
		limit = domain.DefaultClaimBatchSize
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*domain.Command
	for _, c := range r.byPlace[placeID] {
		if c.Claimable(now) && c.VisibleTo(serverID) {
			candidates = append(candidates, c)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Less(candidates[j]) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]domain.Command, 0, len(candidates))
	for _, c := range candidates {
		sentAt := now
		c.Status = domain.StatusSent
		c.SentAt = &sentAt
		out = append(out, c.Clone())
	}
	return out, nil
}

func (r *CommandRepository) Ack(ctx context.Context, placeID, commandID string, outcome domain.CommandStatus, message *string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.commands[commandID]
	if !ok || c.PlaceID != placeID {
		return false, domain.ErrCommandNotFound
	}
	if !c.Status.CanTransitionTo(outcome) {
		return false, nil
	}

	executedAt := now
	c.Status = outcome
	c.ExecutedAt = &executedAt
	if message != nil {
		msg := *message
		c.ResultMessage = &msg
	}
	return true, nil
}

func (r *CommandRepository) Expire(ctx context.Context, createdBefore, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, c := range r.commands {
		if c.Stale(createdBefore, now) {
			c.Status = domain.StatusExpired
			n++
		}
	}
	return n, nil
}

func (r *CommandRepository) History(ctx context.Context, placeID string, filter domain.CommandFilter) ([]domain.Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := filter.EffectiveLimit()
	queue := r.byPlace[placeID]

	matched := make([]*domain.Command, 0, len(queue))
	for _, c := range queue {
		if filter.Status == "" || c.Status == filter.Status {
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[j].Less(matched[i]) })
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]domain.Command, len(matched))
	for i, c := range matched {
		out[i] = c.Clone()
	}
	return out, nil
}

func (r *CommandRepository) Counts(ctx context.Context, placeID string) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending int64
	queue := r.byPlace[placeID]
	for _, c := range queue {
		if c.Status == domain.StatusPending {
			pending++
		}
	}
	return int64(len(queue)), pending, nil
}
