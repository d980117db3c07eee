package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

var _ domain.PlayerRepository = (*PlayerRepository)(nil)

// upsertScript merges telemetry into the player hash. Identity fields and
// first_seen are only written once, flags are never touched by telemetry,
// and last_seen (plus the index score) only moves forward.
var upsertScript = redis.NewScript(`
redis.call('HSETNX', KEYS[1], 'id', ARGV[1])
redis.call('HSETNX', KEYS[1], 'place_id', ARGV[2])
redis.call('HSETNX', KEYS[1], 'player_id', ARGV[3])
redis.call('HSETNX', KEYS[1], 'first_seen_ms', ARGV[9])
redis.call('HSETNX', KEYS[1], 'is_banned', '0')
redis.call('HSETNX', KEYS[1], 'is_suspicious', '0')
redis.call('HSETNX', KEYS[1], 'is_alt', '0')
redis.call('HSET', KEYS[1], 'server_id', ARGV[4], 'username', ARGV[5], 'display_name', ARGV[6], 'account_age', ARGV[7], 'ping', ARGV[8])
local last = tonumber(redis.call('HGET', KEYS[1], 'last_seen_ms') or '0')
local seen = tonumber(ARGV[9])
if seen > last then
  redis.call('HSET', KEYS[1], 'last_seen_ms', ARGV[9])
  redis.call('ZADD', KEYS[2], seen, ARGV[3])
end
return redis.call('HGETALL', KEYS[1])
`)

// setFlagScript only writes the flag if the player has been seen.
var setFlagScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// PlayerRepository keeps the live player table in Redis hashes. While Redis
// is unreachable, sightings are appended to the WAL and replayed on recovery.
type PlayerRepository struct {
	client      *redis.Client
	logger      *slog.Logger
	wal         domain.WALRepository
	metrics     *metrics.DispatchMetrics
	isAvailable atomic.Bool
}

// NewPlayerRepository creates a Redis-backed player store. The WAL is
// optional; pass nil to surface Redis errors directly.
func NewPlayerRepository(client *redis.Client, logger *slog.Logger, wal domain.WALRepository, m *metrics.DispatchMetrics) *PlayerRepository {
	repo := &PlayerRepository{
		client:  client,
		logger:  logger.With("component", "redis_player_repository"),
		wal:     wal,
		metrics: m,
	}
	repo.isAvailable.Store(true)
	return repo
}

// Available reports whether writes currently go to Redis.
func (r *PlayerRepository) Available() bool {
	return r.isAvailable.Load()
}

// StartHealthCheck pings Redis every interval and replays the WAL when the
// connection comes back. It blocks until ctx is done.
func (r *PlayerRepository) StartHealthCheck(ctx context.Context, interval time.Duration) {
	if r.wal == nil {
		r.logger.Info("WAL is not configured, skipping health check")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkHealth(ctx)
		}
	}
}

func (r *PlayerRepository) checkHealth(ctx context.Context) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		r.markDown(err)
		return
	}
	if r.isAvailable.Load() {
		return
	}

	r.logger.Info("Redis connection recovered, replaying WAL")
	if err := r.ReplayWAL(ctx); err != nil {
		r.logger.Error("Failed to replay WAL after Redis recovery", "error", err)
		return
	}
	r.isAvailable.Store(true)
	r.metrics.SetWALActive(false)

	// Upserts that saw the flag still down may have buffered after the
	// first pass; drain them now that new writes go to Redis.
	if err := r.ReplayWAL(ctx); err != nil {
		r.logger.Warn("Failed to drain WAL stragglers", "error", err)
	}
}

func (r *PlayerRepository) markDown(err error) {
	if r.isAvailable.CompareAndSwap(true, false) {
		r.logger.Error("Redis connection lost, buffering sightings to WAL", "error", err)
		r.metrics.SetWALActive(true)
	}
}

// ReplayWAL pushes buffered sightings into Redis in write order and clears
// the WAL once all of them are stored.
func (r *PlayerRepository) ReplayWAL(ctx context.Context) error {
	n, err := r.wal.ReplayAndTruncate(ctx, func(s domain.PlayerSighting) error {
		_, err := r.upsertToRedis(ctx, s.PlaceID, s.ServerID, s.Fact, s.SeenAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("WAL replay failed after %d sightings: %w", n, err)
	}
	if n > 0 {
		r.logger.Info("WAL replay to Redis completed", "sightings", n)
	}
	return nil
}

// Upsert merges fact into Redis, or buffers it in the WAL if Redis is down.
// A buffered sighting returns a snapshot built from the fact alone.
func (r *PlayerRepository) Upsert(ctx context.Context, placeID, serverID string, fact domain.PlayerFact, seenAt time.Time) (*domain.PlayerSnapshot, error) {
	if fact.PlayerID == "" {
		return nil, domain.NewValidationError("player_id", "")
	}

	if !r.isAvailable.Load() && r.wal != nil {
		return r.buffer(ctx, placeID, serverID, fact, seenAt)
	}

	snap, err := r.upsertToRedis(ctx, placeID, serverID, fact, seenAt)
	if err == nil {
		return snap, nil
	}
	if r.wal == nil || !isNetworkError(err) {
		return nil, err
	}
	r.markDown(err)
	return r.buffer(ctx, placeID, serverID, fact, seenAt)
}

func (r *PlayerRepository) buffer(ctx context.Context, placeID, serverID string, fact domain.PlayerFact, seenAt time.Time) (*domain.PlayerSnapshot, error) {
	s := domain.PlayerSighting{PlaceID: placeID, ServerID: serverID, Fact: fact, SeenAt: seenAt}
	if err := r.wal.Write(ctx, s); err != nil {
		return nil, fmt.Errorf("redis unavailable and WAL write failed: %w", err)
	}
	snap := &domain.PlayerSnapshot{PlaceID: placeID, FirstSeen: seenAt}
	snap.PlayerID = fact.PlayerID
	snap.MergeFact(serverID, fact, seenAt)
	return snap, nil
}

func (r *PlayerRepository) upsertToRedis(ctx context.Context, placeID, serverID string, fact domain.PlayerFact, seenAt time.Time) (*domain.PlayerSnapshot, error) {
	fields, err := upsertScript.Run(ctx, r.client,
		[]string{playerKey(placeID, fact.PlayerID), playerIndexKey(placeID)},
		uuid.NewString(), placeID, fact.PlayerID, serverID, fact.Username, fact.DisplayName,
		fact.AccountAge, fact.Ping, seenAt.UnixMilli(),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to upsert player %s: %w", fact.PlayerID, err)
	}
	snap := decodeSnapshot(pairs(fields))
	return &snap, nil
}

func (r *PlayerRepository) List(ctx context.Context, placeID string, filter domain.PlayerFilter) ([]domain.PlayerSnapshot, error) {
	ids, err := r.client.ZRevRange(ctx, playerIndexKey(placeID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read player index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, playerKey(placeID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load players: %w", err)
	}

	limit := filter.EffectiveLimit()
	out := make([]domain.PlayerSnapshot, 0, min(limit, len(ids)))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		snap := decodeSnapshot(fields)
		if !filter.Matches(&snap) {
			continue
		}
		out = append(out, snap)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *PlayerRepository) SetFlag(ctx context.Context, placeID, playerID string, flag domain.PlayerFlag, value bool) error {
	if _, err := domain.ParsePlayerFlag(string(flag)); err != nil {
		return err
	}
	set, err := setFlagScript.Run(ctx, r.client, []string{playerKey(placeID, playerID)}, flag.Column(), boolField(value)).Int()
	if err != nil {
		return fmt.Errorf("failed to set %s on player %s: %w", flag, playerID, err)
	}
	if set == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

func (r *PlayerRepository) Count(ctx context.Context, placeID string) (int64, error) {
	n, err := r.client.ZCard(ctx, playerIndexKey(placeID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count players: %w", err)
	}
	return n, nil
}

func pairs(flat []string) map[string]string {
	m := make(map[string]string, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		m[flat[i]] = flat[i+1]
	}
	return m
}

func decodeSnapshot(f map[string]string) domain.PlayerSnapshot {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(f[k])
		return n
	}
	millis := func(k string) time.Time {
		n, _ := strconv.ParseInt(f[k], 10, 64)
		return time.UnixMilli(n).UTC()
	}
	return domain.PlayerSnapshot{
		ID:           f["id"],
		PlaceID:      f["place_id"],
		ServerID:     f["server_id"],
		PlayerID:     f["player_id"],
		Username:     f["username"],
		DisplayName:  f["display_name"],
		AccountAge:   atoi("account_age"),
		Ping:         atoi("ping"),
		IsBanned:     f["is_banned"] == "1",
		IsSuspicious: f["is_suspicious"] == "1",
		IsAlt:        f["is_alt"] == "1",
		FirstSeen:    millis("first_seen_ms"),
		LastSeen:     millis("last_seen_ms"),
	}
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
