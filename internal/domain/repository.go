package domain

import (
	"context"
	"time"
)

// TenantRepository persists tenants. Lookups return ErrTenantNotFound on a miss.
type TenantRepository interface {
	// FindByKeyHash resolves the tenant owning the given key digest.
	FindByKeyHash(ctx context.Context, hash []byte) (*Tenant, error)

	Get(ctx context.Context, placeID string) (*Tenant, error)
	List(ctx context.Context) ([]Tenant, error)

	// Create stores a new tenant, returning ErrTenantExists if the place id
	// or key digest is already taken.
	Create(ctx context.Context, t *Tenant) error

	UpdateKeyHash(ctx context.Context, placeID string, hash []byte, at time.Time) error
	Delete(ctx context.Context, placeID string) error
}

// CommandRepository is the per-tenant command mailbox. It owns the status
// and timestamp fields of every command it stores.
type CommandRepository interface {
	// Enqueue stores cmd as PENDING. cmd.Seq is assigned by the store.
	Enqueue(ctx context.Context, cmd *Command) error

	// Claim atomically moves up to limit claimable commands visible to
	// serverID from PENDING to SENT and returns them oldest first. No two
	// concurrent calls can return the same command.
	Claim(ctx context.Context, placeID, serverID string, limit int, now time.Time) ([]Command, error)

	// Ack finalizes a command owned by placeID. applied is false when the
	// command was already terminal. ErrCommandNotFound if no such command
	// exists for the tenant.
	Ack(ctx context.Context, placeID, commandID string, outcome CommandStatus, message *string, now time.Time) (applied bool, err error)

	// Expire retires open commands created before createdBefore or whose own
	// expiry has passed at now, returning how many were retired.
	Expire(ctx context.Context, createdBefore, now time.Time) (int64, error)

	// History lists a tenant's commands newest first.
	History(ctx context.Context, placeID string, filter CommandFilter) ([]Command, error)

	// Counts returns the tenant's total and pending command counts.
	Counts(ctx context.Context, placeID string) (total, pending int64, err error)
}

// PlayerRepository is the live per-tenant player table.
type PlayerRepository interface {
	// Upsert merges fact into the record keyed by (placeID, fact.PlayerID),
	// creating it on first sighting. Moderation flags are preserved.
	Upsert(ctx context.Context, placeID, serverID string, fact PlayerFact, seenAt time.Time) (*PlayerSnapshot, error)

	// List returns matching players, most recently seen first.
	List(ctx context.Context, placeID string, filter PlayerFilter) ([]PlayerSnapshot, error)

	// SetFlag changes one moderation flag. ErrPlayerNotFound if unseen.
	SetFlag(ctx context.Context, placeID, playerID string, flag PlayerFlag, value bool) error

	Count(ctx context.Context, placeID string) (int64, error)
}

// PlayerBatchUpserter is implemented by player stores that can merge a whole
// heartbeat at once. It returns how many records were written.
type PlayerBatchUpserter interface {
	UpsertBatch(ctx context.Context, placeID, serverID string, facts []PlayerFact, seenAt time.Time) (int, error)
}

// ActivityPublisher receives lifecycle events. Implementations must not
// block the request path for long; callers treat failures as non-fatal.
type ActivityPublisher interface {
	Publish(ctx context.Context, event ActivityEvent) error
}

// ActivityReader serves recently published events.
type ActivityReader interface {
	// Recent returns up to count events, newest first. An empty placeID
	// reads across all tenants.
	Recent(ctx context.Context, placeID string, count int64) ([]ActivityEvent, error)
}

// WALRepository is the on-disk failover buffer for player sightings.
type WALRepository interface {
	// Write appends a sighting to the local WAL file.
	Write(ctx context.Context, sighting PlayerSighting) error

	// Replay reads sightings in write order and hands each to handler.
	Replay(ctx context.Context, handler func(sighting PlayerSighting) error) error

	// ReplayAndTruncate replays every buffered sighting and removes the
	// replayed segments atomically with respect to Write. It returns the
	// number of sightings handed to handler.
	ReplayAndTruncate(ctx context.Context, handler func(sighting PlayerSighting) error) (int, error)
}
