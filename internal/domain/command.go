package domain

import (
	"regexp"
	"time"
)

const (
	// DefaultClaimBatchSize bounds how many commands a single poll may claim.
	DefaultClaimBatchSize = 20
	DefaultHistoryLimit   = 100
	MaxHistoryLimit       = 1000
)

// CommandType identifies what an agent should do. The set is open: any
// upper-case identifier is accepted so new types need no protocol change.
type CommandType string

const (
	CommandKick     CommandType = "KICK"
	CommandBan      CommandType = "BAN"
	CommandUnban    CommandType = "UNBAN"
	CommandMessage  CommandType = "MESSAGE"
	CommandShutdown CommandType = "SHUTDOWN"
	CommandTeleport CommandType = "TELEPORT"
	CommandFreeze   CommandType = "FREEZE"
	CommandCustom   CommandType = "CUSTOM"
)

var commandTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,31}$`)

// Valid reports whether t is a well-formed command type identifier.
func (t CommandType) Valid() bool {
	return commandTypePattern.MatchString(string(t))
}

// RequiresTarget reports whether commands of this type act on one player.
func (t CommandType) RequiresTarget() bool {
	switch t {
	case CommandKick, CommandBan, CommandUnban, CommandTeleport, CommandFreeze:
		return true
	}
	return false
}

// CommandStatus is the lifecycle state of a command.
//
//	PENDING -> SENT -> SUCCESS | FAILED
//	PENDING | SENT -> EXPIRED
type CommandStatus string

const (
	StatusPending CommandStatus = "PENDING"
	StatusSent    CommandStatus = "SENT"
	StatusSuccess CommandStatus = "SUCCESS"
	StatusFailed  CommandStatus = "FAILED"
	StatusExpired CommandStatus = "EXPIRED"
)

// ParseCommandStatus returns the status named by s, or false if s is not one.
func ParseCommandStatus(s string) (CommandStatus, bool) {
	switch st := CommandStatus(s); st {
	case StatusPending, StatusSent, StatusSuccess, StatusFailed, StatusExpired:
		return st, true
	}
	return "", false
}

// IsTerminal reports whether no further transition is possible.
func (s CommandStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusExpired
}

// IsOutcome reports whether s is a valid acknowledgement outcome.
func (s CommandStatus) IsOutcome() bool {
	return s == StatusSuccess || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
// Acks may finalize a command the agent never saw as SENT, so
// PENDING -> SUCCESS/FAILED is permitted as well.
func (s CommandStatus) CanTransitionTo(next CommandStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusSuccess || next == StatusFailed || next == StatusExpired
	case StatusSent:
		return next == StatusSuccess || next == StatusFailed || next == StatusExpired
	}
	return false
}

// Payload is the type-specific, free-form body of a command.
type Payload map[string]any

// String returns the value at key if it is a non-empty string.
func (p Payload) String(key string) (string, bool) {
	v, ok := p[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Command is a unit of work for one tenant, optionally scoped to a single
// server instance. ServerID nil means every instance of the tenant.
type Command struct {
	ID             string        `json:"id"`
	PlaceID        string        `json:"place_id"`
	ServerID       *string       `json:"server_id"`
	Type           CommandType   `json:"command_type"`
	TargetUsername *string       `json:"target_username"`
	TargetPlayerID *string       `json:"target_player_id"`
	Payload        Payload       `json:"payload"`
	Status         CommandStatus `json:"status"`
	CreatedBy      *string       `json:"created_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	SentAt         *time.Time    `json:"sent_at,omitempty"`
	ExecutedAt     *time.Time    `json:"executed_at,omitempty"`
	ResultMessage  *string       `json:"result_message,omitempty"`
	ExpiresAt      *time.Time    `json:"expires_at,omitempty"`

	// Seq is the store-assigned insertion order, used to break created_at ties.
	Seq int64 `json:"-"`
}

// VisibleTo reports whether an agent polling as serverID may receive c.
// An empty serverID is a tenant-wide poll and sees every command.
func (c *Command) VisibleTo(serverID string) bool {
	return serverID == "" || c.ServerID == nil || *c.ServerID == serverID
}

// Claimable reports whether c can be handed to a poller at now.
func (c *Command) Claimable(now time.Time) bool {
	return c.Status == StatusPending && (c.ExpiresAt == nil || c.ExpiresAt.After(now))
}

// Stale reports whether the expiry sweep should retire c.
func (c *Command) Stale(createdBefore, now time.Time) bool {
	if c.Status != StatusPending && c.Status != StatusSent {
		return false
	}
	if c.CreatedAt.Before(createdBefore) {
		return true
	}
	return c.ExpiresAt != nil && !c.ExpiresAt.After(now)
}

// Less orders commands oldest first.
func (c *Command) Less(other *Command) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.Seq < other.Seq
}

// Clone returns a copy that shares no mutable state with c.
func (c *Command) Clone() Command {
	out := *c
	if c.Payload != nil {
		out.Payload = make(Payload, len(c.Payload))
		for k, v := range c.Payload {
			out.Payload[k] = v
		}
	}
	out.ServerID = cloneString(c.ServerID)
	out.TargetUsername = cloneString(c.TargetUsername)
	out.TargetPlayerID = cloneString(c.TargetPlayerID)
	out.CreatedBy = cloneString(c.CreatedBy)
	out.ResultMessage = cloneString(c.ResultMessage)
	out.SentAt = cloneTime(c.SentAt)
	out.ExecutedAt = cloneTime(c.ExecutedAt)
	out.ExpiresAt = cloneTime(c.ExpiresAt)
	return out
}

// CommandFilter narrows a history query.
type CommandFilter struct {
	Status CommandStatus
	Limit  int
}

// EffectiveLimit clamps the requested limit into range.
func (f CommandFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultHistoryLimit
	case f.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	}
	return f.Limit
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
