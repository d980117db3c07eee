package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPlayerListLimit = 200
	MaxPlayerListLimit     = 1000
)

// PlayerFact is one player's telemetry as reported by an agent heartbeat.
type PlayerFact struct {
	PlayerID    string `json:"player_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AccountAge  int    `json:"account_age"`
	Ping        int    `json:"ping"`
}

// PlayerSnapshot is the last-known state of a player within a tenant.
// Identity is (PlaceID, PlayerID); the moderation flags are operator-owned
// and never touched by telemetry upserts.
type PlayerSnapshot struct {
	ID           string    `json:"id"`
	PlaceID      string    `json:"place_id"`
	ServerID     string    `json:"server_id"`
	PlayerID     string    `json:"player_id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	AccountAge   int       `json:"account_age"`
	Ping         int       `json:"ping"`
	IsBanned     bool      `json:"is_banned"`
	IsSuspicious bool      `json:"is_suspicious"`
	IsAlt        bool      `json:"is_alt"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// MergeFact applies the telemetry fields of fact observed on serverID at
// seenAt. Flags are left untouched and LastSeen never moves backward.
func (s *PlayerSnapshot) MergeFact(serverID string, fact PlayerFact, seenAt time.Time) {
	s.ServerID = serverID
	s.Username = fact.Username
	s.DisplayName = fact.DisplayName
	s.AccountAge = fact.AccountAge
	s.Ping = fact.Ping
	if seenAt.After(s.LastSeen) {
		s.LastSeen = seenAt
	}
}

// Flag returns the current value of f.
func (s *PlayerSnapshot) Flag(f PlayerFlag) bool {
	switch f {
	case FlagBanned:
		return s.IsBanned
	case FlagSuspicious:
		return s.IsSuspicious
	case FlagAlt:
		return s.IsAlt
	}
	return false
}

// SetFlag sets f to value.
func (s *PlayerSnapshot) SetFlag(f PlayerFlag, value bool) {
	switch f {
	case FlagBanned:
		s.IsBanned = value
	case FlagSuspicious:
		s.IsSuspicious = value
	case FlagAlt:
		s.IsAlt = value
	}
}

// PlayerFlag is an operator-set moderation marker.
type PlayerFlag string

const (
	FlagBanned     PlayerFlag = "banned"
	FlagSuspicious PlayerFlag = "suspicious"
	FlagAlt        PlayerFlag = "alt"
)

// ParsePlayerFlag accepts both the short ("banned") and column ("is_banned") spellings.
func ParsePlayerFlag(s string) (PlayerFlag, error) {
	switch f := PlayerFlag(strings.TrimPrefix(strings.ToLower(s), "is_")); f {
	case FlagBanned, FlagSuspicious, FlagAlt:
		return f, nil
	}
	return "", NewValidationError("flag", fmt.Sprintf("unknown flag %q", s))
}

// Column is the storage column/field name of the flag.
func (f PlayerFlag) Column() string {
	return "is_" + string(f)
}

// PlayerFilter narrows a player listing.
type PlayerFilter struct {
	Search   string
	Flag     PlayerFlag
	ServerID string
	Limit    int
}

// EffectiveLimit clamps the requested limit into range.
func (f PlayerFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultPlayerListLimit
	case f.Limit > MaxPlayerListLimit:
		return MaxPlayerListLimit
	}
	return f.Limit
}

// Matches reports whether s passes every criterion of f except the limit.
func (f PlayerFilter) Matches(s *PlayerSnapshot) bool {
	if f.ServerID != "" && s.ServerID != f.ServerID {
		return false
	}
	if f.Flag != "" && !s.Flag(f.Flag) {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(s.Username), q) &&
			!strings.Contains(strings.ToLower(s.DisplayName), q) &&
			!strings.Contains(strings.ToLower(s.PlayerID), q) {
			return false
		}
	}
	return true
}

// PlayerSighting is a single fact bound to its tenant, server and time.
// It is the unit buffered by the write-ahead log.
type PlayerSighting struct {
	PlaceID  string     `json:"place_id"`
	ServerID string     `json:"server_id"`
	Fact     PlayerFact `json:"fact"`
	SeenAt   time.Time  `json:"seen_at"`
}
