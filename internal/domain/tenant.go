package domain

import "time"

// Tenant is one operator-managed game deployment (a "place"). Every agent
// request is scoped to exactly one tenant, resolved from its API key.
type Tenant struct {
	PlaceID   string    `json:"place_id"`
	Name      string    `json:"name"`
	KeyHash   []byte    `json:"-"` // digest of the API key; the key itself is never stored
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlaceStats summarises a tenant for the operator dashboard.
type PlaceStats struct {
	PlaceID         string `json:"place_id"`
	Players         int64  `json:"players"`
	Commands        int64  `json:"commands"`
	PendingCommands int64  `json:"pending_commands"`
}
