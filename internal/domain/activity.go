package domain

import "time"

// ActivityType names a lifecycle event in the dispatch pipeline.
type ActivityType string

const (
	ActivityCommandEnqueued ActivityType = "command.enqueued"
	ActivityCommandClaimed  ActivityType = "command.claimed"
	ActivityCommandAcked    ActivityType = "command.acked"
	ActivityCommandsExpired ActivityType = "commands.expired"
	ActivityPlayerFlagged   ActivityType = "player.flagged"
	ActivityPlaceCreated    ActivityType = "place.created"
	ActivityPlaceKeyRotated ActivityType = "place.key_rotated"
	ActivityPlaceDeleted    ActivityType = "place.deleted"
)

// ActivityEvent is published on every state change so dashboards and audit
// consumers can follow the pipeline without querying the stores.
type ActivityEvent struct {
	ID        string         `json:"id,omitempty"`
	Type      ActivityType   `json:"type"`
	PlaceID   string         `json:"place_id,omitempty"`
	ServerID  string         `json:"server_id,omitempty"`
	CommandID string         `json:"command_id,omitempty"`
	PlayerID  string         `json:"player_id,omitempty"`
	Status    string         `json:"status,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	At        time.Time      `json:"at"`
}
