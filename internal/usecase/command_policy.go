package usecase

import (
	"strings"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

// EnqueueRequest is an operator's request to queue a command for a place.
type EnqueueRequest struct {
	ServerID       *string
	Type           domain.CommandType
	TargetUsername *string
	TargetPlayerID *string
	Payload        domain.Payload
	ExpiresAt      *time.Time
	CreatedBy      *string
}

// normalize trims optional strings and turns empty ones into nil.
func (r *EnqueueRequest) normalize() {
	r.Type = domain.CommandType(strings.ToUpper(strings.TrimSpace(string(r.Type))))
	r.ServerID = trimOptional(r.ServerID)
	r.TargetUsername = trimOptional(r.TargetUsername)
	r.TargetPlayerID = trimOptional(r.TargetPlayerID)
	r.CreatedBy = trimOptional(r.CreatedBy)
	if r.Payload == nil {
		r.Payload = domain.Payload{}
	}
}

// ValidateCommand enforces the per-type payload conventions agents rely on.
// Unknown but well-formed types only need to be well-formed.
func ValidateCommand(r *EnqueueRequest) error {
	if r.Type == "" {
		return domain.NewValidationError("command_type", "")
	}
	if !r.Type.Valid() {
		return domain.NewValidationError("command_type", "must be an upper-case identifier")
	}
	if r.Type.RequiresTarget() && r.TargetUsername == nil && r.TargetPlayerID == nil {
		return domain.NewValidationError("target_username", "target_username or target_player_id is required for "+string(r.Type))
	}

	switch r.Type {
	case domain.CommandMessage:
		if _, ok := r.Payload.String("message"); !ok {
			return domain.NewValidationError("payload.message", "")
		}
	case domain.CommandTeleport:
		if !hasValue(r.Payload, "place_id") {
			return domain.NewValidationError("payload.place_id", "")
		}
	case domain.CommandCustom:
		if len(r.Payload) == 0 {
			return domain.NewValidationError("payload", "")
		}
	}
	return nil
}

func hasValue(p domain.Payload, key string) bool {
	switch v := p[key].(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	default:
		return true
	}
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
