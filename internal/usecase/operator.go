package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/clock"
)

// OperatorUseCase is the operator side of the queue: it enqueues commands
// and reads command history and player state for a place.
type OperatorUseCase struct {
	tenants  domain.TenantRepository
	commands domain.CommandRepository
	players  domain.PlayerRepository
	activity domain.ActivityPublisher
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *metrics.DispatchMetrics
}

func NewOperatorUseCase(tenants domain.TenantRepository, commands domain.CommandRepository, players domain.PlayerRepository, activity domain.ActivityPublisher, clk clock.Clock, logger *slog.Logger, m *metrics.DispatchMetrics) *OperatorUseCase {
	return &OperatorUseCase{
		tenants:  tenants,
		commands: commands,
		players:  players,
		activity: activity,
		clock:    clk,
		logger:   logger.With("component", "operator"),
		metrics:  m,
	}
}

// Enqueue validates req against the command conventions and queues it.
// BAN and UNBAN with a target player id also set or clear the player's
// sticky banned flag.
func (uc *OperatorUseCase) Enqueue(ctx context.Context, placeID string, req EnqueueRequest) (*domain.Command, error) {
	ctx, span := tracer.Start(ctx, "Operator.Enqueue")
	defer span.End()

	if _, err := uc.tenants.Get(ctx, placeID); err != nil {
		return nil, err
	}

	req.normalize()
	if err := ValidateCommand(&req); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("place_id", placeID), attribute.String("command_type", string(req.Type)))

	now := uc.clock.Now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, domain.NewValidationError("expires_at", "must be in the future")
	}

	cmd := &domain.Command{
		ID:             uuid.NewString(),
		PlaceID:        placeID,
		ServerID:       req.ServerID,
		Type:           req.Type,
		TargetUsername: req.TargetUsername,
		TargetPlayerID: req.TargetPlayerID,
		Payload:        req.Payload,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      now,
		ExpiresAt:      req.ExpiresAt,
	}
	if err := uc.commands.Enqueue(ctx, cmd); err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to enqueue %s: %w", cmd.Type, err)
	}
	uc.metrics.CommandEnqueued(string(cmd.Type))
	uc.logger.Info("Command enqueued", "place_id", placeID, "command_id", cmd.ID, "command_type", cmd.Type)

	detail := map[string]any{"command_type": cmd.Type}
	if cmd.ServerID != nil {
		detail["server_id"] = *cmd.ServerID
	}
	if len(cmd.Payload) > 0 {
		detail["payload"] = cmd.Payload
	}
	uc.publish(ctx, domain.ActivityEvent{
		Type:      domain.ActivityCommandEnqueued,
		PlaceID:   placeID,
		CommandID: cmd.ID,
		Status:    string(cmd.Status),
		Detail:    detail,
		At:        now,
	})

	if cmd.TargetPlayerID != nil {
		switch cmd.Type {
		case domain.CommandBan:
			uc.applyBanFlag(ctx, placeID, *cmd.TargetPlayerID, true)
		case domain.CommandUnban:
			uc.applyBanFlag(ctx, placeID, *cmd.TargetPlayerID, false)
		}
	}
	return cmd, nil
}

func (uc *OperatorUseCase) applyBanFlag(ctx context.Context, placeID, playerID string, banned bool) {
	err := uc.players.SetFlag(ctx, placeID, playerID, domain.FlagBanned, banned)
	switch {
	case errors.Is(err, domain.ErrPlayerNotFound):
		uc.logger.Info("Ban target has never been seen, flag not set", "place_id", placeID, "player_id", playerID)
	case err != nil:
		uc.logger.Error("Failed to update ban flag", "place_id", placeID, "player_id", playerID, "error", err)
	default:
		uc.publishFlag(ctx, placeID, playerID, domain.FlagBanned, banned)
	}
}

// History returns the place's commands, newest first.
func (uc *OperatorUseCase) History(ctx context.Context, placeID string, filter domain.CommandFilter) ([]domain.Command, error) {
	if _, err := uc.tenants.Get(ctx, placeID); err != nil {
		return nil, err
	}
	cmds, err := uc.commands.History(ctx, placeID, filter)
	if err != nil {
		return nil, err
	}
	if cmds == nil {
		cmds = []domain.Command{}
	}
	return cmds, nil
}

// Players lists the place's players, most recently seen first.
func (uc *OperatorUseCase) Players(ctx context.Context, placeID string, filter domain.PlayerFilter) ([]domain.PlayerSnapshot, error) {
	if _, err := uc.tenants.Get(ctx, placeID); err != nil {
		return nil, err
	}
	players, err := uc.players.List(ctx, placeID, filter)
	if err != nil {
		return nil, err
	}
	if players == nil {
		players = []domain.PlayerSnapshot{}
	}
	return players, nil
}

// SetPlayerFlag sets one moderation flag on a player.
func (uc *OperatorUseCase) SetPlayerFlag(ctx context.Context, placeID, playerID string, flag domain.PlayerFlag, value bool) error {
	if _, err := uc.tenants.Get(ctx, placeID); err != nil {
		return err
	}
	if err := uc.players.SetFlag(ctx, placeID, playerID, flag, value); err != nil {
		return err
	}
	uc.logger.Info("Player flag updated", "place_id", placeID, "player_id", playerID, "flag", flag, "value", value)
	uc.publishFlag(ctx, placeID, playerID, flag, value)
	return nil
}

// Stats returns dashboard counters for a place.
func (uc *OperatorUseCase) Stats(ctx context.Context, placeID string) (*domain.PlaceStats, error) {
	if _, err := uc.tenants.Get(ctx, placeID); err != nil {
		return nil, err
	}
	players, err := uc.players.Count(ctx, placeID)
	if err != nil {
		return nil, err
	}
	total, pending, err := uc.commands.Counts(ctx, placeID)
	if err != nil {
		return nil, err
	}
	return &domain.PlaceStats{PlaceID: placeID, Players: players, Commands: total, PendingCommands: pending}, nil
}

func (uc *OperatorUseCase) publishFlag(ctx context.Context, placeID, playerID string, flag domain.PlayerFlag, value bool) {
	uc.publish(ctx, domain.ActivityEvent{
		Type:     domain.ActivityPlayerFlagged,
		PlaceID:  placeID,
		PlayerID: playerID,
		Detail:   map[string]any{"flag": string(flag), "value": value},
		At:       uc.clock.Now(),
	})
}

func (uc *OperatorUseCase) publish(ctx context.Context, ev domain.ActivityEvent) {
	if uc.activity == nil {
		return
	}
	if err := uc.activity.Publish(ctx, ev); err != nil {
		uc.logger.Warn("Failed to publish activity event", "type", ev.Type, "error", err)
	}
}
