package usecase

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/pkg/clock"
)

// ReportResult summarises one heartbeat.
type ReportResult struct {
	Received int
	Synced   int
}

// DispatchUseCase implements the agent-facing protocol: heartbeat reports,
// command polling and acknowledgements. The tenant has already been resolved
// from the request's API key.
type DispatchUseCase struct {
	players   domain.PlayerRepository
	commands  domain.CommandRepository
	activity  domain.ActivityPublisher
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metrics.DispatchMetrics
	batchSize int
}

func NewDispatchUseCase(players domain.PlayerRepository, commands domain.CommandRepository, activity domain.ActivityPublisher, clk clock.Clock, logger *slog.Logger, m *metrics.DispatchMetrics, batchSize int) *DispatchUseCase {
	if batchSize <= 0 {
		batchSize = domain.DefaultClaimBatchSize
	}
	return &DispatchUseCase{
		players:   players,
		commands:  commands,
		activity:  activity,
		clock:     clk,
		logger:    logger.With("component", "dispatch"),
		metrics:   m,
		batchSize: batchSize,
	}
}

// Report merges each player fact into the player store. Individual failures
// only reduce the synced count; an error is returned only when every fact
// failed because the store itself is failing.
func (uc *DispatchUseCase) Report(ctx context.Context, tenant *domain.Tenant, serverID string, facts []domain.PlayerFact) (ReportResult, error) {
	ctx, span := tracer.Start(ctx, "Dispatch.Report")
	defer span.End()
	span.SetAttributes(
		attribute.String("place_id", tenant.PlaceID),
		attribute.String("server_id", serverID),
		attribute.Int("players", len(facts)),
	)

	res := ReportResult{Received: len(facts)}
	if len(facts) == 0 {
		return res, nil
	}
	seenAt := uc.clock.Now()

	if batcher, ok := uc.players.(domain.PlayerBatchUpserter); ok && len(facts) > 1 {
		n, err := batcher.UpsertBatch(ctx, tenant.PlaceID, serverID, facts, seenAt)
		if err == nil {
			res.Synced = n
			uc.metrics.PlayersStored(n, len(facts)-n)
			return res, nil
		}
		uc.logger.Warn("Batch player upsert failed, falling back to per-player upserts",
			"place_id", tenant.PlaceID, "server_id", serverID, "error", err)
	}

	var storeErr error
	for _, fact := range facts {
		if _, err := uc.players.Upsert(ctx, tenant.PlaceID, serverID, fact, seenAt); err != nil {
			uc.logger.Warn("Failed to upsert player",
				"place_id", tenant.PlaceID, "server_id", serverID, "player_id", fact.PlayerID, "error", err)
			if !domain.IsValidationError(err) {
				storeErr = err
			}
			continue
		}
		res.Synced++
	}
	uc.metrics.PlayersStored(res.Synced, len(facts)-res.Synced)

	if res.Synced == 0 && storeErr != nil {
		recordError(span, storeErr)
		return res, storeErr
	}
	return res, nil
}

// Poll claims the next batch of commands for the polling instance. It never
// fails: store errors are logged and yield an empty batch, since the agent
// polls again shortly.
func (uc *DispatchUseCase) Poll(ctx context.Context, tenant *domain.Tenant, serverID string) []domain.Command {
	ctx, span := tracer.Start(ctx, "Dispatch.Poll")
	defer span.End()
	span.SetAttributes(attribute.String("place_id", tenant.PlaceID), attribute.String("server_id", serverID))

	now := uc.clock.Now()
	cmds, err := uc.commands.Claim(ctx, tenant.PlaceID, serverID, uc.batchSize, now)
	if err != nil {
		recordError(span, err)
		uc.logger.Error("Failed to claim commands", "place_id", tenant.PlaceID, "server_id", serverID, "error", err)
		return []domain.Command{}
	}
	if cmds == nil {
		cmds = []domain.Command{}
	}
	uc.metrics.CommandsClaimedBatch(len(cmds))
	span.SetAttributes(attribute.Int("claimed", len(cmds)))

	for _, c := range cmds {
		uc.publish(ctx, domain.ActivityEvent{
			Type:      domain.ActivityCommandClaimed,
			PlaceID:   tenant.PlaceID,
			ServerID:  serverID,
			CommandID: c.ID,
			Status:    string(c.Status),
			Detail:    map[string]any{"command_type": c.Type},
			At:        now,
		})
	}
	return cmds
}

// Ack records the outcome of a command. Unknown ids and ids belonging to
// another tenant are treated as already handled, as are repeat acks.
func (uc *DispatchUseCase) Ack(ctx context.Context, tenant *domain.Tenant, serverID, commandID string, outcome domain.CommandStatus, message *string) error {
	ctx, span := tracer.Start(ctx, "Dispatch.Ack")
	defer span.End()
	span.SetAttributes(
		attribute.String("place_id", tenant.PlaceID),
		attribute.String("command_id", commandID),
		attribute.String("outcome", string(outcome)),
	)

	if commandID == "" {
		return domain.NewValidationError("command_id", "")
	}
	if !outcome.IsOutcome() {
		return domain.NewValidationError("status", "must be SUCCESS or FAILED")
	}

	now := uc.clock.Now()
	applied, err := uc.commands.Ack(ctx, tenant.PlaceID, commandID, outcome, message, now)
	switch {
	case errors.Is(err, domain.ErrCommandNotFound):
		uc.logger.Debug("Ack for unknown command ignored", "place_id", tenant.PlaceID, "command_id", commandID)
		uc.metrics.CommandAcked("unknown")
		return nil
	case err != nil:
		recordError(span, err)
		uc.logger.Error("Failed to ack command", "place_id", tenant.PlaceID, "command_id", commandID, "error", err)
		return err
	case !applied:
		uc.metrics.CommandAcked("noop")
		return nil
	}

	uc.metrics.CommandAcked(string(outcome))
	ev := domain.ActivityEvent{
		Type:      domain.ActivityCommandAcked,
		PlaceID:   tenant.PlaceID,
		ServerID:  serverID,
		CommandID: commandID,
		Status:    string(outcome),
		At:        now,
	}
	if message != nil {
		ev.Detail = map[string]any{"result_message": *message}
	}
	uc.publish(ctx, ev)
	return nil
}

func (uc *DispatchUseCase) publish(ctx context.Context, ev domain.ActivityEvent) {
	if uc.activity == nil {
		return
	}
	if err := uc.activity.Publish(ctx, ev); err != nil {
		uc.logger.Warn("Failed to publish activity event", "type", ev.Type, "error", err)
	}
}
