package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/V4T54L/fleet-dispatch/internal/adapter/api/middleware"
	"github.com/V4T54L/fleet-dispatch/internal/adapter/metrics"
	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/usecase"
)

// Dispatcher is the agent-facing protocol.
type Dispatcher interface {
	Report(ctx context.Context, tenant *domain.Tenant, serverID string, facts []domain.PlayerFact) (usecase.ReportResult, error)
	Poll(ctx context.Context, tenant *domain.Tenant, serverID string) []domain.Command
	Ack(ctx context.Context, tenant *domain.Tenant, serverID, commandID string, outcome domain.CommandStatus, message *string) error
}

// AgentHandler serves the endpoints game-server agents call. Every route
// runs behind middleware.Auth, so a tenant is always in the context.
type AgentHandler struct {
	uc           Dispatcher
	logger       *slog.Logger
	metrics      *metrics.DispatchMetrics
	maxBodyBytes int64
}

func NewAgentHandler(uc Dispatcher, logger *slog.Logger, m *metrics.DispatchMetrics, maxBodyBytes int64) *AgentHandler {
	return &AgentHandler{
		uc:           uc,
		logger:       logger.With("component", "agent_handler"),
		metrics:      m,
		maxBodyBytes: maxBodyBytes,
	}
}

// heartbeatBody is the wire form of a heartbeat, including the field
// aliases older agent scripts send.
type heartbeatBody struct {
	InstanceID flexString     `json:"instance_id"`
	ServerID   flexString     `json:"server_id"`
	Players    []playerReport `json:"players"`
}

type playerReport struct {
	PlayerID     flexString `json:"player_id"`
	RobloxUserID flexString `json:"roblox_user_id"`
	UserID       flexString `json:"user_id"`
	Username     string     `json:"username"`
	DisplayName  string     `json:"display_name"`
	AccountAge   flexInt    `json:"account_age"`
	Ping         flexInt    `json:"ping"`
}

// heartbeat is the normalized heartbeat that gets validated.
type heartbeat struct {
	InstanceID string           `json:"instance_id" validate:"required,max=128"`
	Players    []reportedPlayer `json:"players" validate:"required,max=1000,dive"`
}

type reportedPlayer struct {
	PlayerID    string `json:"player_id" validate:"required,max=64"`
	Username    string `json:"username" validate:"max=64"`
	DisplayName string `json:"display_name" validate:"max=64"`
	AccountAge  int    `json:"account_age" validate:"min=0,max=2147483647"`
	Ping        int    `json:"ping" validate:"min=0,max=2147483647"`
}

func (b *heartbeatBody) normalize() heartbeat {
	hb := heartbeat{InstanceID: string(firstNonEmpty(b.InstanceID, b.ServerID))}
	if b.Players == nil {
		// absent or null; an empty array decodes non-nil and stays valid
		return hb
	}
	hb.Players = make([]reportedPlayer, len(b.Players))
	for i, p := range b.Players {
		username := strings.TrimSpace(p.Username)
		display := strings.TrimSpace(p.DisplayName)
		if display == "" {
			display = username
		}
		hb.Players[i] = reportedPlayer{
			PlayerID:    string(firstNonEmpty(p.PlayerID, p.RobloxUserID, p.UserID)),
			Username:    username,
			DisplayName: display,
			AccountAge:  int(p.AccountAge),
			Ping:        int(p.Ping),
		}
	}
	return hb
}

type heartbeatResponse struct {
	OK            bool `json:"ok"`
	PlayersSynced int  `json:"players_synced"`
}

// Heartbeat handles POST /heartbeat.
func (h *AgentHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFrom(r.Context())
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, "missing API key")
		return
	}

	var body heartbeatBody
	if err := decodeJSON(w, r, h.maxBodyBytes, &body); err != nil {
		h.badRequest(w, "report", err)
		return
	}
	hb := body.normalize()
	if err := validate.Struct(hb); err != nil {
		h.metrics.ObserveRequest("report", "invalid")
		respondWithError(w, h.logger, http.StatusBadRequest, validationMessage(err))
		return
	}

	facts := make([]domain.PlayerFact, len(hb.Players))
	for i, p := range hb.Players {
		facts[i] = domain.PlayerFact{
			PlayerID:    p.PlayerID,
			Username:    p.Username,
			DisplayName: p.DisplayName,
			AccountAge:  p.AccountAge,
			Ping:        p.Ping,
		}
	}

	res, err := h.uc.Report(r.Context(), tenant, hb.InstanceID, facts)
	if err != nil {
		h.metrics.ObserveRequest("report", "error")
		h.logger.Error("failed to process heartbeat", "place_id", tenant.PlaceID, "server_id", hb.InstanceID, "error", err)
		respondWithError(w, h.logger, http.StatusInternalServerError, "failed to store player reports")
		return
	}
	h.metrics.ObserveRequest("report", "ok")
	respondWithJSON(w, h.logger, http.StatusOK, heartbeatResponse{OK: true, PlayersSynced: res.Synced})
}

type pollResponse struct {
	Commands []domain.Command `json:"commands"`
}

// Poll handles GET /commands?server_id=.
func (h *AgentHandler) Poll(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFrom(r.Context())
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, "missing API key")
		return
	}
	serverID := strings.TrimSpace(r.URL.Query().Get("server_id"))

	cmds := h.uc.Poll(r.Context(), tenant, serverID)
	h.metrics.ObserveRequest("poll", "ok")
	respondWithJSON(w, h.logger, http.StatusOK, pollResponse{Commands: cmds})
}

// EmptyPoll answers a poll with no commands. It serves polls whose
// credential could not be checked because the tenant store is failing.
func (h *AgentHandler) EmptyPoll(w http.ResponseWriter, r *http.Request) {
	h.metrics.ObserveRequest("poll", "error")
	respondWithJSON(w, h.logger, http.StatusOK, pollResponse{Commands: []domain.Command{}})
}

// ackBody accepts both {command_id, status, result_message} and the legacy
// {command_id, success, message} form.
type ackBody struct {
	CommandID     flexString `json:"command_id"`
	ServerID      flexString `json:"server_id"`
	Status        string     `json:"status"`
	ResultMessage *string    `json:"result_message"`
	Success       *bool      `json:"success"`
	Message       *string    `json:"message"`
}

type ack struct {
	CommandID string               `json:"command_id" validate:"required,max=64"`
	Status    domain.CommandStatus `json:"status" validate:"oneof=SUCCESS FAILED"`
	Message   *string              `json:"result_message" validate:"omitempty,max=4096"`
}

func (b *ackBody) normalize() ack {
	a := ack{CommandID: string(b.CommandID), Message: b.ResultMessage}
	switch {
	case strings.TrimSpace(b.Status) != "":
		a.Status = domain.CommandStatus(strings.ToUpper(strings.TrimSpace(b.Status)))
	case b.Success != nil && *b.Success:
		a.Status = domain.StatusSuccess
	default:
		a.Status = domain.StatusFailed
	}
	if a.Message == nil {
		a.Message = b.Message
	}
	return a
}

type okResponse struct {
	OK bool `json:"ok"`
}

// Ack handles POST /commands/ack.
func (h *AgentHandler) Ack(w http.ResponseWriter, r *http.Request) {
	tenant, ok := middleware.TenantFrom(r.Context())
	if !ok {
		respondWithError(w, h.logger, http.StatusUnauthorized, "missing API key")
		return
	}

	var body ackBody
	if err := decodeJSON(w, r, h.maxBodyBytes, &body); err != nil {
		h.badRequest(w, "ack", err)
		return
	}
	a := body.normalize()
	if err := validate.Struct(a); err != nil {
		h.metrics.ObserveRequest("ack", "invalid")
		respondWithError(w, h.logger, http.StatusBadRequest, validationMessage(err))
		return
	}

	if err := h.uc.Ack(r.Context(), tenant, string(body.ServerID), a.CommandID, a.Status, a.Message); err != nil {
		if domain.IsValidationError(err) {
			h.metrics.ObserveRequest("ack", "invalid")
		} else {
			h.metrics.ObserveRequest("ack", "error")
		}
		respondWithDomainError(w, h.logger, err)
		return
	}
	h.metrics.ObserveRequest("ack", "ok")
	respondWithJSON(w, h.logger, http.StatusOK, okResponse{OK: true})
}

func (h *AgentHandler) badRequest(w http.ResponseWriter, op string, err error) {
	h.metrics.ObserveRequest(op, "invalid")
	if errors.Is(err, errBodyTooLarge) {
		respondWithError(w, h.logger, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	h.logger.Warn("rejected malformed request", "operation", op, "error", err)
	respondWithError(w, h.logger, http.StatusBadRequest, err.Error())
}

func firstNonEmpty(vals ...flexString) flexString {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
