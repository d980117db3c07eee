package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
	"github.com/V4T54L/fleet-dispatch/internal/usecase"
)

// PlaceAdmin manages tenants.
type PlaceAdmin interface {
	Create(ctx context.Context, placeID, name string) (*domain.Tenant, string, error)
	RotateKey(ctx context.Context, placeID string) (string, error)
	Delete(ctx context.Context, placeID string) error
	Get(ctx context.Context, placeID string) (*domain.Tenant, error)
	List(ctx context.Context) ([]domain.Tenant, error)
}

// Operator is the operator side of the command queue and player store.
type Operator interface {
	Enqueue(ctx context.Context, placeID string, req usecase.EnqueueRequest) (*domain.Command, error)
	History(ctx context.Context, placeID string, filter domain.CommandFilter) ([]domain.Command, error)
	Players(ctx context.Context, placeID string, filter domain.PlayerFilter) ([]domain.PlayerSnapshot, error)
	SetPlayerFlag(ctx context.Context, placeID, playerID string, flag domain.PlayerFlag, value bool) error
	Stats(ctx context.Context, placeID string) (*domain.PlaceStats, error)
}

// OperatorHandler serves the operator API.
type OperatorHandler struct {
	places       PlaceAdmin
	uc           Operator
	activity     domain.ActivityReader
	logger       *slog.Logger
	maxBodyBytes int64
}

// NewOperatorHandler creates an OperatorHandler. activity may be nil when no
// Redis is configured, in which case the activity feed reports 503.
func NewOperatorHandler(places PlaceAdmin, uc Operator, activity domain.ActivityReader, logger *slog.Logger, maxBodyBytes int64) *OperatorHandler {
	return &OperatorHandler{
		places:       places,
		uc:           uc,
		activity:     activity,
		logger:       logger.With("component", "operator_handler"),
		maxBodyBytes: maxBodyBytes,
	}
}

// HealthCheck is a simple health check endpoint.
func (h *OperatorHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, h.logger, http.StatusOK, map[string]string{"status": "ok"})
}

// ListPlaces handles GET /admin/places.
func (h *OperatorHandler) ListPlaces(w http.ResponseWriter, r *http.Request) {
	places, err := h.places.List(r.Context())
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	if places == nil {
		places = []domain.Tenant{}
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]any{"places": places})
}

type createPlaceRequest struct {
	PlaceID flexString `json:"place_id" validate:"required"`
	Name    string     `json:"name" validate:"max=128"`
}

type placeWithKey struct {
	Place  *domain.Tenant `json:"place"`
	APIKey string         `json:"api_key"`
}

// CreatePlace handles POST /admin/places.
func (h *OperatorHandler) CreatePlace(w http.ResponseWriter, r *http.Request) {
	var req createPlaceRequest
	if !h.decode(w, r, &req) {
		return
	}
	place, key, err := h.places.Create(r.Context(), string(req.PlaceID), strings.TrimSpace(req.Name))
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, placeWithKey{Place: place, APIKey: key})
}

// GetPlace handles GET /admin/places/{placeID}.
func (h *OperatorHandler) GetPlace(w http.ResponseWriter, r *http.Request) {
	place, err := h.places.Get(r.Context(), r.PathValue("placeID"))
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, place)
}

// RotateKey handles POST /admin/places/{placeID}/rotate-key.
func (h *OperatorHandler) RotateKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.places.RotateKey(r.Context(), r.PathValue("placeID"))
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]string{"api_key": key})
}

// DeletePlace handles DELETE /admin/places/{placeID}.
func (h *OperatorHandler) DeletePlace(w http.ResponseWriter, r *http.Request) {
	if err := h.places.Delete(r.Context(), r.PathValue("placeID")); err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type enqueueRequest struct {
	ServerID       *string        `json:"server_id" validate:"omitempty,max=128"`
	CommandType    string         `json:"command_type" validate:"required,max=32"`
	TargetUsername *string        `json:"target_username" validate:"omitempty,max=64"`
	TargetPlayerID *flexString    `json:"target_player_id"`
	Payload        domain.Payload `json:"payload"`
	ExpiresAt      *time.Time     `json:"expires_at"`
	ExpiresIn      string         `json:"expires_in"`
	CreatedBy      *string        `json:"created_by" validate:"omitempty,max=128"`
}

// EnqueueCommand handles POST /admin/places/{placeID}/commands.
func (h *OperatorHandler) EnqueueCommand(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !h.decode(w, r, &req) {
		return
	}

	in := usecase.EnqueueRequest{
		ServerID:       req.ServerID,
		Type:           domain.CommandType(req.CommandType),
		TargetUsername: req.TargetUsername,
		Payload:        req.Payload,
		ExpiresAt:      req.ExpiresAt,
		CreatedBy:      req.CreatedBy,
	}
	if req.TargetPlayerID != nil {
		id := string(*req.TargetPlayerID)
		in.TargetPlayerID = &id
	}
	if req.ExpiresIn != "" && in.ExpiresAt == nil {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			respondWithError(w, h.logger, http.StatusBadRequest, "invalid field expires_in: must be a positive duration such as 90s")
			return
		}
		at := time.Now().UTC().Add(d)
		in.ExpiresAt = &at
	}

	cmd, err := h.uc.Enqueue(r.Context(), r.PathValue("placeID"), in)
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusCreated, cmd)
}

// CommandHistory handles GET /admin/places/{placeID}/commands?status=&limit=.
func (h *OperatorHandler) CommandHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter domain.CommandFilter
	if s := q.Get("status"); s != "" {
		status, ok := domain.ParseCommandStatus(strings.ToUpper(s))
		if !ok {
			respondWithError(w, h.logger, http.StatusBadRequest, "invalid field status: unknown status "+strconv.Quote(s))
			return
		}
		filter.Status = status
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	filter.Limit = limit

	cmds, err := h.uc.History(r.Context(), r.PathValue("placeID"), filter)
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]any{"commands": cmds})
}

// ListPlayers handles GET /admin/places/{placeID}/players?search=&flag=&server_id=&limit=.
func (h *OperatorHandler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.PlayerFilter{
		Search:   strings.TrimSpace(q.Get("search")),
		ServerID: strings.TrimSpace(q.Get("server_id")),
	}
	if f := q.Get("flag"); f != "" {
		flag, err := domain.ParsePlayerFlag(f)
		if err != nil {
			respondWithDomainError(w, h.logger, err)
			return
		}
		filter.Flag = flag
	}
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	filter.Limit = limit

	players, err := h.uc.Players(r.Context(), r.PathValue("placeID"), filter)
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]any{"players": players})
}

type flagRequest struct {
	Value *bool `json:"value" validate:"required"`
}

// SetPlayerFlag handles PUT /admin/places/{placeID}/players/{playerID}/flags/{flag}.
func (h *OperatorHandler) SetPlayerFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := domain.ParsePlayerFlag(r.PathValue("flag"))
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	var req flagRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.uc.SetPlayerFlag(r.Context(), r.PathValue("placeID"), r.PathValue("playerID"), flag, *req.Value); err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, okResponse{OK: true})
}

// Stats handles GET /admin/places/{placeID}/stats.
func (h *OperatorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.uc.Stats(r.Context(), r.PathValue("placeID"))
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, stats)
}

// Activity handles GET /admin/activity?place_id=&count=.
func (h *OperatorHandler) Activity(w http.ResponseWriter, r *http.Request) {
	if h.activity == nil {
		respondWithError(w, h.logger, http.StatusServiceUnavailable, "activity feed is not configured")
		return
	}

	var count int64 = 50
	if s := r.URL.Query().Get("count"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 || n > 1000 {
			respondWithError(w, h.logger, http.StatusBadRequest, "invalid field count: must be between 1 and 1000")
			return
		}
		count = n
	}

	events, err := h.activity.Recent(r.Context(), r.URL.Query().Get("place_id"), count)
	if err != nil {
		respondWithDomainError(w, h.logger, err)
		return
	}
	if events == nil {
		events = []domain.ActivityEvent{}
	}
	respondWithJSON(w, h.logger, http.StatusOK, map[string]any{"events": events})
}

func (h *OperatorHandler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		respondWithError(w, h.logger, http.StatusBadRequest, "invalid field limit: must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// decode parses and validates a JSON body, writing the error response itself
// when that fails.
func (h *OperatorHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(w, r, h.maxBodyBytes, dst); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			respondWithError(w, h.logger, http.StatusRequestEntityTooLarge, "payload too large")
			return false
		}
		respondWithError(w, h.logger, http.StatusBadRequest, err.Error())
		return false
	}
	if err := validate.Struct(dst); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}
