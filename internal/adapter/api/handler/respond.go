package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/V4T54L/fleet-dispatch/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondWithJSON(w http.ResponseWriter, logger *slog.Logger, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal JSON response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"internal server error"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, logger *slog.Logger, code int, msg string) {
	respondWithJSON(w, logger, code, errorResponse{Error: msg})
}

// respondWithDomainError maps well-known domain errors onto status codes.
// Anything unrecognised is logged and reported as a 500 without detail.
func respondWithDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		respondWithError(w, logger, http.StatusBadRequest, ve.Error())
	case errors.Is(err, domain.ErrTenantNotFound):
		respondWithError(w, logger, http.StatusNotFound, "place not found")
	case errors.Is(err, domain.ErrPlayerNotFound):
		respondWithError(w, logger, http.StatusNotFound, "player not found")
	case errors.Is(err, domain.ErrCommandNotFound):
		respondWithError(w, logger, http.StatusNotFound, "command not found")
	case errors.Is(err, domain.ErrTenantExists):
		respondWithError(w, logger, http.StatusConflict, "place already exists")
	default:
		logger.Error("request failed", "error", err)
		respondWithError(w, logger, http.StatusInternalServerError, "internal server error")
	}
}
