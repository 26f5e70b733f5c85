package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/http/middleware"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/logging"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/repository"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/service"
)

var errInvalidPayload = errors.New("invalid payload")

type API struct {
	batches *service.BatchService
	logger  *zap.Logger
	checks  map[string]HealthCheck
}

func NewAPI(batches *service.BatchService, logger *zap.Logger) *API {
	return &API{
		batches: batches,
		logger:  logging.OrNop(logger),
		checks:  make(map[string]HealthCheck),
	}
}

type errorPayload struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps service and repository errors onto the error envelope.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "batch not found")
	case errors.Is(err, domain.ErrAlreadyRunning):
		writeError(w, r, http.StatusConflict, "already_running", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrActorRequired):
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
	default:
		api.logger.Error("request failed",
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeJSON(r *http.Request, value any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		return errInvalidPayload
	}
	return nil
}

// queryInt reads a non-negative integer query parameter, or fallback when absent.
func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, errInvalidPayload
	}
	return value, nil
}
