package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck pings one backing dependency, such as the database or Redis.
type HealthCheck func(ctx context.Context) error

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// WithHealthChecks registers the dependency checks reported by /healthz.
func (api *API) WithHealthChecks(checks map[string]HealthCheck) *API {
	for name, check := range checks {
		if check != nil {
			api.checks[name] = check
		}
	}
	return api
}

// Health answers 503 when any registered dependency check fails.
func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	if len(api.checks) == 0 {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	names := make([]string, 0, len(api.checks))
	for name := range api.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	response := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := api.checks[name](ctx)
		cancel()
		if err != nil {
			api.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			response.Checks[name] = err.Error()
			response.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		response.Checks[name] = "ok"
	}
	writeJSON(w, status, response)
}
