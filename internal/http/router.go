package httpserver

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/http/handlers"
	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Metrics        http.Handler
	Logger         *zap.Logger
	AuthTokens     map[string]string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", deps.API.Health)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}

	mux.HandleFunc("POST /v1/previews", deps.API.Preview)
	mux.HandleFunc("POST /v1/batches", deps.API.CreateBatch)
	mux.HandleFunc("GET /v1/batches", deps.API.ListBatches)
	mux.HandleFunc("GET /v1/batches/{id}", deps.API.GetBatch)
	mux.HandleFunc("DELETE /v1/batches/{id}", deps.API.DeleteBatch)
	mux.HandleFunc("POST /v1/batches/{id}/start", deps.API.StartBatch)
	mux.HandleFunc("POST /v1/batches/{id}/pause", deps.API.PauseBatch)
	mux.HandleFunc("POST /v1/batches/{id}/stop", deps.API.StopBatch)
	mux.HandleFunc("GET /v1/batches/{id}/progress", deps.API.BatchProgress)
	mux.HandleFunc("GET /v1/batches/{id}/items", deps.API.BatchItems)

	handler := http.Handler(mux)
	handler = middleware.RateLimit(middleware.RateLimitConfig{
		RPS:    deps.RateLimitRPS,
		Burst:  deps.RateLimitBurst,
		Logger: deps.Logger,
	})(handler)
	handler = middleware.Auth(deps.AuthTokens)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
