package middleware

import (
	"context"
	"net/http"
	"strings"
)

const actorContextKey contextKey = "actor"

// Auth resolves the calling actor for /v1/ routes. With tokens configured a
// bearer token is required and maps to its actor; without tokens the
// X-Actor-Id header is trusted as-is.
func Auth(tokens map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/v1/") {
				next.ServeHTTP(w, r)
				return
			}

			if len(tokens) == 0 {
				actor := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
				return
			}

			authorization := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(authorization, prefix) {
				writeUnauthorized(w, r)
				return
			}

			token := strings.TrimSpace(strings.TrimPrefix(authorization, prefix))
			actor, ok := tokens[token]
			if token == "" || !ok {
				writeUnauthorized(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// GetActor returns the authenticated actor, or "" when none was resolved.
func GetActor(ctx context.Context) string {
	value, _ := ctx.Value(actorContextKey).(string)
	return value
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request) {
	writeErrorEnvelope(w, r, http.StatusUnauthorized, "unauthorized", "authentication required")
}
