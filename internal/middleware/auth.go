package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/model"
)

// KeyValidator resolves a presented API key to its active owner. A nil user
// with a nil error means the key was not accepted.
type KeyValidator interface {
	Validate(ctx context.Context, key string) (*model.User, *model.APIKey, error)
}

// AuthConfig holds configuration for the API key middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Keys   KeyValidator
}

// APIKeyAuth returns a middleware that authenticates programmatic requests.
// It extracts the key from the Authorization or X-API-Key header, validates
// it and injects the owner into the request context. Requests without a key
// fall back to a session user set by Session; with neither, the request is
// rejected. A presented key that fails validation is always rejected, even
// when a session cookie is also present.
func APIKeyAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractAPIKey(r)
			if key == "" {
				if auth.UserFromContext(r.Context()) != nil {
					next.ServeHTTP(w, r)
					return
				}
				logAuthFailure(cfg.Logger, r, "missing_key")
				writeAuthError(w)
				return
			}

			if !auth.HasKeyPrefix(key) {
				logAuthFailure(cfg.Logger, r, "invalid_format")
				writeAuthError(w)
				return
			}

			user, apiKey, err := cfg.Keys.Validate(r.Context(), key)
			if err != nil {
				cfg.Logger.Error("database error during auth",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				WriteJSONError(w, http.StatusServiceUnavailable, "Authentication temporarily unavailable")
				return
			}
			if user == nil {
				logAuthFailure(cfg.Logger, r, "invalid_key")
				writeAuthError(w)
				return
			}

			cfg.Logger.Debug("authentication successful",
				slog.Int64("key_id", apiKey.ID),
				slog.String("key_hint", apiKey.KeyHint),
				slog.Int64("user_id", user.ID),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			annotateLog(r.Context(), user.ID, auth.MethodAPIKey)
			ctx := auth.ContextWithUser(r.Context(), user, auth.MethodAPIKey)
			ctx = auth.ContextWithKeyID(ctx, apiKey.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", clientIP(r)),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}

// extractAPIKey extracts the API key from the request.
// Supports both "Authorization: Bearer <key>" and "X-API-Key: <key>" headers.
func extractAPIKey(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > len("Bearer ") && strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
			return strings.TrimSpace(h[len("Bearer "):])
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}
