package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/model"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "session"

// SessionResolver maps a session token to an active user. A nil user with a
// nil error means "not signed in".
type SessionResolver interface {
	ResolveSession(ctx context.Context, token string) (*model.User, error)
}

// Session resolves the session cookie, if any, and stores the user in the
// request context. Anonymous and stale sessions pass through; a store fault
// while resolving ends the request with 503.
func Session(resolver SessionResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := resolver.ResolveSession(r.Context(), cookie.Value)
			if err != nil {
				logger.Error("session lookup failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeUnavailable(w, r)
				return
			}
			if user == nil {
				next.ServeHTTP(w, r)
				return
			}

			annotateLog(r.Context(), user.ID, auth.MethodSession)
			ctx := auth.ContextWithUser(r.Context(), user, auth.MethodSession)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireSession redirects anonymous browsers to /login.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.UserFromContext(r.Context()) == nil {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUserJSON answers anonymous API calls with a 401 JSON body.
func RequireUserJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.UserFromContext(r.Context()) == nil {
			writeAuthError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeUnavailable answers API paths with JSON and pages with plain text.
func writeUnavailable(w http.ResponseWriter, r *http.Request) {
	const msg = "Service temporarily unavailable"
	if isAPIRequest(r) {
		WriteJSONError(w, http.StatusServiceUnavailable, msg)
		return
	}
	http.Error(w, msg, http.StatusServiceUnavailable)
}

func isAPIRequest(r *http.Request) bool {
	p := r.URL.Path
	return strings.HasPrefix(p, "/api/") || p == "/api" || p == "/notarize" ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}
