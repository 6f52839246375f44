package auth

import (
	"context"

	"github.com/basalt/basalt/internal/model"
)

// Method identifies how a request was authenticated.
type Method string

const (
	MethodSession Method = "session"
	MethodAPIKey  Method = "api_key"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	userContextKey   contextKey = "auth_user"
	methodContextKey contextKey = "auth_method"
	keyIDContextKey  contextKey = "auth_key_id"
)

// ContextWithUser stores the authenticated user and the method that resolved it.
func ContextWithUser(ctx context.Context, user *model.User, method Method) context.Context {
	ctx = context.WithValue(ctx, userContextKey, user)
	return context.WithValue(ctx, methodContextKey, method)
}

// ContextWithKeyID records which API key authenticated the request.
func ContextWithKeyID(ctx context.Context, keyID int64) context.Context {
	return context.WithValue(ctx, keyIDContextKey, keyID)
}

// UserFromContext returns the authenticated user, or nil.
func UserFromContext(ctx context.Context) *model.User {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok {
		return nil
	}
	return user
}

// MethodFromContext returns the auth method, or "" when unauthenticated.
func MethodFromContext(ctx context.Context) Method {
	m, _ := ctx.Value(methodContextKey).(Method)
	return m
}

// KeyIDFromContext returns the API key ID, or 0 for session requests.
func KeyIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(keyIDContextKey).(int64)
	return id
}

// UserIDFromContext is a convenience function to get the user ID from context.
// Returns 0 if not authenticated.
func UserIDFromContext(ctx context.Context) int64 {
	if user := UserFromContext(ctx); user != nil {
		return user.ID
	}
	return 0
}
