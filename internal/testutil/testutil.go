// Package testutil provides shared fixtures and an in-memory store for tests.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/model"
)

var seq atomic.Int64

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixNano(), seq.Add(1))
}

// UniqueEmail generates a unique, normalized email address.
func UniqueEmail(prefix string) string {
	return fmt.Sprintf("%s-%d-%d@example.com", prefix, time.Now().UnixNano(), seq.Add(1))
}

// TestPassword is the plaintext behind NewTestUser's password hash.
const TestPassword = "correct-horse-battery"

var testPasswordHash = func() string {
	h, err := auth.HashPassword(TestPassword)
	if err != nil {
		panic(err)
	}
	return h
}()

// NewTestUser creates an active free-tier user with sensible defaults.
// The password is TestPassword.
func NewTestUser(t testing.TB, email string) *model.User {
	t.Helper()
	return &model.User{
		Email:        email,
		PasswordHash: testPasswordHash,
		Name:         "Test User",
		Tier:         "free",
		MonthlyLimit: 10,
		ResetDate:    time.Now().UTC().Add(30 * 24 * time.Hour),
		IsActive:     true,
	}
}

// NewTestUserWithTier creates a test user on a specific plan.
func NewTestUserWithTier(t testing.TB, email, tier string, monthlyLimit int) *model.User {
	t.Helper()
	user := NewTestUser(t, email)
	user.Tier = tier
	user.MonthlyLimit = monthlyLimit
	return user
}

// NewTestAPIKey creates an active API key record for userID.
func NewTestAPIKey(t testing.TB, userID int64) *model.APIKey {
	t.Helper()
	generated, err := auth.GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey failed: %v", err)
	}
	return &model.APIKey{
		UserID:   userID,
		KeyHash:  generated.Hash,
		KeyHint:  generated.Hint,
		Name:     "Test Key",
		IsActive: true,
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
