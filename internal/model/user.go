// Package model defines domain entities for the application.
package model

import (
	"strings"
	"time"
)

// User is the root account entity. API keys and notarizations reference it.
type User struct {
	ID           int64  `json:"id"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // Never serialize
	Name         string `json:"name"`
	Company      string `json:"company,omitempty"`

	// Subscription and quota
	Tier                   string    `json:"tier"`
	MonthlyLimit           int       `json:"monthly_limit"`
	NotarizationsThisMonth int       `json:"notarizations_this_month"`
	ResetDate              time.Time `json:"reset_date"`

	IsActive   bool       `json:"is_active"`
	IsVerified bool       `json:"is_verified"`
	CreatedAt  time.Time  `json:"created_at"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
}

// NormalizeEmail returns the canonical form used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasQuota reports whether the stored usage is below the limit.
// It does not apply the period reset; see quota.Tracker for that.
func (u *User) HasQuota() bool {
	return u.NotarizationsThisMonth < u.MonthlyLimit
}

// QuotaRemaining returns how many notarizations are left in the current period.
func (u *User) QuotaRemaining() int {
	if left := u.MonthlyLimit - u.NotarizationsThisMonth; left > 0 {
		return left
	}
	return 0
}

// QuotaResetDue reports whether now is past the stored reset timestamp.
func (u *User) QuotaResetDue(now time.Time) bool {
	return now.After(u.ResetDate)
}

// UsagePercent is used by the dashboard progress bar.
func (u *User) UsagePercent() int {
	if u.MonthlyLimit <= 0 {
		return 100
	}
	pct := u.NotarizationsThisMonth * 100 / u.MonthlyLimit
	if pct > 100 {
		return 100
	}
	return pct
}

// UsageResponse is the JSON view of a user's quota state.
type UsageResponse struct {
	Tier         string    `json:"tier"`
	MonthlyLimit int       `json:"monthly_limit"`
	Used         int       `json:"used"`
	Remaining    int       `json:"remaining"`
	ResetDate    time.Time `json:"reset_date"`
	APIAccess    bool      `json:"api_access"`
}
