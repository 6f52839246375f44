// Package quota enforces per-user notarization limits over a rolling period.
//
// Resets are lazy: a period only advances when the user's quota is consulted.
// Every read-modify-write goes through Store.UpdateQuota, which holds a row
// lock for the duration of the callback.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basalt/basalt/internal/model"
)

// DefaultPeriod is the length of one quota period.
const DefaultPeriod = 30 * 24 * time.Hour

// ErrQuotaExceeded is returned by Reserve when the user has no quota left.
var ErrQuotaExceeded = errors.New("monthly quota exceeded")

// Mode selects how reset_date advances once it has passed.
type Mode string

const (
	// ModeSliding restarts the period at the moment the reset is applied.
	ModeSliding Mode = "sliding"
	// ModeAnchored advances the original reset date by whole periods.
	ModeAnchored Mode = "anchored"
)

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSliding, "":
		return ModeSliding, nil
	case ModeAnchored:
		return ModeAnchored, nil
	default:
		return "", fmt.Errorf("unknown quota reset mode %q", s)
	}
}

// Store persists quota fields. UpdateQuota loads the user under a row lock,
// applies fn and writes back the quota columns in one transaction. If fn
// returns an error nothing is written and the error is returned unchanged.
type Store interface {
	UpdateQuota(ctx context.Context, userID int64, fn func(u *model.User) error) (*model.User, error)
}

// Tracker implements the quota checks used before and after billable work.
type Tracker struct {
	store  Store
	period time.Duration
	mode   Mode
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPeriod overrides DefaultPeriod.
func WithPeriod(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.period = d
		}
	}
}

// WithMode selects the reset mode.
func WithMode(m Mode) Option {
	return func(t *Tracker) {
		t.mode = m
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a Tracker.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		period: DefaultPeriod,
		mode:   ModeSliding,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Period returns the configured period length.
func (t *Tracker) Period() time.Duration {
	return t.period
}

// InitialResetDate returns the reset date for a newly created account.
func (t *Tracker) InitialResetDate() time.Time {
	return t.now().Add(t.period)
}

// Remaining reports whether the user may perform another billable operation.
// If the reset date has passed, usage is zeroed and the reset date advanced
// first. user is refreshed in place with the stored values.
func (t *Tracker) Remaining(ctx context.Context, user *model.User) (bool, error) {
	if !user.QuotaResetDue(t.now()) {
		return user.HasQuota(), nil
	}

	updated, err := t.store.UpdateQuota(ctx, user.ID, func(u *model.User) error {
		t.applyReset(u)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("reset quota: %w", err)
	}
	copyQuota(user, updated)
	return user.HasQuota(), nil
}

// Increment adds one to the usage counter without checking the limit.
func (t *Tracker) Increment(ctx context.Context, user *model.User) error {
	updated, err := t.store.UpdateQuota(ctx, user.ID, func(u *model.User) error {
		u.NotarizationsThisMonth++
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment quota: %w", err)
	}
	copyQuota(user, updated)
	return nil
}

// Reserve applies any due reset, checks the limit and increments usage as a
// single atomic step. It returns ErrQuotaExceeded without writing when the
// user is at the limit. Concurrent calls for one user never exceed the limit.
func (t *Tracker) Reserve(ctx context.Context, user *model.User) error {
	updated, err := t.store.UpdateQuota(ctx, user.ID, func(u *model.User) error {
		t.applyReset(u)
		if !u.HasQuota() {
			copyQuota(user, u)
			return ErrQuotaExceeded
		}
		u.NotarizationsThisMonth++
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			return ErrQuotaExceeded
		}
		return fmt.Errorf("reserve quota: %w", err)
	}
	copyQuota(user, updated)
	return nil
}

// Release returns a reservation whose operation failed. Usage never drops
// below zero.
func (t *Tracker) Release(ctx context.Context, user *model.User) error {
	updated, err := t.store.UpdateQuota(ctx, user.ID, func(u *model.User) error {
		if u.NotarizationsThisMonth > 0 {
			u.NotarizationsThisMonth--
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("release quota: %w", err)
	}
	copyQuota(user, updated)
	return nil
}

func (t *Tracker) applyReset(u *model.User) {
	now := t.now()
	if !u.QuotaResetDue(now) {
		return
	}
	u.NotarizationsThisMonth = 0
	u.ResetDate = NextReset(u.ResetDate, now, t.period, t.mode)
}

// NextReset computes the reset date that follows resetAt once now has passed
// it. Sliding mode starts a fresh period at now. Anchored mode keeps the
// original schedule, skipping as many whole periods as have elapsed.
func NextReset(resetAt, now time.Time, period time.Duration, mode Mode) time.Time {
	if mode != ModeAnchored || resetAt.IsZero() || period <= 0 {
		return now.Add(period)
	}
	if resetAt.After(now) {
		return resetAt
	}
	elapsed := now.Sub(resetAt)
	periods := elapsed/period + 1
	return resetAt.Add(periods * period)
}

func copyQuota(dst, src *model.User) {
	if src == nil || dst == src {
		return
	}
	dst.Tier = src.Tier
	dst.MonthlyLimit = src.MonthlyLimit
	dst.NotarizationsThisMonth = src.NotarizationsThisMonth
	dst.ResetDate = src.ResetDate
}
