package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/basalt/basalt/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("email already exists")
)

const userColumns = `
	id, email, password_hash, name, company, tier, monthly_limit,
	notarizations_this_month, reset_date, is_active, is_verified, created_at, last_login`

// CreateUser inserts a new user and fills in the generated ID and timestamp.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (
			email, password_hash, name, company, tier, monthly_limit,
			notarizations_this_month, reset_date, is_active, is_verified
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Company,
		user.Tier,
		user.MonthlyLimit,
		user.NotarizationsThisMonth,
		user.ResetDate,
		user.IsActive,
		user.IsVerified,
	).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by their (normalized) email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// UpdateLastLogin records a successful login.
func (r *Repository) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	result, err := r.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// MarkUserVerified flags the user's email address as confirmed.
func (r *Repository) MarkUserVerified(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, `UPDATE users SET is_verified = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark user verified: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateUserTier moves a user to another plan and sets its monthly limit.
func (r *Repository) UpdateUserTier(ctx context.Context, id int64, tier string, monthlyLimit int) error {
	result, err := r.pool.Exec(ctx,
		`UPDATE users SET tier = $2, monthly_limit = $3 WHERE id = $1`,
		id, tier, monthlyLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to update user tier: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateQuota loads the user with a row lock, applies fn and writes the quota
// columns back in the same transaction. An error from fn rolls back and is
// returned unwrapped.
func (r *Repository) UpdateQuota(ctx context.Context, userID int64, fn func(u *model.User) error) (*model.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin quota transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	user, err := scanUser(tx.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("lock user: %w", err)
	}

	if err := fn(user); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET notarizations_this_month = $2, reset_date = $3
		WHERE id = $1
	`, user.ID, user.NotarizationsThisMonth, user.ResetDate)
	if err != nil {
		return nil, fmt.Errorf("write quota: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit quota transaction: %w", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var user model.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&user.Name,
		&user.Company,
		&user.Tier,
		&user.MonthlyLimit,
		&user.NotarizationsThisMonth,
		&user.ResetDate,
		&user.IsActive,
		&user.IsVerified,
		&user.CreatedAt,
		&user.LastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}
