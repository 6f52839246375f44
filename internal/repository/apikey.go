package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/basalt/basalt/internal/model"
)

// Common errors for API key repository operations.
var (
	ErrAPIKeyNotFound = errors.New("API key not found")
	ErrAPIKeyExists   = errors.New("API key hash collision")
)

const apiKeyColumns = `id, user_id, key_hash, key_hint, name, is_active, usage_count, last_used, created_at`

// CreateAPIKey inserts a new API key and fills in its ID and timestamp.
func (r *Repository) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	query := `
		INSERT INTO api_keys (user_id, key_hash, key_hint, name, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.pool.QueryRow(ctx, query,
		key.UserID,
		key.KeyHash,
		key.KeyHint,
		key.Name,
		key.IsActive,
	).Scan(&key.ID, &key.CreatedAt)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrAPIKeyExists
		}
		return fmt.Errorf("failed to create API key: %w", err)
	}

	return nil
}

// GetAPIKeyByHash looks up a key, active or not, by its lookup hash.
func (r *Repository) GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`

	key, err := scanAPIKey(r.pool.QueryRow(ctx, query, keyHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return key, nil
}

// ListAPIKeysByUserID retrieves all API keys for a user, newest first.
func (r *Repository) ListAPIKeysByUserID(ctx context.Context, userID int64) ([]*model.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var keys []*model.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating API keys: %w", err)
	}

	return keys, nil
}

// DeactivateAPIKey flips is_active off for a key owned by userID.
// Keys are never deleted. A missing, foreign or already inactive key yields
// ErrAPIKeyNotFound.
func (r *Repository) DeactivateAPIKey(ctx context.Context, id, userID int64) error {
	query := `
		UPDATE api_keys
		SET is_active = FALSE
		WHERE id = $1 AND user_id = $2 AND is_active
	`

	result, err := r.pool.Exec(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate API key: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}

	return nil
}

// ApplyAPIKeyUsage adds aggregated usage deltas. last_used only moves forward.
func (r *Repository) ApplyAPIKeyUsage(ctx context.Context, usage []model.APIKeyUsage) error {
	if len(usage) == 0 {
		return nil
	}

	query := `
		UPDATE api_keys
		SET usage_count = usage_count + $2,
		    last_used = GREATEST(COALESCE(last_used, $3), $3)
		WHERE id = $1
	`

	batch := &pgx.Batch{}
	for _, u := range usage {
		batch.Queue(query, u.KeyID, u.Count, u.LastUsed)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range usage {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("apply usage for key %d: %w", usage[i].KeyID, err)
		}
	}

	return nil
}

func scanAPIKey(row pgx.Row) (*model.APIKey, error) {
	var key model.APIKey
	err := row.Scan(
		&key.ID,
		&key.UserID,
		&key.KeyHash,
		&key.KeyHint,
		&key.Name,
		&key.IsActive,
		&key.UsageCount,
		&key.LastUsed,
		&key.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &key, nil
}
