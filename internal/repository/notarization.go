package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/basalt/basalt/internal/model"
)

// ErrNotarizationNotFound is returned when no record matches.
var ErrNotarizationNotFound = errors.New("notarization not found")

const notarizationColumns = `
	id, user_id, original_filename, file_type, file_size, sha256_hash,
	ipfs_cid, anchor_ref, signature_status, status, metadata, created_at`

// CreateNotarization inserts a notarization record.
func (r *Repository) CreateNotarization(ctx context.Context, n *model.Notarization) error {
	metadata, err := encodeMetadata(n.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notarizations (
			id, user_id, original_filename, file_type, file_size, sha256_hash,
			ipfs_cid, anchor_ref, signature_status, status, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = r.pool.Exec(ctx, query,
		n.ID,
		n.UserID,
		n.OriginalFilename,
		n.FileType,
		n.FileSize,
		n.SHA256Hash,
		n.IPFSCID,
		n.AnchorRef,
		n.SignatureStatus,
		string(n.Status),
		metadata,
		n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notarization: %w", err)
	}
	return nil
}

// GetNotarization retrieves a record by ID.
func (r *Repository) GetNotarization(ctx context.Context, id string) (*model.Notarization, error) {
	query := `SELECT ` + notarizationColumns + ` FROM notarizations WHERE id = $1`

	n, err := scanNotarization(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get notarization: %w", err)
	}
	return n, nil
}

// FindCompletedNotarization returns the newest completed record matching the
// content hash and CID.
func (r *Repository) FindCompletedNotarization(ctx context.Context, sha256Hash, cid string) (*model.Notarization, error) {
	query := `
		SELECT ` + notarizationColumns + `
		FROM notarizations
		WHERE sha256_hash = $1 AND ipfs_cid = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	n, err := scanNotarization(r.pool.QueryRow(ctx, query, sha256Hash, cid, string(model.NotarizationCompleted)))
	if err != nil {
		return nil, fmt.Errorf("failed to find notarization: %w", err)
	}
	return n, nil
}

// ListNotarizationsByUserID returns a user's records, newest first.
func (r *Repository) ListNotarizationsByUserID(ctx context.Context, userID int64, limit int) ([]*model.Notarization, error) {
	query := `
		SELECT ` + notarizationColumns + `
		FROM notarizations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notarizations: %w", err)
	}
	defer rows.Close()

	var out []*model.Notarization
	for rows.Next() {
		n, err := scanNotarization(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notarization: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notarizations: %w", err)
	}
	return out, nil
}

// CountNotarizationsByUserID returns how many notarizations the user has made.
func (r *Repository) CountNotarizationsByUserID(ctx context.Context, userID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM notarizations WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count notarizations: %w", err)
	}
	return n, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return data, nil
}

func scanNotarization(row pgx.Row) (*model.Notarization, error) {
	var (
		n        model.Notarization
		status   string
		metadata []byte
	)
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.OriginalFilename,
		&n.FileType,
		&n.FileSize,
		&n.SHA256Hash,
		&n.IPFSCID,
		&n.AnchorRef,
		&n.SignatureStatus,
		&status,
		&metadata,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotarizationNotFound
		}
		return nil, err
	}

	n.Status = model.NotarizationStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &n, nil
}
