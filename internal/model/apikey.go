package model

import "time"

// APIKey represents a programmatic bearer credential owned by a user.
// Deleting a key only flips IsActive; the row is retained for audit.
type APIKey struct {
	ID         int64      `json:"id"`
	UserID     int64      `json:"user_id"`
	KeyHash    string     `json:"-"` // Never serialize
	KeyHint    string     `json:"key_hint"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	UsageCount int64      `json:"usage_count"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// APIKeyUsage is an aggregated usage delta for one key, applied in batches.
type APIKeyUsage struct {
	KeyID    int64
	Count    int64
	LastUsed time.Time
}

// APIKeyResponse represents an API key without its secret.
type APIKeyResponse struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	KeyHint    string     `json:"key_hint"`
	IsActive   bool       `json:"is_active"`
	UsageCount int64      `json:"usage_count"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ToResponse converts an APIKey to APIKeyResponse.
func (k *APIKey) ToResponse() APIKeyResponse {
	return APIKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		KeyHint:    k.KeyHint,
		IsActive:   k.IsActive,
		UsageCount: k.UsageCount,
		LastUsed:   k.LastUsed,
		CreatedAt:  k.CreatedAt,
	}
}

// APIKeyCreateResponse includes the plaintext key (shown only once).
type APIKeyCreateResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
	Key     string `json:"key"` // Plaintext - display once only!
	Name    string `json:"name"`
}
