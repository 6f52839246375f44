package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/metrics"
	"github.com/basalt/basalt/internal/model"
	"github.com/basalt/basalt/internal/repository"
	"github.com/basalt/basalt/internal/tier"
)

const (
	defaultKeyName   = "Default"
	maxKeyNameLength = 100
	maxKeygenRetries = 3
)

// APIKeyStore is the persistence needed for API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	ListAPIKeysByUserID(ctx context.Context, userID int64) ([]*model.APIKey, error)
	DeactivateAPIKey(ctx context.Context, id, userID int64) error
	ApplyAPIKeyUsage(ctx context.Context, usage []model.APIKeyUsage) error
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
}

// UsageSink buffers key usage for asynchronous persistence.
type UsageSink interface {
	Record(ctx context.Context, keyID int64, at time.Time) error
}

// APIKeyService issues, lists, deactivates and validates API keys.
type APIKeyService struct {
	store   APIKeyStore
	usage   UsageSink
	catalog *tier.Catalog
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewAPIKeyService creates a new APIKeyService. usage may be nil, in which
// case every validation writes its usage synchronously.
func NewAPIKeyService(store APIKeyStore, usage UsageSink, catalog *tier.Catalog, logger *slog.Logger, recorder metrics.Recorder) *APIKeyService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if catalog == nil {
		catalog = tier.DefaultCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyService{
		store:   store,
		usage:   usage,
		catalog: catalog,
		logger:  logger.With("component", "apikey"),
		metrics: recorder,
		now:     time.Now,
	}
}

// Create issues a new key for user. The plaintext is only returned here.
func (s *APIKeyService) Create(ctx context.Context, user *model.User, name string) (*model.APIKeyCreateResponse, error) {
	if !s.catalog.Lookup(user.Tier).APIAccess {
		return nil, ErrAPIAccessNotAllowed
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = defaultKeyName
	}
	if len(name) > maxKeyNameLength {
		return nil, fmt.Errorf("%w: name must be at most %d characters", ErrInvalidInput, maxKeyNameLength)
	}

	for attempt := 0; attempt < maxKeygenRetries; attempt++ {
		generated, err := auth.GenerateAPIKey()
		if err != nil {
			return nil, err
		}

		key := &model.APIKey{
			UserID:   user.ID,
			KeyHash:  generated.Hash,
			KeyHint:  generated.Hint,
			Name:     name,
			IsActive: true,
		}
		if err := s.store.CreateAPIKey(ctx, key); err != nil {
			if errors.Is(err, repository.ErrAPIKeyExists) {
				continue
			}
			return nil, fmt.Errorf("create API key: %w", err)
		}

		s.metrics.IncAPIKeyCreated()
		s.logger.Info("API key created", "user_id", user.ID, "key_id", key.ID)

		return &model.APIKeyCreateResponse{
			Message: "API key created. Save it now - it won't be shown again!",
			ID:      key.ID,
			Key:     generated.Plaintext,
			Name:    key.Name,
		}, nil
	}

	return nil, errors.New("create API key: exhausted retries")
}

// List returns the user's keys without secrets.
func (s *APIKeyService) List(ctx context.Context, userID int64) ([]model.APIKeyResponse, error) {
	keys, err := s.store.ListAPIKeysByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]model.APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.ToResponse())
	}
	return out, nil
}

// Deactivate disables a key owned by userID. The row is kept.
func (s *APIKeyService) Deactivate(ctx context.Context, userID, keyID int64) error {
	err := s.store.DeactivateAPIKey(ctx, keyID, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			return ErrAPIKeyNotFound
		}
		return err
	}
	s.logger.Info("API key deactivated", "user_id", userID, "key_id", keyID)
	return nil
}

// Validate resolves a presented key to its active owner. A malformed, unknown
// or inactive key, or an inactive owner, returns nil with no error and the
// store is not consulted for malformed keys. Store faults are returned.
// A successful validation counts as one use of the key.
func (s *APIKeyService) Validate(ctx context.Context, presented string) (*model.User, *model.APIKey, error) {
	if !auth.ValidateKeyFormat(presented) {
		s.metrics.IncAPIKeyValidation(metrics.ResultInvalid)
		return nil, nil, nil
	}

	key, err := s.store.GetAPIKeyByHash(ctx, auth.HashAPIKey(presented))
	if err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			s.metrics.IncAPIKeyValidation(metrics.ResultInvalid)
			return nil, nil, nil
		}
		s.metrics.IncAPIKeyValidation(metrics.ResultError)
		return nil, nil, fmt.Errorf("look up API key: %w", err)
	}
	if !key.IsActive {
		s.metrics.IncAPIKeyValidation(metrics.ResultInvalid)
		return nil, nil, nil
	}

	user, err := s.store.GetUserByID(ctx, key.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.metrics.IncAPIKeyValidation(metrics.ResultInvalid)
			return nil, nil, nil
		}
		s.metrics.IncAPIKeyValidation(metrics.ResultError)
		return nil, nil, fmt.Errorf("load key owner: %w", err)
	}
	if !user.IsActive {
		s.metrics.IncAPIKeyValidation(metrics.ResultInvalid)
		return nil, nil, nil
	}

	s.recordUsage(ctx, key)
	s.metrics.IncAPIKeyValidation(metrics.ResultSuccess)
	return user, key, nil
}

// recordUsage buffers the use, falling back to a direct write when the buffer
// is unavailable. Failures are logged and never fail authentication.
func (s *APIKeyService) recordUsage(ctx context.Context, key *model.APIKey) {
	now := s.now().UTC()
	key.UsageCount++
	key.LastUsed = &now

	if s.usage != nil {
		err := s.usage.Record(ctx, key.ID, now)
		if err == nil {
			return
		}
		s.logger.Warn("usage buffer unavailable, writing directly", "key_id", key.ID, "error", err)
	}

	err := s.store.ApplyAPIKeyUsage(ctx, []model.APIKeyUsage{{KeyID: key.ID, Count: 1, LastUsed: now}})
	if err != nil {
		s.logger.Error("failed to record API key usage", "key_id", key.ID, "error", err)
	}
}
