package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/basalt/basalt/internal/model"
	"github.com/basalt/basalt/internal/repository"
)

// MemoryStore is an in-memory stand-in for repository.Repository. It returns
// the repository's sentinel errors so services behave as they do in
// production. Set Err to make every call fail.
type MemoryStore struct {
	mu            sync.Mutex
	users         map[int64]model.User
	keys          map[int64]model.APIKey
	notarizations map[string]model.Notarization
	nextUserID    int64
	nextKeyID     int64

	// Err, when set, is returned by every method.
	Err error
	// Calls counts method invocations.
	Calls int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[int64]model.User),
		keys:          make(map[int64]model.APIKey),
		notarizations: make(map[string]model.Notarization),
	}
}

func (s *MemoryStore) enter() error {
	s.Calls++
	return s.Err
}

// CallCount returns how many store methods have been called.
func (s *MemoryStore) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

// CreateUser implements the user store.
func (s *MemoryStore) CreateUser(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	for _, u := range s.users {
		if u.Email == user.Email {
			return repository.ErrEmailExists
		}
	}
	s.nextUserID++
	user.ID = s.nextUserID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.ID] = *user
	return nil
}

// GetUserByID implements the user store.
func (s *MemoryStore) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return &u, nil
}

// GetUserByEmail implements the user store.
func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrUserNotFound
}

// UpdateLastLogin implements the user store.
func (s *MemoryStore) UpdateLastLogin(_ context.Context, id int64, at time.Time) error {
	return s.mutateUser(id, func(u *model.User) { u.LastLogin = &at })
}

// MarkUserVerified implements the user store.
func (s *MemoryStore) MarkUserVerified(_ context.Context, id int64) error {
	return s.mutateUser(id, func(u *model.User) { u.IsVerified = true })
}

// UpdateUserTier implements the user store.
func (s *MemoryStore) UpdateUserTier(_ context.Context, id int64, tier string, monthlyLimit int) error {
	return s.mutateUser(id, func(u *model.User) {
		u.Tier = tier
		u.MonthlyLimit = monthlyLimit
	})
}

// SetUser overwrites a stored user; tests use it to arrange state.
func (s *MemoryStore) SetUser(user model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *MemoryStore) mutateUser(id int64, fn func(*model.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	u, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	fn(&u)
	s.users[id] = u
	return nil
}

// UpdateQuota implements quota.Store with the same all-or-nothing semantics
// as the row-locked transaction.
func (s *MemoryStore) UpdateQuota(_ context.Context, userID int64, fn func(*model.User) error) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if err := fn(&u); err != nil {
		return nil, err
	}
	stored := s.users[userID]
	stored.NotarizationsThisMonth = u.NotarizationsThisMonth
	stored.ResetDate = u.ResetDate
	s.users[userID] = stored
	return &stored, nil
}

// CreateAPIKey implements the API key store.
func (s *MemoryStore) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	for _, k := range s.keys {
		if k.KeyHash == key.KeyHash {
			return repository.ErrAPIKeyExists
		}
	}
	s.nextKeyID++
	key.ID = s.nextKeyID
	key.CreatedAt = time.Now().UTC()
	s.keys[key.ID] = *key
	return nil
}

// GetAPIKeyByHash implements the API key store.
func (s *MemoryStore) GetAPIKeyByHash(_ context.Context, keyHash string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	for _, k := range s.keys {
		if k.KeyHash == keyHash {
			return &k, nil
		}
	}
	return nil, repository.ErrAPIKeyNotFound
}

// GetAPIKey returns a stored key by ID for assertions.
func (s *MemoryStore) GetAPIKey(id int64) (model.APIKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	return k, ok
}

// ListAPIKeysByUserID implements the API key store.
func (s *MemoryStore) ListAPIKeysByUserID(_ context.Context, userID int64) ([]*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	var out []*model.APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			k := k
			out = append(out, &k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// DeactivateAPIKey implements the API key store.
func (s *MemoryStore) DeactivateAPIKey(_ context.Context, id, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	k, ok := s.keys[id]
	if !ok || k.UserID != userID || !k.IsActive {
		return repository.ErrAPIKeyNotFound
	}
	k.IsActive = false
	s.keys[id] = k
	return nil
}

// ApplyAPIKeyUsage implements the API key store.
func (s *MemoryStore) ApplyAPIKeyUsage(_ context.Context, usage []model.APIKeyUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	for _, u := range usage {
		k, ok := s.keys[u.KeyID]
		if !ok {
			continue
		}
		k.UsageCount += u.Count
		if k.LastUsed == nil || u.LastUsed.After(*k.LastUsed) {
			last := u.LastUsed
			k.LastUsed = &last
		}
		s.keys[u.KeyID] = k
	}
	return nil
}

// CreateNotarization implements the notarization store.
func (s *MemoryStore) CreateNotarization(_ context.Context, n *model.Notarization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return err
	}
	if _, exists := s.notarizations[n.ID]; exists {
		return errors.New("duplicate notarization id")
	}
	s.notarizations[n.ID] = *n
	return nil
}

// GetNotarization implements the notarization store.
func (s *MemoryStore) GetNotarization(_ context.Context, id string) (*model.Notarization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	n, ok := s.notarizations[id]
	if !ok {
		return nil, repository.ErrNotarizationNotFound
	}
	return &n, nil
}

// FindCompletedNotarization implements the notarization store.
func (s *MemoryStore) FindCompletedNotarization(_ context.Context, sha256Hash, cid string) (*model.Notarization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	var found *model.Notarization
	for _, n := range s.notarizations {
		if n.SHA256Hash == sha256Hash && n.IPFSCID == cid && n.Status == model.NotarizationCompleted {
			if found == nil || n.CreatedAt.After(found.CreatedAt) {
				n := n
				found = &n
			}
		}
	}
	if found == nil {
		return nil, repository.ErrNotarizationNotFound
	}
	return found, nil
}

// ListNotarizationsByUserID implements the notarization store.
func (s *MemoryStore) ListNotarizationsByUserID(_ context.Context, userID int64, limit int) ([]*model.Notarization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return nil, err
	}
	var out []*model.Notarization
	for _, n := range s.notarizations {
		if n.UserID == userID {
			n := n
			out = append(out, &n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountNotarizationsByUserID implements the notarization store.
func (s *MemoryStore) CountNotarizationsByUserID(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(); err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range s.notarizations {
		if rec.UserID == userID {
			n++
		}
	}
	return n, nil
}

// Notarizations returns all stored records for assertions.
func (s *MemoryStore) Notarizations() []model.Notarization {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notarization, 0, len(s.notarizations))
	for _, n := range s.notarizations {
		out = append(out, n)
	}
	return out
}
