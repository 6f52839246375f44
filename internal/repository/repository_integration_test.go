//go:build integration

package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/model"
)

var (
	containerOnce sync.Once
	containerDSN  string
	containerErr  error
)

// sharedDSN starts one PostgreSQL container per test binary and migrates it.
func sharedDSN(t *testing.T) string {
	t.Helper()

	containerOnce.Do(func() {
		ctx := context.Background()
		pg, err := postgres.Run(ctx,
			"postgres:15-alpine",
			postgres.WithDatabase("basalt"),
			postgres.WithUsername("basalt"),
			postgres.WithPassword("basalt"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			containerErr = err
			return
		}

		dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = err
			return
		}
		if err := Migrate(dsn); err != nil {
			containerErr = err
			return
		}
		containerDSN = dsn
	})

	if containerErr != nil {
		t.Skipf("postgres container unavailable: %v", containerErr)
	}
	return containerDSN
}

func newTestEnv(t *testing.T) (context.Context, *Repository) {
	t.Helper()

	ctx := context.Background()
	repo, err := New(ctx, sharedDSN(t))
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	return ctx, repo
}

func newUser(email string) *model.User {
	return &model.User{
		Email:        email,
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA",
		Name:         "Repo Test",
		Tier:         "free",
		MonthlyLimit: 10,
		ResetDate:    time.Now().UTC().Add(30 * 24 * time.Hour),
		IsActive:     true,
	}
}

func newAPIKey(t *testing.T, userID int64) *model.APIKey {
	t.Helper()

	generated, err := auth.GenerateAPIKey()
	require.NoError(t, err)
	return &model.APIKey{
		UserID:   userID,
		KeyHash:  generated.Hash,
		KeyHint:  generated.Hint,
		Name:     "Test Key",
		IsActive: true,
	}
}

func createUser(t *testing.T, ctx context.Context, repo *Repository) *model.User {
	t.Helper()

	user := newUser(ulid.Make().String() + "@example.com")
	require.NoError(t, repo.CreateUser(ctx, user))
	require.NotZero(t, user.ID)
	return user
}

func TestIntegrationMigrate_Idempotent(t *testing.T) {
	dsn := sharedDSN(t)
	require.NoError(t, Migrate(dsn))
}

func TestIntegrationUserRepository_CreateAndGet(t *testing.T) {
	ctx, repo := newTestEnv(t)
	user := createUser(t, ctx, repo)

	byID, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Email, byID.Email)
	assert.Equal(t, user.PasswordHash, byID.PasswordHash)
	assert.Equal(t, "free", byID.Tier)
	assert.True(t, byID.IsActive)

	byEmail, err := repo.GetUserByEmail(ctx, user.Email)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)
}

func TestIntegrationUserRepository_DuplicateEmail(t *testing.T) {
	ctx, repo := newTestEnv(t)
	user := createUser(t, ctx, repo)

	dup := newUser(user.Email)
	err := repo.CreateUser(ctx, dup)
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestIntegrationUserRepository_NotFound(t *testing.T) {
	ctx, repo := newTestEnv(t)

	_, err := repo.GetUserByID(ctx, -1)
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = repo.GetUserByEmail(ctx, "nobody@example.invalid")
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.ErrorIs(t, repo.MarkUserVerified(ctx, -1), ErrUserNotFound)
}

func TestIntegrationUserRepository_TierAndLogin(t *testing.T) {
	ctx, repo := newTestEnv(t)
	user := createUser(t, ctx, repo)

	require.NoError(t, repo.UpdateUserTier(ctx, user.ID, "pro", 500))
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, repo.UpdateLastLogin(ctx, user.ID, now))
	require.NoError(t, repo.MarkUserVerified(ctx, user.ID))

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Tier)
	assert.Equal(t, 500, got.MonthlyLimit)
	assert.True(t, got.IsVerified)
	require.NotNil(t, got.LastLogin)
	assert.True(t, now.Equal(*got.LastLogin))
}

func TestIntegrationUserRepository_UpdateQuotaRollback(t *testing.T) {
	ctx, repo := newTestEnv(t)
	user := createUser(t, ctx, repo)

	boom := errors.New("boom")
	_, err := repo.UpdateQuota(ctx, user.ID, func(u *model.User) error {
		u.NotarizationsThisMonth = 99
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.NotarizationsThisMonth)
}

func TestIntegrationUserRepository_UpdateQuotaSerializes(t *testing.T) {
	ctx, repo := newTestEnv(t)
	user := createUser(t, ctx, repo)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpdateQuota(ctx, user.ID, func(u *model.User) error {
				u.NotarizationsThisMonth++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, got.NotarizationsThisMonth)
}

func TestIntegrationAPIKeyRepository_Lifecycle(t *testing.T) {
	ctx, repo := newTestEnv(t)
	user := createUser(t, ctx, repo)
	other := createUser(t, ctx, repo)

	key := newAPIKey(t, user.ID)
	require.NoError(t, repo.CreateAPIKey(ctx, key))
	require.NotZero(t, key.ID)

	got, err := repo.GetAPIKeyByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)
	assert.True(t, got.IsActive)

	keys, err := repo.ListAPIKeysByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	assert.ErrorIs(t, repo.DeactivateAPIKey(ctx, key.ID, other.ID), ErrAPIKeyNotFound)
	require.NoError(t, repo.DeactivateAPIKey(ctx, key.ID, user.ID))
	assert.ErrorIs(t, repo.DeactivateAPIKey(ctx, key.ID, user.ID), ErrAPIKeyNotFound)

	got, err = repo.GetAPIKeyByHash(ctx, key.KeyHash)
	require.NoError(t, err, "deactivated keys are retained")
	assert.False(t, got.IsActive)
}

func TestIntegrationAPIKeyRepository_DuplicateHash(t *testing.T) {
	ctx, repo := newTestEnv(t)
	user := createUser(t, ctx, repo)

	key := newAPIKey(t, user.ID)
	require.NoError(t, repo.CreateAPIKey(ctx, key))

	dup := newAPIKey(t, user.ID)
	dup.KeyHash = key.KeyHash
	assert.ErrorIs(t, repo.CreateAPIKey(ctx, dup), ErrAPIKeyExists)
}

func TestIntegrationAPIKeyRepository_ApplyUsage(t *testing.T) {
	ctx, repo := newTestEnv(t)
	user := createUser(t, ctx, repo)

	key := newAPIKey(t, user.ID)
	require.NoError(t, repo.CreateAPIKey(ctx, key))

	later := time.Now().UTC().Truncate(time.Microsecond)
	earlier := later.Add(-time.Hour)

	require.NoError(t, repo.ApplyAPIKeyUsage(ctx, []model.APIKeyUsage{{KeyID: key.ID, Count: 3, LastUsed: later}}))
	require.NoError(t, repo.ApplyAPIKeyUsage(ctx, []model.APIKeyUsage{{KeyID: key.ID, Count: 2, LastUsed: earlier}}))

	got, err := repo.GetAPIKeyByHash(ctx, key.KeyHash)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.UsageCount)
	require.NotNil(t, got.LastUsed)
	assert.True(t, later.Equal(*got.LastUsed), "last_used never moves backwards")
}

func TestIntegrationNotarizationRepository(t *testing.T) {
	ctx, repo := newTestEnv(t)
	user := createUser(t, ctx, repo)

	n := &model.Notarization{
		ID:               ulid.Make().String(),
		UserID:           user.ID,
		OriginalFilename: "photo.jpg",
		FileType:         "image/jpeg",
		FileSize:         1234,
		SHA256Hash:       "ab12",
		IPFSCID:          "bafkreitest",
		AnchorRef:        "basalt-local:1",
		SignatureStatus:  model.SignatureUnsigned,
		Status:           model.NotarizationCompleted,
		Metadata:         map[string]string{"camera": "x100"},
		CreatedAt:        time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, repo.CreateNotarization(ctx, n))

	got, err := repo.GetNotarization(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, n.Metadata, got.Metadata)
	assert.Equal(t, model.NotarizationCompleted, got.Status)

	found, err := repo.FindCompletedNotarization(ctx, "ab12", "bafkreitest")
	require.NoError(t, err)
	assert.Equal(t, n.ID, found.ID)

	_, err = repo.FindCompletedNotarization(ctx, "ab12", "other")
	assert.ErrorIs(t, err, ErrNotarizationNotFound)

	list, err := repo.ListNotarizationsByUserID(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	count, err := repo.CountNotarizationsByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIntegrationUserDelete_KeepsDependentRows(t *testing.T) {
	ctx, repo := newTestEnv(t)

	withKey := createUser(t, ctx, repo)
	key := newAPIKey(t, withKey.ID)
	require.NoError(t, repo.CreateAPIKey(ctx, key))
	require.NoError(t, repo.DeactivateAPIKey(ctx, key.ID, withKey.ID))

	withRecord := createUser(t, ctx, repo)
	require.NoError(t, repo.CreateNotarization(ctx, &model.Notarization{
		ID:               ulid.Make().String(),
		UserID:           withRecord.ID,
		OriginalFilename: "scan.pdf",
		SHA256Hash:       "cd34",
		SignatureStatus:  model.SignatureUnsigned,
		Status:           model.NotarizationFailed,
		CreatedAt:        time.Now().UTC(),
	}))

	for _, id := range []int64{withKey.ID, withRecord.ID} {
		_, err := repo.Pool().Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		var pgErr *pgconn.PgError
		require.True(t, errors.As(err, &pgErr), "deleting user %d must fail, got %v", id, err)
		assert.Equal(t, "23503", pgErr.Code)
	}

	var keys int
	require.NoError(t, repo.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE user_id = $1`, withKey.ID).Scan(&keys))
	assert.Equal(t, 1, keys, "deactivated key stays for audit")

	count, err := repo.CountNotarizationsByUserID(ctx, withRecord.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	bare := createUser(t, ctx, repo)
	_, err = repo.Pool().Exec(ctx, `DELETE FROM users WHERE id = $1`, bare.ID)
	assert.NoError(t, err, "a user with no keys or records can be removed")
}
