package handler

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/model"
	"github.com/basalt/basalt/internal/quota"
	"github.com/basalt/basalt/internal/service"
	"github.com/basalt/basalt/internal/testutil"
	"github.com/basalt/basalt/internal/tier"
)

const testSessionTTL = 24 * time.Hour

type testEnv struct {
	store    *testutil.MemoryStore
	accounts *service.AccountService
	keys     *service.APIKeyService
	notary   *service.NotarizationService

	web      *WebHandler
	apiKeys  *APIKeyHandler
	notarize *NotarizeHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := testutil.NewMemoryStore()
	logger := testutil.DiscardLogger()
	catalog := tier.DefaultCatalog()
	tracker := quota.NewTracker(store)

	accounts := service.NewAccountService(service.AccountConfig{
		Users:   store,
		Tokens:  auth.NewTokenIssuer([]byte("handler-test-secret"), testSessionTTL),
		Tracker: tracker,
		Catalog: catalog,
		Mailer:  service.NewLogMailer(logger),
		BaseURL: "https://basalt.test",
		Logger:  logger,
	})
	keys := service.NewAPIKeyService(store, nil, catalog, logger, nil)
	notary := service.NewNotarizationService(store, tracker, nil, "https://ipfs.test", logger, nil)

	web, err := NewWebHandler(logger, accounts, keys, notary, true)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = accounts.Shutdown(ctx)
	})

	return &testEnv{
		store:    store,
		accounts: accounts,
		keys:     keys,
		notary:   notary,
		web:      web,
		apiKeys:  NewAPIKeyHandler(logger, keys),
		notarize: NewNotarizeHandler(logger, notary, accounts),
	}
}

// seedUser stores an active user on the given plan. The password is
// testutil.TestPassword.
func (e *testEnv) seedUser(t *testing.T, tierName string, limit int) *model.User {
	t.Helper()
	user := testutil.NewTestUserWithTier(t, testutil.UniqueEmail("handler"), tierName, limit)
	require.NoError(t, e.store.CreateUser(context.Background(), user))
	return user
}

func withUser(r *http.Request, user *model.User) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), user, auth.MethodSession))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
