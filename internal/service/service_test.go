package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/metrics"
	"github.com/basalt/basalt/internal/quota"
	"github.com/basalt/basalt/internal/testutil"
	"github.com/basalt/basalt/internal/tier"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *recordingMailer) messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

type testEnv struct {
	store    *testutil.MemoryStore
	tokens   *auth.TokenIssuer
	tracker  *quota.Tracker
	mailer   *recordingMailer
	metrics  *metrics.InMemoryRecorder
	accounts *AccountService
	keys     *APIKeyService
	notary   *NotarizationService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := testutil.NewMemoryStore()
	tokens := auth.NewTokenIssuer([]byte("service-test-secret"), 0)
	tracker := quota.NewTracker(store)
	mailer := &recordingMailer{}
	rec := metrics.NewInMemory()
	logger := testutil.DiscardLogger()
	catalog := tier.DefaultCatalog()

	env := &testEnv{
		store:   store,
		tokens:  tokens,
		tracker: tracker,
		mailer:  mailer,
		metrics: rec,
		accounts: NewAccountService(AccountConfig{
			Users:   store,
			Tokens:  tokens,
			Tracker: tracker,
			Catalog: catalog,
			Mailer:  mailer,
			BaseURL: "https://basalt.test/",
			Logger:  logger,
			Metrics: rec,
		}),
		keys:   NewAPIKeyService(store, nil, catalog, logger, rec),
		notary: NewNotarizationService(store, tracker, nil, "https://ipfs.test", logger, rec),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = env.accounts.Shutdown(ctx)
	})
	return env
}
