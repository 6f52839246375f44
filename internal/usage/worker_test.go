package usage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basalt/basalt/internal/metrics"
	"github.com/basalt/basalt/internal/model"
)

type fakeBuffer struct {
	mu      sync.Mutex
	pending []model.APIKeyUsage
}

func (b *fakeBuffer) Drain(context.Context) ([]model.APIKeyUsage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.pending
	b.pending = nil
	return out, nil
}

func (b *fakeBuffer) Restore(_ context.Context, usage []model.APIKeyUsage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, usage...)
	return nil
}

func (b *fakeBuffer) add(u model.APIKeyUsage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, u)
}

type fakeStore struct {
	mu      sync.Mutex
	applied []model.APIKeyUsage
	err     error
}

func (s *fakeStore) ApplyAPIKeyUsage(_ context.Context, usage []model.APIKeyUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.applied = append(s.applied, usage...)
	return nil
}

func (s *fakeStore) total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, u := range s.applied {
		n += u.Count
	}
	return n
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFlushOnce_Applies(t *testing.T) {
	t.Parallel()

	buf := &fakeBuffer{}
	store := &fakeStore{}
	rec := metrics.NewInMemory()
	w := NewWorker(buf, store, discardLogger(), time.Hour, rec)

	buf.add(model.APIKeyUsage{KeyID: 1, Count: 3, LastUsed: time.Now()})
	buf.add(model.APIKeyUsage{KeyID: 2, Count: 1, LastUsed: time.Now()})

	require.NoError(t, w.FlushOnce(context.Background()))
	assert.Equal(t, int64(4), store.total())
	assert.Equal(t, uint64(2), rec.Snapshot().UsageFlushedKeys)

	// Empty buffer is a no-op.
	require.NoError(t, w.FlushOnce(context.Background()))
	assert.Equal(t, uint64(1), rec.Snapshot().UsageFlushes)
}

func TestFlushOnce_RestoresOnFailure(t *testing.T) {
	t.Parallel()

	buf := &fakeBuffer{}
	store := &fakeStore{err: errors.New("db down")}
	rec := metrics.NewInMemory()
	w := NewWorker(buf, store, discardLogger(), time.Hour, rec)

	buf.add(model.APIKeyUsage{KeyID: 1, Count: 3})

	err := w.FlushOnce(context.Background())
	assert.ErrorIs(t, err, store.err)
	assert.Len(t, buf.pending, 1, "usage is put back for the next flush")
	assert.Equal(t, uint64(1), rec.Snapshot().UsageFlushFailures)

	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	require.NoError(t, w.FlushOnce(context.Background()))
	assert.Equal(t, int64(3), store.total())
}

func TestWorker_RunAndShutdownFlushes(t *testing.T) {
	t.Parallel()

	buf := &fakeBuffer{}
	store := &fakeStore{}
	w := NewWorker(buf, store, discardLogger(), time.Hour, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()

	// Run registers itself before Shutdown can observe it.
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.started
	}, time.Second, 5*time.Millisecond)

	buf.add(model.APIKeyUsage{KeyID: 5, Count: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(ctx))
	require.NoError(t, <-errCh)

	assert.Equal(t, int64(2), store.total(), "shutdown performs a final flush")
}

func TestWorker_RunTwice(t *testing.T) {
	t.Parallel()

	w := NewWorker(&fakeBuffer{}, &fakeStore{}, discardLogger(), 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.started
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, w.Run(ctx))
	cancel()
	<-done
}

func TestWorker_ShutdownBeforeRun(t *testing.T) {
	t.Parallel()

	w := NewWorker(&fakeBuffer{}, &fakeStore{}, discardLogger(), 0, nil)
	assert.NoError(t, w.Shutdown(context.Background()))
	assert.Equal(t, DefaultFlushInterval, w.interval)
}
