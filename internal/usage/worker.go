// Package usage flushes buffered API key usage from Redis into PostgreSQL.
package usage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/basalt/basalt/internal/metrics"
	"github.com/basalt/basalt/internal/model"
)

// DefaultFlushInterval is how often buffered usage is written out.
const DefaultFlushInterval = 10 * time.Second

// Buffer is the source of buffered usage.
type Buffer interface {
	Drain(ctx context.Context) ([]model.APIKeyUsage, error)
	Restore(ctx context.Context, usage []model.APIKeyUsage) error
}

// Store persists aggregated usage.
type Store interface {
	ApplyAPIKeyUsage(ctx context.Context, usage []model.APIKeyUsage) error
}

// Worker periodically drains the buffer into the store.
type Worker struct {
	buffer   Buffer
	store    Store
	logger   *slog.Logger
	metrics  metrics.Recorder
	interval time.Duration

	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex
}

// NewWorker creates a new usage flush worker.
func NewWorker(buffer Buffer, store Store, logger *slog.Logger, interval time.Duration, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Worker{
		buffer:   buffer,
		store:    store,
		logger:   logger.With("component", "usage.worker"),
		metrics:  recorder,
		interval: interval,
	}
}

// Run flushes on every tick until the context is cancelled, then performs a
// final flush so buffered usage is not left behind on shutdown.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.started = true
	w.done = make(chan struct{})
	ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	defer close(w.done)

	w.logger.Info("usage worker started", "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush with a fresh context; the run context is already done.
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			if err := w.FlushOnce(flushCtx); err != nil {
				w.logger.Error("final usage flush failed", "error", err)
			}
			cancel()
			w.logger.Info("usage worker stopping")
			return nil
		case <-ticker.C:
			if err := w.FlushOnce(ctx); err != nil {
				w.logger.Error("usage flush failed", "error", err)
			}
		}
	}
}

// FlushOnce drains the buffer and applies it. On a store failure the drained
// usage is put back so the next flush retries it.
func (w *Worker) FlushOnce(ctx context.Context) error {
	start := time.Now()

	batch, err := w.buffer.Drain(ctx)
	if err != nil {
		w.metrics.IncUsageFlushFailed()
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	if err := w.store.ApplyAPIKeyUsage(ctx, batch); err != nil {
		w.metrics.IncUsageFlushFailed()
		if restoreErr := w.buffer.Restore(context.WithoutCancel(ctx), batch); restoreErr != nil {
			w.logger.Error("failed to restore usage after flush error",
				"error", restoreErr,
				"keys", len(batch),
			)
		}
		return err
	}

	w.metrics.ObserveUsageFlush(len(batch), time.Since(start))
	w.logger.Debug("usage flushed", "keys", len(batch), "duration", time.Since(start))
	return nil
}

// Shutdown stops the worker after its final flush.
// It implements server.ShutdownFunc for integration with graceful shutdown.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		w.logger.Info("usage worker shutdown complete")
		return nil
	case <-ctx.Done():
		w.logger.Warn("usage worker shutdown timed out")
		return ctx.Err()
	}
}
