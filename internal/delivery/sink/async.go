package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// Async decouples a slow sink from the caller. Observe only enqueues; when
// the queue is full the record is dropped and ErrQueueFull returned, so the
// host's path never waits on network I/O.
type Async struct {
	inner  Sink
	queue  chan protov1.Record
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// AsyncStats contains queue counters.
type AsyncStats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Queued    int    `json:"queued"`
}

// NewAsync starts workers draining a queue of queueSize records into inner.
func NewAsync(inner Sink, queueSize, workers int, logger *slog.Logger) *Async {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Async{
		inner:  inner,
		queue:  make(chan protov1.Record, queueSize),
		logger: logger.With("component", "async-sink", "sink", inner.Name()),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

func (a *Async) Name() string { return "async(" + a.inner.Name() + ")" }

func (a *Async) Observe(_ context.Context, rec protov1.Record) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- rec:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

func (a *Async) worker() {
	defer a.wg.Done()
	for rec := range a.queue {
		if err := a.inner.Observe(a.ctx, rec); err != nil {
			a.failed.Add(1)
			a.logger.Warn("delivery failed",
				"kind", rec.Kind().String(),
				"slot", rec.Slot(),
				"error", err,
			)
			continue
		}
		a.delivered.Add(1)
	}
}

func (a *Async) Provision(ctx context.Context) error {
	return Provision(ctx, a.inner)
}

// Close stops accepting records, drains the queue until ctx expires and
// then closes the wrapped sink. Records still queued at the deadline are
// abandoned.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	var drainErr error
	select {
	case <-done:
	case <-ctx.Done():
		a.cancel()
		<-done
		drainErr = fmt.Errorf("drain %s: %w", a.inner.Name(), ctx.Err())
	}
	a.cancel()

	if err := a.inner.Close(ctx); err != nil {
		return err
	}
	return drainErr
}

// Stats returns queue counters.
func (a *Async) Stats() AsyncStats {
	return AsyncStats{
		Delivered: a.delivered.Load(),
		Dropped:   a.dropped.Load(),
		Failed:    a.failed.Load(),
		Queued:    len(a.queue),
	}
}
