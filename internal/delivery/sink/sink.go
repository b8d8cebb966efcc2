// Package sink defines the dispatch contract canonical records are handed
// to, plus the composable sinks (log, fanout, async queue, filter, rate
// limit) the plugin builds its pipeline from.
//
// Sink failures are never fatal to the host. A sink reports what went wrong
// and the caller decides whether to log, count or ignore it.
package sink

import (
	"context"
	"errors"

	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

var (
	// ErrClosed is returned by Observe after Close.
	ErrClosed = errors.New("sink closed")

	// ErrQueueFull is returned when a record is dropped because a bounded
	// queue is saturated.
	ErrQueueFull = errors.New("sink queue full")

	// ErrRateLimited is returned when a record is dropped over budget.
	ErrRateLimited = errors.New("sink rate limited")
)

// Sink consumes canonical records. Implementations must be safe for
// concurrent use and must not block the caller indefinitely.
type Sink interface {
	Name() string
	Observe(ctx context.Context, rec protov1.Record) error
	Close(ctx context.Context) error
}

// Provisioner is implemented by sinks that own external resources (topics,
// streams, tables, buckets) which must exist before the first record.
type Provisioner interface {
	Provision(ctx context.Context) error
}

// Provision provisions s if it implements Provisioner.
func Provision(ctx context.Context, s Sink) error {
	if p, ok := s.(Provisioner); ok {
		return p.Provision(ctx)
	}
	return nil
}

// IsDrop reports whether err means the record was intentionally dropped
// rather than failed.
func IsDrop(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrRateLimited)
}

// Error attributes a failure to the sink that produced it.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string { return e.Sink + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }
