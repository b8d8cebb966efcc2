// Package redis appends canonical records to Redis streams, one stream per
// record kind.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// Config configures the Redis sink.
type Config struct {
	Addr         string
	Password     string
	DB           int
	StreamPrefix string
	MaxLen       int64 // approximate cap per stream, 0 = uncapped
	Instance     string
	Logger       *slog.Logger
}

// Sink XADDs every record to <prefix>:<kind>.
type Sink struct {
	cfg    Config
	client *redis.Client
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client. The sink owns it and closes it
// on Close.
func NewWithClient(client *redis.Client, cfg Config) *Sink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "redis-sink"),
	}
}

func (s *Sink) Name() string { return "redis" }

// StreamKey returns the stream a kind is appended to.
func (s *Sink) StreamKey(kind string) string {
	return s.cfg.StreamPrefix + ":" + kind
}

func (s *Sink) Observe(ctx context.Context, rec protov1.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}

	w, err := protov1.NewWire(rec, s.cfg.Instance, time.Now())
	if err != nil {
		return err
	}
	data, err := protov1.MarshalWire(w)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: s.StreamKey(w.Kind.String()),
		Values: map[string]any{
			"id":   w.ID,
			"slot": w.Slot,
			"data": data,
		},
	}
	if s.cfg.MaxLen > 0 {
		args.MaxLen = s.cfg.MaxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", args.Stream, err)
	}
	return nil
}

func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
