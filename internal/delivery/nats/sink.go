// Package nats publishes canonical records to a JetStream stream, one
// subject per record kind.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	pnats "github.com/marko911/pulse-geyser/internal/platform/nats"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// Config configures the NATS sink.
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	MaxAge        time.Duration
	Instance      string
	Logger        *slog.Logger
}

// Sink publishes to <prefix>.<kind>. Record ids are used as JetStream
// message ids so the server discards duplicates inside its window.
type Sink struct {
	cfg    Config
	client *pnats.Client
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New connects to NATS.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ncfg := pnats.DefaultConfig()
	if cfg.URL != "" {
		ncfg.URL = cfg.URL
	}
	ncfg.Logger = logger

	client, err := pnats.Connect(ctx, ncfg)
	if err != nil {
		return nil, err
	}

	return &Sink{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "nats-sink", "stream", cfg.Stream),
	}, nil
}

func (s *Sink) Name() string { return "nats" }

// Provision creates or updates the stream.
func (s *Sink) Provision(ctx context.Context) error {
	streamCfg := pnats.EventStreamConfig(s.cfg.Stream, s.cfg.SubjectPrefix, s.cfg.MaxAge)
	if _, err := pnats.EnsureStream(ctx, s.client.JetStream(), streamCfg); err != nil {
		return err
	}
	s.logger.Info("stream ready", "subjects", streamCfg.Subjects)
	return nil
}

func (s *Sink) Observe(ctx context.Context, rec protov1.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}
	// JetStream publishes wait for an ack that cannot arrive while reconnecting.
	if !s.client.IsConnected() {
		return fmt.Errorf("publish: %w", nats.ErrConnectionReconnecting)
	}

	msg, err := NewMsg(s.cfg.SubjectPrefix, s.cfg.Instance, rec, time.Now())
	if err != nil {
		return err
	}

	if _, err := s.client.JetStream().PublishMsg(ctx, msg, jetstream.WithMsgID(msg.Header.Get("Record-Id"))); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
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

// NewMsg builds the message for rec.
func NewMsg(prefix, instance string, rec protov1.Record, now time.Time) (*nats.Msg, error) {
	w, err := protov1.NewWire(rec, instance, now)
	if err != nil {
		return nil, err
	}
	data, err := protov1.MarshalWire(w)
	if err != nil {
		return nil, err
	}

	msg := nats.NewMsg(pnats.SubjectForKind(prefix, w.Kind.String()))
	msg.Data = data
	msg.Header.Set("Record-Id", w.ID)
	msg.Header.Set("Kind", w.Kind.String())
	if instance != "" {
		msg.Header.Set("Instance", instance)
	}
	return msg, nil
}
