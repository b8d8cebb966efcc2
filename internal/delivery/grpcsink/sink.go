package grpcsink

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// ErrRejected is returned when the observer answers with Accepted=false.
var ErrRejected = errors.New("observer rejected record")

// Config configures the gRPC sink.
type Config struct {
	Target   string
	Timeout  time.Duration // per call
	UseTLS   bool
	Instance string
	Logger   *slog.Logger

	// DialOptions are appended to the defaults, mostly for tests.
	DialOptions []grpc.DialOption
}

// Sink calls Observer/Observe once per record.
type Sink struct {
	cfg    Config
	conn   *grpc.ClientConn
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates the client connection. Connecting happens lazily on the
// first call.
func New(cfg Config) (*Sink, error) {
	if cfg.Target == "" {
		return nil, fmt.Errorf("grpc sink: no target")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []grpc.DialOption{
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	}
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client: %w", err)
	}

	return &Sink{
		cfg:    cfg,
		conn:   conn,
		logger: logger.With("component", "grpc-sink", "target", cfg.Target),
	}, nil
}

func (s *Sink) Name() string { return "grpc" }

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

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var ack Ack
	if err := s.conn.Invoke(ctx, observeMethod, w, &ack); err != nil {
		return fmt.Errorf("invoke observe: %w", err)
	}
	if !ack.Accepted {
		return fmt.Errorf("%w: %s", ErrRejected, ack.Reason)
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
	return s.conn.Close()
}
