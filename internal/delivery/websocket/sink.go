package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// Config configures the WebSocket sink.
type Config struct {
	Addr         string // listen address, e.g. ":8900"
	Path         string // upgrade path, e.g. "/ws"
	ClientBuffer int
	Instance     string
	Logger       *slog.Logger
}

// Sink serves a WebSocket endpoint and broadcasts every record to the
// connected clients as a "record" message.
type Sink struct {
	cfg      Config
	manager  *Manager
	upgrader websocket.Upgrader
	logger   *slog.Logger

	server   *http.Server
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// New creates the sink without listening. Use Listen, or mount Handler on
// an existing server.
func New(cfg Config) *Sink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Sink{
		cfg: cfg,
		manager: NewManager(ManagerConfig{
			ClientBuffer: cfg.ClientBuffer,
			Logger:       logger,
		}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger.With("component", "websocket-sink"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Listen binds cfg.Addr and starts serving in the background.
func (s *Sink) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.Handler())

	s.listener = ln
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("websocket server stopped", "error", err)
		}
	}()

	s.logger.Info("websocket server listening", "addr", ln.Addr().String(), "path", s.cfg.Path)
	return nil
}

// Addr returns the bound address once Listen succeeded.
func (s *Sink) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler upgrades requests and runs the client until it disconnects.
func (s *Sink) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		closed := s.closed
		s.mu.RUnlock()
		if closed {
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("upgrade failed", "error", err)
			return
		}

		dest := s.manager.HandleConnection(s.ctx, uuid.NewString(), conn)
		dest.Run(s.ctx)
	})
}

// Manager exposes connection bookkeeping.
func (s *Sink) Manager() *Manager { return s.manager }

func (s *Sink) Name() string { return "websocket" }

func (s *Sink) Observe(_ context.Context, rec protov1.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}

	w, err := protov1.NewWire(rec, s.cfg.Instance, time.Now())
	if err != nil {
		return err
	}
	msg, err := MarshalRecord(w)
	if err != nil {
		return err
	}

	s.manager.Broadcast(w.Kind, msg)
	return nil
}

// Close stops accepting clients and disconnects the existing ones.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	err := s.manager.Close()
	if s.server != nil {
		// Hijacked connections are not tracked by Shutdown.
		if serr := s.server.Shutdown(ctx); serr != nil {
			err = errors.Join(err, serr)
		}
	}
	return err
}

// MarshalRecord renders the message clients receive for w.
func MarshalRecord(w *protov1.Wire) ([]byte, error) {
	data, err := json.Marshal(ServerMessage{
		Type:      "record",
		Timestamp: w.ObservedAt,
		Data:      w,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal record message: %w", err)
	}
	return data, nil
}
