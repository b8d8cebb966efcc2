// Package postgres persists canonical records into the observed_events
// table.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	"github.com/marko911/pulse-geyser/internal/platform/storage"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// Config configures the Postgres sink.
type Config struct {
	DSN      string
	MaxConns int32
	Instance string
	Logger   *slog.Logger
}

// Sink writes each record once; a record whose id is already stored is
// skipped.
type Sink struct {
	cfg    Config
	db     *storage.DB
	repo   *storage.EventRepository
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New opens the connection pool.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dbCfg := storage.DefaultConfig()
	dbCfg.DSN = cfg.DSN
	if cfg.MaxConns > 0 {
		dbCfg.MaxConns = cfg.MaxConns
		if dbCfg.MinConns > cfg.MaxConns {
			dbCfg.MinConns = cfg.MaxConns
		}
	}

	db, err := storage.New(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: %w", err)
	}

	return &Sink{
		cfg:    cfg,
		db:     db,
		repo:   storage.NewEventRepository(db),
		logger: logger.With("component", "postgres-sink"),
	}, nil
}

func (s *Sink) Name() string { return "postgres" }

// Provision applies pending migrations.
func (s *Sink) Provision(ctx context.Context) error {
	if err := s.db.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	s.logger.Info("schema ready")
	return nil
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
	inserted, err := s.repo.Save(ctx, w)
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.Debug("duplicate record skipped", "id", w.ID, "kind", w.Kind)
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
	s.db.Close()
	return nil
}
