// Package sqlite persists canonical records into a local SQLite file. It
// mirrors the Postgres observed_events table for single-node setups.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

//go:embed schema.sql
var schemaFS embed.FS

// Sink writes each record once, keyed by record id.
type Sink struct {
	db       *sql.DB
	instance string

	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path, instance string) (*Sink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Sink{db: db, instance: instance}, nil
}

func (s *Sink) Name() string { return "sqlite" }

func (s *Sink) Observe(ctx context.Context, rec protov1.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}

	w, err := protov1.NewWire(rec, s.instance, time.Now())
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO observed_events(id, kind, slot, instance, schema_version, record, txn, observed_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		w.ID, w.Kind.String(), int64(w.Slot), w.Instance, w.SchemaVersion,
		string(w.Record), w.Transaction, w.ObservedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert observed event: %w", err)
	}
	return nil
}

// Count returns the number of stored records of kind, or of every kind
// when kind is empty.
func (s *Sink) Count(ctx context.Context, kind string) (int64, error) {
	var (
		n   int64
		err error
	)
	if kind == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observed_events`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observed_events WHERE kind = ?`, kind).Scan(&n)
	}
	return n, err
}

// Get loads a stored record by id. It returns nil when none exists.
func (s *Sink) Get(ctx context.Context, id string) (*protov1.Wire, error) {
	var (
		w        protov1.Wire
		kind     string
		slot     int64
		record   string
		observed string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, slot, instance, schema_version, record, txn, observed_at
		 FROM observed_events WHERE id = ?`, id,
	).Scan(&w.ID, &kind, &slot, &w.Instance, &w.SchemaVersion, &record, &w.Transaction, &observed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := w.Kind.UnmarshalText([]byte(kind)); err != nil {
		return nil, err
	}
	w.Slot = uint64(slot)
	w.Record = []byte(record)
	if w.ObservedAt, err = time.Parse(time.RFC3339Nano, observed); err != nil {
		return nil, fmt.Errorf("parse observed_at: %w", err)
	}
	return &w, nil
}

func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
