package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// ObservedEvent is a persisted canonical record.
type ObservedEvent struct {
	ID            string
	Kind          string
	Slot          uint64
	Instance      string
	SchemaVersion uint32
	Record        []byte
	Transaction   []byte
	ObservedAt    time.Time
	InsertedAt    time.Time
}

// EventRepository persists observed records keyed by record id.
type EventRepository struct {
	db *DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{db: db}
}

// Save inserts w unless a record with the same id is already stored. It
// reports whether a row was written.
func (r *EventRepository) Save(ctx context.Context, w *protov1.Wire) (bool, error) {
	sql := `
		INSERT INTO observed_events (
			id, kind, slot, instance, schema_version, record, transaction, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := r.db.pool.Exec(ctx, sql,
		w.ID,
		w.Kind.String(),
		int64(w.Slot),
		w.Instance,
		int32(w.SchemaVersion),
		[]byte(w.Record),
		w.Transaction,
		w.ObservedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert observed event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SaveBatch inserts every record in a single transaction.
func (r *EventRepository) SaveBatch(ctx context.Context, batch []*protov1.Wire) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, w := range batch {
			b.Queue(`
				INSERT INTO observed_events (
					id, kind, slot, instance, schema_version, record, transaction, observed_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO NOTHING`,
				w.ID, w.Kind.String(), int64(w.Slot), w.Instance,
				int32(w.SchemaVersion), []byte(w.Record), w.Transaction, w.ObservedAt,
			)
		}
		if err := tx.SendBatch(ctx, b).Close(); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		return nil
	})
}

// GetByID returns a stored record, or nil if none exists.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*ObservedEvent, error) {
	sql := `
		SELECT id, kind, slot, instance, schema_version, record, transaction, observed_at, inserted_at
		FROM observed_events WHERE id = $1
	`
	var (
		e             ObservedEvent
		slot          int64
		schemaVersion int32
	)
	err := r.db.pool.QueryRow(ctx, sql, id).Scan(
		&e.ID, &e.Kind, &slot, &e.Instance, &schemaVersion,
		&e.Record, &e.Transaction, &e.ObservedAt, &e.InsertedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query observed event: %w", err)
	}
	e.Slot = uint64(slot)
	e.SchemaVersion = uint32(schemaVersion)
	return &e, nil
}

// CountBySlot returns the number of stored records for a slot.
func (r *EventRepository) CountBySlot(ctx context.Context, slot uint64) (int64, error) {
	var n int64
	err := r.db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM observed_events WHERE slot = $1`, int64(slot),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count observed events: %w", err)
	}
	return n, nil
}
