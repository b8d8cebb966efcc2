package protov1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// ErrUnknownKind is returned when a wire record names an unknown kind.
var ErrUnknownKind = errors.New("unknown record kind")

// Wire is the JSON form forwarding sinks publish. Transaction carries the
// embedded transaction in its binary wire encoding, since the record
// itself does not marshal it.
type Wire struct {
	SchemaVersion uint32           `json:"schema_version"`
	ID            string           `json:"id"`
	Kind          geyser.EventKind `json:"kind"`
	Slot          uint64           `json:"slot"`
	Instance      string           `json:"instance,omitempty"`
	ObservedAt    time.Time        `json:"observed_at"`
	Record        json.RawMessage  `json:"record"`
	Transaction   []byte           `json:"transaction,omitempty"`
}

// NewWire wraps r for publication.
func NewWire(r Record, instance string, observedAt time.Time) (*Wire, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", r.Kind(), err)
	}
	w := &Wire{
		SchemaVersion: SchemaVersion,
		ID:            RecordID(r),
		Kind:          r.Kind(),
		Slot:          r.Slot(),
		Instance:      instance,
		ObservedAt:    observedAt.UTC(),
		Record:        body,
	}
	if tx, ok := r.(*TransactionRecord); ok && tx.Transaction != nil {
		raw, err := tx.Transaction.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal transaction: %w", err)
		}
		w.Transaction = raw
	}
	return w, nil
}

// Marshal encodes r as a Wire document.
func Marshal(r Record, instance string, observedAt time.Time) ([]byte, error) {
	w, err := NewWire(r, instance, observedAt)
	if err != nil {
		return nil, err
	}
	return MarshalWire(w)
}

// MarshalWire encodes an already wrapped record.
func MarshalWire(w *Wire) ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal wire record: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a Wire document.
func Unmarshal(data []byte) (*Wire, error) {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal wire record: %w", err)
	}
	return &w, nil
}

// Decode rebuilds the typed record carried by w.
func (w *Wire) Decode() (Record, error) {
	var rec Record
	switch w.Kind {
	case geyser.KindAccountUpdate:
		rec = &AccountUpdate{}
	case geyser.KindSlotStatus:
		rec = &SlotUpdate{}
	case geyser.KindTransaction:
		rec = &TransactionRecord{}
	case geyser.KindEntry:
		rec = &EntryRecord{}
	case geyser.KindBlockMetadata:
		rec = &BlockMetadata{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, int32(w.Kind))
	}
	if err := json.Unmarshal(w.Record, rec); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", w.Kind, err)
	}
	if tx, ok := rec.(*TransactionRecord); ok && len(w.Transaction) > 0 {
		decoded, err := solana.TransactionFromDecoder(bin.NewBinDecoder(w.Transaction))
		if err != nil {
			return nil, fmt.Errorf("decode transaction: %w", err)
		}
		tx.Transaction = decoded
	}
	return rec, nil
}
