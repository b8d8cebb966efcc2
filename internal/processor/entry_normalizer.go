package processor

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/marko911/pulse-geyser/pkg/geyser"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// ExtractEntry normalizes a PoH entry.
func (n *Normalizer) ExtractEntry(payload geyser.EntryPayload) (*protov1.EntryRecord, error) {
	if payload == nil {
		return nil, &UnsupportedVersionError{Kind: geyser.KindEntry}
	}
	if err := n.policy.Check(geyser.KindEntry, payload.Version()); err != nil {
		return nil, err
	}

	var (
		rec  *protov1.EntryRecord
		hash []byte
	)
	switch p := payload.(type) {
	case geyser.EntryInfoV1:
		hash = p.Hash
		rec = &protov1.EntryRecord{
			SlotNumber:               p.Slot,
			Index:                    p.Index,
			NumHashes:                p.NumHashes,
			ExecutedTransactionCount: p.ExecutedTransactionCount,
		}
	case geyser.EntryInfoV2:
		hash = p.Hash
		start := p.StartingTransactionIndex
		rec = &protov1.EntryRecord{
			SlotNumber:               p.Slot,
			Index:                    p.Index,
			NumHashes:                p.NumHashes,
			ExecutedTransactionCount: p.ExecutedTransactionCount,
			StartingTransactionIndex: &start,
		}
	default:
		return nil, &UnsupportedVersionError{Kind: geyser.KindEntry, Version: payload.Version()}
	}

	if len(hash) != solana.PublicKeyLength {
		return nil, &MalformedInputError{
			Kind:  geyser.KindEntry,
			Field: "hash",
			Err:   fmt.Errorf("want %d bytes, got %d", solana.PublicKeyLength, len(hash)),
		}
	}
	rec.Hash = solana.HashFromBytes(hash)
	return rec, nil
}
