package processor

import (
	"github.com/gagliardetto/solana-go"

	"github.com/marko911/pulse-geyser/pkg/geyser"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// ExtractBlock normalizes block metadata. Fields a version does not carry
// stay nil on the record.
func (n *Normalizer) ExtractBlock(payload geyser.BlockPayload) (*protov1.BlockMetadata, error) {
	if payload == nil {
		return nil, &UnsupportedVersionError{Kind: geyser.KindBlockMetadata}
	}
	if err := n.policy.Check(geyser.KindBlockMetadata, payload.Version()); err != nil {
		return nil, err
	}

	var (
		rec                        *protov1.BlockMetadata
		blockhash, parentBlockhash string
		hasParent                  bool
	)
	switch p := payload.(type) {
	case geyser.BlockInfoV1:
		blockhash = p.Blockhash
		rec = &protov1.BlockMetadata{
			SlotNumber:  p.Slot,
			Rewards:     p.Rewards,
			BlockTime:   p.BlockTime,
			BlockHeight: p.BlockHeight,
		}
	case geyser.BlockInfoV2:
		blockhash, parentBlockhash, hasParent = p.Blockhash, p.ParentBlockhash, true
		rec = &protov1.BlockMetadata{
			SlotNumber:               p.Slot,
			ParentSlot:               ptr(p.ParentSlot),
			Rewards:                  p.Rewards,
			BlockTime:                p.BlockTime,
			BlockHeight:              p.BlockHeight,
			ExecutedTransactionCount: ptr(p.ExecutedTransactionCount),
		}
	case geyser.BlockInfoV3:
		blockhash, parentBlockhash, hasParent = p.Blockhash, p.ParentBlockhash, true
		rec = &protov1.BlockMetadata{
			SlotNumber:               p.Slot,
			ParentSlot:               ptr(p.ParentSlot),
			Rewards:                  p.Rewards,
			BlockTime:                p.BlockTime,
			BlockHeight:              p.BlockHeight,
			ExecutedTransactionCount: ptr(p.ExecutedTransactionCount),
			EntryCount:               ptr(p.EntryCount),
		}
	case geyser.BlockInfoV4:
		blockhash, parentBlockhash, hasParent = p.Blockhash, p.ParentBlockhash, true
		rec = &protov1.BlockMetadata{
			SlotNumber:               p.Slot,
			ParentSlot:               ptr(p.ParentSlot),
			Rewards:                  p.Rewards.Rewards,
			NumPartitions:            p.Rewards.NumPartitions,
			BlockTime:                p.BlockTime,
			BlockHeight:              p.BlockHeight,
			ExecutedTransactionCount: ptr(p.ExecutedTransactionCount),
			EntryCount:               ptr(p.EntryCount),
		}
	default:
		return nil, &UnsupportedVersionError{Kind: geyser.KindBlockMetadata, Version: payload.Version()}
	}

	hash, err := solana.HashFromBase58(blockhash)
	if err != nil {
		return nil, &MalformedInputError{Kind: geyser.KindBlockMetadata, Field: "blockhash", Err: err}
	}
	rec.Blockhash = hash

	if hasParent {
		parent, err := solana.HashFromBase58(parentBlockhash)
		if err != nil {
			return nil, &MalformedInputError{Kind: geyser.KindBlockMetadata, Field: "parent_blockhash", Err: err}
		}
		rec.ParentBlockhash = &parent
	}
	return rec, nil
}

func ptr[T any](v T) *T { return &v }
