package protov1

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// SchemaVersion is bumped whenever a canonical record gains or changes a field.
const SchemaVersion uint32 = 1

// Record is the canonical, version-independent form of one observed event.
type Record interface {
	Kind() geyser.EventKind
	Slot() uint64
	slog.LogValuer
}

type AccountUpdate struct {
	SlotNumber   uint64            `json:"slot"`
	Pubkey       solana.PublicKey  `json:"pubkey"`
	Owner        solana.PublicKey  `json:"owner"`
	Lamports     uint64            `json:"lamports"`
	Executable   bool              `json:"executable"`
	RentEpoch    uint64            `json:"rent_epoch"`
	Data         []byte            `json:"data,omitempty"`
	WriteVersion uint64            `json:"write_version"`
	TxnSignature *solana.Signature `json:"txn_signature,omitempty"`
	IsStartup    bool              `json:"is_startup"`
}

type SlotUpdate struct {
	SlotNumber uint64            `json:"slot"`
	Parent     *uint64           `json:"parent,omitempty"`
	Status     geyser.SlotStatus `json:"status"`
	DeadError  string            `json:"dead_error,omitempty"`
}

type TransactionRecord struct {
	SlotNumber  uint64                        `json:"slot"`
	Signature   solana.Signature              `json:"signature"`
	IsVote      bool                          `json:"is_vote"`
	Index       *uint64                       `json:"index,omitempty"`
	Transaction *solana.Transaction           `json:"-"`
	Meta        *geyser.TransactionStatusMeta `json:"meta,omitempty"`
}

type EntryRecord struct {
	SlotNumber               uint64      `json:"slot"`
	Index                    uint64      `json:"index"`
	NumHashes                uint64      `json:"num_hashes"`
	Hash                     solana.Hash `json:"hash"`
	ExecutedTransactionCount uint64      `json:"executed_transaction_count"`
	StartingTransactionIndex *uint64     `json:"starting_transaction_index,omitempty"`
}

type BlockMetadata struct {
	SlotNumber               uint64          `json:"slot"`
	Blockhash                solana.Hash     `json:"blockhash"`
	ParentSlot               *uint64         `json:"parent_slot,omitempty"`
	ParentBlockhash          *solana.Hash    `json:"parent_blockhash,omitempty"`
	Rewards                  []geyser.Reward `json:"rewards,omitempty"`
	NumPartitions            *uint64         `json:"num_partitions,omitempty"`
	BlockTime                *int64          `json:"block_time,omitempty"`
	BlockHeight              *uint64         `json:"block_height,omitempty"`
	ExecutedTransactionCount *uint64         `json:"executed_transaction_count,omitempty"`
	EntryCount               *uint64         `json:"entry_count,omitempty"`
}

func (*AccountUpdate) Kind() geyser.EventKind     { return geyser.KindAccountUpdate }
func (*SlotUpdate) Kind() geyser.EventKind        { return geyser.KindSlotStatus }
func (*TransactionRecord) Kind() geyser.EventKind { return geyser.KindTransaction }
func (*EntryRecord) Kind() geyser.EventKind       { return geyser.KindEntry }
func (*BlockMetadata) Kind() geyser.EventKind     { return geyser.KindBlockMetadata }

func (r *AccountUpdate) Slot() uint64     { return r.SlotNumber }
func (r *SlotUpdate) Slot() uint64        { return r.SlotNumber }
func (r *TransactionRecord) Slot() uint64 { return r.SlotNumber }
func (r *EntryRecord) Slot() uint64       { return r.SlotNumber }
func (r *BlockMetadata) Slot() uint64     { return r.SlotNumber }

func (r *AccountUpdate) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("slot", r.SlotNumber),
		slog.String("pubkey", r.Pubkey.String()),
		slog.String("owner", r.Owner.String()),
		slog.Bool("executable", r.Executable),
		slog.Uint64("write_version", r.WriteVersion),
		slog.Any("tx_sig", optSignature(r.TxnSignature)),
		slog.Bool("is_startup", r.IsStartup),
	)
}

func (r *SlotUpdate) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Uint64("slot", r.SlotNumber),
		slog.Any("parent", optUint(r.Parent)),
		slog.String("status", r.Status.String()),
	}
	if r.DeadError != "" {
		attrs = append(attrs, slog.String("dead_error", r.DeadError))
	}
	return slog.GroupValue(attrs...)
}

func (r *TransactionRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("slot", r.SlotNumber),
		slog.String("sig", r.Signature.String()),
		slog.Bool("is_vote", r.IsVote),
		slog.Any("index", optUint(r.Index)),
	)
}

func (r *EntryRecord) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("slot", r.SlotNumber),
		slog.Uint64("index", r.Index),
		slog.Uint64("num_hashes", r.NumHashes),
		slog.String("hash", r.Hash.String()),
		slog.Uint64("executed_tx_count", r.ExecutedTransactionCount),
	)
}

func (r *BlockMetadata) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Uint64("slot", r.SlotNumber),
		slog.String("blockhash", r.Blockhash.String()),
		slog.Any("parent_slot", optUint(r.ParentSlot)),
		slog.Int("rewards", len(r.Rewards)),
		slog.Any("block_height", optUint(r.BlockHeight)),
		slog.Any("executed_tx_count", optUint(r.ExecutedTransactionCount)),
		slog.Any("entry_count", optUint(r.EntryCount)),
	}
	if r.BlockTime != nil {
		attrs = append(attrs, slog.Int64("block_time", *r.BlockTime))
	}
	return slog.GroupValue(attrs...)
}

// RecordID derives a deterministic identifier for a record, used as a
// partition key and storage key by forwarding sinks.
func RecordID(r Record) string {
	var data string
	switch v := r.(type) {
	case *AccountUpdate:
		data = fmt.Sprintf("%s:%d:%s:%d", v.Kind(), v.SlotNumber, v.Pubkey, v.WriteVersion)
	case *SlotUpdate:
		data = fmt.Sprintf("%s:%d:%s", v.Kind(), v.SlotNumber, v.Status)
	case *TransactionRecord:
		data = fmt.Sprintf("%s:%d:%s", v.Kind(), v.SlotNumber, v.Signature)
	case *EntryRecord:
		data = fmt.Sprintf("%s:%d:%d", v.Kind(), v.SlotNumber, v.Index)
	case *BlockMetadata:
		data = fmt.Sprintf("%s:%d:%s", v.Kind(), v.SlotNumber, v.Blockhash)
	default:
		data = fmt.Sprintf("%s:%d", r.Kind(), r.Slot())
	}
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}

// Accounts returns the account addresses a record references, if any.
func Accounts(r Record) []string {
	switch v := r.(type) {
	case *AccountUpdate:
		return []string{v.Pubkey.String(), v.Owner.String()}
	case *TransactionRecord:
		if v.Transaction == nil {
			return nil
		}
		keys := make([]string, len(v.Transaction.Message.AccountKeys))
		for i, k := range v.Transaction.Message.AccountKeys {
			keys[i] = k.String()
		}
		return keys
	default:
		return nil
	}
}

func optSignature(s *solana.Signature) any {
	if s == nil {
		return nil
	}
	return s.String()
}

func optUint(v *uint64) any {
	if v == nil {
		return nil
	}
	return *v
}
