package geyser

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrKindMismatch is returned when an envelope is decoded as the wrong kind.
var ErrKindMismatch = errors.New("envelope kind mismatch")

// Envelope is the JSON wire form of one host notification. It is what the
// C entry point and fixture files carry. The payload stays raw until one of
// the Decode methods is called, so a host can skip decoding for kinds whose
// capability flag is off.
type Envelope struct {
	Kind      EventKind       `json:"kind"`
	Version   Version         `json:"version,omitempty"`
	Slot      uint64          `json:"slot,omitempty"`
	Parent    *uint64         `json:"parent,omitempty"`
	Status    SlotStatus      `json:"status,omitempty"`
	DeadError string          `json:"dead_error,omitempty"`
	IsStartup bool            `json:"is_startup,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type accountV3Wire struct {
	Pubkey       []byte `json:"pubkey"`
	Lamports     uint64 `json:"lamports"`
	Owner        []byte `json:"owner"`
	Executable   bool   `json:"executable"`
	RentEpoch    uint64 `json:"rent_epoch"`
	Data         []byte `json:"data"`
	WriteVersion uint64 `json:"write_version"`
	Txn          string `json:"txn,omitempty"`
}

type transactionWire struct {
	Signature   solana.Signature       `json:"signature"`
	IsVote      bool                   `json:"is_vote"`
	Transaction string                 `json:"transaction,omitempty"`
	Meta        *TransactionStatusMeta `json:"meta,omitempty"`
	Index       *uint64                `json:"index,omitempty"`
}

func (e Envelope) unknown() error {
	return fmt.Errorf("%w: %s %s", ErrUnknownVersion, e.Kind, e.Version)
}

func (e Envelope) expect(kind EventKind) error {
	if e.Kind != kind {
		return fmt.Errorf("%w: have %s, want %s", ErrKindMismatch, e.Kind, kind)
	}
	return nil
}

// DecodeAccount decodes an account_update payload into its versioned shape.
func (e Envelope) DecodeAccount() (AccountPayload, error) {
	if err := e.expect(KindAccountUpdate); err != nil {
		return nil, err
	}
	switch e.Version {
	case V0_0_1:
		var p AccountInfoV1
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", e.Version, err)
		}
		return p, nil
	case V0_0_2:
		var p AccountInfoV2
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", e.Version, err)
		}
		return p, nil
	case V0_0_3:
		var w accountV3Wire
		if err := json.Unmarshal(e.Payload, &w); err != nil {
			return nil, fmt.Errorf("decode account %s: %w", e.Version, err)
		}
		txn, err := decodeTransaction(w.Txn)
		if err != nil {
			return nil, fmt.Errorf("decode account %s txn: %w", e.Version, err)
		}
		return AccountInfoV3{
			Pubkey:       w.Pubkey,
			Lamports:     w.Lamports,
			Owner:        w.Owner,
			Executable:   w.Executable,
			RentEpoch:    w.RentEpoch,
			Data:         w.Data,
			WriteVersion: w.WriteVersion,
			Txn:          txn,
		}, nil
	default:
		return nil, e.unknown()
	}
}

// DecodeTransaction decodes a transaction payload into its versioned shape.
func (e Envelope) DecodeTransaction() (TransactionPayload, error) {
	if err := e.expect(KindTransaction); err != nil {
		return nil, err
	}
	if e.Version != V0_0_1 && e.Version != V0_0_2 {
		return nil, e.unknown()
	}

	var w transactionWire
	if err := json.Unmarshal(e.Payload, &w); err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", e.Version, err)
	}
	tx, err := decodeTransaction(w.Transaction)
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s body: %w", e.Version, err)
	}

	if e.Version == V0_0_1 {
		return TransactionInfoV1{
			Signature:   w.Signature,
			IsVote:      w.IsVote,
			Transaction: tx,
			Meta:        w.Meta,
		}, nil
	}

	var index uint64
	if w.Index != nil {
		index = *w.Index
	}
	return TransactionInfoV2{
		Signature:   w.Signature,
		IsVote:      w.IsVote,
		Transaction: tx,
		Meta:        w.Meta,
		Index:       index,
	}, nil
}

// DecodeEntry decodes an entry payload into its versioned shape.
func (e Envelope) DecodeEntry() (EntryPayload, error) {
	if err := e.expect(KindEntry); err != nil {
		return nil, err
	}
	switch e.Version {
	case V0_0_1:
		var p EntryInfoV1
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", e.Version, err)
		}
		return p, nil
	case V0_0_2:
		var p EntryInfoV2
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode entry %s: %w", e.Version, err)
		}
		return p, nil
	default:
		return nil, e.unknown()
	}
}

// DecodeBlock decodes a block_metadata payload into its versioned shape.
func (e Envelope) DecodeBlock() (BlockPayload, error) {
	if err := e.expect(KindBlockMetadata); err != nil {
		return nil, err
	}

	var (
		p   BlockPayload
		err error
	)
	switch e.Version {
	case V0_0_1:
		var v BlockInfoV1
		err = json.Unmarshal(e.Payload, &v)
		p = v
	case V0_0_2:
		var v BlockInfoV2
		err = json.Unmarshal(e.Payload, &v)
		p = v
	case V0_0_3:
		var v BlockInfoV3
		err = json.Unmarshal(e.Payload, &v)
		p = v
	case V0_0_4:
		var v BlockInfoV4
		err = json.Unmarshal(e.Payload, &v)
		p = v
	default:
		return nil, e.unknown()
	}
	if err != nil {
		return nil, fmt.Errorf("decode block %s: %w", e.Version, err)
	}
	return p, nil
}

// AccountEnvelope encodes an account payload for the wire.
func AccountEnvelope(p AccountPayload, slot uint64, isStartup bool) (Envelope, error) {
	var body any = p
	if v3, ok := p.(AccountInfoV3); ok {
		txn, err := encodeTransaction(v3.Txn)
		if err != nil {
			return Envelope{}, fmt.Errorf("encode account txn: %w", err)
		}
		body = accountV3Wire{
			Pubkey:       v3.Pubkey,
			Lamports:     v3.Lamports,
			Owner:        v3.Owner,
			Executable:   v3.Executable,
			RentEpoch:    v3.RentEpoch,
			Data:         v3.Data,
			WriteVersion: v3.WriteVersion,
			Txn:          txn,
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode account: %w", err)
	}
	return Envelope{
		Kind:      KindAccountUpdate,
		Version:   p.Version(),
		Slot:      slot,
		IsStartup: isStartup,
		Payload:   raw,
	}, nil
}

// TransactionEnvelope encodes a transaction payload for the wire.
func TransactionEnvelope(p TransactionPayload, slot uint64) (Envelope, error) {
	var w transactionWire
	var tx *solana.Transaction
	switch v := p.(type) {
	case TransactionInfoV1:
		w = transactionWire{Signature: v.Signature, IsVote: v.IsVote, Meta: v.Meta}
		tx = v.Transaction
	case TransactionInfoV2:
		index := v.Index
		w = transactionWire{Signature: v.Signature, IsVote: v.IsVote, Meta: v.Meta, Index: &index}
		tx = v.Transaction
	default:
		return Envelope{}, fmt.Errorf("%w: transaction %T", ErrUnknownVersion, p)
	}

	body, err := encodeTransaction(tx)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode transaction body: %w", err)
	}
	w.Transaction = body

	raw, err := json.Marshal(w)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode transaction: %w", err)
	}
	return Envelope{
		Kind:    KindTransaction,
		Version: p.Version(),
		Slot:    slot,
		Payload: raw,
	}, nil
}

// EntryEnvelope encodes an entry payload for the wire.
func EntryEnvelope(p EntryPayload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode entry: %w", err)
	}
	return Envelope{Kind: KindEntry, Version: p.Version(), Payload: raw}, nil
}

// BlockEnvelope encodes a block payload for the wire.
func BlockEnvelope(p BlockPayload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode block: %w", err)
	}
	return Envelope{Kind: KindBlockMetadata, Version: p.Version(), Payload: raw}, nil
}

// SlotEnvelope builds a slot_status envelope. Slot status has a single wire shape.
func SlotEnvelope(slot uint64, parent *uint64, status SlotStatus, deadErr string) Envelope {
	return Envelope{
		Kind:      KindSlotStatus,
		Version:   V0_0_1,
		Slot:      slot,
		Parent:    parent,
		Status:    status,
		DeadError: deadErr,
	}
}

func decodeTransaction(b64 string) (*solana.Transaction, error) {
	if b64 == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("wire transaction: %w", err)
	}
	return tx, nil
}

func encodeTransaction(tx *solana.Transaction) (string, error) {
	if tx == nil {
		return "", nil
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
