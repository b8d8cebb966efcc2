package processor

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/marko911/pulse-geyser/pkg/geyser"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// ExtractAccount normalizes an account write observed at slot.
func (n *Normalizer) ExtractAccount(payload geyser.AccountPayload, slot uint64, isStartup bool) (*protov1.AccountUpdate, error) {
	if payload == nil {
		return nil, &UnsupportedVersionError{Kind: geyser.KindAccountUpdate}
	}
	if err := n.policy.Check(geyser.KindAccountUpdate, payload.Version()); err != nil {
		return nil, err
	}

	var (
		rec           *protov1.AccountUpdate
		pubkey, owner []byte
	)
	switch p := payload.(type) {
	case geyser.AccountInfoV1:
		pubkey, owner = p.Pubkey, p.Owner
		rec = &protov1.AccountUpdate{
			Lamports:     p.Lamports,
			Executable:   p.Executable,
			RentEpoch:    p.RentEpoch,
			Data:         p.Data,
			WriteVersion: p.WriteVersion,
		}
	case geyser.AccountInfoV2:
		pubkey, owner = p.Pubkey, p.Owner
		rec = &protov1.AccountUpdate{
			Lamports:     p.Lamports,
			Executable:   p.Executable,
			RentEpoch:    p.RentEpoch,
			Data:         p.Data,
			WriteVersion: p.WriteVersion,
		}
		if p.TxnSignature != nil {
			sig := *p.TxnSignature
			rec.TxnSignature = &sig
		}
	case geyser.AccountInfoV3:
		pubkey, owner = p.Pubkey, p.Owner
		rec = &protov1.AccountUpdate{
			Lamports:     p.Lamports,
			Executable:   p.Executable,
			RentEpoch:    p.RentEpoch,
			Data:         p.Data,
			WriteVersion: p.WriteVersion,
		}
		if p.Txn != nil {
			sig, err := leadSignature(geyser.KindAccountUpdate, p.Txn)
			if err != nil {
				return nil, err
			}
			rec.TxnSignature = &sig
		}
	default:
		return nil, &UnsupportedVersionError{Kind: geyser.KindAccountUpdate, Version: payload.Version()}
	}

	var err error
	if rec.Pubkey, err = publicKeyFromBytes(geyser.KindAccountUpdate, "pubkey", pubkey); err != nil {
		return nil, err
	}
	if rec.Owner, err = publicKeyFromBytes(geyser.KindAccountUpdate, "owner", owner); err != nil {
		return nil, err
	}
	rec.SlotNumber = slot
	rec.IsStartup = isStartup
	return rec, nil
}

func publicKeyFromBytes(kind geyser.EventKind, field string, b []byte) (solana.PublicKey, error) {
	if len(b) != solana.PublicKeyLength {
		return solana.PublicKey{}, &MalformedInputError{
			Kind:  kind,
			Field: field,
			Err:   fmt.Errorf("want %d bytes, got %d", solana.PublicKeyLength, len(b)),
		}
	}
	return solana.PublicKeyFromBytes(b), nil
}

// leadSignature returns the fee payer signature, which identifies a
// sanitized transaction.
func leadSignature(kind geyser.EventKind, tx *solana.Transaction) (solana.Signature, error) {
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, &InvariantViolationError{
			Kind:   kind,
			Detail: "embedded transaction carries no signatures",
		}
	}
	return tx.Signatures[0], nil
}
