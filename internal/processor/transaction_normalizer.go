package processor

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/marko911/pulse-geyser/pkg/geyser"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// ExtractTransaction normalizes a transaction observed at slot. The reported
// signature must match the embedded transaction's own signature; a mismatch
// means host and plugin disagree on the payload layout.
func (n *Normalizer) ExtractTransaction(payload geyser.TransactionPayload, slot uint64) (*protov1.TransactionRecord, error) {
	if payload == nil {
		return nil, &UnsupportedVersionError{Kind: geyser.KindTransaction}
	}
	if err := n.policy.Check(geyser.KindTransaction, payload.Version()); err != nil {
		return nil, err
	}

	var rec *protov1.TransactionRecord
	switch p := payload.(type) {
	case geyser.TransactionInfoV1:
		rec = &protov1.TransactionRecord{
			Signature:   p.Signature,
			IsVote:      p.IsVote,
			Transaction: p.Transaction,
			Meta:        p.Meta,
		}
	case geyser.TransactionInfoV2:
		index := p.Index
		rec = &protov1.TransactionRecord{
			Signature:   p.Signature,
			IsVote:      p.IsVote,
			Index:       &index,
			Transaction: p.Transaction,
			Meta:        p.Meta,
		}
	default:
		return nil, &UnsupportedVersionError{Kind: geyser.KindTransaction, Version: payload.Version()}
	}

	if err := checkSignature(rec); err != nil {
		return nil, err
	}
	rec.SlotNumber = slot
	return rec, nil
}

func checkSignature(rec *protov1.TransactionRecord) error {
	if rec.Transaction == nil {
		return nil
	}
	embedded, err := leadSignature(geyser.KindTransaction, rec.Transaction)
	if err != nil {
		return err
	}
	if !embedded.Equals(rec.Signature) {
		return &InvariantViolationError{
			Kind:   geyser.KindTransaction,
			Detail: fmt.Sprintf("signature %s does not match embedded transaction signature %s", short(rec.Signature), short(embedded)),
		}
	}
	return nil
}

func short(sig solana.Signature) string {
	s := sig.String()
	if len(s) > 16 {
		return s[:16] + "…"
	}
	return s
}
