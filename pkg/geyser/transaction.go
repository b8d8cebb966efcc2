package geyser

import (
	"github.com/gagliardetto/solana-go"
)

// TransactionPayload is the union of transaction wire versions.
type TransactionPayload interface {
	Version() Version
	// TxSignature is the signature the host reports for the transaction,
	// independent of the embedded transaction body.
	TxSignature() solana.Signature
	transactionPayload()
}

// TransactionStatusMeta is the execution status the host attaches to a transaction.
type TransactionStatusMeta struct {
	Err                  string   `json:"err,omitempty"`
	Fee                  uint64   `json:"fee"`
	PreBalances          []uint64 `json:"pre_balances,omitempty"`
	PostBalances         []uint64 `json:"post_balances,omitempty"`
	LogMessages          []string `json:"log_messages,omitempty"`
	ComputeUnitsConsumed *uint64  `json:"compute_units_consumed,omitempty"`
}

// TransactionInfoV1 is the original transaction layout.
type TransactionInfoV1 struct {
	Signature   solana.Signature
	IsVote      bool
	Transaction *solana.Transaction
	Meta        *TransactionStatusMeta
}

// TransactionInfoV2 adds the transaction's position within its block.
type TransactionInfoV2 struct {
	Signature   solana.Signature
	IsVote      bool
	Transaction *solana.Transaction
	Meta        *TransactionStatusMeta
	Index       uint64
}

func (TransactionInfoV1) Version() Version { return V0_0_1 }
func (TransactionInfoV2) Version() Version { return V0_0_2 }

func (t TransactionInfoV1) TxSignature() solana.Signature { return t.Signature }
func (t TransactionInfoV2) TxSignature() solana.Signature { return t.Signature }

func (TransactionInfoV1) transactionPayload() {}
func (TransactionInfoV2) transactionPayload() {}
