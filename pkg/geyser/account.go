package geyser

import (
	"github.com/gagliardetto/solana-go"
)

// AccountPayload is the union of account-update wire versions.
type AccountPayload interface {
	Version() Version
	accountPayload()
}

// AccountInfoV1 is the original account layout: no transaction reference.
type AccountInfoV1 struct {
	Pubkey       []byte `json:"pubkey"`
	Lamports     uint64 `json:"lamports"`
	Owner        []byte `json:"owner"`
	Executable   bool   `json:"executable"`
	RentEpoch    uint64 `json:"rent_epoch"`
	Data         []byte `json:"data"`
	WriteVersion uint64 `json:"write_version"`
}

// AccountInfoV2 adds the signature of the transaction that caused the write.
type AccountInfoV2 struct {
	Pubkey       []byte            `json:"pubkey"`
	Lamports     uint64            `json:"lamports"`
	Owner        []byte            `json:"owner"`
	Executable   bool              `json:"executable"`
	RentEpoch    uint64            `json:"rent_epoch"`
	Data         []byte            `json:"data"`
	WriteVersion uint64            `json:"write_version"`
	TxnSignature *solana.Signature `json:"txn_signature,omitempty"`
}

// AccountInfoV3 replaces the signature with the full sanitized transaction.
type AccountInfoV3 struct {
	Pubkey       []byte              `json:"pubkey"`
	Lamports     uint64              `json:"lamports"`
	Owner        []byte              `json:"owner"`
	Executable   bool                `json:"executable"`
	RentEpoch    uint64              `json:"rent_epoch"`
	Data         []byte              `json:"data"`
	WriteVersion uint64              `json:"write_version"`
	Txn          *solana.Transaction `json:"-"`
}

func (AccountInfoV1) Version() Version { return V0_0_1 }
func (AccountInfoV2) Version() Version { return V0_0_2 }
func (AccountInfoV3) Version() Version { return V0_0_3 }

func (AccountInfoV1) accountPayload() {}
func (AccountInfoV2) accountPayload() {}
func (AccountInfoV3) accountPayload() {}
