package processor

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/marko911/pulse-geyser/pkg/geyser"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

func testKey(b byte) []byte {
	return bytes.Repeat([]byte{b}, solana.PublicKeyLength)
}

func testSig(b byte) solana.Signature {
	var s solana.Signature
	for i := range s {
		s[i] = b
	}
	return s
}

func testTx(sigs ...solana.Signature) *solana.Transaction {
	return &solana.Transaction{
		Signatures: sigs,
		Message: solana.Message{
			AccountKeys: solana.PublicKeySlice{solana.PublicKeyFromBytes(testKey(9))},
		},
	}
}

func accountV2(v1 geyser.AccountInfoV1, sig *solana.Signature) geyser.AccountInfoV2 {
	return geyser.AccountInfoV2{
		Pubkey:       v1.Pubkey,
		Lamports:     v1.Lamports,
		Owner:        v1.Owner,
		Executable:   v1.Executable,
		RentEpoch:    v1.RentEpoch,
		Data:         v1.Data,
		WriteVersion: v1.WriteVersion,
		TxnSignature: sig,
	}
}

func accountV3(v1 geyser.AccountInfoV1, tx *solana.Transaction) geyser.AccountInfoV3 {
	return geyser.AccountInfoV3{
		Pubkey:       v1.Pubkey,
		Lamports:     v1.Lamports,
		Owner:        v1.Owner,
		Executable:   v1.Executable,
		RentEpoch:    v1.RentEpoch,
		Data:         v1.Data,
		WriteVersion: v1.WriteVersion,
		Txn:          tx,
	}
}

func transactionV2(v1 geyser.TransactionInfoV1, index uint64) geyser.TransactionInfoV2 {
	return geyser.TransactionInfoV2{
		Signature:   v1.Signature,
		IsVote:      v1.IsVote,
		Transaction: v1.Transaction,
		Meta:        v1.Meta,
		Index:       index,
	}
}

func TestExtractAccount_NormalizationEquivalence(t *testing.T) {
	n := NewNormalizer(PermissiveVersionPolicy())
	sig := testSig(4)

	base := geyser.AccountInfoV1{
		Pubkey:       testKey(1),
		Lamports:     5000,
		Owner:        testKey(2),
		Executable:   false,
		RentEpoch:    361,
		Data:         []byte{1, 2, 3},
		WriteVersion: 7,
	}

	tests := []struct {
		name    string
		payload geyser.AccountPayload
		wantSig *solana.Signature
	}{
		{name: "v1", payload: base},
		{name: "v2 without signature", payload: accountV2(base, nil)},
		{name: "v2 with signature", payload: accountV2(base, &sig), wantSig: &sig},
		{name: "v3 without transaction", payload: accountV3(base, nil)},
		{name: "v3 with transaction", payload: accountV3(base, testTx(sig)), wantSig: &sig},
	}

	want := &protov1.AccountUpdate{
		SlotNumber:   100,
		Pubkey:       solana.PublicKeyFromBytes(testKey(1)),
		Owner:        solana.PublicKeyFromBytes(testKey(2)),
		Lamports:     5000,
		RentEpoch:    361,
		Data:         []byte{1, 2, 3},
		WriteVersion: 7,
		IsStartup:    true,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.ExtractAccount(tt.payload, 100, true)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if (got.TxnSignature == nil) != (tt.wantSig == nil) {
				t.Fatalf("txn signature = %v, want %v", got.TxnSignature, tt.wantSig)
			}
			if tt.wantSig != nil && !got.TxnSignature.Equals(*tt.wantSig) {
				t.Errorf("txn signature = %s, want %s", got.TxnSignature, tt.wantSig)
			}

			stripped := *got
			stripped.TxnSignature = nil
			if !reflect.DeepEqual(&stripped, want) {
				t.Errorf("record = %+v, want %+v", stripped, want)
			}
		})
	}
}

func TestExtractAccount_RetiredVersions(t *testing.T) {
	n := NewNormalizer(DefaultVersionPolicy())
	base := geyser.AccountInfoV1{Pubkey: testKey(1), Owner: testKey(2)}

	tests := []struct {
		name    string
		payload geyser.AccountPayload
		wantErr bool
	}{
		{name: "v1 retired", payload: base, wantErr: true},
		{name: "v2 retired", payload: accountV2(base, nil), wantErr: true},
		{name: "v3 accepted", payload: accountV3(base, nil)},
		{name: "nil payload", payload: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.ExtractAccount(tt.payload, 1, false)
			if !tt.wantErr {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrUnsupportedVersion) {
				t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
			}
			if !IsFatal(err) {
				t.Error("unsupported version should be fatal")
			}
		})
	}
}

func TestExtractAccount_RetiredFlag(t *testing.T) {
	n := NewNormalizer(DefaultVersionPolicy())

	_, err := n.ExtractAccount(geyser.AccountInfoV1{Pubkey: testKey(1), Owner: testKey(2)}, 1, false)

	var uv *UnsupportedVersionError
	if !errors.As(err, &uv) {
		t.Fatalf("err = %v, want *UnsupportedVersionError", err)
	}
	if !uv.Retired {
		t.Error("Retired = false, want true")
	}
	if uv.Kind != geyser.KindAccountUpdate || uv.Version != geyser.V0_0_1 {
		t.Errorf("error = %s/%s, want account_update/0.0.1", uv.Kind, uv.Version)
	}
}

func TestExtractAccount_MalformedKeys(t *testing.T) {
	n := NewNormalizer(PermissiveVersionPolicy())

	tests := []struct {
		name      string
		payload   geyser.AccountInfoV1
		wantField string
	}{
		{name: "short pubkey", payload: geyser.AccountInfoV1{Pubkey: testKey(1)[:31], Owner: testKey(2)}, wantField: "pubkey"},
		{name: "long owner", payload: geyser.AccountInfoV1{Pubkey: testKey(1), Owner: append(testKey(2), 0)}, wantField: "owner"},
		{name: "empty pubkey", payload: geyser.AccountInfoV1{Owner: testKey(2)}, wantField: "pubkey"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.ExtractAccount(tt.payload, 1, false)

			var me *MalformedInputError
			if !errors.As(err, &me) {
				t.Fatalf("err = %v, want *MalformedInputError", err)
			}
			if me.Field != tt.wantField {
				t.Errorf("field = %q, want %q", me.Field, tt.wantField)
			}
			if !errors.Is(err, ErrMalformedInput) || !IsFatal(err) {
				t.Error("malformed input should match ErrMalformedInput and be fatal")
			}
		})
	}
}

func TestExtractAccount_UnsignedTransaction(t *testing.T) {
	n := NewNormalizer(DefaultVersionPolicy())

	_, err := n.ExtractAccount(accountV3(geyser.AccountInfoV1{Pubkey: testKey(1), Owner: testKey(2)}, testTx()), 1, false)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("err = %v, want ErrInvariantViolation", err)
	}
}

func TestExtractTransaction(t *testing.T) {
	n := NewNormalizer(PermissiveVersionPolicy())
	s1, s2 := testSig(1), testSig(2)
	meta := &geyser.TransactionStatusMeta{Fee: 5000}

	tests := []struct {
		name      string
		payload   geyser.TransactionPayload
		wantErr   error
		wantIndex *uint64
	}{
		{
			name:    "v1 matching signature",
			payload: geyser.TransactionInfoV1{Signature: s1, Transaction: testTx(s1, s2), Meta: meta},
		},
		{
			name:      "v2 matching signature",
			payload:   transactionV2(geyser.TransactionInfoV1{Signature: s1, Transaction: testTx(s1), Meta: meta}, 3),
			wantIndex: ptr(uint64(3)),
		},
		{
			name:    "signature mismatch",
			payload: transactionV2(geyser.TransactionInfoV1{Signature: s1, Transaction: testTx(s2)}, 0),
			wantErr: ErrInvariantViolation,
		},
		{
			name:    "mismatch against secondary signer",
			payload: geyser.TransactionInfoV1{Signature: s2, Transaction: testTx(s1, s2)},
			wantErr: ErrInvariantViolation,
		},
		{
			name:    "no signatures",
			payload: geyser.TransactionInfoV1{Signature: s1, Transaction: testTx()},
			wantErr: ErrInvariantViolation,
		},
		{
			name:    "no embedded transaction",
			payload: geyser.TransactionInfoV1{Signature: s1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.ExtractTransaction(tt.payload, 42)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if got != nil {
					t.Error("record returned alongside error")
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.SlotNumber != 42 {
				t.Errorf("slot = %d, want 42", got.SlotNumber)
			}
			if !got.Signature.Equals(s1) {
				t.Errorf("signature = %s, want %s", got.Signature, s1)
			}
			if !reflect.DeepEqual(got.Index, tt.wantIndex) {
				t.Errorf("index = %v, want %v", got.Index, tt.wantIndex)
			}
		})
	}
}

func TestExtractTransaction_RetiredV1(t *testing.T) {
	n := NewNormalizer(DefaultVersionPolicy())
	s := testSig(1)

	_, err := n.ExtractTransaction(geyser.TransactionInfoV1{Signature: s, Transaction: testTx(s)}, 1)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("err = %v, want ErrUnsupportedVersion", err)
	}
}

func TestExtractEntry(t *testing.T) {
	n := NewNormalizer(DefaultVersionPolicy())
	hash := testKey(7)

	v1 := geyser.EntryInfoV1{Slot: 9, Index: 2, NumHashes: 12500, Hash: hash, ExecutedTransactionCount: 4}
	r1, err := n.ExtractEntry(v1)
	if err != nil {
		t.Fatalf("v1: %v", err)
	}
	r2, err := n.ExtractEntry(geyser.EntryInfoV2{
		Slot:                     v1.Slot,
		Index:                    v1.Index,
		NumHashes:                v1.NumHashes,
		Hash:                     v1.Hash,
		ExecutedTransactionCount: v1.ExecutedTransactionCount,
		StartingTransactionIndex: 17,
	})
	if err != nil {
		t.Fatalf("v2: %v", err)
	}

	if r1.StartingTransactionIndex != nil {
		t.Errorf("v1 starting index = %d, want nil", *r1.StartingTransactionIndex)
	}
	if r2.StartingTransactionIndex == nil || *r2.StartingTransactionIndex != 17 {
		t.Errorf("v2 starting index = %v, want 17", r2.StartingTransactionIndex)
	}

	r2.StartingTransactionIndex = nil
	if !reflect.DeepEqual(r1, r2) {
		t.Errorf("records differ: %+v vs %+v", r1, r2)
	}
	if r1.Hash != solana.HashFromBytes(hash) {
		t.Errorf("hash = %s, want %s", r1.Hash, solana.HashFromBytes(hash))
	}

	_, err = n.ExtractEntry(geyser.EntryInfoV1{Hash: hash[:8]})
	if !errors.Is(err, ErrMalformedInput) {
		t.Errorf("short hash err = %v, want ErrMalformedInput", err)
	}
}

func TestExtractBlock(t *testing.T) {
	n := NewNormalizer(PermissiveVersionPolicy())
	blockhash := solana.HashFromBytes(testKey(3))
	parent := solana.HashFromBytes(testKey(4))
	height := uint64(250_000_000)
	parts := uint64(2)

	rewards := []geyser.Reward{{Pubkey: "validator", Lamports: 100, PostBalance: 1000}}
	v2 := geyser.BlockInfoV2{
		ParentSlot:               99,
		ParentBlockhash:          parent.String(),
		Slot:                     100,
		Blockhash:                blockhash.String(),
		Rewards:                  rewards,
		BlockHeight:              &height,
		ExecutedTransactionCount: 12,
	}
	v3 := geyser.BlockInfoV3{
		ParentSlot:               v2.ParentSlot,
		ParentBlockhash:          v2.ParentBlockhash,
		Slot:                     v2.Slot,
		Blockhash:                v2.Blockhash,
		Rewards:                  rewards,
		BlockHeight:              &height,
		ExecutedTransactionCount: v2.ExecutedTransactionCount,
		EntryCount:               64,
	}
	v4 := geyser.BlockInfoV4{
		ParentSlot:               v3.ParentSlot,
		ParentBlockhash:          v3.ParentBlockhash,
		Slot:                     v3.Slot,
		Blockhash:                v3.Blockhash,
		Rewards:                  geyser.RewardsAndNumPartitions{Rewards: rewards, NumPartitions: &parts},
		BlockHeight:              &height,
		ExecutedTransactionCount: v3.ExecutedTransactionCount,
		EntryCount:               v3.EntryCount,
	}

	tests := []struct {
		name              string
		payload           geyser.BlockPayload
		wantParent        bool
		wantEntryCount    bool
		wantNumPartitions bool
	}{
		{name: "v1", payload: geyser.BlockInfoV1{Slot: 100, Blockhash: blockhash.String(), Rewards: rewards, BlockHeight: &height}},
		{name: "v2", payload: v2, wantParent: true},
		{name: "v3", payload: v3, wantParent: true, wantEntryCount: true},
		{name: "v4", payload: v4, wantParent: true, wantEntryCount: true, wantNumPartitions: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.ExtractBlock(tt.payload)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got.SlotNumber != 100 || got.Blockhash != blockhash {
				t.Errorf("slot/hash = %d/%s, want 100/%s", got.SlotNumber, got.Blockhash, blockhash)
			}
			if !reflect.DeepEqual(got.Rewards, rewards) {
				t.Errorf("rewards = %+v, want %+v", got.Rewards, rewards)
			}
			if got.BlockHeight == nil || *got.BlockHeight != height {
				t.Errorf("block height = %v, want %d", got.BlockHeight, height)
			}
			if (got.ParentBlockhash != nil) != tt.wantParent || (got.ParentSlot != nil) != tt.wantParent {
				t.Errorf("parent present = %v, want %v", got.ParentBlockhash != nil, tt.wantParent)
			}
			if tt.wantParent && (*got.ParentBlockhash != parent || *got.ParentSlot != 99) {
				t.Errorf("parent = %d/%s, want 99/%s", *got.ParentSlot, got.ParentBlockhash, parent)
			}
			if (got.EntryCount != nil) != tt.wantEntryCount {
				t.Errorf("entry count present = %v, want %v", got.EntryCount != nil, tt.wantEntryCount)
			}
			if (got.NumPartitions != nil) != tt.wantNumPartitions {
				t.Errorf("num partitions present = %v, want %v", got.NumPartitions != nil, tt.wantNumPartitions)
			}
		})
	}
}

func TestExtractBlock_Errors(t *testing.T) {
	good := solana.HashFromBytes(testKey(3)).String()

	tests := []struct {
		name    string
		policy  VersionPolicy
		payload geyser.BlockPayload
		wantErr error
	}{
		{
			name:    "v1 retired by default",
			policy:  DefaultVersionPolicy(),
			payload: geyser.BlockInfoV1{Blockhash: good},
			wantErr: ErrUnsupportedVersion,
		},
		{
			name:    "v2 retired by default",
			policy:  DefaultVersionPolicy(),
			payload: geyser.BlockInfoV2{Blockhash: good, ParentBlockhash: good},
			wantErr: ErrUnsupportedVersion,
		},
		{
			name:    "bad blockhash",
			policy:  PermissiveVersionPolicy(),
			payload: geyser.BlockInfoV1{Blockhash: "not-base58-0OIl"},
			wantErr: ErrMalformedInput,
		},
		{
			name:    "bad parent blockhash",
			policy:  DefaultVersionPolicy(),
			payload: geyser.BlockInfoV3{Blockhash: good, ParentBlockhash: ""},
			wantErr: ErrMalformedInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNormalizer(tt.policy).ExtractBlock(tt.payload)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractSlot(t *testing.T) {
	n := NewNormalizer(DefaultVersionPolicy())
	parent := uint64(99)

	tests := []struct {
		name     string
		status   geyser.SlotStatus
		deadErr  string
		wantDead string
		wantErr  bool
	}{
		{name: "processed", status: geyser.SlotProcessed},
		{name: "rooted drops stray error", status: geyser.SlotRooted, deadErr: "ignored"},
		{name: "dead keeps error", status: geyser.SlotDead, deadErr: "shred mismatch", wantDead: "shred mismatch"},
		{name: "unknown status", status: geyser.SlotStatus(42), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.ExtractSlot(100, &parent, tt.status, tt.deadErr)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedInput) {
					t.Errorf("err = %v, want ErrMalformedInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Status != tt.status || got.DeadError != tt.wantDead {
				t.Errorf("status/dead = %s/%q, want %s/%q", got.Status, got.DeadError, tt.status, tt.wantDead)
			}
			if got.Parent == nil || *got.Parent != 99 {
				t.Errorf("parent = %v, want 99", got.Parent)
			}
		})
	}
}

func TestVersionPolicy(t *testing.T) {
	p := DefaultVersionPolicy()

	tests := []struct {
		kind        geyser.EventKind
		version     geyser.Version
		wantErr     bool
		wantRetired bool
	}{
		{geyser.KindAccountUpdate, geyser.V0_0_3, false, false},
		{geyser.KindAccountUpdate, geyser.V0_0_2, true, true},
		{geyser.KindAccountUpdate, geyser.V0_0_4, true, false},
		{geyser.KindTransaction, geyser.V0_0_1, true, true},
		{geyser.KindEntry, geyser.V0_0_1, false, false},
		{geyser.KindBlockMetadata, geyser.V0_0_4, false, false},
		{geyser.KindSlotStatus, geyser.V0_0_2, true, false},
		{geyser.KindEntry, geyser.Version(0), true, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.version.String(), func(t *testing.T) {
			err := p.Check(tt.kind, tt.version)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() err = %v, wantErr %v", err, tt.wantErr)
			}
			var uv *UnsupportedVersionError
			if err != nil && errors.As(err, &uv) && uv.Retired != tt.wantRetired {
				t.Errorf("retired = %v, want %v", uv.Retired, tt.wantRetired)
			}
		})
	}
}

func TestVersionPolicy_WithFloor(t *testing.T) {
	p, err := DefaultVersionPolicy().WithFloor(geyser.KindAccountUpdate, geyser.V0_0_1)
	if err != nil {
		t.Fatalf("WithFloor: %v", err)
	}
	if err := p.Check(geyser.KindAccountUpdate, geyser.V0_0_1); err != nil {
		t.Errorf("lowered floor still rejects v1: %v", err)
	}
	if err := DefaultVersionPolicy().Check(geyser.KindAccountUpdate, geyser.V0_0_1); err == nil {
		t.Error("WithFloor mutated the receiver")
	}

	if _, err := p.WithFloor(geyser.KindEntry, geyser.V0_0_3); !errors.Is(err, geyser.ErrUnknownVersion) {
		t.Errorf("floor beyond latest err = %v, want ErrUnknownVersion", err)
	}
	if _, err := p.WithFloor(geyser.EventKind(99), geyser.V0_0_1); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestNewNormalizer_ZeroPolicy(t *testing.T) {
	n := NewNormalizer(VersionPolicy{})
	if got := n.Policy().Floor(geyser.KindAccountUpdate); got != geyser.V0_0_3 {
		t.Errorf("floor = %s, want 0.0.3", got)
	}
}
