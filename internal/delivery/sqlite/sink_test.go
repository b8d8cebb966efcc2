package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	"github.com/marko911/pulse-geyser/pkg/geyser"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

func openTest(t *testing.T) *Sink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "geyser.db")
	s, err := Open(context.Background(), path, "test")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestSink_Observe(t *testing.T) {
	s := openTest(t)
	ctx := context.Background()

	acct := &protov1.AccountUpdate{
		SlotNumber:   100,
		Pubkey:       solana.PublicKey{3},
		Owner:        solana.SystemProgramID,
		Lamports:     42,
		WriteVersion: 9,
	}
	slot := &protov1.SlotUpdate{SlotNumber: 100, Status: geyser.SlotRooted}

	for _, rec := range []protov1.Record{acct, slot, acct} {
		if err := s.Observe(ctx, rec); err != nil {
			t.Fatalf("Observe(%s) error = %v", rec.Kind(), err)
		}
	}

	tests := []struct {
		kind string
		want int64
	}{
		{"", 2},
		{"account_update", 1},
		{"slot_status", 1},
		{"entry", 0},
	}
	for _, tt := range tests {
		got, err := s.Count(ctx, tt.kind)
		if err != nil {
			t.Fatalf("Count(%q) error = %v", tt.kind, err)
		}
		if got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}

	w, err := s.Get(ctx, protov1.RecordID(acct))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w == nil {
		t.Fatal("Get() = nil, want record")
	}
	rec, err := w.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got := rec.(*protov1.AccountUpdate)
	if got.Lamports != 42 || got.Pubkey != acct.Pubkey {
		t.Errorf("decoded = %+v", got)
	}
	if w.Instance != "test" {
		t.Errorf("Instance = %s, want test", w.Instance)
	}
}

func TestSink_GetMissing(t *testing.T) {
	s := openTest(t)
	w, err := s.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if w != nil {
		t.Errorf("Get() = %+v, want nil", w)
	}
}

func TestSink_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geyser.db")
	ctx := context.Background()

	s, err := Open(ctx, path, "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.Observe(ctx, &protov1.EntryRecord{SlotNumber: 1, Index: 2}); err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Observe(ctx, &protov1.EntryRecord{SlotNumber: 1, Index: 3}); !errors.Is(err, sink.ErrClosed) {
		t.Errorf("Observe() after Close = %v, want ErrClosed", err)
	}

	s, err = Open(ctx, path, "")
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close(ctx)
	n, err := s.Count(ctx, "entry")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), " ", ""); err == nil {
		t.Error("expected error for empty path")
	}
}
