package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/marko911/pulse-geyser/internal/processor"
	"github.com/marko911/pulse-geyser/pkg/geyser"
)

type recordingPlugin struct {
	calls []string
}

func (r *recordingPlugin) Name() string { return "recording" }
func (r *recordingPlugin) Load(context.Context, string, bool) error { return nil }
func (r *recordingPlugin) Unload(context.Context) error { return nil }
func (r *recordingPlugin) NotifyEndOfStartup() error { return nil }
func (r *recordingPlugin) CapabilityEnabled(geyser.EventKind) bool { return true }

func (r *recordingPlugin) NotifyEntry(context.Context, geyser.EntryPayload) error {
	r.calls = append(r.calls, "entry")
	return nil
}

func (r *recordingPlugin) UpdateAccount(_ context.Context, _ geyser.AccountPayload, slot uint64, isStartup bool) error {
	r.calls = append(r.calls, fmt.Sprintf("account:%d:%v", slot, isStartup))
	return nil
}

func (r *recordingPlugin) UpdateSlotStatus(_ context.Context, slot uint64, parent *uint64, status geyser.SlotStatus, _ string) error {
	r.calls = append(r.calls, fmt.Sprintf("slot:%d:%d:%s", slot, *parent, status))
	return nil
}

func (r *recordingPlugin) NotifyTransaction(_ context.Context, _ geyser.TransactionPayload, slot uint64) error {
	r.calls = append(r.calls, fmt.Sprintf("tx:%d", slot))
	return nil
}

func (r *recordingPlugin) NotifyBlockMetadata(context.Context, geyser.BlockPayload) error {
	r.calls = append(r.calls, "block")
	return nil
}

func TestDispatch_Routes(t *testing.T) {
	p := &recordingPlugin{}
	ctx := context.Background()

	parent := uint64(41)
	envs := []geyser.Envelope{
		geyser.SlotEnvelope(42, &parent, geyser.SlotConfirmed, ""),
		{Kind: geyser.KindAccountUpdate, Version: geyser.V0_0_2, Slot: 42, IsStartup: true, Payload: []byte(`{}`)},
		{Kind: geyser.KindEntry, Version: geyser.V0_0_1, Payload: []byte(`{"slot":42}`)},
	}
	for _, env := range envs {
		if err := Dispatch(ctx, p, env); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", env.Kind, err)
		}
	}

	want := []string{"slot:42:41:confirmed", "account:42:true", "entry"}
	if len(p.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", p.calls, want)
	}
	for i := range want {
		if p.calls[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, p.calls[i], want[i])
		}
	}
}

func TestDispatch_UnknownKind(t *testing.T) {
	err := Dispatch(context.Background(), &recordingPlugin{}, geyser.Envelope{Kind: 99})
	if !errors.Is(err, processor.ErrMalformedInput) {
		t.Errorf("Dispatch() error = %v, want malformed input", err)
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, CodeOK},
		{"unsupported", &processor.UnsupportedVersionError{Kind: geyser.KindEntry, Version: 9}, CodeUnsupportedVersion},
		{"invariant", &processor.InvariantViolationError{Kind: geyser.KindTransaction}, CodeInvariantViolation},
		{"malformed", &processor.MalformedInputError{Field: "pubkey", Err: errors.New("short")}, CodeMalformedInput},
		{"not loaded", ErrNotLoaded, CodeLifecycleViolation},
		{"terminated wrapped", fmt.Errorf("notify: %w", ErrTerminated), CodeLifecycleViolation},
		{"other", errors.New("disk full"), CodeOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %d, want %d", got, tt.want)
			}
		})
	}
}
