package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	geyserplugin "github.com/marko911/pulse-geyser/internal/adapter/geyser"
	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	"github.com/marko911/pulse-geyser/internal/host/replay"
	"github.com/marko911/pulse-geyser/internal/platform/logging"
	"github.com/marko911/pulse-geyser/internal/processor"
	"github.com/marko911/pulse-geyser/pkg/geyser"
)

type sliceSource struct {
	name string
	envs []geyser.Envelope
	err  error
}

func (s *sliceSource) Name() string { return s.name }

func (s *sliceSource) Stream(ctx context.Context, out chan<- geyser.Envelope) error {
	for _, env := range s.envs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- env:
		}
	}
	return s.err
}

type fakePlugin struct {
	mu       sync.Mutex
	calls    []string
	disabled map[geyser.EventKind]bool
	loadErr  error
	fail     error
}

func (f *fakePlugin) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakePlugin) Name() string { return "fake" }

func (f *fakePlugin) Load(_ context.Context, path string, isReload bool) error {
	f.record(fmt.Sprintf("load:%s:%v", path, isReload))
	return f.loadErr
}

func (f *fakePlugin) Unload(context.Context) error {
	f.record("unload")
	return nil
}

func (f *fakePlugin) NotifyEndOfStartup() error {
	f.record("end_of_startup")
	return nil
}

func (f *fakePlugin) UpdateAccount(_ context.Context, _ geyser.AccountPayload, slot uint64, isStartup bool) error {
	f.record(fmt.Sprintf("account:%d:%v", slot, isStartup))
	return f.fail
}

func (f *fakePlugin) UpdateSlotStatus(_ context.Context, slot uint64, _ *uint64, status geyser.SlotStatus, _ string) error {
	f.record(fmt.Sprintf("slot:%d:%s", slot, status))
	return nil
}

func (f *fakePlugin) NotifyTransaction(context.Context, geyser.TransactionPayload, uint64) error {
	f.record("tx")
	return nil
}

func (f *fakePlugin) NotifyEntry(context.Context, geyser.EntryPayload) error {
	f.record("entry")
	return nil
}

func (f *fakePlugin) NotifyBlockMetadata(context.Context, geyser.BlockPayload) error {
	f.record("block")
	return nil
}

func (f *fakePlugin) CapabilityEnabled(kind geyser.EventKind) bool {
	return !f.disabled[kind]
}

func discardLogger() *slog.Logger {
	return logging.New(io.Discard, "text", slog.LevelError)
}

func accountEnv(t *testing.T, slot uint64) geyser.Envelope {
	t.Helper()
	env, err := geyser.AccountEnvelope(geyser.AccountInfoV1{Pubkey: make([]byte, 32), Owner: make([]byte, 32)}, slot, false)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func equalCalls(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDriver_Lifecycle(t *testing.T) {
	p := &fakePlugin{}
	d := NewDriver(p, Config{
		ConfigPath: "/etc/geyser.toml",
		Startup:    &sliceSource{name: "snapshot", envs: []geyser.Envelope{accountEnv(t, 1), accountEnv(t, 2)}},
		Live: &sliceSource{name: "live", envs: []geyser.Envelope{
			geyser.SlotEnvelope(3, nil, geyser.SlotProcessed, ""),
			accountEnv(t, 3),
		}},
		Logger: discardLogger(),
	})

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	equalCalls(t, p.calls, []string{
		"load:/etc/geyser.toml:false",
		"account:1:true",
		"account:2:true",
		"end_of_startup",
		"slot:3:processed",
		"account:3:false",
		"unload",
	})
	if s := d.Stats(); s.Delivered != 4 || s.Skipped != 0 {
		t.Errorf("Stats() = %+v, want 4 delivered", s)
	}
}

func TestDriver_SkipsDisabledBeforeDecode(t *testing.T) {
	p := &fakePlugin{disabled: map[geyser.EventKind]bool{geyser.KindTransaction: true}}
	// The payload is garbage: decoding it would fail the run.
	bad := geyser.Envelope{Kind: geyser.KindTransaction, Version: geyser.V0_0_2, Slot: 5, Payload: []byte(`{`)}
	d := NewDriver(p, Config{
		Live:   &sliceSource{name: "live", envs: []geyser.Envelope{bad, geyser.SlotEnvelope(5, nil, geyser.SlotRooted, "")}},
		Logger: discardLogger(),
	})

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s := d.Stats(); s.Delivered != 1 || s.Skipped != 1 {
		t.Errorf("Stats() = %+v, want 1 delivered 1 skipped", s)
	}
}

func TestDriver_FatalStopsRun(t *testing.T) {
	p := &fakePlugin{fail: &processor.InvariantViolationError{Kind: geyser.KindAccountUpdate, Detail: "boom"}}
	d := NewDriver(p, Config{
		Live:   &sliceSource{name: "live", envs: []geyser.Envelope{accountEnv(t, 1), accountEnv(t, 2)}},
		Logger: discardLogger(),
	})

	err := d.Run(context.Background())
	if !errors.Is(err, processor.ErrInvariantViolation) {
		t.Fatalf("Run() error = %v, want invariant violation", err)
	}
	equalCalls(t, p.calls, []string{"load::false", "end_of_startup", "account:1:false", "unload"})
}

func TestDriver_LoadFailure(t *testing.T) {
	p := &fakePlugin{loadErr: errors.New("bad config")}
	d := NewDriver(p, Config{Logger: discardLogger()})

	if err := d.Run(context.Background()); err == nil {
		t.Fatal("Run() error = nil, want load failure")
	}
	equalCalls(t, p.calls, []string{"load::false"})
}

func TestDriver_SourceError(t *testing.T) {
	p := &fakePlugin{}
	d := NewDriver(p, Config{
		Startup: &sliceSource{name: "snapshot", err: errors.New("disk gone")},
		Logger:  discardLogger(),
	})

	err := d.Run(context.Background())
	if err == nil {
		t.Fatal("Run() error = nil, want source error")
	}
	equalCalls(t, p.calls, []string{"load::false", "unload"})
}

func TestDriver_CancelIsClean(t *testing.T) {
	p := &fakePlugin{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewDriver(p, Config{
		Live:   &sliceSource{name: "live", envs: []geyser.Envelope{accountEnv(t, 1)}},
		Logger: discardLogger(),
	})
	if err := d.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil on cancel", err)
	}
}

func TestDriver_ReplayIntoPlugin(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "geyser.toml")
	if err := os.WriteFile(cfgPath, []byte("[sinks.log]\nenabled = false\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fixtures := filepath.Join(dir, "fixtures")
	if err := os.Mkdir(fixtures, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(fixtures, "001.ndjson"), []byte(
		`{"kind":"slot_status","slot":7,"status":"processed"}`+"\n"+
			`{"kind":"slot_status","slot":7,"status":"rooted"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	mem := sink.NewMemory()
	p := geyserplugin.New(
		geyserplugin.WithSinks(mem),
		geyserplugin.WithLogOutput(io.Discard),
		geyserplugin.WithProcessLogger(false),
	)
	d := NewDriver(p, Config{
		ConfigPath: cfgPath,
		Live:       replay.NewFileSource(replay.FileSourceConfig{FixturesDir: fixtures}, discardLogger()),
		Logger:     discardLogger(),
	})

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if mem.Len() != 2 {
		t.Errorf("sink got %d records, want 2", mem.Len())
	}
	if !mem.Closed() {
		t.Error("sink not closed after run")
	}
	if p.State() != geyserplugin.StateTerminated {
		t.Errorf("State() = %s, want terminated", p.State())
	}
}
