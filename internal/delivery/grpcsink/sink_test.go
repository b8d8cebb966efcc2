package grpcsink

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	"github.com/marko911/pulse-geyser/pkg/geyser"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

type recordingObserver struct {
	mu      sync.Mutex
	records []*protov1.Wire
	reject  bool
}

func (o *recordingObserver) Observe(_ context.Context, rec *protov1.Wire) (*Ack, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, rec)
	if o.reject {
		return &Ack{Accepted: false, Reason: "not today"}, nil
	}
	return &Ack{Accepted: true}, nil
}

func (o *recordingObserver) received() []*protov1.Wire {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*protov1.Wire(nil), o.records...)
}

func startObserver(t *testing.T, obs ObserverServer) *Sink {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)

	server := grpc.NewServer(ServerCodec())
	RegisterObserverServer(server, obs)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	s, err := New(Config{
		Target:   "passthrough:///bufnet",
		Timeout:  2 * time.Second,
		Instance: "test",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestSink_Observe(t *testing.T) {
	obs := &recordingObserver{}
	s := startObserver(t, obs)
	ctx := context.Background()

	recs := []protov1.Record{
		&protov1.SlotUpdate{SlotNumber: 10, Status: geyser.SlotRooted},
		&protov1.EntryRecord{SlotNumber: 10, Index: 1, NumHashes: 12},
	}
	for _, rec := range recs {
		if err := s.Observe(ctx, rec); err != nil {
			t.Fatalf("Observe(%s) error = %v", rec.Kind(), err)
		}
	}

	got := obs.received()
	if len(got) != 2 {
		t.Fatalf("observer received %d records, want 2", len(got))
	}
	for i, w := range got {
		if w.ID != protov1.RecordID(recs[i]) {
			t.Errorf("record %d id = %s, want %s", i, w.ID, protov1.RecordID(recs[i]))
		}
		if w.Instance != "test" {
			t.Errorf("record %d instance = %s, want test", i, w.Instance)
		}
	}

	entry, err := got[1].Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if e := entry.(*protov1.EntryRecord); e.NumHashes != 12 {
		t.Errorf("NumHashes = %d, want 12", e.NumHashes)
	}
}

func TestSink_Rejected(t *testing.T) {
	s := startObserver(t, &recordingObserver{reject: true})

	err := s.Observe(context.Background(), &protov1.SlotUpdate{SlotNumber: 1, Status: geyser.SlotProcessed})
	if !errors.Is(err, ErrRejected) {
		t.Errorf("Observe() error = %v, want ErrRejected", err)
	}
}

func TestSink_Closed(t *testing.T) {
	s := startObserver(t, &recordingObserver{})
	ctx := context.Background()

	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Observe(ctx, &protov1.EntryRecord{}); !errors.Is(err, sink.ErrClosed) {
		t.Errorf("Observe() after Close = %v, want ErrClosed", err)
	}
}

func TestNew_RequiresTarget(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without target")
	}
}
