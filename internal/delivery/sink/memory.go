package sink

import (
	"context"
	"sync"

	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// Memory keeps every observed record. The dev host uses it for dry runs and
// tests use it to count deliveries.
type Memory struct {
	mu      sync.Mutex
	records []protov1.Record
	closed  bool
	// Err, when set, is returned from every Observe after recording.
	Err error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Observe(_ context.Context, rec protov1.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.records = append(m.records, rec)
	return m.Err
}

func (m *Memory) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns a copy of the observed records.
func (m *Memory) Records() []protov1.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]protov1.Record(nil), m.records...)
}

// Len returns the number of observed records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Closed reports whether Close was called.
func (m *Memory) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
