// Package wasm hands every canonical record to a user WebAssembly handler.
//
// The handler receives the record's wire JSON as input. It may answer with
// {"accepted": false, "reason": "..."} through env.output to report a
// rejection; any other output, or none, counts as accepted.
package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	wasmrt "github.com/marko911/pulse-geyser/internal/wasm"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// ErrRejected is returned when the handler rejects a record.
var ErrRejected = errors.New("handler rejected record")

// Config configures the handler sink.
type Config struct {
	// Module is a path to a .wasm or .wat file.
	Module        string
	MemoryLimitMB int
	Timeout       time.Duration
	// KVRedisAddr keeps handler state in Redis instead of memory.
	KVRedisAddr string
	Instance    string
	Logger      *slog.Logger
}

type reply struct {
	Accepted *bool  `json:"accepted"`
	Reason   string `json:"reason"`
}

// Sink runs the handler once per record.
type Sink struct {
	cfg     Config
	runtime *wasmrt.Runtime
	kv      wasmrt.KV
	closeKV func() error
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New reads and compiles the module at cfg.Module.
func New(ctx context.Context, cfg Config) (*Sink, error) {
	code, err := os.ReadFile(cfg.Module)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	return NewFromBytes(ctx, code, cfg)
}

// NewFromBytes compiles code as the handler module.
func NewFromBytes(ctx context.Context, code []byte, cfg Config) (*Sink, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "wasm-sink", "module", cfg.Module)

	rt, err := wasmrt.NewRuntime(wasmrt.RuntimeConfig{
		MaxMemoryMB: cfg.MemoryLimitMB,
		Timeout:     cfg.Timeout,
	}, code, logger)
	if err != nil {
		return nil, err
	}

	s := &Sink{
		cfg:     cfg,
		runtime: rt,
		logger:  logger,
		closeKV: func() error { return nil },
	}

	if cfg.KVRedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.KVRedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to kv redis: %w", err)
		}
		kv := wasmrt.NewRedisKV(client, "geyser:wasm:"+cfg.Instance)
		s.kv, s.closeKV = kv, kv.Close
	} else {
		s.kv = wasmrt.NewMemoryKV()
	}

	return s, nil
}

func (s *Sink) Name() string { return "wasm" }

func (s *Sink) Observe(ctx context.Context, rec protov1.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}

	input, err := protov1.Marshal(rec, s.cfg.Instance, time.Now())
	if err != nil {
		return err
	}

	res, err := s.runtime.Execute(ctx, input, wasmrt.NewHostFunctions(s.kv, s.logger))
	if err != nil {
		return fmt.Errorf("run handler: %w", err)
	}

	return checkReply(res.Output)
}

func checkReply(out []byte) error {
	if len(out) == 0 {
		return nil
	}
	var r reply
	if err := json.Unmarshal(out, &r); err != nil {
		return nil
	}
	if r.Accepted != nil && !*r.Accepted {
		return fmt.Errorf("%w: %s", ErrRejected, r.Reason)
	}
	return nil
}

func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closeKV()
}
