package wasm

import (
	"context"
	"log/slog"
	"sync"
)

// Log levels understood by env.log.
const (
	LogLevelDebug = 0
	LogLevelInfo  = 1
	LogLevelWarn  = 2
	LogLevelError = 3
)

// HostFunctions holds the per-execution state behind the env imports: the
// input handed to the module, the output it produced and its KV store.
type HostFunctions struct {
	kv     KV
	logger *slog.Logger

	mu     sync.Mutex
	input  []byte
	output []byte
}

// NewHostFunctions creates host state for one execution. kv may be nil, in
// which case every kv_* call fails.
func NewHostFunctions(kv KV, logger *slog.Logger) *HostFunctions {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostFunctions{kv: kv, logger: logger}
}

func (h *HostFunctions) Log(level int, message string) {
	switch level {
	case LogLevelDebug:
		h.logger.Debug(message, "source", "wasm")
	case LogLevelInfo:
		h.logger.Info(message, "source", "wasm")
	case LogLevelWarn:
		h.logger.Warn(message, "source", "wasm")
	case LogLevelError:
		h.logger.Error(message, "source", "wasm")
	default:
		h.logger.Info(message, "source", "wasm", "level", level)
	}
}

func (h *HostFunctions) SetInput(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.input = append(h.input[:0], data...)
}

func (h *HostFunctions) Input() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.input
}

func (h *HostFunctions) SetOutput(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.output = append([]byte(nil), data...)
}

func (h *HostFunctions) Output() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output
}

func (h *HostFunctions) kvGet(ctx context.Context, key string) ([]byte, error) {
	if h.kv == nil {
		return nil, errNoKV
	}
	return h.kv.Get(ctx, key)
}

func (h *HostFunctions) kvSet(ctx context.Context, key string, value []byte) error {
	if h.kv == nil {
		return errNoKV
	}
	return h.kv.Set(ctx, key, value)
}

func (h *HostFunctions) kvDelete(ctx context.Context, key string) error {
	if h.kv == nil {
		return errNoKV
	}
	return h.kv.Delete(ctx, key)
}
