// Package wasm runs user-supplied WebAssembly record handlers under memory
// and CPU limits.
//
// A handler is a module exporting _start (or main) and memory. It reads the
// record through env.get_input_len / env.get_input, may write a reply with
// env.output, log with env.log and keep state through env.kv_get,
// env.kv_set and env.kv_delete. WASI is linked so wasip1 builds of ordinary
// Go or Rust programs work as handlers.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v30"
)

// ErrTimeout is returned when a handler runs past its CPU budget.
var ErrTimeout = errors.New("wasm execution timeout")

// RuntimeConfig contains configuration for the WASM runtime.
type RuntimeConfig struct {
	MaxMemoryMB int
	Timeout     time.Duration
}

// ExecutionResult contains the result of one handler run.
type ExecutionResult struct {
	Output      []byte
	Duration    time.Duration
	MemoryBytes int64
}

// Runtime holds one compiled handler module. Executions are serialized
// because the epoch used for timeouts is engine-wide.
type Runtime struct {
	cfg    RuntimeConfig
	engine *wasmtime.Engine
	module *wasmtime.Module
	logger *slog.Logger

	mu sync.Mutex
}

// NewRuntime compiles wasmBytes. Both binary and text (WAT) modules are
// accepted.
func NewRuntime(cfg RuntimeConfig, wasmBytes []byte, logger *slog.Logger) (*Runtime, error) {
	if cfg.MaxMemoryMB <= 0 {
		cfg.MaxMemoryMB = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	engineCfg := wasmtime.NewConfig()
	engineCfg.SetEpochInterruption(true)
	engineCfg.SetConsumeFuel(false)
	engine := wasmtime.NewEngineWithConfig(engineCfg)

	if len(wasmBytes) > 0 && wasmBytes[0] != 0 {
		bin, err := wasmtime.Wat2Wasm(string(wasmBytes))
		if err != nil {
			return nil, fmt.Errorf("parse wat: %w", err)
		}
		wasmBytes = bin
	}

	module, err := wasmtime.NewModule(engine, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}

	return &Runtime{
		cfg:    cfg,
		engine: engine,
		module: module,
		logger: logger,
	}, nil
}

// Execute runs the module once with input.
func (r *Runtime) Execute(ctx context.Context, input []byte, host *HostFunctions) (*ExecutionResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()

	store := wasmtime.NewStore(r.engine)
	defer store.Close()

	store.Limiter(
		int64(r.cfg.MaxMemoryMB)*1024*1024,
		-1, // table elements
		1,  // instances
		1,  // tables
		1,  // memories
	)
	store.SetEpochDeadline(1)

	host.SetInput(input)

	linker := wasmtime.NewLinker(r.engine)
	store.SetWasi(wasmtime.NewWasiConfig())
	if err := linker.DefineWasi(); err != nil {
		return nil, fmt.Errorf("define wasi: %w", err)
	}
	if err := defineHostFunctions(ctx, linker, store, host); err != nil {
		return nil, fmt.Errorf("define host functions: %w", err)
	}

	instance, err := linker.Instantiate(store, r.module)
	if err != nil {
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	entry := instance.GetFunc(store, "_start")
	if entry == nil {
		entry = instance.GetFunc(store, "main")
	}
	if entry == nil {
		return nil, fmt.Errorf("no _start or main export")
	}

	done := make(chan struct{})
	go r.interruptAfter(ctx, done)

	_, err = entry.Call(store)
	close(done)

	if err != nil && !exitedCleanly(err) {
		var trap *wasmtime.Trap
		if errors.As(err, &trap) && trap.Code() != nil && *trap.Code() == wasmtime.Interrupt {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, r.cfg.Timeout)
		}
		return nil, fmt.Errorf("execution failed: %w", err)
	}

	var memoryBytes int64
	if mem := instance.GetExport(store, "memory"); mem != nil && mem.Memory() != nil {
		memoryBytes = int64(mem.Memory().DataSize(store))
	}

	return &ExecutionResult{
		Output:      host.Output(),
		Duration:    time.Since(start),
		MemoryBytes: memoryBytes,
	}, nil
}

// interruptAfter bumps the engine epoch once the timeout elapses or ctx is
// cancelled, which traps the running store.
func (r *Runtime) interruptAfter(ctx context.Context, done <-chan struct{}) {
	timer := time.NewTimer(r.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		r.engine.IncrementEpoch()
	case <-ctx.Done():
		r.engine.IncrementEpoch()
	case <-done:
	}
}

// exitedCleanly reports a WASI proc_exit(0).
func exitedCleanly(err error) bool {
	var werr *wasmtime.Error
	if errors.As(err, &werr) {
		if status, ok := werr.ExitStatus(); ok {
			return status == 0
		}
	}
	return false
}

func guestMemory(caller *wasmtime.Caller) []byte {
	ext := caller.GetExport("memory")
	if ext == nil || ext.Memory() == nil {
		return nil
	}
	return ext.Memory().UnsafeData(caller)
}

func inBounds(data []byte, ptr, length int32) bool {
	return ptr >= 0 && length >= 0 && int(ptr)+int(length) <= len(data)
}

func i32Type() *wasmtime.ValType { return wasmtime.NewValType(wasmtime.KindI32) }

func i32Params(n int) []*wasmtime.ValType {
	params := make([]*wasmtime.ValType, n)
	for i := range params {
		params[i] = i32Type()
	}
	return params
}

func ret(v int32) []wasmtime.Val { return []wasmtime.Val{wasmtime.ValI32(v)} }

func defineHostFunctions(ctx context.Context, linker *wasmtime.Linker, store *wasmtime.Store, host *HostFunctions) error {
	define := func(name string, params, results int, fn func(*wasmtime.Caller, []wasmtime.Val) []wasmtime.Val) error {
		var res []*wasmtime.ValType
		if results > 0 {
			res = i32Params(results)
		}
		ty := wasmtime.NewFuncType(i32Params(params), res)
		f := wasmtime.NewFunc(store, ty, func(caller *wasmtime.Caller, args []wasmtime.Val) ([]wasmtime.Val, *wasmtime.Trap) {
			return fn(caller, args), nil
		})
		return linker.Define(store, "env", name, f)
	}

	// log(level, ptr, len)
	if err := define("log", 3, 0, func(caller *wasmtime.Caller, args []wasmtime.Val) []wasmtime.Val {
		data := guestMemory(caller)
		ptr, n := args[1].I32(), args[2].I32()
		if inBounds(data, ptr, n) {
			host.Log(int(args[0].I32()), string(data[ptr:ptr+n]))
		}
		return nil
	}); err != nil {
		return err
	}

	// output(ptr, len)
	if err := define("output", 2, 0, func(caller *wasmtime.Caller, args []wasmtime.Val) []wasmtime.Val {
		data := guestMemory(caller)
		ptr, n := args[0].I32(), args[1].I32()
		if inBounds(data, ptr, n) {
			host.SetOutput(data[ptr : ptr+n])
		}
		return nil
	}); err != nil {
		return err
	}

	// get_input_len() -> len
	if err := define("get_input_len", 0, 1, func(*wasmtime.Caller, []wasmtime.Val) []wasmtime.Val {
		return ret(int32(len(host.Input())))
	}); err != nil {
		return err
	}

	// get_input(ptr, max) -> copied, -1 on error
	if err := define("get_input", 2, 1, func(caller *wasmtime.Caller, args []wasmtime.Val) []wasmtime.Val {
		data := guestMemory(caller)
		ptr, limit := args[0].I32(), args[1].I32()
		if !inBounds(data, ptr, limit) {
			return ret(-1)
		}
		return ret(int32(copy(data[ptr:ptr+limit], host.Input())))
	}); err != nil {
		return err
	}

	// kv_get(key_ptr, key_len, out_ptr, out_len_ptr) -> 0 ok, -1 missing, -2 error
	if err := define("kv_get", 4, 1, func(caller *wasmtime.Caller, args []wasmtime.Val) []wasmtime.Val {
		data := guestMemory(caller)
		keyPtr, keyLen := args[0].I32(), args[1].I32()
		outPtr, outLenPtr := args[2].I32(), args[3].I32()
		if !inBounds(data, keyPtr, keyLen) || !inBounds(data, outLenPtr, 4) {
			return ret(-2)
		}

		val, err := host.kvGet(ctx, string(data[keyPtr:keyPtr+keyLen]))
		if err != nil {
			return ret(-2)
		}
		if val == nil {
			return ret(-1)
		}
		if !inBounds(data, outPtr, int32(len(val))) {
			return ret(-2)
		}

		n := uint32(len(val))
		data[outLenPtr] = byte(n)
		data[outLenPtr+1] = byte(n >> 8)
		data[outLenPtr+2] = byte(n >> 16)
		data[outLenPtr+3] = byte(n >> 24)
		copy(data[outPtr:], val)
		return ret(0)
	}); err != nil {
		return err
	}

	// kv_set(key_ptr, key_len, val_ptr, val_len) -> 0 ok, -1 error
	if err := define("kv_set", 4, 1, func(caller *wasmtime.Caller, args []wasmtime.Val) []wasmtime.Val {
		data := guestMemory(caller)
		keyPtr, keyLen := args[0].I32(), args[1].I32()
		valPtr, valLen := args[2].I32(), args[3].I32()
		if !inBounds(data, keyPtr, keyLen) || !inBounds(data, valPtr, valLen) {
			return ret(-1)
		}
		key := string(data[keyPtr : keyPtr+keyLen])
		if err := host.kvSet(ctx, key, data[valPtr:valPtr+valLen]); err != nil {
			return ret(-1)
		}
		return ret(0)
	}); err != nil {
		return err
	}

	// kv_delete(key_ptr, key_len) -> 0 ok, -1 error
	return define("kv_delete", 2, 1, func(caller *wasmtime.Caller, args []wasmtime.Val) []wasmtime.Val {
		data := guestMemory(caller)
		keyPtr, keyLen := args[0].I32(), args[1].I32()
		if !inBounds(data, keyPtr, keyLen) {
			return ret(-1)
		}
		if err := host.kvDelete(ctx, string(data[keyPtr:keyPtr+keyLen])); err != nil {
			return ret(-1)
		}
		return ret(0)
	})
}
