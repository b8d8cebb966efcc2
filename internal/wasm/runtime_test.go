package wasm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const echoModule = `(module
  (import "env" "get_input_len" (func $len (result i32)))
  (import "env" "get_input" (func $in (param i32 i32) (result i32)))
  (import "env" "output" (func $out (param i32 i32)))
  (memory (export "memory") 1)
  (func (export "_start")
    (local $n i32)
    (local.set $n (call $len))
    (drop (call $in (i32.const 0) (local.get $n)))
    (call $out (i32.const 0) (local.get $n))))`

const kvModule = `(module
  (import "env" "kv_set" (func $set (param i32 i32 i32 i32) (result i32)))
  (import "env" "log" (func $log (param i32 i32 i32)))
  (memory (export "memory") 1)
  (data (i32.const 0) "seen")
  (data (i32.const 16) "yes")
  (func (export "_start")
    (call $log (i32.const 1) (i32.const 0) (i32.const 4))
    (drop (call $set (i32.const 0) (i32.const 4) (i32.const 16) (i32.const 3)))))`

const spinModule = `(module
  (memory (export "memory") 1)
  (func (export "_start")
    (loop $forever (br $forever))))`

const bigMemoryModule = `(module
  (memory (export "memory") 100)
  (func (export "_start")))`

const noEntryModule = `(module
  (memory (export "memory") 1))`

func TestRuntime_Echo(t *testing.T) {
	rt, err := NewRuntime(RuntimeConfig{}, []byte(echoModule), nil)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}

	for _, input := range []string{`{"kind":"slot_status"}`, "", "x"} {
		res, err := rt.Execute(context.Background(), []byte(input), NewHostFunctions(nil, nil))
		if err != nil {
			t.Fatalf("Execute(%q) error = %v", input, err)
		}
		if string(res.Output) != input {
			t.Errorf("Output = %q, want %q", res.Output, input)
		}
		if res.MemoryBytes != 65536 {
			t.Errorf("MemoryBytes = %d, want 65536", res.MemoryBytes)
		}
	}
}

func TestRuntime_KV(t *testing.T) {
	rt, err := NewRuntime(RuntimeConfig{}, []byte(kvModule), nil)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}

	kv := NewMemoryKV()
	if _, err := rt.Execute(context.Background(), nil, NewHostFunctions(kv, nil)); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	got, err := kv.Get(context.Background(), "seen")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "yes" {
		t.Errorf("kv[seen] = %q, want yes", got)
	}
}

func TestRuntime_Timeout(t *testing.T) {
	rt, err := NewRuntime(RuntimeConfig{Timeout: 20 * time.Millisecond}, []byte(spinModule), nil)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}

	_, err = rt.Execute(context.Background(), nil, NewHostFunctions(nil, nil))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}

	// The runtime stays usable after an interrupt.
	_, err = rt.Execute(context.Background(), nil, NewHostFunctions(nil, nil))
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("second Execute() error = %v, want ErrTimeout", err)
	}
}

func TestRuntime_MemoryLimit(t *testing.T) {
	rt, err := NewRuntime(RuntimeConfig{MaxMemoryMB: 1}, []byte(bigMemoryModule), nil)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	if _, err := rt.Execute(context.Background(), nil, NewHostFunctions(nil, nil)); err == nil {
		t.Error("expected instantiation over the memory limit to fail")
	}
}

func TestRuntime_Errors(t *testing.T) {
	if _, err := NewRuntime(RuntimeConfig{}, []byte("(module"), nil); err == nil {
		t.Error("expected error for malformed module")
	}

	rt, err := NewRuntime(RuntimeConfig{}, []byte(noEntryModule), nil)
	if err != nil {
		t.Fatalf("NewRuntime() error = %v", err)
	}
	if _, err := rt.Execute(context.Background(), nil, NewHostFunctions(nil, nil)); err == nil {
		t.Error("expected error for module without entry point")
	}
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := NewRedisKV(client, "geyser:handler")
	defer kv.Close()
	ctx := context.Background()

	if v, err := kv.Get(ctx, "missing"); err != nil || v != nil {
		t.Errorf("Get(missing) = %q, %v, want nil, nil", v, err)
	}
	if err := kv.Set(ctx, "count", []byte("3")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _ := mr.Get("geyser:handler:kv:count"); got != "3" {
		t.Errorf("stored value = %q, want 3", got)
	}
	if err := kv.Delete(ctx, "count"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if mr.Exists("geyser:handler:kv:count") {
		t.Error("key still present after Delete")
	}
}
