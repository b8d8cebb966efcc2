package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/cgo"
	"time"

	"github.com/marko911/pulse-geyser/internal/adapter"
	geyserplugin "github.com/marko911/pulse-geyser/internal/adapter/geyser"
	"github.com/marko911/pulse-geyser/pkg/geyser"
)

const unloadTimeout = 30 * time.Second

// The exported C functions in main.go are thin wrappers over these, since
// test files cannot use cgo.

func create() uintptr {
	return uintptr(cgo.NewHandle(geyserplugin.New()))
}

// lookup resolves h. An invalid handle makes cgo panic; that is turned into
// an error so a misbehaving host gets a status code instead of a crash.
func lookup(h uintptr) (p *geyserplugin.Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid plugin handle %#x", h)
		}
	}()
	if h == 0 {
		return nil, fmt.Errorf("nil plugin handle")
	}
	p, ok := cgo.Handle(h).Value().(*geyserplugin.Plugin)
	if !ok {
		return nil, fmt.Errorf("handle %#x is not a plugin", h)
	}
	return p, nil
}

// destroy unloads the plugin if the host forgot to and frees the handle.
func destroy(h uintptr) int {
	p, err := lookup(h)
	if err != nil {
		return adapter.CodeOther
	}
	if p.State() != geyserplugin.StateUnloaded && p.State() != geyserplugin.StateTerminated {
		ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
		defer cancel()
		if err := p.Unload(ctx); err != nil {
			slog.Error("unload on destroy", "instance", p.InstanceID(), "error", err)
		}
	}
	cgo.Handle(h).Delete()
	return adapter.CodeOK
}

func onLoad(h uintptr, configPath string, isReload bool) int {
	p, err := lookup(h)
	if err != nil {
		return adapter.CodeOther
	}
	if err := p.Load(context.Background(), configPath, isReload); err != nil {
		slog.Error("plugin load failed", "instance", p.InstanceID(), "config", configPath, "error", err)
		return adapter.Code(err)
	}
	return adapter.CodeOK
}

func onUnload(h uintptr) int {
	p, err := lookup(h)
	if err != nil {
		return adapter.CodeOther
	}
	ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()
	return adapter.Code(p.Unload(ctx))
}

func endOfStartup(h uintptr) int {
	p, err := lookup(h)
	if err != nil {
		return adapter.CodeOther
	}
	return adapter.Code(p.NotifyEndOfStartup())
}

func capabilityEnabled(h uintptr, kind int32) bool {
	p, err := lookup(h)
	if err != nil {
		return false
	}
	return p.CapabilityEnabled(geyser.EventKind(kind))
}

func notify(h uintptr, data []byte) int {
	p, err := lookup(h)
	if err != nil {
		return adapter.CodeOther
	}
	// A call out of lifecycle order is reported as such, whatever the payload.
	if err := p.Ready(); err != nil {
		return adapter.Code(err)
	}
	return adapter.Code(adapter.DispatchJSON(context.Background(), p, data))
}

// stats returns the plugin counters and lifecycle state as JSON.
func stats(h uintptr) ([]byte, int) {
	p, err := lookup(h)
	if err != nil {
		return nil, adapter.CodeOther
	}
	b, err := json.Marshal(struct {
		Instance string `json:"instance"`
		State    string `json:"state"`
		geyserplugin.Stats
	}{p.InstanceID(), p.State().String(), p.Stats()})
	if err != nil {
		return nil, adapter.CodeOther
	}
	return b, adapter.CodeOK
}
