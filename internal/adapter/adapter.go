// Package adapter defines the host-facing surface of a notification plugin
// and the helpers shared by every way of driving one: the C entry points in
// cmd/geyser-plugin and the development host in internal/host.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marko911/pulse-geyser/internal/processor"
	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// Lifecycle violations. A host that triggers one has broken the calling
// contract; the plugin rejects the call and keeps its state.
var (
	ErrNotLoaded     = errors.New("plugin not loaded")
	ErrAlreadyLoaded = errors.New("plugin already loaded")
	ErrTerminated    = errors.New("plugin unloaded")
)

// Plugin is what a host drives. The host calls Load once, then any number
// of notifications (Update*/Notify*), NotifyEndOfStartup once the startup
// account replay is over, and finally Unload.
//
// Notification methods return nil when the record was handed to the sinks
// or deliberately skipped. A non-nil error means the notification could not
// be processed at all; fatal ones satisfy processor.IsFatal.
type Plugin interface {
	Name() string

	Load(ctx context.Context, configPath string, isReload bool) error
	Unload(ctx context.Context) error
	NotifyEndOfStartup() error

	UpdateAccount(ctx context.Context, account geyser.AccountPayload, slot uint64, isStartup bool) error
	UpdateSlotStatus(ctx context.Context, slot uint64, parent *uint64, status geyser.SlotStatus, deadError string) error
	NotifyTransaction(ctx context.Context, tx geyser.TransactionPayload, slot uint64) error
	NotifyEntry(ctx context.Context, entry geyser.EntryPayload) error
	NotifyBlockMetadata(ctx context.Context, block geyser.BlockPayload) error

	// CapabilityEnabled reports whether the host should send kind at all.
	// Hosts are expected to ask before decoding a payload.
	CapabilityEnabled(kind geyser.EventKind) bool
}

// Dispatch decodes env and routes it to the matching notification method.
// Decode failures are reported as compute-layer errors: an unknown payload
// version as UnsupportedVersionError, anything else as MalformedInputError.
func Dispatch(ctx context.Context, p Plugin, env geyser.Envelope) error {
	switch env.Kind {
	case geyser.KindAccountUpdate:
		payload, err := env.DecodeAccount()
		if err != nil {
			return decodeError(env, err)
		}
		return p.UpdateAccount(ctx, payload, env.Slot, env.IsStartup)

	case geyser.KindSlotStatus:
		return p.UpdateSlotStatus(ctx, env.Slot, env.Parent, env.Status, env.DeadError)

	case geyser.KindTransaction:
		payload, err := env.DecodeTransaction()
		if err != nil {
			return decodeError(env, err)
		}
		return p.NotifyTransaction(ctx, payload, env.Slot)

	case geyser.KindEntry:
		payload, err := env.DecodeEntry()
		if err != nil {
			return decodeError(env, err)
		}
		return p.NotifyEntry(ctx, payload)

	case geyser.KindBlockMetadata:
		payload, err := env.DecodeBlock()
		if err != nil {
			return decodeError(env, err)
		}
		return p.NotifyBlockMetadata(ctx, payload)

	default:
		return &processor.MalformedInputError{
			Kind:  env.Kind,
			Field: "kind",
			Err:   fmt.Errorf("unknown event kind %d", int32(env.Kind)),
		}
	}
}

// DispatchJSON parses one JSON envelope and dispatches it.
func DispatchJSON(ctx context.Context, p Plugin, data []byte) error {
	var env geyser.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if errors.Is(err, geyser.ErrUnknownVersion) {
			return &processor.UnsupportedVersionError{Kind: env.Kind}
		}
		return &processor.MalformedInputError{Field: "envelope", Err: err}
	}
	return Dispatch(ctx, p, env)
}

func decodeError(env geyser.Envelope, err error) error {
	if errors.Is(err, geyser.ErrUnknownVersion) {
		return &processor.UnsupportedVersionError{Kind: env.Kind, Version: env.Version}
	}
	return &processor.MalformedInputError{Kind: env.Kind, Field: "payload", Err: err}
}

// Status codes returned across the C boundary.
const (
	CodeOK = iota
	CodeUnsupportedVersion
	CodeInvariantViolation
	CodeMalformedInput
	CodeLifecycleViolation
	CodeOther
)

// Code maps an error from a Plugin call to its status code.
func Code(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, processor.ErrUnsupportedVersion):
		return CodeUnsupportedVersion
	case errors.Is(err, processor.ErrInvariantViolation):
		return CodeInvariantViolation
	case errors.Is(err, processor.ErrMalformedInput):
		return CodeMalformedInput
	case errors.Is(err, ErrNotLoaded), errors.Is(err, ErrAlreadyLoaded), errors.Is(err, ErrTerminated):
		return CodeLifecycleViolation
	default:
		return CodeOther
	}
}
