// Package host drives a plugin the way a validator does, from recorded
// fixtures or a live RPC websocket. It exists for development and testing;
// production hosts load the shared library built from cmd/geyser-plugin.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/marko911/pulse-geyser/internal/adapter"
	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// Source produces host notifications. Stream sends envelopes until it is
// done or ctx is cancelled. It must not close the channel.
type Source interface {
	Name() string
	Stream(ctx context.Context, envelopes chan<- geyser.Envelope) error
}

// Config configures a Driver.
type Config struct {
	ConfigPath string
	IsReload   bool

	// Startup replays account state before NotifyEndOfStartup. Its account
	// envelopes are delivered with IsStartup set.
	Startup Source
	// Live runs after NotifyEndOfStartup until it ends or ctx is cancelled.
	Live Source

	Buffer        int
	UnloadTimeout time.Duration
	Logger        *slog.Logger
}

// Stats counts what the driver handed to the plugin.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Skipped   uint64 `json:"skipped"`
}

// Driver enforces the host side of the calling contract: Load, startup
// replay, NotifyEndOfStartup, live notifications, Unload.
type Driver struct {
	plugin adapter.Plugin
	cfg    Config
	logger *slog.Logger

	delivered atomic.Uint64
	skipped   atomic.Uint64
}

// NewDriver creates a driver for p.
func NewDriver(p adapter.Plugin, cfg Config) *Driver {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	if cfg.UnloadTimeout <= 0 {
		cfg.UnloadTimeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		plugin: p,
		cfg:    cfg,
		logger: logger.With("component", "host-driver", "plugin", p.Name()),
	}
}

// Run drives the plugin through its whole lifecycle. Cancelling ctx ends
// the live phase and unloads cleanly. A fatal notification error stops the
// run and is returned after Unload.
func (d *Driver) Run(ctx context.Context) (err error) {
	if err := d.plugin.Load(ctx, d.cfg.ConfigPath, d.cfg.IsReload); err != nil {
		return fmt.Errorf("load plugin: %w", err)
	}
	defer func() {
		unloadCtx, cancel := context.WithTimeout(context.Background(), d.cfg.UnloadTimeout)
		defer cancel()
		if uerr := d.plugin.Unload(unloadCtx); uerr != nil {
			err = errors.Join(err, fmt.Errorf("unload plugin: %w", uerr))
		}
		d.logger.Info("plugin unloaded",
			"delivered", d.delivered.Load(),
			"skipped", d.skipped.Load(),
		)
	}()

	if d.cfg.Startup != nil {
		if err := d.drain(ctx, d.cfg.Startup, true); err != nil {
			return err
		}
	}

	if err := d.plugin.NotifyEndOfStartup(); err != nil {
		return fmt.Errorf("end of startup: %w", err)
	}
	d.logger.Info("startup replay done", "delivered", d.delivered.Load())

	if d.cfg.Live != nil {
		if err := d.drain(ctx, d.cfg.Live, false); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns the driver's counters.
func (d *Driver) Stats() Stats {
	return Stats{
		Delivered: d.delivered.Load(),
		Skipped:   d.skipped.Load(),
	}
}

// drain runs src until it ends, delivering every envelope in order.
func (d *Driver) drain(ctx context.Context, src Source, startup bool) error {
	srcCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	envelopes := make(chan geyser.Envelope, d.cfg.Buffer)
	errc := make(chan error, 1)
	go func() {
		errc <- src.Stream(srcCtx, envelopes)
		close(envelopes)
	}()

	d.logger.Info("source started", "source", src.Name(), "startup", startup)

	for env := range envelopes {
		if err := d.deliver(ctx, env, startup); err != nil {
			cancel()
			for range envelopes {
			}
			<-errc
			return fmt.Errorf("%s: %w", src.Name(), err)
		}
	}

	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("source %s: %w", src.Name(), err)
	}
	return nil
}

func (d *Driver) deliver(ctx context.Context, env geyser.Envelope, startup bool) error {
	if startup && env.Kind == geyser.KindAccountUpdate {
		env.IsStartup = true
	}
	// The capability check comes before decoding so disabled kinds cost
	// nothing.
	if !d.plugin.CapabilityEnabled(env.Kind) {
		d.skipped.Add(1)
		return nil
	}
	if err := adapter.Dispatch(ctx, d.plugin, env); err != nil {
		d.logger.Error("notification failed",
			"kind", env.Kind.String(),
			"slot", env.Slot,
			"code", adapter.Code(err),
			"error", err,
		)
		return err
	}
	d.delivered.Add(1)
	return nil
}
