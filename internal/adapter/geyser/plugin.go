// Package geyser implements the notification plugin a validator host loads.
//
// A Plugin turns every host notification into a canonical record and hands
// it to the configured sinks. Extraction failures are fatal to the call and
// reported to the host; sink failures are logged, counted and absorbed.
package geyser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/marko911/pulse-geyser/internal/adapter"
	"github.com/marko911/pulse-geyser/internal/config"
	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	"github.com/marko911/pulse-geyser/internal/platform/logging"
	"github.com/marko911/pulse-geyser/internal/processor"
	"github.com/marko911/pulse-geyser/pkg/geyser"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// State is the plugin's lifecycle position.
type State int32

const (
	StateUnloaded State = iota
	StateLoaded
	StateStartupReplayDone
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateStartupReplayDone:
		return "startup_replay_done"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type options struct {
	logOutput     io.Writer
	processLogger bool
	sinks         []sink.Sink
	versionPolicy *processor.VersionPolicy
}

// Option customizes a Plugin.
type Option func(*options)

// WithLogOutput sends the plugin's own diagnostics and the log sink to w
// instead of stderr. A configured log file still takes precedence for the
// log sink.
func WithLogOutput(w io.Writer) Option {
	return func(o *options) { o.logOutput = w }
}

// WithProcessLogger controls whether Load installs the plugin logger as the
// process-wide slog default. It is on by default.
func WithProcessLogger(enabled bool) Option {
	return func(o *options) { o.processLogger = enabled }
}

// WithSinks adds sinks after the configured ones. They are called inline,
// filtered like the rest, and closed on Unload.
func WithSinks(sinks ...sink.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithVersionPolicy replaces the default version policy. Floors from the
// config file are applied on top.
func WithVersionPolicy(p processor.VersionPolicy) Option {
	return func(o *options) { o.versionPolicy = &p }
}

// Plugin is a single loaded instance. All methods are safe for concurrent
// use; notifications run concurrently with each other and exclusively with
// Load and Unload.
type Plugin struct {
	opts  options
	id    string
	stats *counters

	mu            sync.RWMutex
	state         State
	cfg           *config.Config
	caps          CapabilitySet
	normalizer    *processor.Normalizer
	pipeline      *sink.Filtered
	logger        *slog.Logger
	releaseLogger func()
}

var _ adapter.Plugin = (*Plugin)(nil)

// New creates an unloaded plugin.
func New(opts ...Option) *Plugin {
	o := options{
		logOutput:     os.Stderr,
		processLogger: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	id := uuid.NewString()
	return &Plugin{
		opts:   o,
		id:     id,
		stats:  newCounters(),
		logger: slog.Default().With("component", "geyser-plugin", "instance", id),
	}
}

func (p *Plugin) Name() string { return "pulse-geyser" }

// InstanceID identifies this instance in forwarded records and logs.
func (p *Plugin) InstanceID() string { return p.id }

// State returns the current lifecycle state.
func (p *Plugin) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Stats returns a snapshot of the counters.
func (p *Plugin) Stats() Stats { return p.stats.snapshot() }

// Load reads the config at configPath and opens the sinks. It succeeds
// once per instance. Sinks with external resources provision them unless
// isReload is set, in which case they are assumed to exist already.
//
// A failed Load leaves the plugin unloaded, so the host may retry.
func (p *Plugin) Load(ctx context.Context, configPath string, isReload bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateUnloaded:
	case StateTerminated:
		return adapter.ErrTerminated
	default:
		return adapter.ErrAlreadyLoaded
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	policy := processor.DefaultVersionPolicy()
	if p.opts.versionPolicy != nil {
		policy = *p.opts.versionPolicy
	}
	floors, err := cfg.Floors()
	if err != nil {
		return err
	}
	for kind, v := range floors {
		if policy, err = policy.WithFloor(kind, v); err != nil {
			return err
		}
	}

	filter, err := sink.ParseFilter(
		cfg.Filters.Accounts,
		cfg.Filters.Owners,
		cfg.Filters.TransactionSignatures,
		cfg.Filters.SkipVotes,
		cfg.Filters.MinSlot,
	)
	if err != nil {
		return fmt.Errorf("filters: %w", err)
	}

	logger := logging.New(p.opts.logOutput, cfg.LogFormat, cfg.Level()).
		With("component", "geyser-plugin", "instance", p.id)

	sinks, err := p.buildSinks(ctx, cfg, p.id, logger)
	if err != nil {
		return err
	}
	fanout := sink.NewFanout(sinks...)

	if !isReload {
		if err := fanout.Provision(ctx); err != nil {
			fanout.Close(ctx)
			return fmt.Errorf("provision sinks: %w", err)
		}
	}

	release := func() {}
	if p.opts.processLogger {
		if r, err := logging.Install(logger); err == nil {
			release = r
		} else {
			// Another instance in this process owns the default logger.
			logger.Warn("process logger not installed", "error", err)
		}
	}

	p.cfg = cfg
	p.caps = NewCapabilitySet(cfg.Notifications)
	p.normalizer = processor.NewNormalizer(policy)
	p.pipeline = sink.NewFiltered(fanout, filter)
	p.logger = logger
	p.releaseLogger = release
	p.state = StateLoaded

	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	kinds := make([]string, 0, len(geyser.AllKinds))
	for _, k := range p.caps.Kinds() {
		kinds = append(kinds, k.String())
	}
	logger.Info("plugin loaded",
		"config", configPath,
		"reload", isReload,
		"sinks", names,
		"notifications", kinds,
	)
	return nil
}

// Unload closes every sink and releases the process logger. It waits for
// in-flight notifications, so no sink sees a record after its Close.
// Queued records get at most sinks.async.drain_timeout to drain. Unload is
// terminal; calling it again is a no-op.
func (p *Plugin) Unload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateUnloaded:
		return adapter.ErrNotLoaded
	case StateTerminated:
		return nil
	}
	p.state = StateTerminated

	if d := p.cfg.Sinks.Async.DrainTimeout.Duration(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	err := p.pipeline.Close(ctx)
	if err != nil {
		p.logger.Error("closing sinks", "error", err)
	}

	stats := p.stats.snapshot()
	p.logger.Info("plugin unloaded",
		"observed", stats.Observed,
		"filtered", stats.Filtered,
		"sink_errors", stats.SinkErrors,
		"dropped", stats.Dropped,
	)

	p.releaseLogger()
	p.pipeline = nil
	return err
}

// NotifyEndOfStartup marks the end of the startup account replay.
func (p *Plugin) NotifyEndOfStartup() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateUnloaded:
		return adapter.ErrNotLoaded
	case StateTerminated:
		return adapter.ErrTerminated
	case StateStartupReplayDone:
		return nil
	}
	p.state = StateStartupReplayDone
	p.logger.Info("startup replay done")
	return nil
}

// CapabilityEnabled reports whether the host should send kind. It is false
// outside the loaded states.
func (p *Plugin) CapabilityEnabled(kind geyser.EventKind) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.active() {
		return false
	}
	return p.caps.Enabled(kind)
}

func (p *Plugin) AccountDataNotificationsEnabled() bool {
	return p.CapabilityEnabled(geyser.KindAccountUpdate)
}

func (p *Plugin) TransactionNotificationsEnabled() bool {
	return p.CapabilityEnabled(geyser.KindTransaction)
}

func (p *Plugin) EntryNotificationsEnabled() bool {
	return p.CapabilityEnabled(geyser.KindEntry)
}

func (p *Plugin) UpdateAccount(ctx context.Context, account geyser.AccountPayload, slot uint64, isStartup bool) error {
	return p.notify(ctx, geyser.KindAccountUpdate, func(n *processor.Normalizer) (protov1.Record, error) {
		return n.ExtractAccount(account, slot, isStartup)
	})
}

func (p *Plugin) UpdateSlotStatus(ctx context.Context, slot uint64, parent *uint64, status geyser.SlotStatus, deadError string) error {
	return p.notify(ctx, geyser.KindSlotStatus, func(n *processor.Normalizer) (protov1.Record, error) {
		return n.ExtractSlot(slot, parent, status, deadError)
	})
}

func (p *Plugin) NotifyTransaction(ctx context.Context, tx geyser.TransactionPayload, slot uint64) error {
	return p.notify(ctx, geyser.KindTransaction, func(n *processor.Normalizer) (protov1.Record, error) {
		return n.ExtractTransaction(tx, slot)
	})
}

func (p *Plugin) NotifyEntry(ctx context.Context, entry geyser.EntryPayload) error {
	return p.notify(ctx, geyser.KindEntry, func(n *processor.Normalizer) (protov1.Record, error) {
		return n.ExtractEntry(entry)
	})
}

func (p *Plugin) NotifyBlockMetadata(ctx context.Context, block geyser.BlockPayload) error {
	return p.notify(ctx, geyser.KindBlockMetadata, func(n *processor.Normalizer) (protov1.Record, error) {
		return n.ExtractBlock(block)
	})
}

func (p *Plugin) active() bool {
	return p.state == StateLoaded || p.state == StateStartupReplayDone
}

func (p *Plugin) checkActive() error {
	switch p.state {
	case StateUnloaded:
		return adapter.ErrNotLoaded
	case StateTerminated:
		return adapter.ErrTerminated
	}
	return nil
}

// Ready returns nil when the plugin accepts notifications, otherwise the
// lifecycle error a notification would get.
func (p *Plugin) Ready() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.checkActive()
}

// notify runs one notification under the read lock: extract, filter, then
// fan out to the sinks.
func (p *Plugin) notify(ctx context.Context, kind geyser.EventKind, extract func(*processor.Normalizer) (protov1.Record, error)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if err := p.checkActive(); err != nil {
		return err
	}
	if !p.caps.Enabled(kind) {
		p.stats.skipped.inc(kind)
		return nil
	}

	rec, err := extract(p.normalizer)
	if err != nil {
		p.stats.fatal.inc(kind)
		p.logger.Error("notification rejected", "kind", kind.String(), "error", err)
		return err
	}
	p.stats.observed.inc(kind)
	if su, ok := rec.(*protov1.SlotUpdate); ok {
		p.stats.watermarks.advance(su.Status, su.SlotNumber)
	}

	if !p.pipeline.Accepts(rec) {
		p.stats.filtered.Add(1)
		return nil
	}

	if err := p.pipeline.Observe(ctx, rec); err != nil {
		p.sinkFailed(rec, err)
	}
	return nil
}

func (p *Plugin) sinkFailed(rec protov1.Record, err error) {
	for _, e := range splitErrors(err) {
		if sink.IsDrop(e) {
			p.stats.dropped.Add(1)
			p.logger.Debug("record dropped", "sink", sinkName(e), "kind", rec.Kind().String(), "error", e)
			continue
		}
		p.stats.sinkErrors.Add(1)
		p.logger.Warn("sink failed",
			"sink", sinkName(e),
			"kind", rec.Kind().String(),
			"slot", rec.Slot(),
			"error", e,
		)
	}
}
