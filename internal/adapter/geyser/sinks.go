package geyser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/marko911/pulse-geyser/internal/config"
	"github.com/marko911/pulse-geyser/internal/delivery/archive"
	"github.com/marko911/pulse-geyser/internal/delivery/grpcsink"
	"github.com/marko911/pulse-geyser/internal/delivery/kafka"
	"github.com/marko911/pulse-geyser/internal/delivery/nats"
	"github.com/marko911/pulse-geyser/internal/delivery/postgres"
	"github.com/marko911/pulse-geyser/internal/delivery/redis"
	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	"github.com/marko911/pulse-geyser/internal/delivery/sqlite"
	wasmsink "github.com/marko911/pulse-geyser/internal/delivery/wasm"
	"github.com/marko911/pulse-geyser/internal/delivery/websocket"
)

// buildSinks opens every configured sink. The log sink is called inline;
// the rest sit behind an Async queue, and behind a rate limiter when one is
// configured. On error every sink opened so far is closed.
func (p *Plugin) buildSinks(ctx context.Context, cfg *config.Config, instance string, logger *slog.Logger) (_ []sink.Sink, err error) {
	var sinks []sink.Sink
	defer func() {
		if err != nil {
			for i := len(sinks) - 1; i >= 0; i-- {
				sinks[i].Close(ctx)
			}
		}
	}()

	sc := cfg.Sinks

	if sc.Log.Enabled {
		var detail *solana.Signature
		if cfg.Filters.DetailSignature != "" {
			sig := solana.MustSignatureFromBase58(cfg.Filters.DetailSignature)
			detail = &sig
		}
		ls, err := sink.NewLogSink(sink.LogConfig{
			Path:            sc.Log.Path,
			Output:          p.opts.logOutput,
			Format:          cfg.LogFormat,
			Level:           cfg.Level(),
			DetailSignature: detail,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ls)
	}

	remote, err := openRemoteSinks(ctx, sc, instance, logger)
	for _, r := range remote {
		var s sink.Sink = sink.NewAsync(r, sc.Async.QueueSize, sc.Async.Workers, logger)
		if sc.RateLimit != nil {
			s = sink.NewRateLimited(s, sc.RateLimit.PerSecond, sc.RateLimit.Burst)
		}
		sinks = append(sinks, s)
	}
	if err != nil {
		return nil, err
	}

	sinks = append(sinks, p.opts.sinks...)
	return sinks, nil
}

// openRemoteSinks returns the sinks it managed to open even on error, so
// the caller can close them.
func openRemoteSinks(ctx context.Context, sc config.SinksConfig, instance string, logger *slog.Logger) ([]sink.Sink, error) {
	var out []sink.Sink
	open := func(name string, s sink.Sink, err error) error {
		if err != nil {
			return fmt.Errorf("open %s sink: %w", name, err)
		}
		out = append(out, s)
		logger.Info("sink opened", "sink", name)
		return nil
	}

	if c := sc.Kafka; c != nil {
		s, err := kafka.New(kafka.Config{
			Brokers:           c.Brokers,
			Topic:             c.Topic,
			Partitions:        c.Partitions,
			ReplicationFactor: c.ReplicationFactor,
			Instance:          instance,
			Logger:            logger,
		})
		if err := open("kafka", s, err); err != nil {
			return out, err
		}
	}
	if c := sc.NATS; c != nil {
		s, err := nats.New(ctx, nats.Config{
			URL:           c.URL,
			Stream:        c.Stream,
			SubjectPrefix: c.SubjectPrefix,
			MaxAge:        c.MaxAge.Duration(),
			Instance:      instance,
			Logger:        logger,
		})
		if err := open("nats", s, err); err != nil {
			return out, err
		}
	}
	if c := sc.Redis; c != nil {
		s, err := redis.New(ctx, redis.Config{
			Addr:         c.Addr,
			Password:     c.Password,
			DB:           c.DB,
			StreamPrefix: c.StreamPrefix,
			MaxLen:       c.MaxLen,
			Instance:     instance,
			Logger:       logger,
		})
		if err := open("redis", s, err); err != nil {
			return out, err
		}
	}
	if c := sc.Postgres; c != nil {
		s, err := postgres.New(ctx, postgres.Config{
			DSN:      c.DSN,
			MaxConns: c.MaxConns,
			Instance: instance,
			Logger:   logger,
		})
		if err := open("postgres", s, err); err != nil {
			return out, err
		}
	}
	if c := sc.SQLite; c != nil {
		s, err := sqlite.Open(ctx, c.Path, instance)
		if err := open("sqlite", s, err); err != nil {
			return out, err
		}
	}
	if c := sc.WebSocket; c != nil {
		s := websocket.New(websocket.Config{
			Addr:         c.Addr,
			Path:         c.Path,
			ClientBuffer: c.ClientBuffer,
			Instance:     instance,
			Logger:       logger,
		})
		err := s.Listen()
		if err != nil {
			s.Close(ctx)
		}
		if err := open("websocket", s, err); err != nil {
			return out, err
		}
	}
	if c := sc.GRPC; c != nil {
		s, err := grpcsink.New(grpcsink.Config{
			Target:   c.Target,
			Timeout:  c.Timeout.Duration(),
			Instance: instance,
			Logger:   logger,
		})
		if err := open("grpc", s, err); err != nil {
			return out, err
		}
	}
	if c := sc.Archive; c != nil {
		s, err := archive.New(archive.Config{
			Endpoint:  c.Endpoint,
			AccessKey: c.AccessKey,
			SecretKey: c.SecretKey,
			UseSSL:    c.UseSSL,
			Bucket:    c.Bucket,
			Prefix:    c.Prefix,
			BatchSize: c.BatchSize,
			Instance:  instance,
			Logger:    logger,
		})
		if err := open("archive", s, err); err != nil {
			return out, err
		}
	}
	if c := sc.WASM; c != nil {
		s, err := wasmsink.New(ctx, wasmsink.Config{
			Module:        c.Module,
			MemoryLimitMB: c.MemoryLimitMB,
			Timeout:       c.Timeout.Duration(),
			KVRedisAddr:   c.KVRedisAddr,
			Instance:      instance,
			Logger:        logger,
		})
		if err := open("wasm", s, err); err != nil {
			return out, err
		}
	}
	return out, nil
}

// splitErrors flattens the joined errors a Fanout returns.
func splitErrors(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// sinkName extracts the failing sink's name, if err carries one.
func sinkName(err error) string {
	var se *sink.Error
	if errors.As(err, &se) {
		return se.Sink
	}
	return ""
}
