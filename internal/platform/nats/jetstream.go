package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// StreamConfig defines the configuration for a JetStream stream.
type StreamConfig struct {
	Name        string   // Stream name (e.g., "GEYSER")
	Subjects    []string // Subjects to capture (e.g., ["geyser.>"])
	Retention   jetstream.RetentionPolicy
	MaxAge      time.Duration // Maximum message age (0 = unlimited)
	MaxMsgs     int64         // Maximum messages (0 = unlimited)
	MaxBytes    int64         // Maximum stream size in bytes (0 = unlimited)
	Replicas    int           // Number of replicas (1 for dev, 3 for prod)
	Description string
}

// EventStreamConfig returns the stream configuration capturing every
// subject under prefix.
func EventStreamConfig(name, prefix string, maxAge time.Duration) StreamConfig {
	return StreamConfig{
		Name:        name,
		Subjects:    []string{prefix + ".>"},
		Retention:   jetstream.LimitsPolicy, // Kept regardless of consumers
		MaxAge:      maxAge,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB max
		Replicas:    1,
		Description: "Observed validator notifications",
	}
}

// EnsureStream creates or updates a JetStream stream with the given configuration.
// This is idempotent - safe to call multiple times.
func EnsureStream(ctx context.Context, js jetstream.JetStream, cfg StreamConfig) (jetstream.Stream, error) {
	streamCfg := jetstream.StreamConfig{
		Name:        cfg.Name,
		Subjects:    cfg.Subjects,
		Retention:   cfg.Retention,
		MaxAge:      cfg.MaxAge,
		MaxMsgs:     cfg.MaxMsgs,
		MaxBytes:    cfg.MaxBytes,
		Replicas:    cfg.Replicas,
		Description: cfg.Description,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
	}

	stream, err := js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
	}

	return stream, nil
}

// SubjectForKind returns the subject a record kind is published on.
// Format: <prefix>.<kind>
func SubjectForKind(prefix, kind string) string {
	return fmt.Sprintf("%s.%s", prefix, kind)
}
