// Package kafka forwards canonical records to a Kafka/Redpanda topic.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	pkafka "github.com/marko911/pulse-geyser/internal/platform/kafka"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// Config configures the Kafka sink.
type Config struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
	Instance          string
	Logger            *slog.Logger
}

// Sink produces one Kafka record per canonical record, keyed by record id
// so redeliveries of the same event land on the same partition.
type Sink struct {
	cfg    Config
	client *kgo.Client
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// New creates the producer client. No connection is made until the first
// produce or Provision.
func New(cfg Config) (*Sink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka sink: no topic")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	return &Sink{
		cfg:    cfg,
		client: client,
		logger: logger.With("component", "kafka-sink", "topic", cfg.Topic),
	}, nil
}

func (s *Sink) Name() string { return "kafka" }

// Provision creates the topic when it does not exist yet.
func (s *Sink) Provision(ctx context.Context) error {
	tm := pkafka.NewTopicManager(s.client)
	topic := pkafka.EventTopicConfig(s.cfg.Topic, s.cfg.Partitions, s.cfg.ReplicationFactor)
	if err := tm.EnsureTopics(ctx, topic); err != nil {
		return fmt.Errorf("provision kafka topic: %w", err)
	}
	if err := tm.WaitForTopic(ctx, s.cfg.Topic, 10*time.Second); err != nil {
		return err
	}
	s.logger.Info("topic ready", "partitions", topic.Partitions)
	return nil
}

func (s *Sink) Observe(ctx context.Context, rec protov1.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return sink.ErrClosed
	}

	r, err := NewRecord(s.cfg.Topic, s.cfg.Instance, rec, time.Now())
	if err != nil {
		return err
	}

	results := s.client.ProduceSync(ctx, r)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("produce: %w", err)
	}
	return nil
}

// Close flushes buffered records and closes the client.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.client.Flush(ctx)
	s.client.Close()
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// NewRecord builds the Kafka record for rec.
func NewRecord(topic, instance string, rec protov1.Record, now time.Time) (*kgo.Record, error) {
	w, err := protov1.NewWire(rec, instance, now)
	if err != nil {
		return nil, err
	}
	value, err := protov1.MarshalWire(w)
	if err != nil {
		return nil, err
	}

	return &kgo.Record{
		Topic: topic,
		Key:   []byte(w.ID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "record_id", Value: []byte(w.ID)},
			{Key: "kind", Value: []byte(w.Kind.String())},
			{Key: "instance", Value: []byte(instance)},
		},
		Timestamp: w.ObservedAt,
	}, nil
}
