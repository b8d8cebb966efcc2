// Package config loads the plugin configuration file passed to Load.
//
// The format is chosen by extension: .toml is decoded with go-toml, .yaml,
// .yml and .json with yaml.v3 (JSON is a YAML subset). Values missing from
// the file keep their defaults, and a few GEYSER_* environment variables
// override the file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// Config holds the configuration for one plugin instance.
type Config struct {
	// Libpath is the shared object the host loads. The plugin ignores it;
	// it lives here so one file can configure both sides.
	Libpath string `toml:"libpath" yaml:"libpath"`

	// Logging
	LogLevel  string `toml:"log_level" yaml:"log_level"`
	LogFormat string `toml:"log_format" yaml:"log_format"`

	// Notifications selects which event kinds the host should send.
	Notifications NotificationsConfig `toml:"notifications" yaml:"notifications"`

	// MinVersions raises or lowers the oldest accepted payload version per
	// kind, keyed by kind name ("account_update" = "0.0.3").
	MinVersions map[string]string `toml:"min_versions" yaml:"min_versions"`

	// Filters narrow what reaches the sinks.
	Filters FilterConfig `toml:"filters" yaml:"filters"`

	Sinks SinksConfig `toml:"sinks" yaml:"sinks"`
}

// NotificationsConfig holds the per-kind capability flags.
type NotificationsConfig struct {
	Accounts     bool `toml:"accounts" yaml:"accounts"`
	Slots        bool `toml:"slots" yaml:"slots"`
	Transactions bool `toml:"transactions" yaml:"transactions"`
	Entries      bool `toml:"entries" yaml:"entries"`
	Blocks       bool `toml:"blocks" yaml:"blocks"`
}

// Enabled reports the configured flag for kind.
func (n NotificationsConfig) Enabled(kind geyser.EventKind) bool {
	switch kind {
	case geyser.KindAccountUpdate:
		return n.Accounts
	case geyser.KindSlotStatus:
		return n.Slots
	case geyser.KindTransaction:
		return n.Transactions
	case geyser.KindEntry:
		return n.Entries
	case geyser.KindBlockMetadata:
		return n.Blocks
	default:
		return false
	}
}

// FilterConfig holds record filters. Empty lists match everything.
type FilterConfig struct {
	// Account addresses (base58) to keep account updates and transactions for
	Accounts []string `toml:"accounts" yaml:"accounts"`

	// Program owners (base58) to keep account updates for
	Owners []string `toml:"owners" yaml:"owners"`

	// Transaction signatures (base58) to keep
	TransactionSignatures []string `toml:"transaction_signatures" yaml:"transaction_signatures"`

	SkipVotes bool   `toml:"skip_votes" yaml:"skip_votes"`
	MinSlot   uint64 `toml:"min_slot" yaml:"min_slot"`

	// DetailSignature restricts payload-level logging (instructions, log
	// messages, account data) to a single transaction signature.
	DetailSignature string `toml:"detail_signature" yaml:"detail_signature"`
}

// SinksConfig selects and configures dispatch sinks. The log sink is on by
// default; every other sink is enabled by the presence of its section.
type SinksConfig struct {
	Log       LogSinkConfig    `toml:"log" yaml:"log"`
	Async     AsyncConfig      `toml:"async" yaml:"async"`
	RateLimit *RateLimitConfig `toml:"rate_limit" yaml:"rate_limit"`
	Kafka     *KafkaConfig     `toml:"kafka" yaml:"kafka"`
	NATS      *NATSConfig      `toml:"nats" yaml:"nats"`
	Redis     *RedisConfig     `toml:"redis" yaml:"redis"`
	Postgres  *PostgresConfig  `toml:"postgres" yaml:"postgres"`
	SQLite    *SQLiteConfig    `toml:"sqlite" yaml:"sqlite"`
	WebSocket *WebSocketConfig `toml:"websocket" yaml:"websocket"`
	GRPC      *GRPCConfig      `toml:"grpc" yaml:"grpc"`
	Archive   *ArchiveConfig   `toml:"archive" yaml:"archive"`
	WASM      *WASMConfig      `toml:"wasm" yaml:"wasm"`
}

// LogSinkConfig configures the structured log sink.
type LogSinkConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// Path of an append-mode log file (empty = stderr)
	Path string `toml:"path" yaml:"path"`
}

// AsyncConfig sizes the queue placed in front of remote sinks.
type AsyncConfig struct {
	QueueSize    int      `toml:"queue_size" yaml:"queue_size"`
	Workers      int      `toml:"workers" yaml:"workers"`
	DrainTimeout Duration `toml:"drain_timeout" yaml:"drain_timeout"`
}

// RateLimitConfig caps records per second handed to remote sinks.
type RateLimitConfig struct {
	PerSecond float64 `toml:"per_second" yaml:"per_second"`
	Burst     int     `toml:"burst" yaml:"burst"`
}

// KafkaConfig holds broker settings (Redpanda/Kafka).
type KafkaConfig struct {
	Brokers           []string `toml:"brokers" yaml:"brokers"`
	Topic             string   `toml:"topic" yaml:"topic"`
	Partitions        int32    `toml:"partitions" yaml:"partitions"`
	ReplicationFactor int16    `toml:"replication_factor" yaml:"replication_factor"`
}

type NATSConfig struct {
	URL           string   `toml:"url" yaml:"url"`
	Stream        string   `toml:"stream" yaml:"stream"`
	SubjectPrefix string   `toml:"subject_prefix" yaml:"subject_prefix"`
	MaxAge        Duration `toml:"max_age" yaml:"max_age"`
}

type RedisConfig struct {
	Addr         string `toml:"addr" yaml:"addr"`
	Password     string `toml:"password" yaml:"password"`
	DB           int    `toml:"db" yaml:"db"`
	StreamPrefix string `toml:"stream_prefix" yaml:"stream_prefix"`
	// MaxLen trims each stream approximately to this many entries
	MaxLen int64 `toml:"max_len" yaml:"max_len"`
}

type PostgresConfig struct {
	DSN      string `toml:"dsn" yaml:"dsn"`
	MaxConns int32  `toml:"max_conns" yaml:"max_conns"`
}

type SQLiteConfig struct {
	Path string `toml:"path" yaml:"path"`
}

type WebSocketConfig struct {
	Addr         string `toml:"addr" yaml:"addr"`
	Path         string `toml:"path" yaml:"path"`
	ClientBuffer int    `toml:"client_buffer" yaml:"client_buffer"`
}

type GRPCConfig struct {
	Target  string   `toml:"target" yaml:"target"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// ArchiveConfig holds S3-compatible object storage settings.
type ArchiveConfig struct {
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	AccessKey string `toml:"access_key" yaml:"access_key"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
	Bucket    string `toml:"bucket" yaml:"bucket"`
	Prefix    string `toml:"prefix" yaml:"prefix"`
	UseSSL    bool   `toml:"use_ssl" yaml:"use_ssl"`
	// BatchSize is the number of records per uploaded object
	BatchSize int `toml:"batch_size" yaml:"batch_size"`
}

// WASMConfig points at a user handler module run once per record.
type WASMConfig struct {
	Module        string   `toml:"module" yaml:"module"`
	MemoryLimitMB int      `toml:"memory_limit_mb" yaml:"memory_limit_mb"`
	Timeout       Duration `toml:"timeout" yaml:"timeout"`
	// KVRedisAddr keeps handler state in Redis (empty = in memory)
	KVRedisAddr string `toml:"kv_redis_addr" yaml:"kv_redis_addr"`
}

// Duration wraps time.Duration so both decoders accept "250ms" style strings.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Notifications: NotificationsConfig{
			Accounts:     true,
			Slots:        true,
			Transactions: true,
			Entries:      true,
			Blocks:       true,
		},
		Sinks: SinksConfig{
			Log: LogSinkConfig{Enabled: true},
			Async: AsyncConfig{
				QueueSize:    4096,
				Workers:      1,
				DrainTimeout: Duration(5 * time.Second),
			},
		},
	}
}

// Load reads the file at path over the defaults, applies environment
// overrides and validates the result. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".yaml", ".yml", ".json":
		return yaml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GEYSER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("GEYSER_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("GEYSER_LOG_FILE"); v != "" {
		c.Sinks.Log.Path = v
	}
}

// applyDefaults fills in section fields the file left empty.
func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}

	s := &c.Sinks
	if s.Async.Workers == 0 {
		s.Async.Workers = 1
	}
	if s.Async.DrainTimeout == 0 {
		s.Async.DrainTimeout = Duration(5 * time.Second)
	}
	if s.RateLimit != nil && s.RateLimit.Burst == 0 {
		s.RateLimit.Burst = max(1, int(s.RateLimit.PerSecond))
	}
	if s.Kafka != nil {
		if s.Kafka.Topic == "" {
			s.Kafka.Topic = "geyser.events"
		}
		if s.Kafka.Partitions == 0 {
			s.Kafka.Partitions = 1
		}
		if s.Kafka.ReplicationFactor == 0 {
			s.Kafka.ReplicationFactor = 1
		}
	}
	if s.NATS != nil {
		if s.NATS.Stream == "" {
			s.NATS.Stream = "GEYSER"
		}
		if s.NATS.SubjectPrefix == "" {
			s.NATS.SubjectPrefix = "geyser"
		}
		if s.NATS.MaxAge == 0 {
			s.NATS.MaxAge = Duration(24 * time.Hour)
		}
	}
	if s.Redis != nil {
		if s.Redis.StreamPrefix == "" {
			s.Redis.StreamPrefix = "geyser"
		}
		if s.Redis.MaxLen == 0 {
			s.Redis.MaxLen = 100_000
		}
	}
	if s.Postgres != nil && s.Postgres.MaxConns == 0 {
		s.Postgres.MaxConns = 4
	}
	if s.WebSocket != nil {
		if s.WebSocket.Path == "" {
			s.WebSocket.Path = "/ws"
		}
		if s.WebSocket.ClientBuffer == 0 {
			s.WebSocket.ClientBuffer = 256
		}
	}
	if s.GRPC != nil && s.GRPC.Timeout == 0 {
		s.GRPC.Timeout = Duration(2 * time.Second)
	}
	if s.Archive != nil {
		if s.Archive.Prefix == "" {
			s.Archive.Prefix = "geyser"
		}
		if s.Archive.BatchSize == 0 {
			s.Archive.BatchSize = 1000
		}
	}
	if s.WASM != nil {
		if s.WASM.MemoryLimitMB == 0 {
			s.WASM.MemoryLimitMB = 64
		}
		if s.WASM.Timeout == 0 {
			s.WASM.Timeout = Duration(100 * time.Millisecond)
		}
	}
}

// Validate checks the configuration for values no component could use.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("invalid log_format %q: want json or text", c.LogFormat)
	}
	if _, err := c.Floors(); err != nil {
		return err
	}
	if err := c.Filters.validate(); err != nil {
		return err
	}
	return c.Sinks.validate()
}

func (f FilterConfig) validate() error {
	for _, a := range append(append([]string{}, f.Accounts...), f.Owners...) {
		if _, err := solana.PublicKeyFromBase58(a); err != nil {
			return fmt.Errorf("filters: invalid address %q: %w", a, err)
		}
	}
	sigs := f.TransactionSignatures
	if f.DetailSignature != "" {
		sigs = append(append([]string{}, sigs...), f.DetailSignature)
	}
	for _, s := range sigs {
		if _, err := solana.SignatureFromBase58(s); err != nil {
			return fmt.Errorf("filters: invalid signature %q: %w", s, err)
		}
	}
	return nil
}

func (s SinksConfig) validate() error {
	if s.Async.QueueSize <= 0 {
		return fmt.Errorf("sinks.async.queue_size must be positive")
	}
	if s.Async.Workers <= 0 {
		return fmt.Errorf("sinks.async.workers must be positive")
	}
	if s.RateLimit != nil && s.RateLimit.PerSecond <= 0 {
		return fmt.Errorf("sinks.rate_limit.per_second must be positive")
	}
	if s.Kafka != nil && len(s.Kafka.Brokers) == 0 {
		return fmt.Errorf("sinks.kafka.brokers is required")
	}
	if s.NATS != nil && s.NATS.URL == "" {
		return fmt.Errorf("sinks.nats.url is required")
	}
	if s.Redis != nil && s.Redis.Addr == "" {
		return fmt.Errorf("sinks.redis.addr is required")
	}
	if s.Postgres != nil && s.Postgres.DSN == "" {
		return fmt.Errorf("sinks.postgres.dsn is required")
	}
	if s.SQLite != nil && s.SQLite.Path == "" {
		return fmt.Errorf("sinks.sqlite.path is required")
	}
	if s.WebSocket != nil && s.WebSocket.Addr == "" {
		return fmt.Errorf("sinks.websocket.addr is required")
	}
	if s.GRPC != nil && s.GRPC.Target == "" {
		return fmt.Errorf("sinks.grpc.target is required")
	}
	if s.Archive != nil && (s.Archive.Endpoint == "" || s.Archive.Bucket == "") {
		return fmt.Errorf("sinks.archive.endpoint and sinks.archive.bucket are required")
	}
	if s.WASM != nil && s.WASM.Module == "" {
		return fmt.Errorf("sinks.wasm.module is required")
	}
	return nil
}

// Floors parses MinVersions into per-kind version floors.
func (c *Config) Floors() (map[geyser.EventKind]geyser.Version, error) {
	floors := make(map[geyser.EventKind]geyser.Version, len(c.MinVersions))
	for name, raw := range c.MinVersions {
		kind, err := geyser.ParseEventKind(name)
		if err != nil {
			return nil, fmt.Errorf("min_versions: %w", err)
		}
		v, err := geyser.ParseVersion(raw)
		if err != nil {
			return nil, fmt.Errorf("min_versions.%s: %w", name, err)
		}
		if v > geyser.LatestVersion(kind) {
			return nil, fmt.Errorf("min_versions.%s: %s is newer than %s: %w",
				name, v, geyser.LatestVersion(kind), geyser.ErrUnknownVersion)
		}
		floors[kind] = v
	}
	return floors, nil
}

// Level returns the configured slog level.
func (c *Config) Level() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log_level %q", level)
	}
}
