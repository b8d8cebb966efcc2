package sink

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/marko911/pulse-geyser/internal/platform/logging"
	"github.com/marko911/pulse-geyser/pkg/geyser"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

var logMessages = map[geyser.EventKind]string{
	geyser.KindAccountUpdate: "update_account",
	geyser.KindSlotStatus:    "update_slot_status",
	geyser.KindTransaction:   "notify_transaction",
	geyser.KindEntry:         "notify_entry",
	geyser.KindBlockMetadata: "notify_block_metadata",
}

// LogConfig configures a LogSink.
type LogConfig struct {
	// Path of an append-mode file; empty writes to Output.
	Path string
	// Output is used when Path is empty (default os.Stderr).
	Output io.Writer
	Format string
	Level  slog.Leveler
	// DetailSignature, when set, adds payload detail to lines about this
	// transaction only.
	DetailSignature *solana.Signature
}

// LogSink renders one structured line per record. The slog handler
// serializes concurrent writes.
type LogSink struct {
	handler slog.Handler
	file    *os.File
	detail  *solana.Signature

	mu     sync.RWMutex
	closed bool
}

// NewLogSink opens the configured stream and returns a sink writing to it.
func NewLogSink(cfg LogConfig) (*LogSink, error) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	var file *os.File
	if cfg.Path != "" {
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		file, out = f, f
	}

	level := cfg.Level
	if level == nil {
		level = slog.LevelInfo
	}

	return &LogSink{
		handler: logging.New(out, cfg.Format, level).Handler(),
		file:    file,
		detail:  cfg.DetailSignature,
	}, nil
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Observe(ctx context.Context, rec protov1.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	if !s.handler.Enabled(ctx, slog.LevelInfo) {
		return nil
	}

	msg, ok := logMessages[rec.Kind()]
	if !ok {
		msg = rec.Kind().String()
	}
	r := slog.NewRecord(time.Now(), slog.LevelInfo, msg, 0)
	r.AddAttrs(rec.LogValue().Group()...)
	if attrs := s.detailAttrs(rec); attrs != nil {
		r.AddAttrs(slog.Attr{Key: "detail", Value: slog.GroupValue(attrs...)})
	}

	if err := s.handler.Handle(ctx, r); err != nil {
		return fmt.Errorf("write log line: %w", err)
	}
	return nil
}

func (s *LogSink) detailAttrs(rec protov1.Record) []slog.Attr {
	if s.detail == nil {
		return nil
	}
	switch v := rec.(type) {
	case *protov1.TransactionRecord:
		if !v.Signature.Equals(*s.detail) {
			return nil
		}
		attrs := []slog.Attr{slog.Any("accounts", protov1.Accounts(v))}
		if v.Transaction != nil {
			attrs = append(attrs, slog.Int("instructions", len(v.Transaction.Message.Instructions)))
		}
		if v.Meta != nil {
			attrs = append(attrs,
				slog.Uint64("fee", v.Meta.Fee),
				slog.String("err", v.Meta.Err),
				slog.Any("log_messages", v.Meta.LogMessages),
			)
		}
		return attrs
	case *protov1.AccountUpdate:
		if v.TxnSignature == nil || !v.TxnSignature.Equals(*s.detail) {
			return nil
		}
		return []slog.Attr{
			slog.Uint64("lamports", v.Lamports),
			slog.Int("data_len", len(v.Data)),
		}
	default:
		return nil
	}
}

// Close flushes and closes the log file, if one was opened.
func (s *LogSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.file == nil {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	return s.file.Close()
}
