// Package archive batches canonical records into newline-delimited JSON
// objects in an S3 compatible bucket.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/marko911/pulse-geyser/internal/delivery/sink"
	protov1 "github.com/marko911/pulse-geyser/pkg/proto/v1"
)

// Store is the subset of *minio.Client the sink uses.
type Store interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Config configures the archive sink.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
	BatchSize int
	Instance  string
	Logger    *slog.Logger
}

// Sink buffers records and uploads one object per BatchSize records. The
// partial batch is uploaded on Close.
type Sink struct {
	cfg    Config
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	buf       bytes.Buffer
	count     int
	firstSlot uint64
	lastSlot  uint64
	seq       uint64
	closed    bool
}

// New creates a minio client for cfg.
func New(cfg Config) (*Sink, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewWithStore(client, cfg), nil
}

// NewWithStore uses an existing store.
func NewWithStore(store Store, cfg Config) *Sink {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		cfg:    cfg,
		store:  store,
		logger: logger.With("component", "archive-sink", "bucket", cfg.Bucket),
		now:    time.Now,
	}
}

func (s *Sink) Name() string { return "archive" }

// Provision creates the bucket if missing.
func (s *Sink) Provision(ctx context.Context) error {
	exists, err := s.store.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.store.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
		s.logger.Info("created bucket")
	}
	return nil
}

func (s *Sink) Observe(ctx context.Context, rec protov1.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return sink.ErrClosed
	}

	line, err := protov1.Marshal(rec, s.cfg.Instance, s.now())
	if err != nil {
		return err
	}

	if s.count == 0 {
		s.firstSlot = rec.Slot()
	}
	s.lastSlot = rec.Slot()
	s.buf.Write(line)
	s.buf.WriteByte('\n')
	s.count++

	if s.count >= s.cfg.BatchSize {
		return s.flushLocked(ctx)
	}
	return nil
}

// Flush uploads the buffered batch, if any.
func (s *Sink) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Sink) flushLocked(ctx context.Context) error {
	if s.count == 0 {
		return nil
	}

	key := s.objectKey()
	data := s.buf.Bytes()
	n := s.count

	// The batch is dropped on failure; records are not replayed.
	s.buf = bytes.Buffer{}
	s.count = 0
	s.seq++

	_, err := s.store.PutObject(ctx, s.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	s.logger.Debug("uploaded batch", "key", key, "records", n)
	return nil
}

// objectKey is <prefix>/<yyyy>/<mm>/<dd>/<first>-<last>-<seq>.ndjson.
func (s *Sink) objectKey() string {
	day := s.now().UTC().Format("2006/01/02")
	key := fmt.Sprintf("%s/%020d-%020d-%06d.ndjson", day, s.firstSlot, s.lastSlot, s.seq)
	if s.cfg.Prefix != "" {
		key = s.cfg.Prefix + "/" + key
	}
	return key
}

// Close uploads the remaining records.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.flushLocked(ctx)
}
