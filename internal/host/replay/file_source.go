// Package replay streams recorded host notifications from fixture files.
package replay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/marko911/pulse-geyser/pkg/geyser"
)

// FileSourceConfig holds configuration for FileSource.
type FileSourceConfig struct {
	// Directory holding *.json and *.ndjson fixtures. A .json file holds
	// one envelope or an array of envelopes; an .ndjson file holds one
	// envelope per line.
	FixturesDir string

	// Whether to loop continuously
	Loop bool

	// Interval paces envelopes (0 = as fast as the consumer takes them)
	Interval time.Duration
}

// FileSource implements host.Source by streaming envelopes from fixture files.
type FileSource struct {
	cfg    FileSourceConfig
	logger *slog.Logger
}

// NewFileSource creates a new FileSource for replaying fixtures.
func NewFileSource(cfg FileSourceConfig, logger *slog.Logger) *FileSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileSource{
		cfg:    cfg,
		logger: logger.With("source", "file", "dir", cfg.FixturesDir),
	}
}

func (s *FileSource) Name() string {
	return "file:" + s.cfg.FixturesDir
}

// Stream sends every fixture envelope, files in filename order and
// envelopes in file order. Unreadable files are skipped with a warning.
func (s *FileSource) Stream(ctx context.Context, envelopes chan<- geyser.Envelope) error {
	var ticker *time.Ticker
	if s.cfg.Interval > 0 {
		ticker = time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
	}

	for {
		files, err := s.findFixtureFiles()
		if err != nil {
			return fmt.Errorf("find fixture files: %w", err)
		}
		if len(files) == 0 {
			s.logger.Warn("no fixture files found")
			return nil
		}

		for _, file := range files {
			envs, err := LoadFile(file)
			if err != nil {
				s.logger.Warn("failed to load fixture", "file", file, "error", err)
				continue
			}

			for _, env := range envs {
				if ticker != nil {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-ticker.C:
					}
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case envelopes <- env:
				}
			}
			s.logger.Debug("replayed fixture", "file", file, "envelopes", len(envs))
		}

		if !s.cfg.Loop {
			return nil
		}
		s.logger.Info("looping fixtures")
	}
}

// findFixtureFiles returns the fixture files sorted by name.
func (s *FileSource) findFixtureFiles() ([]string, error) {
	var files []string
	err := filepath.WalkDir(s.cfg.FixturesDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".json", ".ndjson":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Sort by filename so numbered fixtures replay in order
	sort.Strings(files)
	return files, nil
}

// LoadFile reads the envelopes in one fixture file.
func LoadFile(path string) ([]geyser.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if filepath.Ext(path) == ".ndjson" {
		var envs []geyser.Envelope
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for line := 1; scanner.Scan(); line++ {
			raw := bytes.TrimSpace(scanner.Bytes())
			if len(raw) == 0 {
				continue
			}
			var env geyser.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			envs = append(envs, env)
		}
		return envs, scanner.Err()
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var envs []geyser.Envelope
		if err := json.Unmarshal(trimmed, &envs); err != nil {
			return nil, fmt.Errorf("parse fixture: %w", err)
		}
		return envs, nil
	}

	var env geyser.Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	return []geyser.Envelope{env}, nil
}
