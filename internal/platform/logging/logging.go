// Package logging owns the process-wide slog default.
//
// A plugin shares its host's process, so the default logger is global state
// that at most one loaded instance may own. Install hands it out once and
// the returned release func restores whatever was there before.
package logging

import (
	"errors"
	"io"
	"log/slog"
	"sync"
)

// ErrAlreadyInstalled is returned when a second owner tries to install the
// process logger before the first released it.
var ErrAlreadyInstalled = errors.New("process logger already installed")

var (
	mu        sync.Mutex
	installed bool
)

// New builds a logger writing to w in the given format ("json" or "text").
func New(w io.Writer, format string, level slog.Leveler) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Install makes logger the process default. The returned release func
// restores the previous default; calling it more than once is a no-op.
func Install(logger *slog.Logger) (release func(), err error) {
	mu.Lock()
	defer mu.Unlock()

	if installed {
		return nil, ErrAlreadyInstalled
	}
	prev := slog.Default()
	slog.SetDefault(logger)
	installed = true

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			slog.SetDefault(prev)
			installed = false
		})
	}, nil
}

// Installed reports whether some owner currently holds the process logger.
func Installed() bool {
	mu.Lock()
	defer mu.Unlock()
	return installed
}
