package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestInstall(t *testing.T) {
	before := slog.Default()

	var buf bytes.Buffer
	logger := New(&buf, "json", slog.LevelInfo)

	release, err := Install(logger)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !Installed() {
		t.Error("Installed() = false after Install")
	}

	slog.Info("hello", "slot", 100)
	if !strings.Contains(buf.String(), `"slot":100`) {
		t.Errorf("default logger did not write to installed handler: %q", buf.String())
	}

	if _, err := Install(logger); !errors.Is(err, ErrAlreadyInstalled) {
		t.Errorf("second Install err = %v, want ErrAlreadyInstalled", err)
	}

	release()
	release()

	if Installed() {
		t.Error("Installed() = true after release")
	}
	if slog.Default() != before {
		t.Error("release did not restore the previous default")
	}

	release2, err := Install(logger)
	if err != nil {
		t.Fatalf("Install after release: %v", err)
	}
	release2()
}

func TestNew_Format(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "text", slog.LevelWarn).Info("dropped")
	New(&buf, "text", slog.LevelWarn).Warn("kept", "kind", "entry")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info line written below warn level: %q", out)
	}
	if !strings.Contains(out, "kind=entry") {
		t.Errorf("text handler output = %q", out)
	}
}
