// Command geyser-host drives the notification plugin in-process, the way a
// validator would, for development and integration testing.
//
// Startup state and live notifications come from recorded fixture
// directories or, for the live phase, a Solana RPC websocket endpoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	geyserplugin "github.com/marko911/pulse-geyser/internal/adapter/geyser"
	"github.com/marko911/pulse-geyser/internal/host"
	"github.com/marko911/pulse-geyser/internal/host/replay"
	"github.com/marko911/pulse-geyser/internal/host/solanaws"
	"github.com/marko911/pulse-geyser/internal/platform/logging"
)

func main() {
	configPath := flag.String("config", getEnv("GEYSER_CONFIG", ""), "Plugin config file (TOML or YAML)")
	reload := flag.Bool("reload", getEnvBool("GEYSER_RELOAD", false), "Load as a reload (skip sink provisioning)")

	// Startup replay
	startupDir := flag.String("startup-fixtures", getEnv("STARTUP_FIXTURES", ""), "Directory of startup account fixtures")

	// Live phase: fixtures or RPC websocket
	liveDir := flag.String("live-fixtures", getEnv("LIVE_FIXTURES", ""), "Directory of live notification fixtures")
	loop := flag.Bool("loop", getEnvBool("LOOP", false), "Loop live fixtures until interrupted")
	interval := flag.Duration("interval", 0, "Delay between live fixture envelopes")
	rpcWS := flag.String("rpc-ws", getEnv("SOLANA_WS_ENDPOINT", ""), "Solana RPC websocket endpoint for live notifications")
	accounts := flag.String("accounts", getEnv("SOLANA_ACCOUNTS", ""), "Comma-separated account keys to subscribe to")
	commitment := flag.String("commitment", getEnv("SOLANA_COMMITMENT", "confirmed"), "Commitment for account subscriptions")

	logLevel := flag.String("log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := logging.New(os.Stdout, "json", level).With("service", "geyser-host")

	cfg := host.Config{
		ConfigPath: *configPath,
		IsReload:   *reload,
		Logger:     logger,
	}
	if *startupDir != "" {
		cfg.Startup = replay.NewFileSource(replay.FileSourceConfig{FixturesDir: *startupDir}, logger)
	}
	switch {
	case *rpcWS != "":
		cfg.Live = solanaws.New(solanaws.Config{
			Endpoint:   *rpcWS,
			Accounts:   splitList(*accounts),
			Commitment: *commitment,
		}, logger)
	case *liveDir != "":
		cfg.Live = replay.NewFileSource(replay.FileSourceConfig{
			FixturesDir: *liveDir,
			Loop:        *loop,
			Interval:    *interval,
		}, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting geyser-host",
		"config", *configPath,
		"reload", *reload,
		"startup_fixtures", *startupDir,
		"live_fixtures", *liveDir,
		"rpc_ws", *rpcWS,
	)

	plugin := geyserplugin.New()
	driver := host.NewDriver(plugin, cfg)

	start := time.Now()
	err := driver.Run(ctx)
	stats := driver.Stats()
	logger.Info("geyser-host finished",
		"delivered", stats.Delivered,
		"skipped", stats.Skipped,
		"elapsed", time.Since(start),
	)
	if err != nil {
		logger.Error("geyser-host error", "error", err)
		os.Exit(1)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool returns environment variable as bool or default.
func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}
