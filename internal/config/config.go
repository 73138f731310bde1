// Package config loads the egress server configuration from an optional
// TOML file with environment overrides. Precedence: env vars > file >
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full server configuration.
type Config struct {
	API    API    `toml:"api"`
	Stream Stream `toml:"stream"`
	SRT    SRT    `toml:"srt"`
	QUIC   QUIC   `toml:"quic"`
	Log    Log    `toml:"log"`
}

// API configures the HTTP control and metrics surface.
type API struct {
	Addr string `toml:"addr"`
}

// Stream configures stream defaults.
type Stream struct {
	Application string `toml:"application"`
	Workers     int    `toml:"workers"` // delivery pool size per stream
}

// SRT configures outbound SRT push connections.
type SRT struct {
	LatencyMs   int `toml:"latency_ms"`
	DialTimeout int `toml:"dial_timeout_seconds"`
}

// QUIC configures outbound QUIC push connections.
type QUIC struct {
	// Fingerprint pins the remote certificate (base64 SHA-256). Empty
	// means normal chain verification.
	Fingerprint string `toml:"fingerprint"`
}

// Log configures slog output.
type Log struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
	File   string `toml:"file"`   // empty for stderr, otherwise rotated file
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API:    API{Addr: ":8081"},
		Stream: Stream{Application: "app", Workers: 2},
		SRT:    SRT{LatencyMs: 120, DialTimeout: 10},
		Log:    Log{Level: "info", Format: "text"},
	}
}

// Load reads path when it is non-empty and applies environment overrides
// on top. A missing file at an explicitly given path is an error; path ""
// skips the file step entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Stream.Workers <= 0 {
		cfg.Stream.Workers = 2
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envStr("EGRESS_API_ADDR", &cfg.API.Addr)
	envStr("EGRESS_APPLICATION", &cfg.Stream.Application)
	envInt("EGRESS_STREAM_WORKERS", &cfg.Stream.Workers)
	envInt("EGRESS_SRT_LATENCY_MS", &cfg.SRT.LatencyMs)
	envStr("EGRESS_QUIC_FINGERPRINT", &cfg.QUIC.Fingerprint)
	envStr("EGRESS_LOG_LEVEL", &cfg.Log.Level)
	envStr("EGRESS_LOG_FORMAT", &cfg.Log.Format)
	envStr("EGRESS_LOG_FILE", &cfg.Log.File)
	if os.Getenv("DEBUG") != "" {
		cfg.Log.Level = "debug"
	}
}

func envStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
