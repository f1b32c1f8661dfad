// Package config loads the cloud server configuration.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Config is the process configuration. It comes from an optional JSON
// file overlaid with AUGMENTOS_* environment variables; zero values fall
// back to defaults.
type Config struct {
	// ListenAddr is where the WebSocket and registration endpoints bind.
	ListenAddr string `json:"listenAddr"`
	// PublicHost is the externally reachable base URL handed to TPA
	// servers in session webhooks, e.g. "wss://cloud.example.org".
	PublicHost string `json:"publicHost"`
	// InternalHost is the base URL system apps use instead, reachable
	// only on the internal network. Defaults to PublicHost.
	InternalHost string `json:"internalHost"`
	// JWTSecret verifies glasses bearer tokens. Required.
	JWTSecret string `json:"jwtSecret"`
	// AppsFile is the JSON app directory for self-hosted deployments.
	AppsFile string `json:"appsFile"`
	// DataDir holds the on-disk store.
	DataDir string `json:"dataDir"`

	ASR ASRConfig `json:"asr"`

	LoadingTimeoutMs      int64 `json:"loadingTimeoutMs"`
	ReconnectGraceMs      int64 `json:"reconnectGraceMs"`
	MicDebounceMs         int64 `json:"micDebounceMs"`
	TranscriptRetentionMs int64 `json:"transcriptRetentionMs"`
	HeartbeatDeadTimeMs   int64 `json:"heartbeatDeadTimeMs"`

	LogLevel string `json:"logLevel"`
}

// ASRConfig points at the speech recognition provider.
type ASRConfig struct {
	APIKey string `json:"apiKey"`
	Model  string `json:"model"`
}

// Default returns the configuration used before any file or environment
// overrides.
func Default() *Config {
	return &Config{
		ListenAddr:            ":8002",
		PublicHost:            "ws://localhost:8002",
		AppsFile:              "apps.json",
		DataDir:               "data",
		ASR:                   ASRConfig{Model: "gpt-4o-mini-transcribe"},
		LoadingTimeoutMs:      5_000,
		ReconnectGraceMs:      60_000,
		MicDebounceMs:         1_000,
		TranscriptRetentionMs: 30 * 60 * 1000,
		HeartbeatDeadTimeMs:   90_000,
		LogLevel:              "info",
	}
}

// Load reads the config file at path, if given, applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("config: jwtSecret is required (AUGMENTOS_JWT_SECRET)")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.ListenAddr, "AUGMENTOS_LISTEN_ADDR")
	set(&c.PublicHost, "AUGMENTOS_PUBLIC_HOST")
	set(&c.InternalHost, "AUGMENTOS_INTERNAL_HOST")
	set(&c.JWTSecret, "AUGMENTOS_JWT_SECRET")
	set(&c.AppsFile, "AUGMENTOS_APPS_FILE")
	set(&c.DataDir, "AUGMENTOS_DATA_DIR")
	set(&c.ASR.APIKey, "AUGMENTOS_ASR_API_KEY")
	set(&c.ASR.Model, "AUGMENTOS_ASR_MODEL")
	set(&c.LogLevel, "AUGMENTOS_LOG_LEVEL")
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.PublicHost == "" {
		c.PublicHost = def.PublicHost
	}
	if c.InternalHost == "" {
		c.InternalHost = c.PublicHost
	}
	if c.AppsFile == "" {
		c.AppsFile = def.AppsFile
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.ASR.Model == "" {
		c.ASR.Model = def.ASR.Model
	}
	if c.LoadingTimeoutMs <= 0 {
		c.LoadingTimeoutMs = def.LoadingTimeoutMs
	}
	if c.ReconnectGraceMs <= 0 {
		c.ReconnectGraceMs = def.ReconnectGraceMs
	}
	if c.MicDebounceMs <= 0 {
		c.MicDebounceMs = def.MicDebounceMs
	}
	if c.TranscriptRetentionMs <= 0 {
		c.TranscriptRetentionMs = def.TranscriptRetentionMs
	}
	if c.HeartbeatDeadTimeMs <= 0 {
		c.HeartbeatDeadTimeMs = def.HeartbeatDeadTimeMs
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

func (c *Config) LoadingTimeout() time.Duration {
	return time.Duration(c.LoadingTimeoutMs) * time.Millisecond
}

func (c *Config) ReconnectGrace() time.Duration {
	return time.Duration(c.ReconnectGraceMs) * time.Millisecond
}

func (c *Config) MicDebounce() time.Duration {
	return time.Duration(c.MicDebounceMs) * time.Millisecond
}

func (c *Config) TranscriptRetention() time.Duration {
	return time.Duration(c.TranscriptRetentionMs) * time.Millisecond
}

func (c *Config) HeartbeatDeadTime() time.Duration {
	return time.Duration(c.HeartbeatDeadTimeMs) * time.Millisecond
}

// Level parses LogLevel for slog.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
