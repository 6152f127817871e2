// Package config provides configuration loading for governd.
//
// Configuration is loaded from a YAML file, then overridden by
// GOVERND_-prefixed environment variables, with hardcoded defaults for
// anything left unset.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete governd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	NATS      NATSConfig      `koanf:"nats"`
	Redis     RedisConfig     `koanf:"redis"`
	MySQL     MySQLConfig     `koanf:"mysql"`
	Reasoner  ReasonerConfig  `koanf:"reasoner"`
	Tools     ToolsConfig     `koanf:"tools"`
	Gate      GateConfig      `koanf:"gate"`
	Memory    MemoryConfig    `koanf:"memory"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port              int      `koanf:"port"`
	ShutdownTimeout   Duration `koanf:"shutdown_timeout"`
	HeartbeatInterval Duration `koanf:"heartbeat_interval"`
}

// LoggingConfig holds the externally tunable logging knobs. The full
// logging configuration lives in internal/logging; these fields are mapped
// onto it at startup.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled       bool   `koanf:"enabled"`
	ServiceName   string `koanf:"service_name"`
	Endpoint      string `koanf:"endpoint"`
	Protocol      string `koanf:"protocol"`
	Insecure      bool   `koanf:"insecure"`
	TLSSkipVerify bool   `koanf:"tls_skip_verify"`
}

// NATSConfig holds approval notification transport configuration.
type NATSConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// RedisConfig holds the session backend configuration.
// When disabled, sessions are kept in an in-process store.
type RedisConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Addr     string `koanf:"addr"`
	Password Secret `koanf:"password"`
	DB       int    `koanf:"db"`
	TTL      Duration `koanf:"ttl"`
}

// MySQLConfig holds the preference/episodic/audit backend configuration.
// When disabled, in-process stores are used.
type MySQLConfig struct {
	Enabled         bool     `koanf:"enabled"`
	DSN             Secret   `koanf:"dsn"`
	MaxOpenConns    int      `koanf:"max_open_conns"`
	MaxIdleConns    int      `koanf:"max_idle_conns"`
	ConnMaxLifetime Duration `koanf:"conn_max_lifetime"`
}

// ReasonerConfig holds language-reasoning collaborator configuration.
type ReasonerConfig struct {
	Provider          string  `koanf:"provider"`
	Model             string  `koanf:"model"`
	APIKey            Secret  `koanf:"api_key"`
	MaxTokens         int     `koanf:"max_tokens"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// ToolsConfig holds the tool execution collaborator configuration.
// Without an endpoint every invocation fails as a tool execution error,
// which the assistant reports; nothing else stops working.
type ToolsConfig struct {
	Endpoint string   `koanf:"endpoint"`
	Timeout  Duration `koanf:"timeout"`
}

// GateConfig holds human-approval workflow configuration.
type GateConfig struct {
	TTL             Duration `koanf:"ttl"`
	EnforceFourEyes bool     `koanf:"enforce_four_eyes"`
}

// MemoryConfig holds memory facade configuration, including the hot-path
// retry policy applied to every tier.
type MemoryConfig struct {
	MaxAttempts      int      `koanf:"max_attempts"`
	BaseDelay        Duration `koanf:"base_delay"`
	MaxDelay         Duration `koanf:"max_delay"`
	Multiplier       float64  `koanf:"multiplier"`
	Jitter           bool     `koanf:"jitter"`
	CacheTTL         Duration `koanf:"cache_ttl"`
	CacheMaxEntries  int      `koanf:"cache_max_entries"`
	HistoryLimit     int      `koanf:"history_limit"`
	SummaryThreshold int      `koanf:"summary_threshold"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.HeartbeatInterval == 0 {
		cfg.Server.HeartbeatInterval = Duration(15 * time.Second)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "governd"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://127.0.0.1:4222"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = Duration(24 * time.Hour)
	}

	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = 10
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = 5
	}
	if cfg.MySQL.ConnMaxLifetime == 0 {
		cfg.MySQL.ConnMaxLifetime = Duration(5 * time.Minute)
	}

	if cfg.Reasoner.Provider == "" {
		cfg.Reasoner.Provider = "anthropic"
	}
	if cfg.Reasoner.Model == "" {
		cfg.Reasoner.Model = "claude-sonnet-4-5"
	}
	if cfg.Reasoner.MaxTokens == 0 {
		cfg.Reasoner.MaxTokens = 2048
	}
	if cfg.Reasoner.RequestsPerSecond == 0 {
		cfg.Reasoner.RequestsPerSecond = 2
	}
	if cfg.Reasoner.Burst == 0 {
		cfg.Reasoner.Burst = 4
	}

	if cfg.Tools.Timeout == 0 {
		cfg.Tools.Timeout = Duration(30 * time.Second)
	}

	if cfg.Gate.TTL == 0 {
		cfg.Gate.TTL = Duration(24 * time.Hour)
	}

	if cfg.Memory.MaxAttempts == 0 {
		cfg.Memory.MaxAttempts = 2
	}
	if cfg.Memory.BaseDelay == 0 {
		cfg.Memory.BaseDelay = Duration(100 * time.Millisecond)
	}
	if cfg.Memory.MaxDelay == 0 {
		cfg.Memory.MaxDelay = Duration(time.Second)
	}
	if cfg.Memory.Multiplier == 0 {
		cfg.Memory.Multiplier = 2
	}
	if cfg.Memory.CacheTTL == 0 {
		cfg.Memory.CacheTTL = Duration(30 * time.Minute)
	}
	if cfg.Memory.CacheMaxEntries == 0 {
		cfg.Memory.CacheMaxEntries = 1000
	}
	if cfg.Memory.HistoryLimit == 0 {
		cfg.Memory.HistoryLimit = 40
	}
	if cfg.Memory.SummaryThreshold == 0 {
		cfg.Memory.SummaryThreshold = 20
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.HeartbeatInterval.Duration() <= 0 {
		return errors.New("heartbeat interval must be positive")
	}

	if _, ok := levelNames[c.Logging.Level]; !ok {
		return fmt.Errorf("invalid logging level: %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid logging format: %q (must be json or console)", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("telemetry service name required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			return fmt.Errorf("invalid telemetry protocol: %q (must be grpc or http/protobuf)", c.Telemetry.Protocol)
		}
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("nats url required when nats is enabled")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis addr required when redis is enabled")
	}
	if c.MySQL.Enabled && !c.MySQL.DSN.IsSet() {
		return errors.New("mysql dsn required when mysql is enabled")
	}

	switch c.Reasoner.Provider {
	case "anthropic", "scripted":
	default:
		return fmt.Errorf("invalid reasoner provider: %q (must be anthropic or scripted)", c.Reasoner.Provider)
	}
	if c.Reasoner.Provider == "anthropic" && c.Reasoner.RequestsPerSecond <= 0 {
		return errors.New("reasoner requests_per_second must be positive")
	}

	if c.Tools.Timeout.Duration() <= 0 {
		return errors.New("tools timeout must be positive")
	}

	if c.Gate.TTL.Duration() <= 0 {
		return errors.New("gate ttl must be positive")
	}

	if c.Memory.MaxAttempts < 1 {
		return errors.New("memory max_attempts must be at least 1")
	}
	if c.Memory.Multiplier < 1 {
		return errors.New("memory multiplier must be at least 1")
	}

	return nil
}

// levelNames enumerates accepted logging levels, including the custom
// trace level.
var levelNames = map[string]struct{}{
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}
