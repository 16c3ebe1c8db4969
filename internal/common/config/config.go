package config

import (
	"os"
	"regexp"
	"time"

	"github.com/amoylab/unla-edge/pkg/helper"
	"github.com/amoylab/unla-edge/pkg/trace"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type (
	// EdgeConfig represents the mcp-edge configuration
	EdgeConfig struct {
		Server     ServerConfig     `yaml:"server"`
		Transport  TransportConfig  `yaml:"transport"`
		RateLimit  RateLimitConfig  `yaml:"rate_limit"`
		Breaker    BreakerConfig    `yaml:"breaker"`
		Auth       AuthConfig       `yaml:"auth"`
		Notifier   NotifierConfig   `yaml:"notifier"`
		Downstream DownstreamConfig `yaml:"downstream"`
		Logger     LoggerConfig     `yaml:"logger"`
		Metrics    MetricsConfig    `yaml:"metrics"`
		Tracing    trace.Config     `yaml:"tracing"`
	}

	// ServerConfig describes the listening socket and the HTTP surface
	ServerConfig struct {
		Host        string    `yaml:"host"`
		Port        int       `yaml:"port"`
		Path        string    `yaml:"path"`         // upgradeable endpoint, default /mcp
		HealthPath  string    `yaml:"health_path"`  // default /health
		MetricsPath string    `yaml:"metrics_path"` // default /metrics
		NotifyPath  string    `yaml:"notify_path"`  // default /notifications
		TLS         TLSConfig `yaml:"tls"`
	}

	TLSConfig struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	}

	// TransportConfig holds the per-session limits and sweep timings
	TransportConfig struct {
		MaxMessageSize     int64            `yaml:"max_message_size"`     // bytes, default 1 MiB
		MaxPendingRequests int              `yaml:"max_pending_requests"` // default 50
		RequestTimeout     time.Duration    `yaml:"request_timeout"`      // default 30s
		StaleSweepInterval time.Duration    `yaml:"stale_sweep_interval"` // default 10s
		HeartbeatInterval  time.Duration    `yaml:"heartbeat_interval"`   // default 30s
		HeartbeatTimeout   time.Duration    `yaml:"heartbeat_timeout"`    // default 60s
		WriteTimeout       time.Duration    `yaml:"write_timeout"`        // default 10s
		SendQueueSize      int              `yaml:"send_queue_size"`      // default 64
		HandshakeTimeout   time.Duration    `yaml:"handshake_timeout"`    // default 10s
		SessionRateLimit   WindowRateConfig `yaml:"session_rate_limit"`   // disabled when max_messages is 0
	}

	WindowRateConfig struct {
		MaxMessages int           `yaml:"max_messages"`
		Window      time.Duration `yaml:"window"`
	}

	// RateLimitConfig configures the global sliding-window limiter
	RateLimitConfig struct {
		Disabled      bool                 `yaml:"disabled"`
		MaxRequests   int                  `yaml:"max_requests"`   // default 100
		Window        time.Duration        `yaml:"window"`         // default 1s
		SweepInterval time.Duration        `yaml:"sweep_interval"` // default 1m
		Store         RateLimitStoreConfig `yaml:"store"`
	}

	RateLimitStoreConfig struct {
		Type  string      `yaml:"type"` // memory or redis
		Redis RedisConfig `yaml:"redis"`
	}

	// BreakerConfig configures every downstream circuit breaker
	BreakerConfig struct {
		FailureThreshold int           `yaml:"failure_threshold"` // default 5
		SuccessThreshold int           `yaml:"success_threshold"` // default 2
		RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`  // default 60s
	}

	// AuthConfig configures the authentication gate
	AuthConfig struct {
		Header            string          `yaml:"header"`             // default Authorization
		SubprotocolPrefix string          `yaml:"subprotocol_prefix"` // default "bearer."
		ExemptPaths       []string        `yaml:"exempt_paths"`       // default health and metrics paths
		Store             CredentialStore `yaml:"store"`
	}

	CredentialStore struct {
		Type     string         `yaml:"type"` // memory, redis, jwt or db
		Tokens   []StaticToken  `yaml:"tokens"`
		Redis    RedisConfig    `yaml:"redis"`
		JWT      JWTConfig      `yaml:"jwt"`
		Database DatabaseConfig `yaml:"database"`
	}

	// StaticToken is a credential declared in the configuration file.
	// Either Token or Digest (hex BLAKE2b-256 of the token) must be set.
	StaticToken struct {
		ID        string    `yaml:"id"`
		Name      string    `yaml:"name"`
		Token     string    `yaml:"token"`
		Digest    string    `yaml:"digest"`
		ExpiresAt time.Time `yaml:"expires_at"`
	}

	JWTConfig struct {
		SecretKey string `yaml:"secret_key"`
		Issuer    string `yaml:"issuer"`
	}

	DatabaseConfig struct {
		Type     string `yaml:"type"`     // mysql, postgres, sqlite
		Host     string `yaml:"host"`     // localhost
		Port     int    `yaml:"port"`     // 3306 (for mysql), 5432 (for postgres)
		User     string `yaml:"user"`     // root (for mysql), postgres (for postgres)
		Password string `yaml:"password"` // password
		DBName   string `yaml:"dbname"`   // database name, file path for sqlite
		SSLMode  string `yaml:"sslmode"`  // disable (for postgres)
	}

	// NotifierConfig represents the configuration for notification fan-in
	NotifierConfig struct {
		Type  string      `yaml:"type"` // none or redis
		Redis RedisConfig `yaml:"redis"`
	}

	// DownstreamConfig describes the tools backed by the downstream HTTP API
	DownstreamConfig struct {
		Timeout       time.Duration `yaml:"timeout"`         // default 30s
		RatePerSecond float64       `yaml:"rate_per_second"` // 0 disables outbound pacing
		Burst         int           `yaml:"burst"`
		Tools         []ToolConfig  `yaml:"tools"`
	}

	ToolConfig struct {
		Name         string            `yaml:"name"`
		Description  string            `yaml:"description"`
		Method       string            `yaml:"method"`
		Endpoint     string            `yaml:"endpoint"`
		Headers      map[string]string `yaml:"headers"`
		Args         []ArgConfig       `yaml:"args"`
		RequestBody  string            `yaml:"request_body"`
		ResponsePath string            `yaml:"response_path"` // gjson path applied to JSON responses
		InputSchema  map[string]any    `yaml:"input_schema"`
	}

	ArgConfig struct {
		Name        string `yaml:"name"`
		Position    string `yaml:"position"` // header, query, path, body
		Required    bool   `yaml:"required"`
		Type        string `yaml:"type"`
		Description string `yaml:"description"`
		Default     string `yaml:"default"`
	}

	// LoggerConfig represents the logger configuration
	LoggerConfig struct {
		Level      string `yaml:"level"`       // debug, info, warn, error
		Format     string `yaml:"format"`      // json, console
		Output     string `yaml:"output"`      // stdout, file
		FilePath   string `yaml:"file_path"`   // path to log file when output is file
		MaxSize    int    `yaml:"max_size"`    // max size of log file in MB
		MaxBackups int    `yaml:"max_backups"` // max number of backup files
		MaxAge     int    `yaml:"max_age"`     // max age of backup files in days
		Compress   bool   `yaml:"compress"`    // whether to compress backup files
		Color      bool   `yaml:"color"`       // whether to use color in console output
		Stacktrace bool   `yaml:"stacktrace"`  // whether to include stacktrace in error logs
		TimeZone   string `yaml:"time_zone"`   // time zone for log timestamps, e.g., "UTC", default is local
		TimeFormat string `yaml:"time_format"` // time format for log timestamps, default is "2006-01-02 15:04:05"
	}

	// MetricsConfig configures the Prometheus registry
	MetricsConfig struct {
		Enabled   bool      `yaml:"enabled"`
		Namespace string    `yaml:"namespace"`
		Buckets   []float64 `yaml:"buckets"`
	}
)

// LoadConfig loads configuration from a YAML file with environment variable support
func LoadConfig(filename string) (*EdgeConfig, string, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	cfgPath := helper.GetCfgPath(filename)
	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, cfgPath, err
	}

	// Resolve environment variables
	data = resolveEnv(data)
	var cfg EdgeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cfgPath, err
	}

	cfg.ApplyDefaults()
	return &cfg, cfgPath, nil
}

var envPattern = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// resolveEnv replaces environment variable placeholders in YAML content
func resolveEnv(content []byte) []byte {
	return envPattern.ReplaceAllFunc(content, func(match []byte) []byte {
		matches := envPattern.FindSubmatch(match)
		envKey := string(matches[1])
		var defaultValue string

		if len(matches) > 2 {
			defaultValue = string(matches[2])
		}

		if value, exists := os.LookupEnv(envKey); exists {
			return []byte(value)
		}
		return []byte(defaultValue)
	})
}
