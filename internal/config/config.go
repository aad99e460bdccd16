// Package config loads and validates relay config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Protocol modes.
const (
	ProtocolGateway   = "gateway"
	ProtocolSimulated = "simulated"
)

// Config holds relay configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080). Falls back to ":"+PORT.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Port is the hosting platform's port variable, used only when HTTP_ADDR is unset.
	Port string `mapstructure:"PORT"`
	// Env is the application environment ("development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// RelaySecret is the shared secret callers present. One of RelaySecret or RelaySecretHash is required.
	RelaySecret string `mapstructure:"RELAY_SECRET"`
	// RelaySecretHash is a bcrypt hash of the shared secret; takes precedence over RelaySecret.
	RelaySecretHash string `mapstructure:"RELAY_SECRET_HASH"`

	// StoreBackend selects the durable session store: sqlite, postgres or redis.
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	// DatabaseURL is the Postgres DSN; required for the postgres backend and for audit logging.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// AutoMigrate runs the embedded Postgres migrations at startup.
	AutoMigrate bool   `mapstructure:"AUTO_MIGRATE"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is optional.
	RedisPassword  string `mapstructure:"REDIS_PASSWORD"`
	RedisDB        int    `mapstructure:"REDIS_DB"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`
	// SessionCacheTTL bounds the in-process session cache ("0" disables it).
	SessionCacheTTL string `mapstructure:"SESSION_CACHE_TTL"`
	// SessionSealKey is an age X25519 identity (AGE-SECRET-KEY-1...). When set, protocol secrets are encrypted at rest.
	SessionSealKey string `mapstructure:"SESSION_SEAL_KEY"`

	// ProtocolMode is gateway (upstream daemon) or simulated (development only).
	ProtocolMode         string `mapstructure:"PROTOCOL_MODE"`
	ProtocolGatewayURL   string `mapstructure:"PROTOCOL_GATEWAY_URL"`
	ProtocolGatewayToken string `mapstructure:"PROTOCOL_GATEWAY_TOKEN"`
	// ProtocolAPIID and ProtocolAPIHash are the default application credentials.
	ProtocolAPIID   int64  `mapstructure:"PROTOCOL_API_ID"`
	ProtocolAPIHash string `mapstructure:"PROTOCOL_API_HASH"`
	// ProtocolTimeout bounds the protocol work of one request (e.g. "30s").
	ProtocolTimeout string `mapstructure:"PROTOCOL_TIMEOUT"`
	// LockTimeout bounds the wait for a concurrent request on the same account.
	LockTimeout string `mapstructure:"LOCK_TIMEOUT"`
	// CodeTTL is the pending code lifetime used when the protocol reports none.
	CodeTTL              string `mapstructure:"CODE_TTL"`
	MaxPasswordAttempts  int    `mapstructure:"MAX_PASSWORD_ATTEMPTS"`
	RateLimitBackoffBase string `mapstructure:"RATE_LIMIT_BACKOFF_BASE"`
	RateLimitBackoffMax  string `mapstructure:"RATE_LIMIT_BACKOFF_MAX"`

	// CommandPolicyFile overrides the built-in Rego command policy.
	CommandPolicyFile string `mapstructure:"COMMAND_POLICY_FILE"`

	// OTLPEndpoint enables OpenTelemetry export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	ServiceName  string `mapstructure:"OTEL_SERVICE_NAME"`

	// Telemetry (optional). When Kafka brokers are set, the server emits telemetry events to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	TelemetryKafkaTopic   string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", "")
	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("RELAY_SECRET", "")
	v.SetDefault("RELAY_SECRET_HASH", "")
	v.SetDefault("STORE_BACKEND", StoreSQLite)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("SQLITE_PATH", "data/relay.db")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "relay:")
	v.SetDefault("SESSION_CACHE_TTL", "30s")
	v.SetDefault("SESSION_SEAL_KEY", "")
	v.SetDefault("PROTOCOL_MODE", ProtocolGateway)
	v.SetDefault("PROTOCOL_GATEWAY_URL", "")
	v.SetDefault("PROTOCOL_GATEWAY_TOKEN", "")
	v.SetDefault("PROTOCOL_API_ID", 0)
	v.SetDefault("PROTOCOL_API_HASH", "")
	v.SetDefault("PROTOCOL_TIMEOUT", "30s")
	v.SetDefault("LOCK_TIMEOUT", "35s")
	v.SetDefault("CODE_TTL", "5m")
	v.SetDefault("MAX_PASSWORD_ATTEMPTS", 3)
	v.SetDefault("RATE_LIMIT_BACKOFF_BASE", "30s")
	v.SetDefault("RATE_LIMIT_BACKOFF_MAX", "30m")
	v.SetDefault("COMMAND_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "account-relay")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "relay-telemetry")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "relay-telemetry-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.HTTPAddr == "" && cfg.Port != "" {
		cfg.HTTPAddr = ":" + strings.TrimPrefix(cfg.Port, ":")
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.ProtocolMode = strings.ToLower(strings.TrimSpace(cfg.ProtocolMode))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate checks the settings every binary needs. The server applies ValidateServer on top.
func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR or PORT must be set")
	}
	switch c.StoreBackend {
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("config: SQLITE_PATH must be set for the sqlite store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set for the postgres store")
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return errors.New("config: REDIS_ADDR must be set for the redis store")
		}
	default:
		return fmt.Errorf("config: STORE_BACKEND must be one of sqlite, postgres, redis (got %q)", c.StoreBackend)
	}
	switch c.ProtocolMode {
	case ProtocolGateway, ProtocolSimulated:
	default:
		return fmt.Errorf("config: PROTOCOL_MODE must be gateway or simulated (got %q)", c.ProtocolMode)
	}
	if c.ProtocolMode == ProtocolSimulated && c.IsProduction() {
		return errors.New("config: PROTOCOL_MODE=simulated must not be used when APP_ENV=production")
	}
	if c.MaxPasswordAttempts < 1 {
		return errors.New("config: MAX_PASSWORD_ATTEMPTS must be at least 1")
	}
	if c.ProtocolAPIID < 0 {
		return errors.New("config: PROTOCOL_API_ID must not be negative")
	}
	return nil
}

// ValidateServer checks the settings only the relay server needs.
func (c *Config) ValidateServer() error {
	if c.RelaySecret == "" && c.RelaySecretHash == "" {
		return errors.New("config: RELAY_SECRET or RELAY_SECRET_HASH must be set")
	}
	if c.ProtocolMode == ProtocolGateway && c.ProtocolGatewayURL == "" {
		return errors.New("config: PROTOCOL_GATEWAY_URL must be set when PROTOCOL_MODE=gateway")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// ProtocolTimeoutDuration parses ProtocolTimeout. Returns 30s if unset or invalid.
func (c *Config) ProtocolTimeoutDuration() time.Duration {
	return parseDuration(c.ProtocolTimeout, 30*time.Second)
}

// LockTimeoutDuration parses LockTimeout. Returns 35s if unset or invalid.
func (c *Config) LockTimeoutDuration() time.Duration {
	return parseDuration(c.LockTimeout, 35*time.Second)
}

// CodeTTLDuration parses CodeTTL. Returns 5m if unset or invalid.
func (c *Config) CodeTTLDuration() time.Duration {
	return parseDuration(c.CodeTTL, 5*time.Minute)
}

// BackoffBase parses RateLimitBackoffBase. Returns 30s if unset or invalid.
func (c *Config) BackoffBase() time.Duration {
	return parseDuration(c.RateLimitBackoffBase, 30*time.Second)
}

// BackoffMax parses RateLimitBackoffMax. Returns 30m if unset or invalid.
func (c *Config) BackoffMax() time.Duration {
	return parseDuration(c.RateLimitBackoffMax, 30*time.Minute)
}

// SessionCacheTTLDuration parses SessionCacheTTL. Zero disables the cache; invalid values return 30s.
func (c *Config) SessionCacheTTLDuration() time.Duration {
	if strings.TrimSpace(c.SessionCacheTTL) == "0" {
		return 0
	}
	return parseDuration(c.SessionCacheTTL, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil || c.TelemetryKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.TelemetryKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
