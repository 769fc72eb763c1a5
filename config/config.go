// Package config assembles the process configuration from struct defaults,
// an optional YAML file and NEWSFEED_* environment variables, in that order
// of increasing priority.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/doujins-org/newsfeed/logging"
	"github.com/doujins-org/newsfeed/recommend"
	"github.com/doujins-org/newsfeed/tracing"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Postgres  PostgresConfig   `koanf:"postgres"`
	Redis     RedisConfig      `koanf:"redis"`
	Profiles  ProfilesConfig   `koanf:"profiles"`
	Embedder  EmbedderConfig   `koanf:"embedder"`
	Worker    WorkerConfig     `koanf:"worker"`
	Breaker   BreakerConfig    `koanf:"breaker"`
	Logging   logging.Config   `koanf:"logging"`
	Tracing   tracing.Config   `koanf:"tracing"`
	Recommend recommend.Config `koanf:"recommend"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// RateLimit is requests per client IP per RateWindow; 0 disables it.
	RateLimit  int           `koanf:"rate_limit" validate:"gte=0"`
	RateWindow time.Duration `koanf:"rate_window" validate:"gte=0"`
}

// PostgresConfig points at the article, profile and task tables. An empty DSN
// runs every store in memory.
type PostgresConfig struct {
	DSN         string `koanf:"dsn"`
	Schema      string `koanf:"schema" validate:"required"`
	MaxConns    int32  `koanf:"max_conns" validate:"gte=0"`
	Migrate     bool   `koanf:"migrate"`
	EnsureIndex bool   `koanf:"ensure_index"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db" validate:"gte=0"`
	Prefix   string        `koanf:"prefix"`
	TTL      time.Duration `koanf:"ttl" validate:"gte=0"`
}

// ProfilesConfig selects the preference store. An empty backend follows the
// Postgres DSN: postgres when set, memory otherwise.
type ProfilesConfig struct {
	Backend    string  `koanf:"backend" validate:"omitempty,oneof=memory postgres redis"`
	BaseRate   float64 `koanf:"base_rate" validate:"gt=0,lte=1"`
	Normalize  bool    `koanf:"normalize"`
	MaxRetries uint64  `koanf:"max_retries"`
}

// EmbedderConfig enables semantic search when BaseURL and Model are set.
type EmbedderConfig struct {
	BaseURL   string        `koanf:"base_url"`
	APIKey    string        `koanf:"api_key"`
	Model     string        `koanf:"model"`
	Timeout   time.Duration `koanf:"timeout" validate:"gte=0"`
	CacheSize int           `koanf:"cache_size" validate:"gte=0"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"gte=0"`

	// QueryPrefix is prepended to search queries for asymmetric models
	// (e.g. "query: " for e5).
	QueryPrefix   string `koanf:"query_prefix"`
	MaxInputRunes int    `koanf:"max_input_runes" validate:"gte=0"`
	MaxRetries    uint64 `koanf:"max_retries"`
}

func (e EmbedderConfig) Enabled() bool {
	return strings.TrimSpace(e.BaseURL) != "" && strings.TrimSpace(e.Model) != ""
}

type WorkerConfig struct {
	Enabled             bool          `koanf:"enabled"`
	BatchSize           int           `koanf:"batch_size" validate:"gte=0"`
	LockAhead           time.Duration `koanf:"lock_ahead" validate:"gte=0"`
	PollEvery           time.Duration `koanf:"poll_every" validate:"gte=0"`
	MaxConcurrent       int           `koanf:"max_concurrent" validate:"gte=0"`
	MaxUpdatesPerSecond float64       `koanf:"max_updates_per_second" validate:"gte=0"`
	MaxAttempts         int           `koanf:"max_attempts" validate:"gte=0"`
	BackoffBase         time.Duration `koanf:"backoff_base" validate:"gte=0"`
	BackoffMax          time.Duration `koanf:"backoff_max" validate:"gte=0"`
}

type BreakerConfig struct {
	Enabled             bool          `koanf:"enabled"`
	MaxRequests         uint32        `koanf:"max_requests"`
	Interval            time.Duration `koanf:"interval" validate:"gte=0"`
	Timeout             time.Duration `koanf:"timeout" validate:"gte=0"`
	ConsecutiveFailures uint32        `koanf:"consecutive_failures"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			RateWindow:      time.Minute,
		},
		Postgres: PostgresConfig{
			Schema:      "newsfeed",
			MaxConns:    10,
			Migrate:     true,
			EnsureIndex: true,
		},
		Redis: RedisConfig{
			Prefix: "newsfeed:profile:",
		},
		Profiles: ProfilesConfig{
			BaseRate:   0.2,
			Normalize:  true,
			MaxRetries: 5,
		},
		Embedder: EmbedderConfig{
			Timeout:       10 * time.Second,
			CacheSize:     1024,
			CacheTTL:      10 * time.Minute,
			MaxInputRunes: 512,
			MaxRetries:    2,
		},
		Worker: WorkerConfig{
			Enabled:       true,
			BatchSize:     100,
			LockAhead:     30 * time.Second,
			PollEvery:     2 * time.Second,
			MaxConcurrent: 8,
			MaxAttempts:   10,
			BackoffBase:   5 * time.Second,
			BackoffMax:    10 * time.Minute,
		},
		Breaker: BreakerConfig{
			Enabled:             true,
			MaxRequests:         1,
			Interval:            30 * time.Second,
			Timeout:             10 * time.Second,
			ConsecutiveFailures: 5,
		},
		Logging:   logging.DefaultConfig(),
		Tracing:   tracing.DefaultConfig(),
		Recommend: recommend.DefaultConfig(),
	}
}

// ProfileBackend resolves the effective preference store.
func (c *Config) ProfileBackend() string {
	if c.Profiles.Backend != "" {
		return c.Profiles.Backend
	}
	if c.Postgres.DSN != "" {
		return BackendPostgres
	}
	return BackendMemory
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if err := c.Recommend.Validate(); err != nil {
		return err
	}
	switch c.ProfileBackend() {
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("profiles.backend postgres requires postgres.dsn")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("profiles.backend redis requires redis.addr")
		}
	}
	return nil
}
