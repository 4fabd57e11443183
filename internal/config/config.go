package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Sync      SyncConfig      `yaml:"sync"`
	Ladder    LadderConfig    `yaml:"ladder"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Auth      AuthConfig      `yaml:"auth"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr         string        `yaml:"addr" env:"REDIS_ADDR"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled" env:"POSTGRES_ENABLED"`
	Host            string        `yaml:"host" env:"POSTGRES_HOST"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled" env:"KAFKA_ENABLED"`
	Brokers       []string      `yaml:"brokers" env:"KAFKA_BROKERS"`
	ResultsTopic  string        `yaml:"results_topic"`
	EventsTopic   string        `yaml:"events_topic"`
	GroupID       string        `yaml:"group_id"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SyncConfig holds standings cache rebuild configuration
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// LadderConfig holds standings listing limits
type LadderConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// ChallengeConfig holds the challenge rules. It is resolved once at startup.
type ChallengeConfig struct {
	Anytime         bool   `yaml:"anytime" env:"CHALLENGE_ANYTIME"`
	BackDelayHours  *int   `yaml:"back_delay_hours" env:"CHALLENGE_BACK_DELAY_HOURS"`
	AllowedOutgoing int    `yaml:"allowed_outgoing" env:"ALLOWED_OUTGOING"`
	AllowedIncoming int    `yaml:"allowed_incoming" env:"ALLOWED_INCOMING"`
	TempRank        int    `yaml:"temp_rank"`
	TierSizes       []int  `yaml:"tier_sizes" env:"CHALLENGE_TIER_SIZES"`
	PyramidLevels   int    `yaml:"pyramid_levels" env:"CHALLENGE_PYRAMID_LEVELS"`
	ExchangePolicy  string `yaml:"exchange_policy" env:"CHALLENGE_EXCHANGE_POLICY"`
	Timezone        string `yaml:"timezone" env:"CHALLENGE_TIMEZONE"`
}

// BackDelay returns the minimum wait between two challenges of the same pair.
func (c *ChallengeConfig) BackDelay() time.Duration {
	if c.BackDelayHours == nil {
		return DefaultBackDelayHours * time.Hour
	}
	return time.Duration(*c.BackDelayHours) * time.Hour
}

// AuthConfig holds bearer token configuration
type AuthConfig struct {
	Secret   string        `yaml:"secret" env:"AUTH_SECRET"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// DefaultBackDelayHours is the rematch cooldown when none is configured.
const DefaultBackDelayHours = 12

// Load reads configuration from a YAML file and applies environment overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration from defaults and environment overrides only
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from environment variables. Unset variables leave fields untouched.
func (c *Config) applyEnv() error {
	for _, target := range []any{&c.Challenge, &c.Redis, &c.Postgres, &c.Kafka, &c.Auth} {
		if err := env.Parse(target); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 2
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 20
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 2
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.ResultsTopic == "" {
		c.Kafka.ResultsTopic = "ladder-results"
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = "ladder-events"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "ladder-results-consumer"
	}
	if c.Kafka.RetryAttempts == 0 {
		c.Kafka.RetryAttempts = 3
	}
	if c.Kafka.RetryDelay == 0 {
		c.Kafka.RetryDelay = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}

	// Ladder defaults
	if c.Ladder.DefaultLimit == 0 {
		c.Ladder.DefaultLimit = 50
	}
	if c.Ladder.MaxLimit == 0 {
		c.Ladder.MaxLimit = 500
	}

	// Challenge defaults
	if c.Challenge.BackDelayHours == nil {
		hours := DefaultBackDelayHours
		c.Challenge.BackDelayHours = &hours
	}
	if c.Challenge.AllowedOutgoing == 0 {
		c.Challenge.AllowedOutgoing = 1
	}
	if c.Challenge.AllowedIncoming == 0 {
		c.Challenge.AllowedIncoming = 1
	}
	if c.Challenge.TempRank == 0 {
		c.Challenge.TempRank = -1
	}
	if c.Challenge.ExchangePolicy == "" {
		c.Challenge.ExchangePolicy = "challengee_wins"
	}
	if c.Challenge.Timezone == "" {
		c.Challenge.Timezone = "UTC"
	}

	// Auth defaults
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
}

// Validate rejects configurations the ladder cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Challenge.BackDelayHours != nil && *c.Challenge.BackDelayHours < 0 {
		errs = append(errs, errors.New("challenge.back_delay_hours must not be negative"))
	}
	if c.Challenge.AllowedOutgoing < 0 || c.Challenge.AllowedIncoming < 0 {
		errs = append(errs, errors.New("challenge.allowed_outgoing and challenge.allowed_incoming must be positive"))
	}
	if c.Challenge.TempRank > 0 {
		errs = append(errs, errors.New("challenge.temp_rank must not be a real rank"))
	}
	for _, size := range c.Challenge.TierSizes {
		if size <= 0 {
			errs = append(errs, fmt.Errorf("challenge.tier_sizes contains non-positive size %d", size))
			break
		}
	}
	if _, err := time.LoadLocation(c.Challenge.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("challenge.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	return cfg
}
