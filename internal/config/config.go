package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/runthrough-pairing/internal/domain"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Sync     SyncConfig     `yaml:"sync"`
	Export   ExportConfig   `yaml:"export"`
	Pairing  PairingConfig  `yaml:"pairing"`
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
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PostgresConfig holds PostgreSQL archive configuration
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
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
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	BatchSize     int           `yaml:"batch_size"`
	BatchTimeout  time.Duration `yaml:"batch_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// SyncConfig holds archive worker configuration
type SyncConfig struct {
	Interval       time.Duration `yaml:"interval"`
	Enabled        bool          `yaml:"enabled"`
	RestoreOnStart bool          `yaml:"restore_on_start"`
}

// ExportConfig holds the bucket standings are published to
type ExportConfig struct {
	Enabled         bool   `yaml:"enabled"`
	AccountID       string `yaml:"account_id"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	BucketName      string `yaml:"bucket_name"`
	PublicBaseURL   string `yaml:"public_base_url"`
	Endpoint        string `yaml:"endpoint"`
	KeyPrefix       string `yaml:"key_prefix"`
}

// PairingConfig holds the settings new tournaments start with
type PairingConfig struct {
	DisplayMode    string   `yaml:"display_mode"`
	ConstraintX    *int     `yaml:"constraint_x"`
	ConstraintY    *float64 `yaml:"constraint_y"`
	AvoidSameClass bool     `yaml:"avoid_same_class"`
}

// Load reads configuration from a YAML file. A .env file next to the
// process is loaded first so its variables can be referenced as ${VAR}.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// applyDefaults fills every field left empty in the file
func (c *Config) applyDefaults() {
	c.Server.applyDefaults()
	c.Redis.applyDefaults()
	c.Postgres.applyDefaults()
	c.Kafka.applyDefaults()
	setDefault(&c.Sync.Interval, 5*time.Minute)
	setDefault(&c.Export.KeyPrefix, "standings")
	c.Pairing.applyDefaults()
}

func (c *ServerConfig) applyDefaults() {
	setDefault(&c.Port, 8080)
	setDefault(&c.ReadTimeout, 5*time.Second)
	setDefault(&c.WriteTimeout, 10*time.Second)
	setDefault(&c.IdleTimeout, 120*time.Second)
}

func (c *RedisConfig) applyDefaults() {
	setDefault(&c.Addr, "localhost:6379")
	setDefault(&c.PoolSize, 100)
	setDefault(&c.MinIdleConns, 10)
	setDefault(&c.DialTimeout, 5*time.Second)
	setDefault(&c.ReadTimeout, 3*time.Second)
	setDefault(&c.WriteTimeout, 3*time.Second)
}

func (c *PostgresConfig) applyDefaults() {
	setDefault(&c.Host, "localhost")
	setDefault(&c.Port, 5432)
	setDefault(&c.MaxConnections, 20)
	setDefault(&c.MinConnections, 2)
	setDefault(&c.MaxConnLifetime, time.Hour)
	setDefault(&c.MaxConnIdleTime, 30*time.Minute)
}

func (c *KafkaConfig) applyDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	setDefault(&c.Topic, "match-results")
	setDefault(&c.GroupID, "pairing-results-consumer")
	setDefault(&c.BatchSize, 50)
	setDefault(&c.BatchTimeout, time.Second)
	setDefault(&c.RetryAttempts, 3)
	setDefault(&c.RetryDelay, time.Second)
}

// applyDefaults takes the unset pairing knobs from domain.DefaultSettings.
// The constraints are pointers so an explicit 0 survives.
func (c *PairingConfig) applyDefaults() {
	defaults := domain.DefaultSettings()
	setDefault(&c.DisplayMode, string(defaults.DisplayMode))
	if c.ConstraintX == nil {
		c.ConstraintX = &defaults.ConstraintX
	}
	if c.ConstraintY == nil {
		c.ConstraintY = &defaults.ConstraintY
	}
}

// Settings returns the tournament settings described by the pairing section
func (c *PairingConfig) Settings() (domain.Settings, error) {
	settings := domain.DefaultSettings()
	if c.DisplayMode != "" {
		settings.DisplayMode = domain.DisplayMode(c.DisplayMode)
	}
	if c.ConstraintX != nil {
		settings.ConstraintX = *c.ConstraintX
	}
	if c.ConstraintY != nil {
		settings.ConstraintY = *c.ConstraintY
	}
	settings.AvoidSameClass = c.AvoidSameClass
	if err := settings.Validate(); err != nil {
		return domain.Settings{}, err
	}
	return settings, nil
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	cfg.Sync.RestoreOnStart = true
	return cfg
}
