// Package config holds the runtime settings of a scheduler instance and
// the functional options used to build them programmatically. Settings can
// also be loaded from a YAML file; see Load.
package config

import (
	"errors"
	"fmt"
	"time"

	"cronfire/internal/custom_errors"
)

// StorageDriver selects the persistence backend.
type StorageDriver string

const (
	Postgres StorageDriver = "postgres"
	Redis    StorageDriver = "redis"
)

func (d StorageDriver) Valid() bool {
	return d == Postgres || d == Redis
}

func (d StorageDriver) String() string { return string(d) }

const (
	DefaultListenAddr      = ":8080"
	DefaultTokenHeader     = "X-Api-Token"
	DefaultPollInterval    = 15 * time.Second
	DefaultWorkerCount     = 10
	DefaultBatchSize       = 100
	DefaultMaxRetries      = 3
	DefaultExecTimeout     = 30 * time.Second
	DefaultRetryBackoff    = 2 * time.Second
	DefaultMaxRetryBackoff = time.Minute
	DefaultClaimTTL        = 10 * time.Minute
)

// PostgresConfig holds relational backend connection settings.
type PostgresConfig struct {
	ConnectionString string `yaml:"connectionString"`
}

// RedisConfig holds key-value backend connection settings.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RabbitMQConfig holds the publish executor's broker settings.
type RabbitMQConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type Config struct {
	// Instance identifies this process in claim markers. Required.
	Instance string `yaml:"instance"`

	ListenAddr string `yaml:"listenAddr"`

	StorageDriver  StorageDriver  `yaml:"storageType"`
	PostgresConfig PostgresConfig `yaml:"postgres"`
	RedisConfig    RedisConfig    `yaml:"redis"`
	RabbitMQConfig RabbitMQConfig `yaml:"rabbitmq"`

	// IgnoreCrons lists expressions that are stored but never scheduled.
	// Matching is exact on the raw expression text.
	IgnoreCrons []string `yaml:"ignoreCrons"`

	UseToken    bool     `yaml:"useToken"`
	TokenHeader string   `yaml:"tokenHeader"`
	Tokens      []string `yaml:"tokens"`

	PollInterval time.Duration `yaml:"pollInterval"`
	WorkerCount  int           `yaml:"workerCount"`
	BatchSize    int           `yaml:"batchSize"`
	MaxRetries   int           `yaml:"maxRetries"`

	// Timeouts maps a job kind name to its execution timeout.
	Timeouts       map[string]time.Duration `yaml:"timeouts"`
	DefaultTimeout time.Duration            `yaml:"defaultTimeout"`

	RetryBackoff    time.Duration `yaml:"retryBackoff"`
	MaxRetryBackoff time.Duration `yaml:"maxRetryBackoff"`
	ClaimTTL        time.Duration `yaml:"claimTTL"`
}

// Option mutates a Config under construction; errors are aggregated.
type Option func(*Config) error

// New builds a Config from defaults plus options. Only the instance name
// is required. All option errors are reported together.
func New(instance string, opts ...Option) (*Config, error) {
	cfg := defaults()
	cfg.Instance = instance

	verr := &custom_errors.ValidationError{}
	if instance == "" {
		verr.Add(errors.New("instance name is required"))
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			verr.Add(err)
		}
	}
	if err := cfg.check(); err != nil {
		var inner *custom_errors.ValidationError
		if errors.As(err, &inner) {
			verr.Errors = append(verr.Errors, inner.Errors...)
		} else {
			verr.Add(err)
		}
	}

	if verr.HasError() {
		return nil, verr
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddr:      DefaultListenAddr,
		StorageDriver:   Postgres,
		TokenHeader:     DefaultTokenHeader,
		PollInterval:    DefaultPollInterval,
		WorkerCount:     DefaultWorkerCount,
		BatchSize:       DefaultBatchSize,
		MaxRetries:      DefaultMaxRetries,
		DefaultTimeout:  DefaultExecTimeout,
		RetryBackoff:    DefaultRetryBackoff,
		MaxRetryBackoff: DefaultMaxRetryBackoff,
		ClaimTTL:        DefaultClaimTTL,
	}
}

// check verifies cross-field consistency after all options have run.
func (c *Config) check() error {
	verr := &custom_errors.ValidationError{}

	if !c.StorageDriver.Valid() {
		verr.Add(fmt.Errorf("unsupported storage type %q", c.StorageDriver))
	}
	if c.StorageDriver == Postgres && c.PostgresConfig.ConnectionString == "" {
		verr.Add(errors.New("postgres: connection string is required"))
	}
	if c.StorageDriver == Redis && c.RedisConfig.Address == "" {
		verr.Add(errors.New("redis: address is required"))
	}
	if c.UseToken && len(c.Tokens) == 0 {
		verr.Add(errors.New("token auth is on but no tokens are configured"))
	}

	if verr.HasError() {
		return verr
	}
	return nil
}

func WithPostgres(connectionString string) Option {
	return func(c *Config) error {
		if connectionString == "" {
			return errors.New("postgres: connection string is required")
		}
		c.StorageDriver = Postgres
		c.PostgresConfig = PostgresConfig{ConnectionString: connectionString}
		return nil
	}
}

func WithRedis(rc RedisConfig) Option {
	return func(c *Config) error {
		if rc.Address == "" {
			return errors.New("redis: address is required")
		}
		c.StorageDriver = Redis
		c.RedisConfig = rc
		return nil
	}
}

func WithRabbitMQ(rc RabbitMQConfig) Option {
	return func(c *Config) error {
		if rc.URL == "" {
			return errors.New("rabbitmq: URL is required")
		}
		c.RabbitMQConfig = rc
		return nil
	}
}

func WithTokenAuth(header string, tokens []string) Option {
	return func(c *Config) error {
		if len(tokens) == 0 {
			return errors.New("token auth: at least one token is required")
		}
		c.UseToken = true
		if header != "" {
			c.TokenHeader = header
		}
		c.Tokens = tokens
		return nil
	}
}

func WithIgnoreCrons(expressions ...string) Option {
	return func(c *Config) error {
		c.IgnoreCrons = append(c.IgnoreCrons, expressions...)
		return nil
	}
}

func WithListenAddr(addr string) Option {
	return func(c *Config) error {
		if addr == "" {
			return errors.New("listen address must not be empty")
		}
		c.ListenAddr = addr
		return nil
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		c.PollInterval = d
		return nil
	}
}

func WithWorkerCount(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return errors.New("worker count must be positive")
		}
		c.WorkerCount = n
		return nil
	}
}

func WithBatchSize(n int) Option {
	return func(c *Config) error {
		if n < 1 {
			return errors.New("batch size must be positive")
		}
		c.BatchSize = n
		return nil
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Config) error {
		if n < 0 {
			return errors.New("max retries must not be negative")
		}
		c.MaxRetries = n
		return nil
	}
}

func WithTimeout(kind string, d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return errors.New("execution timeout must be positive")
		}
		if c.Timeouts == nil {
			c.Timeouts = make(map[string]time.Duration)
		}
		c.Timeouts[kind] = d
		return nil
	}
}

func WithClaimTTL(d time.Duration) Option {
	return func(c *Config) error {
		if d <= 0 {
			return errors.New("claim TTL must be positive")
		}
		c.ClaimTTL = d
		return nil
	}
}
