package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML schema. Durations are strings ("15s", "2m") so
// config files stay readable; they are parsed into Config after decoding.
type fileConfig struct {
	Instance   string `yaml:"instance"`
	ListenAddr string `yaml:"listenAddr"`

	StorageType string         `yaml:"storageType"`
	Postgres    PostgresConfig `yaml:"postgres"`
	Redis       RedisConfig    `yaml:"redis"`
	RabbitMQ    RabbitMQConfig `yaml:"rabbitmq"`

	IgnoreCrons []string `yaml:"ignoreCrons"`

	UseToken    bool     `yaml:"useToken"`
	TokenHeader string   `yaml:"tokenHeader"`
	Tokens      []string `yaml:"tokens"`

	PollInterval string `yaml:"pollInterval"`
	WorkerCount  int    `yaml:"workerCount"`
	BatchSize    int    `yaml:"batchSize"`
	MaxRetries   *int   `yaml:"maxRetries"`

	Timeouts       map[string]string `yaml:"timeouts"`
	DefaultTimeout string            `yaml:"defaultTimeout"`

	RetryBackoff    string `yaml:"retryBackoff"`
	MaxRetryBackoff string `yaml:"maxRetryBackoff"`
	ClaimTTL        string `yaml:"claimTTL"`
}

// Load reads a YAML settings file and applies the same validation as New.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes YAML settings from memory.
func Parse(raw []byte) (*Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	var opts []Option

	if fc.ListenAddr != "" {
		opts = append(opts, WithListenAddr(fc.ListenAddr))
	}

	// Missing connection details are caught by the cross-field check, so
	// the storage driver is set directly here.
	opts = append(opts, func(c *Config) error {
		if fc.StorageType != "" {
			c.StorageDriver = StorageDriver(fc.StorageType)
		}
		c.PostgresConfig = fc.Postgres
		c.RedisConfig = fc.Redis
		return nil
	})

	if fc.RabbitMQ.URL != "" {
		opts = append(opts, WithRabbitMQ(fc.RabbitMQ))
	}
	if len(fc.IgnoreCrons) > 0 {
		opts = append(opts, WithIgnoreCrons(fc.IgnoreCrons...))
	}
	if fc.UseToken {
		opts = append(opts, WithTokenAuth(fc.TokenHeader, fc.Tokens))
	}
	if fc.WorkerCount > 0 {
		opts = append(opts, WithWorkerCount(fc.WorkerCount))
	}
	if fc.BatchSize > 0 {
		opts = append(opts, WithBatchSize(fc.BatchSize))
	}
	if fc.MaxRetries != nil {
		opts = append(opts, WithMaxRetries(*fc.MaxRetries))
	}

	opts = append(opts,
		durationOpt("pollInterval", fc.PollInterval, WithPollInterval),
		durationOpt("claimTTL", fc.ClaimTTL, WithClaimTTL),
		durationOpt("defaultTimeout", fc.DefaultTimeout, func(d time.Duration) Option {
			return func(c *Config) error {
				c.DefaultTimeout = d
				return nil
			}
		}),
		durationOpt("retryBackoff", fc.RetryBackoff, func(d time.Duration) Option {
			return func(c *Config) error {
				c.RetryBackoff = d
				return nil
			}
		}),
		durationOpt("maxRetryBackoff", fc.MaxRetryBackoff, func(d time.Duration) Option {
			return func(c *Config) error {
				c.MaxRetryBackoff = d
				return nil
			}
		}),
	)

	for kind, value := range fc.Timeouts {
		kind, value := kind, value
		opts = append(opts, durationOpt("timeouts."+kind, value, func(d time.Duration) Option {
			return WithTimeout(kind, d)
		}))
	}

	return New(fc.Instance, opts...)
}

// durationOpt parses a duration string and defers to next; an empty value
// is a no-op so file defaults fall through to the built-in ones.
func durationOpt(field, value string, next func(time.Duration) Option) Option {
	return func(c *Config) error {
		if value == "" {
			return nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		return next(d)(c)
	}
}
