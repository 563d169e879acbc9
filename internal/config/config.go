// Package config loads process configuration from the environment, the
// way the teacher's internal/globals/config.go loads a YAML file with
// env-var overrides — but spec.md §6.1 mandates pure environment-variable
// configuration, so this uses caarlos0/env's struct-tag binding directly
// instead of a YAML layer with an override pass on top.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every recognized option from spec §6.1 plus the ambient
// logging/metrics surface the teacher always carries alongside its core
// settings.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	RedisURL    string `env:"REDIS_URL,required"`

	IntegrationMockMode bool `env:"INTEGRATION_MOCK_MODE" envDefault:"true"`

	MasterKeyCurrent  string `env:"MASTER_KEY_CURRENT,required"`
	MasterKeyPrevious string `env:"MASTER_KEY_PREVIOUS"`

	PollIntervalSeconds           int `env:"POLL_INTERVAL_SECONDS" envDefault:"600"`
	JobTimeoutSeconds             int `env:"JOB_TIMEOUT_SECONDS" envDefault:"60"`
	AdapterRequestTimeoutSeconds  int `env:"ADAPTER_REQUEST_TIMEOUT_SECONDS" envDefault:"8"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Validate enforces the startup invariants spec §6.1 calls out explicitly:
// mock mode must currently be on, and the master key must look like a
// 32-byte hex string (full round-trip validation happens when vault.New
// constructs the AESGCMVault).
func (c *Config) Validate() error {
	if !c.IntegrationMockMode {
		return fmt.Errorf("INTEGRATION_MOCK_MODE must be true in the current phase")
	}
	if len(c.MasterKeyCurrent) != 64 {
		return fmt.Errorf("MASTER_KEY_CURRENT must be 64 hex characters (32 bytes), got length %d", len(c.MasterKeyCurrent))
	}
	if c.PollIntervalSeconds <= 0 {
		return fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if c.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("JOB_TIMEOUT_SECONDS must be positive")
	}
	if c.AdapterRequestTimeoutSeconds <= 0 {
		return fmt.Errorf("ADAPTER_REQUEST_TIMEOUT_SECONDS must be positive")
	}
	return nil
}

// PollInterval is the Scheduler period P, as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// LockTTL is 2×P, per spec §4.4 step 3.
func (c *Config) LockTTL() time.Duration {
	return 2 * c.PollInterval()
}

// JobTimeout is the per-job total execution budget.
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSeconds) * time.Second
}

// AdapterRequestTimeout is the per adapter-call timeout.
func (c *Config) AdapterRequestTimeout() time.Duration {
	return time.Duration(c.AdapterRequestTimeoutSeconds) * time.Second
}
