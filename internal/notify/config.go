package notify

import (
	"deploybuild/internal/config"
	"time"
)

// Delivery defaults that rarely need tuning.
const (
	defaultMaxRetries       = 3
	defaultInitialBackoff   = 200 * time.Millisecond
	defaultMaxBackoff       = 5 * time.Second
	defaultBreakerThreshold = 5
	defaultBreakerCooldown  = 30 * time.Second
	defaultDeliveryTimeout  = 30 * time.Second
)

// Config holds configuration for the in-memory notifier.
type Config struct {
	BufferSize  int           // pending events buffer (default: 1000)
	Workers     int           // concurrent delivery goroutines (default: 4)
	HTTPTimeout time.Duration // per-request timeout (default: 10s)
	MaxRetries  int           // retries after the first attempt; zero disables retries (env default: 3)
}

// LoadConfigFromEnv loads notifier configuration from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		BufferSize:  config.GetIntEnv("NOTIFY_BUFFER_SIZE", 1000),
		Workers:     config.GetIntEnv("NOTIFY_WORKERS", 4),
		HTTPTimeout: config.GetDurationEnv("NOTIFY_HTTP_TIMEOUT", 10*time.Second),
		MaxRetries:  config.GetIntEnv("NOTIFY_MAX_RETRIES", defaultMaxRetries),
	}
	return cfg.withDefaults()
}

// withDefaults fills in zero values with defaults.
func (c Config) withDefaults() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}
