package build

import (
	"deploybuild/internal/config"
	"time"
)

// Config holds batch orchestration settings.
type Config struct {
	Timeout       time.Duration // bound on a whole batch call (default: 30m)
	MaxConcurrent int           // per-batch concurrency when a call passes none (default: 3)
	Workers       int           // concurrent builds across all batches (default: 8)
	MaxBatchSize  int           // maximum dt_list length (default: 256)
	Source        string        // CloudEvent source for completion callbacks
}

// LoadConfigFromEnv loads build configuration from environment variables.
// BUILD_TIMEOUT accepts a Go duration or a bare number of seconds.
func LoadConfigFromEnv() Config {
	cfg := Config{
		Timeout:       config.GetDurationEnv("BUILD_TIMEOUT", 30*time.Minute),
		MaxConcurrent: config.GetIntEnv("BUILD_MAX_CONCURRENT", DefaultLimit),
		Workers:       config.GetIntEnv("BUILD_WORKERS", 8),
		MaxBatchSize:  config.GetIntEnv("BUILD_MAX_BATCH", 256),
		Source:        config.GetEnv("SERVER_NAME", "devops-build-server"),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultLimit
	}
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 256
	}
	if c.Source == "" {
		c.Source = "devops-build-server"
	}
	return c
}

// PoolConfig derives the engine configuration.
func (c Config) PoolConfig() PoolConfig {
	c = c.withDefaults()
	return PoolConfig{Workers: c.Workers, DefaultLimit: c.MaxConcurrent}
}
