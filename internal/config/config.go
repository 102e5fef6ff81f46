// Package config provides configuration loading from environment variables.
package config

import (
	"fmt"
	"os"
	"time"
)

// ServiceConfig holds configuration for the build service.
type ServiceConfig struct {
	Name              string
	Version           string
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)
	ShutdownTimeout   time.Duration // Time allowed for in-flight requests after draining

	// Root of the all-the-things checkout holding deployable/<dt>/...
	ATTRoot string
	// Optional TOML catalog; when empty the catalog is discovered from ATTRoot.
	CatalogFile string
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Name:              GetEnv("SERVER_NAME", "devops-build-server"),
		Version:           GetEnv("SERVER_VERSION", "1.0.0"),
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
		ShutdownTimeout:   GetDurationEnv("SHUTDOWN_TIMEOUT", time.Minute),
		ATTRoot:           GetEnv("ALL_THE_THINGS_ROOT", ""),
		CatalogFile:       GetEnv("CATALOG_FILE", ""),
	}
}

// Validate checks the settings the service cannot start without.
func (c *ServiceConfig) Validate() error {
	if c.ATTRoot == "" {
		return fmt.Errorf("ALL_THE_THINGS_ROOT is not set")
	}
	info, err := os.Stat(c.ATTRoot)
	if err != nil {
		return fmt.Errorf("ALL_THE_THINGS_ROOT %s: %w", c.ATTRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("ALL_THE_THINGS_ROOT %s is not a directory", c.ATTRoot)
	}
	return nil
}
