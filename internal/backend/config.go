package backend

import (
	"deploybuild/internal/config"
	"time"
)

// Config holds configuration shared by the build backends.
type Config struct {
	Root               string        // all-the-things checkout root
	TemplateMakeTarget string        // make target rendering one deployable for one target
	HelmMakeTarget     string        // make target packaging one chart for one target
	HelmDepRetries     int           // extra attempts for helm dependency update
	HelmDepBackoff     time.Duration // initial delay between dependency update attempts
}

// LoadConfigFromEnv loads backend configuration from environment variables.
func LoadConfigFromEnv(root string) Config {
	return Config{
		Root:               root,
		TemplateMakeTarget: config.GetEnv("TEMPLATE_MAKE_TARGET", "k8s_build"),
		HelmMakeTarget:     config.GetEnv("HELM_MAKE_TARGET", "k8s_helm_build"),
		HelmDepRetries:     config.GetIntEnv("HELM_DEP_RETRIES", 2),
		HelmDepBackoff:     config.GetDurationEnv("HELM_DEP_BACKOFF", time.Second),
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.TemplateMakeTarget == "" {
		c.TemplateMakeTarget = "k8s_build"
	}
	if c.HelmMakeTarget == "" {
		c.HelmMakeTarget = "k8s_helm_build"
	}
	if c.HelmDepRetries < 0 {
		c.HelmDepRetries = 0
	}
	if c.HelmDepBackoff <= 0 {
		c.HelmDepBackoff = time.Second
	}
	return c
}
