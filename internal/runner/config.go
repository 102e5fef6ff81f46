package runner

import (
	"deploybuild/internal/config"
	"fmt"
)

// Runner kinds.
const (
	KindExec   = "exec"
	KindDocker = "docker"
)

// Config selects and configures a runner.
type Config struct {
	Kind       string   // exec or docker
	Image      string   // toolbox image for the docker runner
	ExtraHosts []string // extra hosts for containers (e.g., ["registry.local:host-gateway"])
}

// LoadConfigFromEnv loads runner configuration from environment variables.
func LoadConfigFromEnv() Config {
	return Config{
		Kind:       config.GetEnv("RUNNER", KindExec),
		Image:      config.GetEnv("RUNNER_IMAGE", ""),
		ExtraHosts: config.GetListEnv("EXTRA_HOSTS"),
	}
}

// New creates the runner cfg selects. Commands run against the checkout at root.
func New(cfg Config, root string) (Runner, error) {
	switch cfg.Kind {
	case KindExec, "":
		return NewExec(), nil
	case KindDocker:
		return NewDocker(DockerConfig{Image: cfg.Image, Root: root, ExtraHosts: cfg.ExtraHosts})
	default:
		return nil, fmt.Errorf("unknown runner %q (want %s or %s)", cfg.Kind, KindExec, KindDocker)
	}
}
