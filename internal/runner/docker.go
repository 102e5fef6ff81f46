package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const managedByLabel = "deploybuild"

// DockerConfig configures the container runner.
type DockerConfig struct {
	Image      string   // toolbox image providing make and helm
	Root       string   // host directory bind-mounted at the same path in the container
	ExtraHosts []string // extra /etc/hosts entries
}

// Docker runs each command in a fresh container of the toolbox image with the
// checkout bind-mounted, so host and container paths are identical.
type Docker struct {
	client     *client.Client
	image      string
	root       string
	extraHosts []string
	live       *liveSet
}

// NewDocker connects to the Docker daemon from the environment.
func NewDocker(cfg DockerConfig) (*Docker, error) {
	if cfg.Image == "" {
		return nil, fmt.Errorf("runner image is required")
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("runner root is required")
	}

	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	return &Docker{
		client:     dockerClient,
		image:      cfg.Image,
		root:       cfg.Root,
		extraHosts: cfg.ExtraHosts,
		live:       newLiveSet(),
	}, nil
}

// Run implements Runner.
func (d *Docker) Run(ctx context.Context, c Command) (Output, error) {
	logger := slog.With("cmd", c.String(), "image", d.image)

	if err := d.pullImageIfNeeded(ctx); err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("failed to pull image %s: %w", d.image, err)
	}

	id, err := d.createContainer(ctx, c)
	if err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("failed to create container: %w", err)
	}
	d.live.add(id)
	defer func() {
		d.removeContainer(id)
		d.live.remove(id)
	}()

	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return Output{ExitCode: -1}, fmt.Errorf("failed to start container: %w", err)
	}
	logger.Debug("Container started", "containerId", id)

	exitCode, waitErr := d.waitForExit(ctx, id)

	// Collect output even after cancellation so callers see how far it got.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	stdout, stderr, logErr := d.collectLogs(logCtx, id)
	if logErr != nil {
		logger.Warn("Failed to collect container logs", "containerId", id, "error", logErr)
	}

	out := Output{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
	if waitErr != nil {
		return out, waitErr
	}
	if exitCode != 0 {
		return out, &ExitError{Command: c.String(), ExitCode: exitCode, Stderr: stderr}
	}
	return out, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (d *Docker) Ready(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

// Close removes any containers still running and releases the client.
func (d *Docker) Close() error {
	for _, id := range d.live.list() {
		d.removeContainer(id)
	}
	return d.client.Close()
}

func (d *Docker) createContainer(ctx context.Context, c Command) (string, error) {
	containerConfig := &container.Config{
		Image:      d.image,
		Cmd:        append([]string{c.Name}, c.Args...),
		Env:        envList(c.Env),
		WorkingDir: c.Dir,
		Labels: map[string]string{
			"managed-by": managedByLabel,
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: d.root,
				Target: d.root,
			},
		},
		ExtraHosts: d.extraHosts,
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (d *Docker) pullImageIfNeeded(ctx context.Context) error {
	if _, err := d.client.ImageInspect(ctx, d.image); err == nil {
		return nil
	}

	reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *Docker) waitForExit(ctx context.Context, id string) (int, error) {
	statusCh, errCh := d.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), fmt.Errorf("%s", status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (d *Docker) collectLogs(ctx context.Context, id string) (string, string, error) {
	logs, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", err
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return stdout.String(), stderr.String(), err
	}
	return stdout.String(), stderr.String(), nil
}

func (d *Docker) removeContainer(id string) {
	stopTimeout := 10

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &stopTimeout})
	_ = d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

var _ Runner = (*Docker)(nil)
