package companion

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"github.com/kajande/dulayni-cli/internal/constants"
	"github.com/kajande/dulayni-cli/internal/logging"
)

// DockerEngine runs the tunnel sidecar as a container through the Docker
// Engine API.
type DockerEngine struct {
	cli    *client.Client
	logger *logging.Logger
}

// NewDockerEngine connects using the DOCKER_HOST family of variables. The
// daemon is not contacted until Available is called.
func NewDockerEngine(logger *logging.Logger) (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client init: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &DockerEngine{cli: cli, logger: logger}, nil
}

// Close releases the client.
func (d *DockerEngine) Close() error {
	return d.cli.Close()
}

// Available implements TunnelEngine.
func (d *DockerEngine) Available(ctx context.Context) bool {
	if _, err := d.cli.Ping(ctx); err != nil {
		d.logger.Debug("docker unavailable", logging.Fields{"error": err.Error()})
		return false
	}
	return true
}

// Running implements TunnelEngine.
func (d *DockerEngine) Running(ctx context.Context, id string) (bool, error) {
	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", constants.TunnelLabel+"="+id)),
	})
	if err != nil {
		return false, fmt.Errorf("container list: %w", err)
	}
	return len(list) > 0, nil
}

// Launch implements TunnelEngine. A stale container with the sidecar name
// is removed first.
func (d *DockerEngine) Launch(ctx context.Context, spec TunnelSpec, configPath string) error {
	spec = spec.withDefaults()

	_ = d.cli.ContainerRemove(ctx, constants.TunnelContainerName, container.RemoveOptions{Force: true})

	d.logger.Info("pulling tunnel image", logging.Fields{"image": constants.TunnelImage})
	rc, err := d.cli.ImagePull(ctx, constants.TunnelImage, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("image pull: %w", err)
	}
	_, _ = io.Copy(io.Discard, rc)
	_ = rc.Close()

	cfg := &container.Config{
		Image:  constants.TunnelImage,
		Cmd:    []string{"-c", containerConfPath},
		Labels: map[string]string{constants.TunnelLabel: spec.ID},
	}
	hostCfg := &container.HostConfig{
		NetworkMode:   "host",
		Binds:         []string{configPath + ":" + containerConfPath + ":ro"},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	created, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, constants.TunnelContainerName)
	if err != nil {
		return fmt.Errorf("container create: %w", err)
	}
	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("container start: %w", err)
	}

	d.logger.Info("tunnel sidecar started", logging.Fields{
		"id":     created.ID,
		"domain": spec.Domain(),
	})
	return nil
}

// Stop implements TunnelEngine.
func (d *DockerEngine) Stop(ctx context.Context) error {
	if err := d.cli.ContainerRemove(ctx, constants.TunnelContainerName, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}
