package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

// DockerClient is the subset of the Docker Engine API used by DockerRuntime.
// It allows the client to be mocked in tests.
type DockerClient interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerRuntimeConfig configures DockerRuntime.
type DockerRuntimeConfig struct {
	// Client overrides the Engine API client; built from Host or the
	// environment when nil.
	Client DockerClient
	// Host is the daemon address, e.g. a Podman socket. Empty means DOCKER_HOST.
	Host string
	// PullImages pulls the image before every create.
	PullImages bool
}

// DockerRuntime implements ContainerRuntime on the Docker Engine API. It
// works against Podman's Docker-compatible socket as well.
type DockerRuntime struct {
	client     DockerClient
	pullImages bool
	logger     *zap.Logger
}

// NewDockerRuntime creates a DockerRuntime.
func NewDockerRuntime(logger *zap.Logger, cfg DockerRuntimeConfig) (*DockerRuntime, error) {
	cli := cfg.Client
	if cli == nil {
		opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if cfg.Host != "" {
			opts = append(opts, client.WithHost(cfg.Host))
		}
		c, err := client.NewClientWithOpts(opts...)
		if err != nil {
			return nil, fmt.Errorf("could not create Docker client: %w", err)
		}
		cli = c
	}

	return &DockerRuntime{
		client:     cli,
		pullImages: cfg.PullImages,
		logger:     logger.With(zap.String("backend", "docker")),
	}, nil
}

// Create implements ContainerRuntime.
func (d *DockerRuntime) Create(ctx context.Context, spec SandboxSpec) (string, error) {
	if d.pullImages {
		if err := d.pull(ctx, spec.Image); err != nil {
			return "", err
		}
	}

	containerConfig := &container.Config{
		Image:           spec.Image,
		Cmd:             spec.Cmd,
		Env:             spec.Env,
		WorkingDir:      spec.WorkingDir,
		Labels:          spec.Labels,
		NetworkDisabled: spec.NetworkDisabled,
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.WorkspacePath,
			Target: spec.WorkingDir,
		}},
		Resources: container.Resources{
			Memory:    spec.MemoryBytes,
			CPUQuota:  spec.CPUQuota,
			CPUPeriod: spec.CPUPeriod,
		},
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
	}
	if spec.NetworkDisabled {
		hostConfig.NetworkMode = container.NetworkMode("none")
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	for _, w := range resp.Warnings {
		d.logger.Warn("container create warning", zap.String("container", resp.ID), zap.String("warning", w))
	}

	return resp.ID, nil
}

func (d *DockerRuntime) pull(ctx context.Context, ref string) error {
	d.logger.Info("pulling image", zap.String("image", ref))
	rc, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is consumed.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

// Start implements ContainerRuntime.
func (d *DockerRuntime) Start(ctx context.Context, id string) error {
	if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", id, err)
	}
	return nil
}

// Logs implements ContainerRuntime. The daemon multiplexes stdout and
// stderr into framed records; both are copied into one stream.
func (d *DockerRuntime) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := d.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach logs of container %s: %w", id, err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		pw.CloseWithError(err)
	}()

	return &combinedLogs{PipeReader: pr, src: rc}, nil
}

type combinedLogs struct {
	*io.PipeReader
	src io.Closer
}

func (c *combinedLogs) Close() error {
	srcErr := c.src.Close()
	return errors.Join(c.PipeReader.Close(), srcErr)
}

// Wait implements ContainerRuntime.
func (d *DockerRuntime) Wait(ctx context.Context, id string) (int, error) {
	statusCh, errCh := d.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, fmt.Errorf("failed to wait for container %s: %w", id, err)
	case status := <-statusCh:
		if status.Error != nil && status.Error.Message != "" {
			return -1, fmt.Errorf("container %s: %s", id, status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

// Remove implements ContainerRuntime.
func (d *DockerRuntime) Remove(ctx context.Context, id string) error {
	err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			d.logger.Debug("container already removed", zap.String("container", id))
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", id, err)
	}
	return nil
}
