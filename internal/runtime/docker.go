package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

var _ Engine = (*DockerEngine)(nil)

// DockerEngine drives a local Docker daemon through its SDK client.
type DockerEngine struct {
	client      *client.Client
	logger      *slog.Logger
	stopTimeout time.Duration
}

func NewDockerEngine(client *client.Client, stopTimeout time.Duration, logger *slog.Logger) *DockerEngine {
	return &DockerEngine{
		client:      client,
		logger:      logger.With("component", "docker"),
		stopTimeout: stopTimeout,
	}
}

func (e *DockerEngine) Create(ctx context.Context, name, image string, guestPorts []string, env []string) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range guestPorts {
		port, err := nat.NewPort(nat.SplitProtoPort(p))
		if err != nil {
			return "", fmt.Errorf("%w: bad guest port %q: %v", ErrCreateFailed, p, err)
		}
		exposed[port] = struct{}{}
		// An empty binding lets the daemon pick a random host port.
		bindings[port] = []nat.PortBinding{{}}
	}

	cfg := &container.Config{
		Image:        image,
		Env:          env,
		ExposedPorts: exposed,
		AttachStdin:  false,
		AttachStdout: false,
		AttachStderr: false,
		Tty:          false,
		OpenStdin:    false,
		Labels: map[string]string{
			"managed_by": "ctfcore",
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		AutoRemove:   false,
	}

	resp, err := e.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		e.logger.Error("Failed to create container", "name", name, "error", err)
		return "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		e.logger.Error("Failed to start container", "id", resp.ID, "error", err)
		// The created-but-never-started container is useless, drop it.
		_ = e.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	e.logger.Info("Container started", "id", resp.ID, "name", name, "image", image)
	return resp.ID, nil
}

func (e *DockerEngine) Exec(ctx context.Context, handle string, cmd []string, detach bool) error {
	created, err := e.client.ContainerExecCreate(ctx, handle, container.ExecOptions{
		Cmd:          cmd,
		Detach:       detach,
		AttachStdout: !detach,
		AttachStderr: !detach,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("%w: create: %v", ErrExecFailed, err)
	}

	if err := e.client.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: detach}); err != nil {
		return fmt.Errorf("%w: start: %v", ErrExecFailed, err)
	}
	return nil
}

func (e *DockerEngine) HostPorts(ctx context.Context, handle, guestPort string) ([]Binding, error) {
	inspect, err := e.client.ContainerInspect(ctx, handle)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, ErrContainerNotFound
		}
		return nil, fmt.Errorf("inspect container: %w", err)
	}

	port, err := nat.NewPort(nat.SplitProtoPort(guestPort))
	if err != nil {
		return nil, fmt.Errorf("bad guest port %q: %w", guestPort, err)
	}

	reported := inspect.NetworkSettings.Ports[port]
	if len(reported) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoPortBinding, guestPort)
	}

	bindings := make([]Binding, 0, len(reported))
	for _, b := range reported {
		hostPort, err := strconv.Atoi(b.HostPort)
		if err != nil {
			return nil, fmt.Errorf("parse host port %q: %w", b.HostPort, err)
		}
		bindings = append(bindings, Binding{HostIP: b.HostIP, HostPort: hostPort})
	}
	return bindings, nil
}

func (e *DockerEngine) Stop(ctx context.Context, handle string) error {
	seconds := int(e.stopTimeout.Seconds())
	err := e.client.ContainerStop(ctx, handle, container.StopOptions{Timeout: &seconds})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("stop container: %w", err)
	}
	e.logger.Info("Container stopped", "id", handle)
	return nil
}

func (e *DockerEngine) Remove(ctx context.Context, handle string) error {
	err := e.client.ContainerRemove(ctx, handle, container.RemoveOptions{Force: true})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ErrContainerNotFound
		}
		return fmt.Errorf("remove container: %w", err)
	}
	e.logger.Info("Container removed", "id", handle)
	return nil
}
