// Package runtime abstracts the container runtime the orchestrator
// drives. The orchestrator only ever talks to the Engine interface so
// tests can substitute a fake for the Docker daemon.
package runtime

import (
	"context"
	"errors"
)

var (
	ErrContainerNotFound = errors.New("container not found")

	ErrCreateFailed = errors.New("failed to create container")

	ErrExecFailed = errors.New("exec failed")

	ErrNoPortBinding = errors.New("no host port bound for guest port")
)

// Binding is one host-side assignment for a guest port, as reported by
// the runtime.
type Binding struct {
	HostIP   string
	HostPort int
}

// Engine is the capability set the lifecycle orchestrator consumes.
// Handles are runtime-assigned container ids.
type Engine interface {
	// Create creates and starts a detached container. Guest ports are
	// given in "port/proto" form and each is published on a
	// runtime-assigned random host port.
	Create(ctx context.Context, name, image string, guestPorts []string, env []string) (handle string, err error)

	// Exec runs a command inside a running container.
	Exec(ctx context.Context, handle string, cmd []string, detach bool) error

	// HostPorts returns the runtime's reported bindings for one guest
	// port, in the runtime's own order.
	HostPorts(ctx context.Context, handle, guestPort string) ([]Binding, error)

	Stop(ctx context.Context, handle string) error
	Remove(ctx context.Context, handle string) error
}
