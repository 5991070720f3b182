// Package container drives the container engine that hosts session
// sandboxes, either through the Docker Engine API or through a
// docker/podman compatible CLI.
package container

import (
	"context"
	"errors"
)

const (
	labelPrefix = "sessionbox."

	// LabelManaged marks every container created by this service.
	LabelManaged = labelPrefix + "managed"
	// LabelSessionID carries the owning session id.
	LabelSessionID = labelPrefix + "session_id"
)

// ErrEngineUnavailable is returned by checks when the engine cannot be reached.
var ErrEngineUnavailable = errors.New("container engine unavailable")

// Engine is the subset of a container engine the sandbox needs.
type Engine interface {
	// Name identifies the engine ("docker", "podman", "docker-cli").
	Name() string
	// Version contacts the engine and returns its server version.
	Version(ctx context.Context) (string, error)
	// RunDetached starts a long-lived container and returns its id.
	RunDetached(ctx context.Context, spec RunSpec) (string, error)
	// Exec runs a command inside a running container and waits for it.
	Exec(ctx context.Context, containerID string, spec ExecSpec) (*ExecResult, error)
	// Remove force-removes a container. A missing container is not an error.
	Remove(ctx context.Context, containerID string) error
	// ListManaged returns every container labelled as managed by this service.
	ListManaged(ctx context.Context) ([]Managed, error)
}

type RunSpec struct {
	Name      string
	Image     string
	SessionID string
	// HostDir is bind-mounted read-write at WorkDir.
	HostDir     string
	WorkDir     string
	Command     []string
	MemoryBytes int64
	CPULimit    float64
	PidsLimit   int64
	NetworkMode string
	AutoRemove  bool
}

// Labels returns the labels applied to the container.
func (s RunSpec) Labels() map[string]string {
	return map[string]string{
		LabelManaged:   "true",
		LabelSessionID: s.SessionID,
	}
}

type ExecSpec struct {
	Cmd     []string
	WorkDir string
	User    string
}

type ExecResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Managed describes a container found through the managed label.
type Managed struct {
	ID        string
	Name      string
	SessionID string
}
