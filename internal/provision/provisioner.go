// Package provision creates and tears down the isolated environment backing
// a session: a long-lived container when an engine is available, otherwise a
// virtual environment on the host.
package provision

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEnvironmentUnavailable means no isolation strategy could be found at startup.
	ErrEnvironmentUnavailable = errors.New("no execution environment available")
	// ErrProvisioning means creating a session's environment failed.
	ErrProvisioning = errors.New("environment provisioning failed")
)

type Kind string

const (
	KindContainer Kind = "container"
	KindVenv      Kind = "venv"
)

// Handle identifies the concrete sandbox of a session.
type Handle struct {
	Kind          Kind
	ContainerID   string
	ContainerName string
	// InterpreterRoot is the virtual environment directory (venv only).
	InterpreterRoot string
}

// Environment is a provisioned session sandbox.
type Environment struct {
	SessionID  string
	StagingDir string
	Handle     Handle
	CreatedAt  time.Time
}

// Output is the captured result of one interpreter invocation.
type Output struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Provisioner is one isolation strategy.
type Provisioner interface {
	// Name describes the strategy, e.g. "container/podman" or "venv".
	Name() string
	Kind() Kind
	// Create allocates a staging directory and the sandbox bound to it.
	// On failure nothing is left behind and the error wraps ErrProvisioning.
	Create(ctx context.Context, sessionID string) (*Environment, error)
	// Exec runs the session interpreter with args, working directory the
	// staging root. execID names the call for Interrupt. When ctx ends first
	// the returned error wraps ctx.Err(). A process killed by a signal
	// reports 128+signal as its exit code.
	Exec(ctx context.Context, env *Environment, execID string, args []string) (*Output, error)
	// Interrupt kills what the call execID started. Other calls running in
	// the same session are left alone.
	Interrupt(ctx context.Context, env *Environment, execID string) error
	// Destroy releases the sandbox. The staging directory is left to the caller.
	Destroy(ctx context.Context, env *Environment) error
}

// ManagedLister is implemented by strategies that can enumerate sandboxes
// they created in earlier runs of the process.
type ManagedLister interface {
	ListManaged(ctx context.Context) ([]Environment, error)
}
