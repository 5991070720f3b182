package provision

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/p-arndt/sessionbox/internal/container"
)

const (
	runAttempts    = 3
	runBackoff     = 500 * time.Millisecond
	controlTimeout = 10 * time.Second
)

type ContainerOptions struct {
	StagingRoot string
	Image       string
	Interpreter string
	WorkDir     string
	MemoryBytes int64
	CPULimit    float64
	PidsLimit   int64
	NetworkMode string
	// HostUID/HostGID own files written into the bind mount on teardown.
	// Values <= 0 skip the ownership fix.
	HostUID int
	HostGID int
}

// ContainerProvisioner runs each session in a detached container with the
// staging directory bind-mounted as its working directory.
type ContainerProvisioner struct {
	engine container.Engine
	fs     afero.Fs
	opts   ContainerOptions
	log    *zap.Logger
}

func NewContainerProvisioner(engine container.Engine, fs afero.Fs, opts ContainerOptions, log *zap.Logger) *ContainerProvisioner {
	return &ContainerProvisioner{engine: engine, fs: fs, opts: opts, log: log}
}

func (p *ContainerProvisioner) Name() string { return "container/" + p.engine.Name() }

func (p *ContainerProvisioner) Kind() Kind { return KindContainer }

func (p *ContainerProvisioner) Create(ctx context.Context, sessionID string) (*Environment, error) {
	dir, err := afero.TempDir(p.fs, p.opts.StagingRoot, StagingPattern(sessionID))
	if err != nil {
		return nil, fmt.Errorf("%w: staging dir: %v", ErrProvisioning, err)
	}

	spec := container.RunSpec{
		Name:        ContainerName(sessionID),
		Image:       p.opts.Image,
		SessionID:   sessionID,
		HostDir:     dir,
		WorkDir:     p.opts.WorkDir,
		Command:     []string{"sleep", "infinity"},
		MemoryBytes: p.opts.MemoryBytes,
		CPULimit:    p.opts.CPULimit,
		PidsLimit:   p.opts.PidsLimit,
		NetworkMode: p.opts.NetworkMode,
		AutoRemove:  true,
	}

	id, err := container.RunDetachedWithRetry(ctx, p.engine, spec, runAttempts, runBackoff)
	if err != nil {
		if rmErr := p.fs.RemoveAll(dir); rmErr != nil {
			p.log.Warn("remove staging dir after failed provision",
				zap.String("session_id", sessionID), zap.String("dir", dir), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProvisioning, p.engine.Name(), err)
	}

	p.log.Info("container started",
		zap.String("session_id", sessionID),
		zap.String("container", spec.Name),
		zap.String("container_id", shortID(id)))

	return &Environment{
		SessionID:  sessionID,
		StagingDir: dir,
		Handle: Handle{
			Kind:          KindContainer,
			ContainerID:   id,
			ContainerName: spec.Name,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// execLauncher turns the interpreter into the leader of a new session and
// writes its process group id to the file named by argv[1] before exec-ing
// the real command line. Interrupt reads that file to kill one call without
// touching others running in the same container.
const execLauncher = `import os, sys
try:
    os.setsid()
except OSError:
    pass
with open(sys.argv[1], "w") as f:
    f.write(str(os.getpgid(0)))
os.execv(sys.executable, [sys.executable] + sys.argv[2:])`

// interruptScript kills the process group recorded in "$1", then drops the file.
const interruptScript = `pgid=$(cat "$1" 2>/dev/null) && [ "$pgid" -gt 1 ] && kill -KILL -- "-$pgid" 2>/dev/null; rm -f "$1"; true`

// execPIDFile lives outside the bind-mounted workdir.
func execPIDFile(execID string) string {
	return "/tmp/.sessionbox-exec-" + execID
}

func (p *ContainerProvisioner) Exec(ctx context.Context, env *Environment, execID string, args []string) (*Output, error) {
	cmd := append([]string{p.opts.Interpreter, "-c", execLauncher, execPIDFile(execID)}, args...)
	res, err := p.engine.Exec(ctx, p.target(env), container.ExecSpec{
		Cmd:     cmd,
		WorkDir: p.opts.WorkDir,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("exec in %s: %w", env.Handle.ContainerName, ctxErr)
		}
		return nil, fmt.Errorf("exec in %s: %w", env.Handle.ContainerName, err)
	}
	return &Output{Stdout: res.Stdout, Stderr: res.Stderr, ExitCode: res.ExitCode}, nil
}

// Interrupt kills the process group of call execID. The engine does not stop
// an exec when its client goes away, so without this a timed-out call keeps
// running until the container is removed.
func (p *ContainerProvisioner) Interrupt(ctx context.Context, env *Environment, execID string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), controlTimeout)
	defer cancel()

	_, err := p.engine.Exec(ctx, p.target(env), container.ExecSpec{
		Cmd: []string{"sh", "-c", interruptScript, "sh", execPIDFile(execID)},
	})
	if err != nil {
		return fmt.Errorf("interrupt %s in %s: %w", execID, env.Handle.ContainerName, err)
	}
	return nil
}

func (p *ContainerProvisioner) Destroy(ctx context.Context, env *Environment) error {
	target := p.target(env)
	if target == "" {
		return nil
	}

	if p.opts.HostUID > 0 {
		// Files created as root inside the container must be removable by the host user.
		owner := strconv.Itoa(p.opts.HostUID) + ":" + strconv.Itoa(p.opts.HostGID)
		cctx, cancel := context.WithTimeout(ctx, controlTimeout)
		if _, err := p.engine.Exec(cctx, target, container.ExecSpec{
			Cmd: []string{"chown", "-R", owner, p.opts.WorkDir},
		}); err != nil {
			p.log.Debug("chown workspace before removal",
				zap.String("session_id", env.SessionID), zap.Error(err))
		}
		cancel()
	}

	if err := p.engine.Remove(ctx, target); err != nil {
		return fmt.Errorf("remove container %s: %w", env.Handle.ContainerName, err)
	}
	return nil
}

// ListManaged returns environments for every labelled container, live or not.
// StagingDir is unknown for these and left empty.
func (p *ContainerProvisioner) ListManaged(ctx context.Context) ([]Environment, error) {
	managed, err := p.engine.ListManaged(ctx)
	if err != nil {
		return nil, err
	}
	envs := make([]Environment, 0, len(managed))
	for _, m := range managed {
		envs = append(envs, Environment{
			SessionID: m.SessionID,
			Handle: Handle{
				Kind:          KindContainer,
				ContainerID:   m.ID,
				ContainerName: m.Name,
			},
		})
	}
	return envs, nil
}

// Close releases the engine connection, if the engine holds one.
func (p *ContainerProvisioner) Close() error {
	if c, ok := p.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (p *ContainerProvisioner) target(env *Environment) string {
	if env.Handle.ContainerID != "" {
		return env.Handle.ContainerID
	}
	return env.Handle.ContainerName
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
