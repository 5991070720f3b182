package provision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/p-arndt/sessionbox/internal/container"
)

type VenvOptions struct {
	StagingRoot string
	// Python is the host interpreter used to create environments.
	Python  string
	VenvDir string
	// KillGroupOnCancel kills the whole process group when an exec times
	// out instead of only the interpreter process.
	KillGroupOnCancel bool
}

// VenvProvisioner gives each session its own virtual environment inside the
// staging directory. It offers dependency separation, not isolation.
type VenvProvisioner struct {
	fs     afero.Fs
	runner container.CommandRunner
	opts   VenvOptions
	log    *zap.Logger

	mu sync.Mutex
	// running holds the interpreter of every in-flight call, per session and
	// exec id. An entry is dropped as soon as its call returns.
	running map[string]map[string]*os.Process
}

func NewVenvProvisioner(fs afero.Fs, runner container.CommandRunner, opts VenvOptions, log *zap.Logger) *VenvProvisioner {
	return &VenvProvisioner{
		fs:      fs,
		runner:  runner,
		opts:    opts,
		log:     log,
		running: make(map[string]map[string]*os.Process),
	}
}

func (p *VenvProvisioner) Name() string { return "venv" }

func (p *VenvProvisioner) Kind() Kind { return KindVenv }

func (p *VenvProvisioner) Create(ctx context.Context, sessionID string) (*Environment, error) {
	dir, err := afero.TempDir(p.fs, p.opts.StagingRoot, StagingPattern(sessionID))
	if err != nil {
		return nil, fmt.Errorf("%w: staging dir: %v", ErrProvisioning, err)
	}

	root := filepath.Join(dir, p.opts.VenvDir)
	_, stderr, code, err := p.runner.RunCommand(ctx, []string{p.opts.Python, "-m", "venv", root})
	if err == nil && code != 0 {
		err = fmt.Errorf("exit code %d: %s", code, strings.TrimSpace(string(stderr)))
	}
	if err != nil {
		if rmErr := p.fs.RemoveAll(dir); rmErr != nil {
			p.log.Warn("remove staging dir after failed provision",
				zap.String("session_id", sessionID), zap.String("dir", dir), zap.Error(rmErr))
		}
		return nil, fmt.Errorf("%w: create venv: %v", ErrProvisioning, err)
	}

	p.log.Info("virtual environment created",
		zap.String("session_id", sessionID), zap.String("root", root))

	return &Environment{
		SessionID:  sessionID,
		StagingDir: dir,
		Handle: Handle{
			Kind:            KindVenv,
			InterpreterRoot: root,
		},
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Interpreter returns the python executable inside a virtual environment.
func Interpreter(root string) string {
	if runtime.GOOS == "windows" {
		return filepath.Join(root, "Scripts", "python.exe")
	}
	return filepath.Join(root, "bin", "python")
}

func (p *VenvProvisioner) Exec(ctx context.Context, env *Environment, execID string, args []string) (*Output, error) {
	cmd := exec.CommandContext(ctx, Interpreter(env.Handle.InterpreterRoot), args...)
	cmd.Dir = env.StagingDir
	configureProcessGroup(cmd, p.opts.KillGroupOnCancel)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start interpreter: %w", err)
	}
	p.track(env.SessionID, execID, cmd.Process)
	waitErr := cmd.Wait()
	p.untrack(env.SessionID, execID)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("exec: %w", ctxErr)
	}

	out := &Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait interpreter: %w", waitErr)
		}
		out.ExitCode = exitStatus(exitErr)
	}
	return out, nil
}

// Interrupt kills the process group of call execID if it is still running.
// A call that already returned was killed on cancellation, or finished.
func (p *VenvProvisioner) Interrupt(_ context.Context, env *Environment, execID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	proc, ok := p.running[env.SessionID][execID]
	if !ok {
		return nil
	}
	if err := killGroupOf(proc); err != nil {
		return fmt.Errorf("kill group %d: %w", proc.Pid, err)
	}
	return nil
}

// Destroy only stops calls still in flight; the environment lives in the
// staging directory and goes with it.
func (p *VenvProvisioner) Destroy(_ context.Context, env *Environment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for _, proc := range p.running[env.SessionID] {
		if err := killGroupOf(proc); err != nil {
			errs = append(errs, fmt.Errorf("kill group %d: %w", proc.Pid, err))
		}
	}
	return errors.Join(errs...)
}

func (p *VenvProvisioner) track(sessionID, execID string, proc *os.Process) {
	p.mu.Lock()
	defer p.mu.Unlock()
	calls, ok := p.running[sessionID]
	if !ok {
		calls = make(map[string]*os.Process)
		p.running[sessionID] = calls
	}
	calls[execID] = proc
}

func (p *VenvProvisioner) untrack(sessionID, execID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if calls, ok := p.running[sessionID]; ok {
		delete(calls, execID)
		if len(calls) == 0 {
			delete(p.running, sessionID)
		}
	}
}
