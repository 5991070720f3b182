package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/p-arndt/sessionbox/internal/config"
	"github.com/p-arndt/sessionbox/internal/container"
)

const detectTimeout = 10 * time.Second

// Candidate is one isolation strategy that can be checked.
type Candidate struct {
	Name string
	Open func(ctx context.Context) (Provisioner, error)
}

// Detect checks candidates in order and returns the first usable strategy.
// The choice is made once; when every check fails the error wraps
// ErrEnvironmentUnavailable and lists each failure.
func Detect(ctx context.Context, candidates []Candidate, log *zap.Logger) (Provisioner, error) {
	var errs []error
	for _, c := range candidates {
		pctx, cancel := context.WithTimeout(ctx, detectTimeout)
		p, err := c.Open(pctx)
		cancel()
		if err != nil {
			log.Info("isolation strategy unavailable", zap.String("strategy", c.Name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.Name, err))
			continue
		}
		log.Info("isolation strategy selected", zap.String("strategy", p.Name()))
		return p, nil
	}
	if len(errs) == 0 {
		return nil, ErrEnvironmentUnavailable
	}
	return nil, fmt.Errorf("%w: %w", ErrEnvironmentUnavailable, errors.Join(errs...))
}

// Candidates returns the strategies to check for cfg.Sandbox.Engine, in
// preference order. "auto" tries every engine before falling back to venv.
func Candidates(cfg *config.Config, fs afero.Fs, runner container.CommandRunner, log *zap.Logger) []Candidate {
	dockerAPI := Candidate{Name: config.EngineDocker, Open: func(ctx context.Context) (Provisioner, error) {
		engine, err := container.NewDockerEngine()
		if err != nil {
			return nil, err
		}
		if _, err := engine.Version(ctx); err != nil {
			_ = engine.Close()
			return nil, err
		}
		return NewContainerProvisioner(engine, fs, containerOptions(cfg), log), nil
	}}
	podman := Candidate{Name: config.EnginePodman, Open: func(ctx context.Context) (Provisioner, error) {
		return checkCLI(ctx, container.NewPodmanEngine(container.WithCommandRunner(runner)), cfg, fs, log)
	}}
	dockerCLI := Candidate{Name: config.EngineDockerCLI, Open: func(ctx context.Context) (Provisioner, error) {
		return checkCLI(ctx, container.NewDockerCLIEngine(container.WithCommandRunner(runner)), cfg, fs, log)
	}}
	venv := Candidate{Name: config.EngineVenv, Open: func(ctx context.Context) (Provisioner, error) {
		return checkVenv(ctx, cfg, fs, runner, log)
	}}

	switch cfg.Sandbox.Engine {
	case config.EngineDocker:
		return []Candidate{dockerAPI}
	case config.EnginePodman:
		return []Candidate{podman}
	case config.EngineDockerCLI:
		return []Candidate{dockerCLI}
	case config.EngineVenv:
		return []Candidate{venv}
	default:
		return []Candidate{dockerAPI, podman, dockerCLI, venv}
	}
}

func checkCLI(ctx context.Context, engine *container.CLIEngine, cfg *config.Config, fs afero.Fs, log *zap.Logger) (Provisioner, error) {
	if _, err := engine.Version(ctx); err != nil {
		return nil, err
	}
	return NewContainerProvisioner(engine, fs, containerOptions(cfg), log), nil
}

func checkVenv(ctx context.Context, cfg *config.Config, fs afero.Fs, runner container.CommandRunner, log *zap.Logger) (Provisioner, error) {
	python, err := exec.LookPath(cfg.Fallback.Python)
	if err != nil {
		return nil, err
	}
	stdout, stderr, code, err := runner.RunCommand(ctx, []string{python, "--version"})
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, fmt.Errorf("%s --version exited %d: %s", python, code, strings.TrimSpace(string(stderr)))
	}
	log.Debug("fallback interpreter found",
		zap.String("python", python),
		zap.String("version", strings.TrimSpace(string(stdout)+string(stderr))))

	return NewVenvProvisioner(fs, runner, VenvOptions{
		StagingRoot:       cfg.Sandbox.StagingRoot,
		Python:            python,
		VenvDir:           cfg.Fallback.VenvDir,
		KillGroupOnCancel: cfg.Sandbox.KillOnTimeout,
	}, log), nil
}

func containerOptions(cfg *config.Config) ContainerOptions {
	return ContainerOptions{
		StagingRoot: cfg.Sandbox.StagingRoot,
		Image:       cfg.Container.Image,
		Interpreter: cfg.Container.Interpreter,
		WorkDir:     cfg.Container.WorkDir,
		MemoryBytes: cfg.MemoryBytes(),
		CPULimit:    cfg.Container.CPULimit,
		PidsLimit:   int64(cfg.Container.PidsLimit),
		NetworkMode: cfg.Container.NetworkMode,
		HostUID:     os.Getuid(),
		HostGID:     os.Getgid(),
	}
}
