package container

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// CLIEngine drives a docker-compatible binary (docker or podman).
type CLIEngine struct {
	name   string
	binary string
	runner CommandRunner
}

type CLIEngineOption func(*CLIEngine)

// WithCommandRunner replaces the runner used to invoke the binary.
func WithCommandRunner(r CommandRunner) CLIEngineOption {
	return func(e *CLIEngine) { e.runner = r }
}

// WithEngineName overrides the reported engine name.
func WithEngineName(name string) CLIEngineOption {
	return func(e *CLIEngine) { e.name = name }
}

func NewCLIEngine(binary string, opts ...CLIEngineOption) *CLIEngine {
	e := &CLIEngine{
		name:   binary,
		binary: binary,
		runner: ExecCommandRunner{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewPodmanEngine returns a CLIEngine for the podman binary.
func NewPodmanEngine(opts ...CLIEngineOption) *CLIEngine {
	return NewCLIEngine("podman", opts...)
}

// NewDockerCLIEngine returns a CLIEngine for the docker binary, used when the
// Engine API socket is not reachable but the CLI is configured.
func NewDockerCLIEngine(opts ...CLIEngineOption) *CLIEngine {
	return NewCLIEngine("docker", append([]CLIEngineOption{WithEngineName("docker-cli")}, opts...)...)
}

func (e *CLIEngine) Name() string { return e.name }

func (e *CLIEngine) Version(ctx context.Context) (string, error) {
	stdout, stderr, code, err := e.run(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	if code != 0 {
		return "", fmt.Errorf("%w: %s version exited %d: %s", ErrEngineUnavailable, e.binary, code, strings.TrimSpace(string(stderr)))
	}
	return strings.TrimSpace(string(stdout)), nil
}

// RunArgs returns the argv (without the binary) that starts spec detached.
func (e *CLIEngine) RunArgs(spec RunSpec) []string {
	args := []string{"run", "-d", "--name", spec.Name}
	if spec.AutoRemove {
		args = append(args, "--rm")
	}
	labels := spec.Labels()
	for _, k := range slices.Sorted(maps.Keys(labels)) {
		args = append(args, "--label", k+"="+labels[k])
	}
	args = append(args,
		"-v", spec.HostDir+":"+spec.WorkDir,
		"-w", spec.WorkDir,
		"--security-opt", "no-new-privileges",
	)
	if spec.MemoryBytes > 0 {
		args = append(args, "--memory", strconv.FormatInt(spec.MemoryBytes, 10))
	}
	if spec.CPULimit > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(spec.CPULimit, 'f', -1, 64))
	}
	if spec.PidsLimit > 0 {
		args = append(args, "--pids-limit", strconv.FormatInt(spec.PidsLimit, 10))
	}
	if spec.NetworkMode != "" {
		args = append(args, "--network", spec.NetworkMode)
	}
	args = append(args, spec.Image)
	return append(args, spec.Command...)
}

func (e *CLIEngine) RunDetached(ctx context.Context, spec RunSpec) (string, error) {
	stdout, stderr, code, err := e.run(ctx, e.RunArgs(spec)...)
	if err != nil {
		return "", fmt.Errorf("%s run: %w", e.binary, err)
	}
	if code != 0 {
		return "", &CommandError{Op: "run", ExitCode: code, Stderr: strings.TrimSpace(string(stderr))}
	}
	id := strings.TrimSpace(string(stdout))
	if id == "" {
		return "", fmt.Errorf("%s run: empty container id", e.binary)
	}
	return id, nil
}

// ExecArgs returns the argv (without the binary) that runs spec in containerID.
func (e *CLIEngine) ExecArgs(containerID string, spec ExecSpec) []string {
	args := []string{"exec"}
	if spec.WorkDir != "" {
		args = append(args, "-w", spec.WorkDir)
	}
	if spec.User != "" {
		args = append(args, "-u", spec.User)
	}
	args = append(args, containerID)
	return append(args, spec.Cmd...)
}

func (e *CLIEngine) Exec(ctx context.Context, containerID string, spec ExecSpec) (*ExecResult, error) {
	stdout, stderr, code, err := e.run(ctx, e.ExecArgs(containerID, spec)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%s exec: %w", e.binary, err)
	}
	return &ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: code}, nil
}

func (e *CLIEngine) Remove(ctx context.Context, containerID string) error {
	_, stderr, code, err := e.run(ctx, "rm", "-f", containerID)
	if err != nil {
		return fmt.Errorf("%s rm: %w", e.binary, err)
	}
	if code != 0 && !isNoSuchContainer(stderr) {
		return &CommandError{Op: "rm", ExitCode: code, Stderr: strings.TrimSpace(string(stderr))}
	}
	return nil
}

func (e *CLIEngine) ListManaged(ctx context.Context) ([]Managed, error) {
	stdout, stderr, code, err := e.run(ctx, "ps", "-a",
		"--filter", "label="+LabelManaged+"=true",
		"--format", `{{.ID}}\t{{.Names}}\t{{.Label "`+LabelSessionID+`"}}`)
	if err != nil {
		return nil, fmt.Errorf("%s ps: %w", e.binary, err)
	}
	if code != 0 {
		return nil, &CommandError{Op: "ps", ExitCode: code, Stderr: strings.TrimSpace(string(stderr))}
	}
	return parsePSOutput(stdout), nil
}

func (e *CLIEngine) run(ctx context.Context, args ...string) ([]byte, []byte, int, error) {
	return e.runner.RunCommand(ctx, append([]string{e.binary}, args...))
}

func parsePSOutput(out []byte) []Managed {
	var result []Managed
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 3)
		m := Managed{ID: fields[0]}
		if len(fields) > 1 {
			m.Name = fields[1]
		}
		if len(fields) > 2 && fields[2] != "<no value>" {
			m.SessionID = fields[2]
		}
		result = append(result, m)
	}
	return result
}

func isNoSuchContainer(stderr []byte) bool {
	s := strings.ToLower(string(stderr))
	return strings.Contains(s, "no such container") || strings.Contains(s, "no container with name or id")
}

// CommandError is a non-zero exit from an engine CLI command.
type CommandError struct {
	Op       string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s exited with code %d: %s", e.Op, e.ExitCode, e.Stderr)
}
