package container

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// DockerEngine talks to the Docker Engine API.
type DockerEngine struct {
	docker *client.Client
}

func NewDockerEngine() (*DockerEngine, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerEngine{docker: cli}, nil
}

func (d *DockerEngine) Name() string { return "docker" }

func (d *DockerEngine) Close() error {
	return d.docker.Close()
}

func (d *DockerEngine) Version(ctx context.Context) (string, error) {
	if _, err := d.docker.Ping(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	v, err := d.docker.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("docker version: %w", err)
	}
	return v.Version, nil
}

// RunDetached creates and starts the container, removing it again if start fails.
func (d *DockerEngine) RunDetached(ctx context.Context, spec RunSpec) (string, error) {
	cfg, hostCfg := dockerConfigs(spec)

	resp, err := d.docker.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("container create: %w", err)
	}

	if err := d.docker.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.docker.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("container start: %w", err)
	}

	return resp.ID, nil
}

func dockerConfigs(spec RunSpec) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Command,
		WorkingDir: spec.WorkDir,
		Labels:     spec.Labels(),
		Tty:        false,
	}

	resources := container.Resources{
		NanoCPUs: int64(spec.CPULimit * 1e9),
		Memory:   spec.MemoryBytes,
	}
	if spec.PidsLimit > 0 {
		pids := spec.PidsLimit
		resources.PidsLimit = &pids
	}

	hostCfg := &container.HostConfig{
		Resources:   resources,
		AutoRemove:  spec.AutoRemove,
		SecurityOpt: []string{"no-new-privileges"},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: spec.HostDir,
				Target: spec.WorkDir,
			},
		},
	}
	if spec.NetworkMode != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.NetworkMode)
	}

	return cfg, hostCfg
}

// Exec runs spec.Cmd in the container. When ctx ends the attached stream is
// closed and ctx.Err() is returned.
func (d *DockerEngine) Exec(ctx context.Context, containerID string, spec ExecSpec) (*ExecResult, error) {
	execResp, err := d.docker.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          spec.Cmd,
		WorkingDir:   spec.WorkDir,
		User:         spec.User,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("exec create: %w", err)
	}

	attach, err := d.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			attach.Close()
		case <-done:
		}
	}()

	var stdout, stderr bytes.Buffer
	_, copyErr := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if copyErr != nil {
		return nil, fmt.Errorf("exec read: %w", copyErr)
	}

	inspect, err := d.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return nil, fmt.Errorf("exec inspect: %w", err)
	}

	return &ExecResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: inspect.ExitCode,
	}, nil
}

func (d *DockerEngine) Remove(ctx context.Context, containerID string) error {
	err := d.docker.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !client.IsErrNotFound(err) {
		return fmt.Errorf("container remove: %w", err)
	}
	return nil
}

func (d *DockerEngine) ListManaged(ctx context.Context) ([]Managed, error) {
	f := filters.NewArgs()
	f.Add("label", LabelManaged+"=true")

	containers, err := d.docker.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: f,
	})
	if err != nil {
		return nil, fmt.Errorf("container list: %w", err)
	}

	result := make([]Managed, 0, len(containers))
	for _, ctr := range containers {
		var name string
		if len(ctr.Names) > 0 {
			name = strings.TrimPrefix(ctr.Names[0], "/")
		}
		result = append(result, Managed{
			ID:        ctr.ID,
			Name:      name,
			SessionID: ctr.Labels[LabelSessionID],
		})
	}
	return result, nil
}
