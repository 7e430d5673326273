package container

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// DockerRuntime implements Runtime over the local docker daemon.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the daemon using the standard environment
// (DOCKER_HOST etc.) with API version negotiation.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

// Ping checks daemon reachability.
func (d *DockerRuntime) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

// Create implements Runtime: creates and starts a container from the spec.
func (d *DockerRuntime) Create(ctx context.Context, spec Spec) (string, error) {
	if spec.Image == "" {
		return "", fmt.Errorf("image required")
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for containerPort, hostPort := range spec.Ports {
		port, err := nat.NewPort("tcp", strconv.Itoa(containerPort))
		if err != nil {
			return "", fmt.Errorf("invalid port %d: %w", containerPort, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostPort: strconv.Itoa(hostPort)}}
	}

	config := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		Labels:       spec.Labels,
		ExposedPorts: exposed,
	}
	hostConfig := &container.HostConfig{
		PortBindings: bindings,
	}
	hostConfig.Resources.Memory = spec.MemoryBytes
	hostConfig.Resources.NanoCPUs = spec.NanoCPUs

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}

	return resp.ID, nil
}

// Stop implements Runtime.
func (d *DockerRuntime) Stop(ctx context.Context, id string) error {
	timeout := 10
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	return nil
}

// Remove implements Runtime.
func (d *DockerRuntime) Remove(ctx context.Context, id string) error {
	err := d.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Exec implements Runtime: runs argv inside the container and captures the
// demultiplexed output streams.
func (d *DockerRuntime) Exec(ctx context.Context, id string, argv []string) (ExecResult, error) {
	created, err := d.cli.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec create: %w", err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec attach: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return ExecResult{}, fmt.Errorf("exec read: %w", err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec inspect: %w", err)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Status implements Runtime.
func (d *DockerRuntime) Status(ctx context.Context, id string) (Info, error) {
	inspect, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return Info{}, fmt.Errorf("inspect container: %w", err)
	}

	info := Info{
		ID:    inspect.ID,
		Image: inspect.Config.Image,
	}
	if inspect.Name != "" {
		info.Name = inspect.Name[1:] // docker prefixes names with a slash
	}
	if inspect.State != nil {
		info.State = inspect.State.Status
		info.Running = inspect.State.Running
	}
	return info, nil
}

// List implements Runtime, returning all containers including stopped ones.
func (d *DockerRuntime) List(ctx context.Context) ([]Info, error) {
	containers, err := d.cli.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}

	out := make([]Info, 0, len(containers))
	for _, c := range containers {
		info := Info{
			ID:      c.ID,
			Image:   c.Image,
			State:   c.State,
			Running: c.State == "running",
		}
		if len(c.Names) > 0 {
			info.Name = c.Names[0][1:]
		}
		out = append(out, info)
	}
	return out, nil
}
