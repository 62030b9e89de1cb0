package container

import (
	"bytes"
	"context"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"vocab-ingest/internal/faults"
)

// DockerRuntime implements Runtime against the Docker Engine API.
type DockerRuntime struct {
	cli *client.Client
}

// NewDockerRuntime connects to the engine using the standard DOCKER_* env.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, faults.External(err, "connect container engine")
	}
	return &DockerRuntime{cli: cli}, nil
}

func (d *DockerRuntime) Start(ctx context.Context, name string) error {
	if err := d.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return faults.External(err, "start container "+name)
	}
	return nil
}

func (d *DockerRuntime) Stop(ctx context.Context, name string) error {
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return faults.External(err, "stop container "+name)
	}
	return nil
}

func (d *DockerRuntime) Restart(ctx context.Context, name string) error {
	if err := d.cli.ContainerRestart(ctx, name, container.StopOptions{}); err != nil {
		return faults.External(err, "restart container "+name)
	}
	return nil
}

func (d *DockerRuntime) Running(ctx context.Context, name string) (bool, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, faults.External(err, "inspect container "+name)
	}
	if info.State == nil || !info.State.Running {
		return false, nil
	}
	if info.State.Health != nil && info.State.Health.Status != "healthy" {
		return false, nil
	}
	return true, nil
}

func (d *DockerRuntime) Logs(ctx context.Context, name string, tail int) (string, error) {
	rc, err := d.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return "", faults.External(err, "read container logs "+name)
	}
	defer rc.Close()

	// Engine log streams are multiplexed; demux into one text blob.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil {
		return "", faults.External(err, "demux container logs "+name)
	}
	return buf.String(), nil
}
