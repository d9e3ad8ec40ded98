package dockerx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// BuildExec runs a one-shot, networked, read-write container that performs
// dependency install then compile. It always removes the container before
// returning, success or failure, matching the teacher's build-then-remove
// contract.
func (c *Client) BuildExec(ctx context.Context, runID string, spec BuildSpec) ([]string, int64, error) {
	name := c.buildNamePrefix + runID

	memoryBytes := int64(spec.MemoryMB) * 1024 * 1024
	cpuPeriod := int64(100000)
	cpuQuota := int64(spec.CPUs * float64(cpuPeriod))

	resp, err := c.inner.ContainerCreate(ctx,
		&container.Config{
			Image: spec.Image,
			Cmd:   spec.Cmd,
			Env:   spec.Env,
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:     mount.TypeBind,
				Source:   spec.WorkspaceDir,
				Target:   "/workspace",
				ReadOnly: false,
			}},
			NetworkMode: "bridge",
			Resources: container.Resources{
				Memory:    memoryBytes,
				CPUQuota:  cpuQuota,
				CPUPeriod: cpuPeriod,
				PidsLimit: &spec.PIDsLimit,
			},
		},
		nil, nil, name,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("create build container: %w", err)
	}
	defer c.removeContainer(context.WithoutCancel(ctx), resp.ID)

	if err := c.inner.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, 0, fmt.Errorf("start build container: %w", err)
	}

	exitCode, waitErr := c.waitForStop(ctx, resp.ID)

	logs, logErr := c.combinedLogs(ctx, resp.ID)
	if waitErr != nil {
		return logs, exitCode, waitErr
	}
	if logErr != nil {
		return logs, exitCode, fmt.Errorf("read build logs: %w", logErr)
	}
	return logs, exitCode, nil
}

func (c *Client) waitForStop(ctx context.Context, containerID string) (int64, error) {
	statusCh, errCh := c.inner.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	for {
		select {
		case err := <-errCh:
			if err == nil {
				continue
			}
			if client.IsErrNotFound(err) {
				return 0, nil
			}
			return 0, fmt.Errorf("wait for container stop: %w", err)
		case status := <-statusCh:
			return status.StatusCode, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

func (c *Client) combinedLogs(ctx context.Context, containerID string) ([]string, error) {
	reader, err := c.inner.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil && err != io.EOF {
		return nil, fmt.Errorf("demux container logs: %w", err)
	}

	var lines []string
	for _, chunk := range []string{stdout.String(), stderr.String()} {
		for _, line := range strings.Split(chunk, "\n") {
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines, nil
}

func (c *Client) removeContainer(ctx context.Context, containerID string) {
	_ = c.inner.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true, RemoveVolumes: true})
}
