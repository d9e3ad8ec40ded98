package dockerx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/H2Shami/LLM-Arena/internal/domain"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// RunExec starts a long-lived container attached to spec.NetworkID,
// publishing spec.InternalPort on the exact host port the Port Allocator
// already reserved (spec.HostPort), with a read-only workspace mount, every
// Linux capability dropped, and no-new-privileges set.
func (c *Client) RunExec(ctx context.Context, runID string, spec RunSpec) (*domain.ContainerHandle, error) {
	name := c.runNamePrefix + runID
	containerPort := nat.Port(fmt.Sprintf("%d/tcp", spec.InternalPort))

	memoryBytes := int64(spec.MemoryMB) * 1024 * 1024
	cpuPeriod := int64(100000)
	cpuQuota := int64(spec.CPUs * float64(cpuPeriod))

	resp, err := c.inner.ContainerCreate(ctx,
		&container.Config{
			Image: spec.Image,
			Cmd:   spec.Cmd,
			Env:   spec.Env,
			ExposedPorts: map[nat.Port]struct{}{
				containerPort: {},
			},
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:     mount.TypeBind,
				Source:   spec.WorkspaceDir,
				Target:   "/workspace",
				ReadOnly: true,
			}},
			NetworkMode: container.NetworkMode(spec.NetworkID),
			PortBindings: nat.PortMap{
				containerPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprintf("%d", spec.HostPort)}},
			},
			CapDrop:        []string{"ALL"},
			SecurityOpt:    []string{"no-new-privileges:true"},
			ReadonlyRootfs: true,
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
		return nil, fmt.Errorf("create run container: %w", err)
	}

	if err := c.inner.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = c.inner.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("start run container: %w", err)
	}

	var hostPort int
	var containerIP string
	for attempt := 0; attempt < 10; attempt++ {
		inspect, err := c.inner.ContainerInspect(ctx, resp.ID)
		if err != nil {
			return nil, fmt.Errorf("inspect run container: %w", err)
		}
		if inspect.NetworkSettings != nil {
			for net, endpoint := range inspect.NetworkSettings.Networks {
				if net == spec.NetworkID || endpoint.NetworkID == spec.NetworkID {
					containerIP = endpoint.IPAddress
				}
			}
			if bindings, ok := inspect.NetworkSettings.Ports[containerPort]; ok {
				for _, b := range bindings {
					if b.HostPort != "" {
						fmt.Sscanf(b.HostPort, "%d", &hostPort)
					}
				}
			}
		}
		if hostPort != 0 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
	if hostPort == 0 {
		return nil, fmt.Errorf("run container did not expose a host port")
	}

	return &domain.ContainerHandle{
		EngineID:    resp.ID,
		HostPort:    hostPort,
		ContainerIP: containerIP,
	}, nil
}

// Inspect reports whether the container behind handle is still running.
func (c *Client) Inspect(ctx context.Context, handle *domain.ContainerHandle) (bool, error) {
	inspect, err := c.inner.ContainerInspect(ctx, handle.EngineID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container: %w", err)
	}
	return inspect.State != nil && inspect.State.Running, nil
}

// Logs returns the container's currently accumulated combined log.
func (c *Client) Logs(ctx context.Context, handle *domain.ContainerHandle) ([]string, error) {
	return c.combinedLogs(ctx, handle.EngineID)
}

// statsSample is the subset of the Docker stats JSON this adapter reads.
type statsSample struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs  uint32 `json:"online_cpus"`
	} `json:"cpu_stats"`
	PreCPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
	} `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
	} `json:"memory_stats"`
}

// Metrics samples one point-in-time CPU percent and memory usage reading,
// using the same cpu-delta/system-delta formula `docker stats` uses.
func (c *Client) Metrics(ctx context.Context, handle *domain.ContainerHandle) (float64, int64, error) {
	resp, err := c.inner.ContainerStats(ctx, handle.EngineID, false)
	if err != nil {
		if client.IsErrNotFound(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("container stats: %w", err)
	}
	defer resp.Body.Close()

	var sample statsSample
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		return 0, 0, fmt.Errorf("decode container stats: %w", err)
	}

	cpuDelta := float64(sample.CPUStats.CPUUsage.TotalUsage) - float64(sample.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(sample.CPUStats.SystemUsage) - float64(sample.PreCPUStats.SystemUsage)
	cpuPercent := 0.0
	if systemDelta > 0 && cpuDelta > 0 {
		online := float64(sample.CPUStats.OnlineCPUs)
		if online == 0 {
			online = 1
		}
		cpuPercent = (cpuDelta / systemDelta) * online * 100.0
	}

	return cpuPercent, int64(sample.MemoryStats.Usage), nil
}

// Stop stops, then kills, then removes the container behind handle.
// Idempotent.
func (c *Client) Stop(ctx context.Context, handle *domain.ContainerHandle, grace time.Duration) error {
	if handle == nil {
		return nil
	}
	seconds := int(grace.Seconds())
	if err := c.inner.ContainerStop(ctx, handle.EngineID, container.StopOptions{Timeout: &seconds}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("stop container: %w", err)
		}
	}
	if err := c.inner.ContainerKill(ctx, handle.EngineID, "SIGKILL"); err != nil && !client.IsErrNotFound(err) {
		// Already stopped or already gone; removal below still runs.
		_ = err
	}
	if err := c.inner.ContainerRemove(ctx, handle.EngineID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if !client.IsErrNotFound(err) {
			return fmt.Errorf("remove container: %w", err)
		}
	}
	return nil
}
