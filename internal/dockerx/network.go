package dockerx

import (
	"context"
	"fmt"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/network"
)

// EnsureNetwork creates the named bridge network if it doesn't already
// exist, returning its engine id either way.
func (c *Client) EnsureNetwork(ctx context.Context, name string) (string, error) {
	existing, err := c.inner.NetworkInspect(ctx, name, network.InspectOptions{})
	if err == nil {
		return existing.ID, nil
	}
	if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspect network %q: %w", name, err)
	}

	resp, err := c.inner.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return "", fmt.Errorf("create network %q: %w", name, err)
	}
	return resp.ID, nil
}

// RemoveNetwork is best-effort teardown, tolerating a network that is
// already gone or still has active endpoints (a container the kill sweep
// hasn't reaped yet).
func (c *Client) RemoveNetwork(ctx context.Context, networkID string) error {
	err := c.inner.NetworkRemove(ctx, networkID)
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
		return nil
	}
	if strings.Contains(err.Error(), "active endpoints") {
		return nil
	}
	return fmt.Errorf("remove network %q: %w", networkID, err)
}
