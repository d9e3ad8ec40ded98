package dockerx

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

// ReapStale lists containers named build-* or run-* and removes any whose
// id is not in keep. Called once at daemon startup, when keep is always
// empty because the Run State Store has just been rebuilt from nothing —
// so in practice every matching container from a prior process lifetime is
// removed.
func (c *Client) ReapStale(ctx context.Context, keep map[string]struct{}) error {
	listed, err := c.inner.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("name", buildContainerPrefix),
			filters.Arg("name", runContainerPrefix),
		),
	})
	if err != nil {
		return fmt.Errorf("list containers for reaping: %w", err)
	}

	for _, item := range listed {
		if !hasManagedName(item.Names) {
			continue
		}
		if _, ok := keep[item.ID]; ok {
			continue
		}
		if err := c.inner.ContainerRemove(ctx, item.ID, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
			return fmt.Errorf("reap container %s: %w", item.ID, err)
		}
	}
	return nil
}

func hasManagedName(names []string) bool {
	for _, n := range names {
		trimmed := strings.TrimPrefix(n, "/")
		if strings.HasPrefix(trimmed, buildContainerPrefix) || strings.HasPrefix(trimmed, runContainerPrefix) {
			return true
		}
	}
	return false
}
