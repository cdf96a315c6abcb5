// Package containerdir resolves the single isolated container and exposes
// its identifier to the rest of the agent.
package containerdir

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/iso_agent/internal/host"
)

// Directory owns the reserved container. Resolve is on the startup critical
// path: without a container id no routing decision can be made, so callers
// must treat its failure as fatal and never install interception hooks.
type Directory struct {
	containers host.Containers
	attrs      host.ContainerAttrs
	id         host.ContainerID
}

func New(containers host.Containers, attrs host.ContainerAttrs) *Directory {
	return &Directory{containers: containers, attrs: attrs}
}

// Resolve finds the container with the reserved display name, reconciling
// its visual attributes in place when stale, or creates it when absent.
// The resulting id is cached for ID().
func (d *Directory) Resolve(ctx context.Context) (host.ContainerID, error) {
	existing, err := d.containers.Query(ctx, host.ContainerFilter{Name: d.attrs.Name})
	if err != nil {
		return "", fmt.Errorf("containerdir: query %q: %w", d.attrs.Name, err)
	}

	if len(existing) > 0 {
		rec := existing[0]
		if rec.Color != d.attrs.Color || rec.Icon != d.attrs.Icon {
			if err := d.containers.Update(ctx, rec.ID, d.attrs); err != nil {
				return "", fmt.Errorf("containerdir: reconcile %q: %w", d.attrs.Name, err)
			}
			slog.Info("reconciled container attributes", "container_id", rec.ID, "name", d.attrs.Name)
		}
		d.id = rec.ID
		return d.id, nil
	}

	created, err := d.containers.Create(ctx, d.attrs)
	if err != nil {
		return "", fmt.Errorf("containerdir: create %q: %w", d.attrs.Name, err)
	}
	slog.Info("created isolated container", "container_id", created.ID, "name", d.attrs.Name)
	d.id = created.ID
	return d.id, nil
}

// ID returns the cached container id. Only valid after a successful Resolve.
func (d *Directory) ID() host.ContainerID {
	return d.id
}
