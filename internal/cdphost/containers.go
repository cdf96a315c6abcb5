package cdphost

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/iso_agent/internal/host"
)

// keyContainerDirectory persists display attributes for browser contexts,
// which CDP itself does not carry.
const keyContainerDirectory = "containerDirectory"

// Containers maps cookie containers onto CDP browser contexts. The context
// id doubles as the container id; the default container is the browser's
// default context.
type Containers struct {
	client  *Client
	storage host.Storage

	mu   sync.Mutex
	meta map[string]host.ContainerAttrs
}

func NewContainers(client *Client, storage host.Storage) *Containers {
	return &Containers{client: client, storage: storage}
}

func (c *Containers) loadMeta(ctx context.Context) (map[string]host.ContainerAttrs, error) {
	if c.meta != nil {
		return c.meta, nil
	}
	meta := make(map[string]host.ContainerAttrs)
	if _, err := c.storage.Get(ctx, keyContainerDirectory, &meta); err != nil {
		return nil, host.NewError(host.CodeStorageFailure, "load container directory failed", err)
	}
	c.meta = meta
	return meta, nil
}

func (c *Containers) saveMeta(ctx context.Context) error {
	if err := c.storage.Set(ctx, keyContainerDirectory, c.meta); err != nil {
		return host.NewError(host.CodeStorageFailure, "save container directory failed", err)
	}
	return nil
}

func (c *Containers) Query(ctx context.Context, filter host.ContainerFilter) ([]host.Container, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	meta, err := c.loadMeta(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := target.GetBrowserContexts().Do(c.client.browserExec(ctx))
	if err != nil {
		return nil, host.NewError(host.CodeCDPUnavailable, "list browser contexts failed", err)
	}

	var out []host.Container
	for _, id := range ids {
		attrs := meta[string(id)]
		if filter.Name != "" && attrs.Name != filter.Name {
			continue
		}
		out = append(out, host.Container{
			ID:    host.ContainerID(id),
			Name:  attrs.Name,
			Color: attrs.Color,
			Icon:  attrs.Icon,
		})
	}
	return out, nil
}

func (c *Containers) Create(ctx context.Context, attrs host.ContainerAttrs) (host.Container, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.loadMeta(ctx); err != nil {
		return host.Container{}, err
	}

	id, err := target.CreateBrowserContext().
		WithDisposeOnDetach(false).
		Do(c.client.browserExec(ctx))
	if err != nil {
		return host.Container{}, host.NewError(host.CodeCDPUnavailable, "create browser context failed", err)
	}

	c.meta[string(id)] = attrs
	if err := c.saveMeta(ctx); err != nil {
		return host.Container{}, err
	}
	return host.Container{
		ID:    host.ContainerID(id),
		Name:  attrs.Name,
		Color: attrs.Color,
		Icon:  attrs.Icon,
	}, nil
}

func (c *Containers) Update(ctx context.Context, id host.ContainerID, attrs host.ContainerAttrs) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.loadMeta(ctx); err != nil {
		return err
	}
	c.meta[string(id)] = attrs
	return c.saveMeta(ctx)
}

// contextOf translates a container id back to a CDP browser context id. The
// default container maps to the empty id.
func contextOf(id host.ContainerID) cdp.BrowserContextID {
	if id == host.DefaultContainer {
		return ""
	}
	return cdp.BrowserContextID(id)
}

// containerOf is the inverse of contextOf.
func containerOf(id cdp.BrowserContextID) host.ContainerID {
	if id == "" {
		return host.DefaultContainer
	}
	return host.ContainerID(id)
}
