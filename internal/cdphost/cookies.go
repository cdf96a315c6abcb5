package cdphost

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/network"
	cdpstorage "github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/iso_agent/internal/host"
)

// Cookies enumerates and removes cookies per browser context. Mutating
// commands need a session inside the target context, so a hidden about:blank
// worker tab is kept per context and reused across calls.
type Cookies struct {
	client *Client
}

func NewCookies(client *Client) *Cookies {
	return &Cookies{client: client}
}

func (c *Cookies) ensureWorker(ctx context.Context, store host.ContainerID) (*tabSession, error) {
	ctxID := contextOf(store)

	c.client.mu.Lock()
	if w, ok := c.client.workers[ctxID]; ok {
		c.client.mu.Unlock()
		return w, nil
	}
	c.client.mu.Unlock()

	create := target.CreateTarget("about:blank").WithBackground(true)
	if ctxID != "" {
		create = create.WithBrowserContextID(ctxID)
	}
	id, err := create.Do(c.client.browserExec(ctx))
	if err != nil {
		return nil, host.NewError(host.CodeCDPUnavailable, "create cookie worker failed", err)
	}

	workerCtx, cancel := chromedp.NewContext(c.client.allocCtx, chromedp.WithTargetID(id))
	if err := chromedp.Run(workerCtx); err != nil {
		cancel()
		return nil, host.NewError(host.CodeCDPUnavailable, "attach cookie worker failed", err)
	}

	w := &tabSession{id: id, ctx: workerCtx, cancel: cancel}
	c.client.mu.Lock()
	c.client.workers[ctxID] = w
	c.client.mu.Unlock()
	return w, nil
}

func matchesCookieDomain(cookieDomain, domain string) bool {
	d := strings.TrimPrefix(cookieDomain, ".")
	return d == domain || strings.HasSuffix(d, "."+domain)
}

func (c *Cookies) GetAll(ctx context.Context, domain string, store host.ContainerID) ([]host.Cookie, error) {
	get := cdpstorage.GetCookies()
	if ctxID := contextOf(store); ctxID != "" {
		get = get.WithBrowserContextID(ctxID)
	}
	cookies, err := get.Do(c.client.browserExec(ctx))
	if err != nil {
		return nil, host.NewError(host.CodeCDPUnavailable, "get cookies failed", err)
	}

	var out []host.Cookie
	for _, cookie := range cookies {
		if !matchesCookieDomain(cookie.Domain, domain) {
			continue
		}
		out = append(out, host.Cookie{
			Name:   cookie.Name,
			Domain: cookie.Domain,
			Store:  store,
		})
	}
	return out, nil
}

func (c *Cookies) Remove(ctx context.Context, name, url string, store host.ContainerID) error {
	w, err := c.ensureWorker(ctx, store)
	if err != nil {
		return err
	}
	err = chromedp.Run(w.ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		return network.DeleteCookies(name).WithURL(url).Do(cctx)
	}))
	if err != nil {
		return host.NewError(host.CodeCDPUnavailable, "delete cookie failed", err)
	}
	return nil
}

func (c *Cookies) ClearWorkerState(ctx context.Context, hostname string, store host.ContainerID) error {
	w, err := c.ensureWorker(ctx, store)
	if err != nil {
		return err
	}
	origin := "https://" + hostname
	err = chromedp.Run(w.ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		return cdpstorage.ClearDataForOrigin(origin, "service_workers,cache_storage").Do(cctx)
	}))
	if err != nil {
		return host.NewError(host.CodeCDPUnavailable, "clear worker state failed", err)
	}
	return nil
}
