package cdphost

import (
	"context"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/iso_agent/internal/host"
)

// Tabs implements tab operations over CDP page targets.
type Tabs struct {
	client *Client
}

func NewTabs(client *Client) *Tabs {
	return &Tabs{client: client}
}

func (t *Tabs) toTab(info *target.Info) host.Tab {
	tab := host.Tab{
		ID:        host.TabID(info.TargetID),
		URL:       info.URL,
		Container: containerOf(info.BrowserContextID),
		Status:    "complete",
	}
	// Attached sessions track navigation state; unattached targets are
	// assumed settled.
	if s, ok := t.client.session(info.TargetID); ok {
		url, status := s.snapshot()
		if url != "" {
			tab.URL = url
		}
		if status != "" {
			tab.Status = status
		}
	}
	return tab
}

func (t *Tabs) Get(ctx context.Context, id host.TabID) (host.Tab, error) {
	info, err := target.GetTargetInfo().
		WithTargetID(target.ID(id)).
		Do(t.client.browserExec(ctx))
	if err != nil {
		return host.Tab{}, host.NewError(host.CodeTabNotFound, "tab not found: "+string(id), err)
	}
	return t.toTab(info), nil
}

func (t *Tabs) Query(ctx context.Context) ([]host.Tab, error) {
	targets, err := target.GetTargets().Do(t.client.browserExec(ctx))
	if err != nil {
		return nil, host.NewError(host.CodeCDPUnavailable, "list targets failed", err)
	}
	var out []host.Tab
	for _, info := range targets {
		if info.Type != "page" || t.client.isWorker(info.TargetID) {
			continue
		}
		out = append(out, t.toTab(info))
	}
	return out, nil
}

func (t *Tabs) Create(ctx context.Context, params host.CreateTabParams) (host.Tab, error) {
	create := target.CreateTarget(params.URL).
		WithBackground(!params.Active)
	if ctxID := contextOf(params.Container); ctxID != "" {
		create = create.WithBrowserContextID(ctxID)
	}
	id, err := create.Do(t.client.browserExec(ctx))
	if err != nil {
		return host.Tab{}, host.NewError(host.CodeCDPUnavailable, "create tab failed", err)
	}
	return host.Tab{
		ID:        host.TabID(id),
		URL:       params.URL,
		Container: params.Container,
		Active:    params.Active,
		Index:     params.Index,
		WindowID:  params.WindowID,
		Status:    "loading",
	}, nil
}

func (t *Tabs) Remove(ctx context.Context, id host.TabID) error {
	t.client.dropSession(target.ID(id))
	if err := target.CloseTarget(target.ID(id)).Do(t.client.browserExec(ctx)); err != nil {
		return host.NewError(host.CodeCDPUnavailable, "close tab failed", err)
	}
	return nil
}

// Activate focuses an existing tab.
func (t *Tabs) Activate(ctx context.Context, id host.TabID) error {
	if err := target.ActivateTarget(target.ID(id)).Do(t.client.browserExec(ctx)); err != nil {
		return host.NewError(host.CodeTabNotFound, "activate tab failed", err)
	}
	return nil
}
