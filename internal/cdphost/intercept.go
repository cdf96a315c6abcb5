package cdphost

import (
	"context"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/iso_agent/internal/engine"
	"github.com/dgnsrekt/iso_agent/internal/host"
)

const verdictTimeout = 10 * time.Second

// Decider is the routing engine surface the interceptor drives.
type Decider interface {
	DecideNavigation(ctx context.Context, req host.Request) engine.Decision
	DecideSubResource(ctx context.Context, req host.Request) engine.Decision
	OnRequestCompleted(tabID host.TabID)
	OnRequestError(tabID host.TabID)
	OnTabUpdated(ctx context.Context, tab host.Tab, urlChanged bool)
	OnTabClosed(tabID host.TabID)
}

// Interceptor attaches to every page target and routes paused requests
// through the engine before they leave the browser.
type Interceptor struct {
	client  *Client
	decider Decider
}

func NewInterceptor(client *Client, decider Decider) *Interceptor {
	return &Interceptor{client: client, decider: decider}
}

// Start attaches to all current page targets and watches for new ones.
func (i *Interceptor) Start(ctx context.Context) error {
	chromedp.ListenBrowser(i.client.browserCtx, i.onBrowserEvent)

	if err := target.SetDiscoverTargets(true).Do(i.client.browserExec(ctx)); err != nil {
		return host.NewError(host.CodeCDPUnavailable, "enable target discovery failed", err)
	}

	targets, err := target.GetTargets().Do(i.client.browserExec(ctx))
	if err != nil {
		return host.NewError(host.CodeCDPUnavailable, "list targets failed", err)
	}
	attached := 0
	for _, info := range targets {
		if info.Type != "page" || i.client.isWorker(info.TargetID) {
			continue
		}
		if err := i.attach(info.TargetID, containerOf(info.BrowserContextID), info.URL); err != nil {
			slog.Error("attach to tab failed", "target_id", info.TargetID, "url", info.URL, "error", err)
			continue
		}
		attached++
	}
	slog.Info("request interception installed", "tabs", attached)
	return nil
}

func (i *Interceptor) onBrowserEvent(ev interface{}) {
	switch e := ev.(type) {
	case *target.EventTargetCreated:
		info := e.TargetInfo
		if info.Type != "page" || i.client.isWorker(info.TargetID) {
			return
		}
		if _, ok := i.client.session(info.TargetID); ok {
			return
		}
		go func() {
			if err := i.attach(info.TargetID, containerOf(info.BrowserContextID), info.URL); err != nil {
				slog.Warn("attach to new tab failed", "target_id", info.TargetID, "error", err)
			}
		}()
	case *target.EventTargetDestroyed:
		if _, ok := i.client.session(e.TargetID); !ok {
			return
		}
		i.client.dropSession(e.TargetID)
		i.decider.OnTabClosed(host.TabID(e.TargetID))
	}
}

func (i *Interceptor) attach(id target.ID, container host.ContainerID, url string) error {
	tabCtx, cancel := chromedp.NewContext(i.client.allocCtx, chromedp.WithTargetID(id))
	s := &tabSession{
		id:        id,
		container: container,
		ctx:       tabCtx,
		cancel:    cancel,
		url:       url,
		status:    "loading",
	}

	i.client.mu.Lock()
	if _, exists := i.client.sessions[id]; exists {
		i.client.mu.Unlock()
		cancel()
		return nil
	}
	i.client.sessions[id] = s
	i.client.mu.Unlock()

	chromedp.ListenTarget(tabCtx, i.eventHandler(s))

	err := chromedp.Run(tabCtx,
		chromedp.ActionFunc(func(cctx context.Context) error {
			return fetch.Enable().
				WithPatterns([]*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}).
				Do(cctx)
		}),
		network.Enable(),
		page.Enable(),
	)
	if err != nil {
		i.client.dropSession(id)
		return host.NewError(host.CodeCDPUnavailable, "enable interception failed", err)
	}
	slog.Debug("attached to tab", "target_id", id, "container", container, "url", url)
	return nil
}

func (i *Interceptor) eventHandler(s *tabSession) func(ev interface{}) {
	tabID := host.TabID(s.id)
	return func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventRequestPaused:
			go i.onRequestPaused(s, tabID, e)
		case *page.EventFrameNavigated:
			if e.Frame.ParentID != "" {
				return
			}
			s.mu.Lock()
			urlChanged := s.url != e.Frame.URL
			s.mu.Unlock()
			s.setNavigation(e.Frame.ID, e.Frame.URL)
			go i.notifyUpdated(s, tabID, urlChanged)
		case *page.EventLoadEventFired:
			s.setComplete()
			i.decider.OnRequestCompleted(tabID)
			go i.notifyUpdated(s, tabID, false)
		case *network.EventLoadingFailed:
			if e.Type == network.ResourceTypeDocument {
				i.decider.OnRequestError(tabID)
			}
		}
	}
}

func (i *Interceptor) notifyUpdated(s *tabSession, tabID host.TabID, urlChanged bool) {
	url, status := s.snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), verdictTimeout)
	defer cancel()
	i.decider.OnTabUpdated(ctx, host.Tab{
		ID:        tabID,
		URL:       url,
		Container: s.container,
		Status:    status,
	}, urlChanged)
}

func (i *Interceptor) onRequestPaused(s *tabSession, tabID host.TabID, e *fetch.EventRequestPaused) {
	ctx, cancel := context.WithTimeout(context.Background(), verdictTimeout)
	defer cancel()

	req := host.Request{
		TabID:        tabID,
		RequestID:    string(e.RequestID),
		URL:          e.Request.URL,
		OriginURL:    refererOf(e),
		ResourceType: resourceTypeOf(s, e),
	}

	var dec engine.Decision
	if req.ResourceType == host.ResourceMainFrame {
		dec = i.decider.DecideNavigation(ctx, req)
	} else {
		dec = i.decider.DecideSubResource(ctx, req)
	}

	err := chromedp.Run(s.ctx, chromedp.ActionFunc(func(cctx context.Context) error {
		switch dec.Action {
		case engine.ActionCancel:
			return fetch.FailRequest(e.RequestID, network.ErrorReasonBlockedByClient).Do(cctx)
		case engine.ActionRedirect:
			return fetch.FulfillRequest(e.RequestID, 303).
				WithResponseHeaders([]*fetch.HeaderEntry{{Name: "Location", Value: dec.RedirectURL}}).
				Do(cctx)
		default:
			return fetch.ContinueRequest(e.RequestID).Do(cctx)
		}
	}))
	if err != nil {
		// The tab may have closed mid-flight; the request dies with it.
		slog.Debug("request verdict delivery failed", "tab_id", tabID, "request_id", e.RequestID, "error", err)
	}
}

// refererOf recovers the requesting document's URL for sub-resource policy.
func refererOf(e *fetch.EventRequestPaused) string {
	for name, value := range e.Request.Headers {
		if name == "Referer" || name == "referer" {
			if s, ok := value.(string); ok {
				return s
			}
		}
	}
	return ""
}

// resourceTypeOf maps a paused request to the engine's resource classes. A
// document request in the top frame is a navigation; document requests in
// child frames are sub-frames.
func resourceTypeOf(s *tabSession, e *fetch.EventRequestPaused) host.ResourceType {
	if e.ResourceType != network.ResourceTypeDocument {
		return host.ResourceOther
	}
	s.mu.Lock()
	top := s.topFrame
	s.mu.Unlock()
	if top == "" || e.FrameID == top {
		return host.ResourceMainFrame
	}
	return host.ResourceSubFrame
}
