// Package cdphost implements the host boundary against a Chromium browser
// over CDP. Browser contexts stand in for cookie containers and the Fetch
// domain provides the request hook.
package cdphost

import (
	"context"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/dgnsrekt/iso_agent/internal/config"
	"github.com/dgnsrekt/iso_agent/internal/host"
)

// tabSession is an attached page target with its own chromedp context.
type tabSession struct {
	id        target.ID
	container host.ContainerID
	ctx       context.Context
	cancel    context.CancelFunc

	mu       sync.Mutex
	topFrame cdp.FrameID
	url      string
	status   string
}

func (s *tabSession) setNavigation(frame cdp.FrameID, url string) {
	s.mu.Lock()
	s.topFrame = frame
	s.url = url
	s.status = "loading"
	s.mu.Unlock()
}

func (s *tabSession) setComplete() {
	s.mu.Lock()
	s.status = "complete"
	s.mu.Unlock()
}

func (s *tabSession) snapshot() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, s.status
}

// Client manages the CDP connection and the attached page sessions.
type Client struct {
	cfg *config.Config

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[target.ID]*tabSession
	workers  map[cdp.BrowserContextID]*tabSession

	done chan struct{}
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		cfg:      cfg,
		sessions: make(map[target.ID]*tabSession),
		workers:  make(map[cdp.BrowserContextID]*tabSession),
		done:     make(chan struct{}),
	}
}

// Connect dials the browser and verifies the CDP endpoint responds.
func (c *Client) Connect(ctx context.Context) error {
	_ = ctx
	cdpURL := c.cfg.GetCDPURL()
	slog.Info("connecting to browser", "url", cdpURL)

	c.allocCtx, c.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx)

	if err := chromedp.Run(c.browserCtx); err != nil {
		return host.NewError(host.CodeCDPUnavailable, "connect to CDP failed", err)
	}
	return nil
}

// browserExec returns a context that executes cdproto commands against the
// browser transport instead of a page session.
func (c *Client) browserExec(ctx context.Context) context.Context {
	cc := chromedp.FromContext(c.browserCtx)
	return cdp.WithExecutor(ctx, cc.Browser)
}

func (c *Client) session(id target.ID) (*tabSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

func (c *Client) dropSession(id target.ID) {
	c.mu.Lock()
	s, ok := c.sessions[id]
	if ok {
		delete(c.sessions, id)
	}
	c.mu.Unlock()
	if ok {
		s.cancel()
	}
}

// isWorker reports whether the target is one of our hidden cookie-worker
// tabs, which must stay invisible to tab queries and interception.
func (c *Client) isWorker(id target.ID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, w := range c.workers {
		if w.id == id {
			return true
		}
	}
	return false
}

func (c *Client) Close() error {
	close(c.done)

	c.mu.Lock()
	sessions := c.sessions
	workers := c.workers
	c.sessions = make(map[target.ID]*tabSession)
	c.workers = make(map[cdp.BrowserContextID]*tabSession)
	c.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
	for _, w := range workers {
		w.cancel()
	}
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	slog.Info("CDP client closed")
	return nil
}
