// Package oracle talks to the external site-assignment service. The oracle
// can pin a URL to a non-isolated context; its verdicts are advisory and any
// failure is treated as "no delegation".
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Client speaks the assignment protocol over a WebSocket: JSON frames with a
// method field, request/response pairs correlated by id, and unsolicited
// notifications for the oracle's lifecycle (listening/enabled/disabled).
type Client struct {
	url     string
	timeout time.Duration
	domains []string

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	active atomic.Bool
}

type frame struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	URL    string          `json:"url,omitempty"`
	URLs   []string        `json:"urls,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

// NewClient creates an oracle client for the given ws:// endpoint. The
// tracked domain list is retained for PublishTrackedDomains. An empty URL
// yields a permanently inactive client.
func NewClient(url string, timeout time.Duration, domains []string) *Client {
	return &Client{
		url:     url,
		timeout: timeout,
		domains: domains,
		pending: make(map[int64]chan json.RawMessage),
	}
}

// Active reports whether the oracle collaborator is reachable and enabled.
func (c *Client) Active() bool {
	return c.active.Load()
}

// Probe attempts the startup connection. An unreachable oracle leaves the
// client inactive; it is never fatal.
func (c *Client) Probe(ctx context.Context) {
	if c.url == "" {
		return
	}
	if err := c.connect(ctx); err != nil {
		slog.Info("assignment oracle not reachable, treating as inactive", "url", c.url, "error", err)
		return
	}
	c.active.Store(true)
	c.PublishTrackedDomains(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("oracle: dial %s: %w", c.url, err)
	}

	c.conn = conn
	c.pendingMu.Lock()
	c.pending = make(map[int64]chan json.RawMessage)
	c.pendingMu.Unlock()
	go c.readLoop()
	return nil
}

// Close drops the connection and marks the oracle inactive.
func (c *Client) Close() {
	c.active.Store(false)
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("oracle read loop exit", "error", err)
			c.handleDisconnect()
			return
		}

		var msg frame
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			if ok {
				delete(c.pending, msg.ID)
			}
			c.pendingMu.Unlock()
			if ok {
				ch <- msg.Result
			}
			continue
		}
		c.handleNotification(msg.Method)
	}
}

// handleNotification drives the inactive → active → inactive state machine
// from discrete oracle events.
func (c *Client) handleNotification(method string) {
	switch method {
	case "listening":
		// The oracle is ready and asks for the tracked-domain list.
		c.active.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		c.PublishTrackedDomains(ctx)
		cancel()
	case "enabled":
		c.active.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		c.PublishTrackedDomains(ctx)
		cancel()
	case "disabled":
		c.active.Store(false)
	}
}

func (c *Client) handleDisconnect() {
	c.active.Store(false)
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

func (c *Client) send(ctx context.Context, msg frame) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("oracle: not connected")
	}
	// Bound the write so a stalled connection cannot wedge the caller.
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	err = wsutil.WriteClientText(c.conn, data)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// Assignment reports whether the oracle delegates url to a non-isolated
// context. Inactive oracle, timeouts, transport failures, and malformed
// replies all return false.
func (c *Client) Assignment(ctx context.Context, url string) bool {
	if !c.active.Load() {
		return false
	}

	id := c.seq.Add(1)
	ch := make(chan json.RawMessage, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.send(ctx, frame{ID: id, Method: "getAssignment", URL: url}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		slog.Debug("oracle assignment request failed", "url", url, "error", err)
		return false
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case result, ok := <-ch:
		if !ok {
			return false
		}
		return assignmentVerdict(result)
	case <-timer.C:
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return false
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return false
	}
}

// assignmentVerdict interprets the oracle's reply. Absent, null, and false
// results mean "no delegation"; a truthy boolean, a URL string, or an
// assignment object means the oracle owns the URL.
func assignmentVerdict(result json.RawMessage) bool {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 {
		return false
	}
	switch string(trimmed) {
	case "null", "false":
		return false
	case "true":
		return true
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return false
		}
		return s != ""
	}
	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return false
	}
	return len(obj) > 0
}

// PublishTrackedDomains pushes the tracked-destination list to the oracle as
// fully-qualified URLs. Best-effort: failures are logged and swallowed.
func (c *Client) PublishTrackedDomains(ctx context.Context) {
	urls := make([]string, 0, len(c.domains))
	for _, d := range c.domains {
		urls = append(urls, "https://"+d+"/")
	}
	if err := c.send(ctx, frame{Method: "jailedDomains", URLs: urls}); err != nil {
		slog.Debug("oracle domain publish failed", "error", err)
	}
}
