// Package engine implements the request-routing and isolation-consistency
// core: classify every navigation, deduplicate redirect-chain cancellations,
// and reopen tabs in the container their URL belongs to.
package engine

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/iso_agent/internal/audit"
	"github.com/dgnsrekt/iso_agent/internal/classify"
	"github.com/dgnsrekt/iso_agent/internal/exceptions"
	"github.com/dgnsrekt/iso_agent/internal/host"
	"github.com/dgnsrekt/iso_agent/internal/signal"
	"github.com/dgnsrekt/iso_agent/internal/tabstate"
)

// Action is the verdict for an intercepted request.
type Action int

const (
	ActionPass Action = iota
	ActionRedirect
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionRedirect:
		return "redirect"
	case ActionCancel:
		return "cancel"
	default:
		return "pass"
	}
}

// Decision is returned to the navigation hook before the request proceeds.
type Decision struct {
	Action      Action
	RedirectURL string
}

func pass() Decision                  { return Decision{Action: ActionPass} }
func cancel() Decision                { return Decision{Action: ActionCancel} }
func redirect(target string) Decision { return Decision{Action: ActionRedirect, RedirectURL: target} }

// DefaultDedupTTL bounds how long a pending-cancellation record may outlive
// its navigation when the host's completion/error signals never arrive.
const DefaultDedupTTL = 2000 * time.Millisecond

// AssignmentOracle is the slice of the oracle client the engine consumes.
type AssignmentOracle interface {
	Active() bool
	Assignment(ctx context.Context, url string) bool
}

// Config wires an Engine.
type Config struct {
	Classifier  *classify.Classifier
	Exceptions  *exceptions.Store
	Oracle      AssignmentOracle
	Tabs        host.Tabs
	ContainerID host.ContainerID
	StripParam  string
	Tracker     *tabstate.Tracker
	Broker      *signal.Broker
	Audit       *audit.Writer
	DedupTTL    time.Duration
}

// Engine is the interception decision state machine. The canceled and
// waiting maps are the only state shared across concurrently-running
// handlers; both are guarded by mu, and the dedup record is always written
// before the reopen call suspends, so a second event for the same tab
// observes the first event's registration.
type Engine struct {
	classifier  *classify.Classifier
	exceptions  *exceptions.Store
	oracle      AssignmentOracle
	tabs        host.Tabs
	containerID host.ContainerID
	stripParam  string
	tracker     *tabstate.Tracker
	broker      *signal.Broker
	audit       *audit.Writer
	dedupTTL    time.Duration

	mu       sync.Mutex
	canceled map[host.TabID]*pendingCancellation
	waiting  map[host.TabID]struct{}
}

func New(cfg Config) *Engine {
	ttl := cfg.DedupTTL
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &Engine{
		classifier:  cfg.Classifier,
		exceptions:  cfg.Exceptions,
		oracle:      cfg.Oracle,
		tabs:        cfg.Tabs,
		containerID: cfg.ContainerID,
		stripParam:  cfg.StripParam,
		tracker:     cfg.Tracker,
		broker:      cfg.Broker,
		audit:       cfg.Audit,
		dedupTTL:    ttl,
		canceled:    make(map[host.TabID]*pendingCancellation),
		waiting:     make(map[host.TabID]struct{}),
	}
}

// DecideNavigation classifies a main-frame navigation event.
func (e *Engine) DecideNavigation(ctx context.Context, req host.Request) Decision {
	// A live navigation supersedes any startup wait entry for the tab.
	e.clearWaiting(req.TabID)

	// URL hygiene is orthogonal to containment and always wins.
	if stripped, ok := stripTrackingParam(req.URL, e.stripParam); ok {
		e.record(audit.Record{
			Kind: "navigation", TabID: string(req.TabID), RequestID: req.RequestID,
			URL: req.URL, Action: "redirect", RedirectURL: stripped, Reason: "strip-param",
		})
		return redirect(stripped)
	}

	if req.TabID == host.NoTab {
		return pass()
	}

	if !isHTTP(req.URL) {
		return pass()
	}

	if e.oracle != nil && e.oracle.Assignment(ctx, req.URL) {
		e.record(audit.Record{
			Kind: "navigation", TabID: string(req.TabID), RequestID: req.RequestID,
			URL: req.URL, Action: "pass", Reason: "oracle-assignment",
		})
		return pass()
	}

	tab, err := e.tabs.Get(ctx, req.TabID)
	if err != nil {
		slog.Debug("navigation tab lookup failed", "tab_id", req.TabID, "error", err)
		return pass()
	}

	target, move := e.targetContainer(ctx, req.URL, tab.Container)
	if !move {
		return pass()
	}

	if e.shouldCancelEarly(req.TabID, req.RequestID, req.URL) {
		// A sibling event in the same redirect chain already owns the reopen.
		e.record(audit.Record{
			Kind: "navigation", TabID: string(req.TabID), RequestID: req.RequestID,
			URL: req.URL, Action: "cancel", Reason: "dedup",
		})
		return cancel()
	}

	e.reopen(ctx, tab, req.URL, target)
	e.record(audit.Record{
		Kind: "navigation", TabID: string(req.TabID), RequestID: req.RequestID,
		URL: req.URL, Action: "cancel", Reason: "reopen", Container: string(target),
	})
	return cancel()
}

// targetContainer determines which container the URL belongs in. The second
// return is false when the tab is already in the right place.
func (e *Engine) targetContainer(ctx context.Context, rawURL string, current host.ContainerID) (host.ContainerID, bool) {
	tracked := e.classifier.IsTrackedHost(rawURL)

	listed := false
	if !tracked {
		var err error
		listed, err = e.exceptions.Contains(ctx, hostnameOf(rawURL))
		if err != nil {
			slog.Warn("exception lookup failed, treating as unlisted", "url", rawURL, "error", err)
		}
	}

	if tracked || listed {
		if current != e.containerID {
			return e.containerID, true
		}
		return "", false
	}
	if current == e.containerID {
		return host.DefaultContainer, true
	}
	return "", false
}

// reopen opens the URL in a tab bound to the target container, carrying the
// original tab's activation state, position, and window, then closes the
// original tab.
func (e *Engine) reopen(ctx context.Context, tab host.Tab, rawURL string, target host.ContainerID) {
	if _, err := e.tabs.Create(ctx, host.CreateTabParams{
		URL:       rawURL,
		Container: target,
		Active:    tab.Active,
		Index:     tab.Index,
		WindowID:  tab.WindowID,
	}); err != nil {
		slog.Error("reopen tab create failed", "tab_id", tab.ID, "url", rawURL, "error", err)
		return
	}
	if err := e.tabs.Remove(ctx, tab.ID); err != nil {
		slog.Warn("original tab close failed", "tab_id", tab.ID, "error", err)
	}
}

func (e *Engine) record(rec audit.Record) {
	if e.audit == nil {
		return
	}
	_ = e.audit.Write(rec)
}

func isHTTP(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http:") || strings.HasPrefix(rawURL, "https:")
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// stripTrackingParam removes the configured tracking query parameter,
// keeping every other parameter in its original order and encoding. The
// second return reports whether the URL changed.
func stripTrackingParam(rawURL, param string) (string, bool) {
	if param == "" {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if !u.Query().Has(param) {
		return "", false
	}
	kept := make([]string, 0, 4)
	for _, pair := range strings.Split(u.RawQuery, "&") {
		key := pair
		if idx := strings.IndexByte(pair, '='); idx >= 0 {
			key = pair[:idx]
		}
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if key == param {
			continue
		}
		kept = append(kept, pair)
	}
	u.RawQuery = strings.Join(kept, "&")
	return u.String(), true
}
