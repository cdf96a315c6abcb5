package engine

import (
	"context"
	"testing"
	"time"

	"github.com/dgnsrekt/iso_agent/internal/classify"
	"github.com/dgnsrekt/iso_agent/internal/exceptions"
	"github.com/dgnsrekt/iso_agent/internal/host"
	"github.com/dgnsrekt/iso_agent/internal/host/hosttest"
	"github.com/dgnsrekt/iso_agent/internal/signal"
	"github.com/dgnsrekt/iso_agent/internal/tabstate"
)

const isolatedContainer = host.ContainerID("container-tiktok")

type fakeOracle struct {
	active      bool
	assignments map[string]bool
}

func (f *fakeOracle) Active() bool { return f.active }

func (f *fakeOracle) Assignment(_ context.Context, url string) bool {
	if !f.active {
		return false
	}
	return f.assignments[url]
}

type fixture struct {
	engine  *Engine
	tabs    *hosttest.Tabs
	exc     *exceptions.Store
	oracle  *fakeOracle
	tracker *tabstate.Tracker
	broker  *signal.Broker
}

func newFixture(t *testing.T, ttl time.Duration, tabs ...host.Tab) *fixture {
	t.Helper()
	storage := hosttest.NewStorage()
	exc := exceptions.NewStore(storage)
	classifier := classify.New([]string{"tiktok.com", "musical.ly"})
	tracker := tabstate.NewTracker(classifier, exc, storage)
	oracle := &fakeOracle{assignments: make(map[string]bool)}
	broker := signal.NewBroker()
	fakeTabs := hosttest.NewTabs(tabs...)

	eng := New(Config{
		Classifier:  classifier,
		Exceptions:  exc,
		Oracle:      oracle,
		Tabs:        fakeTabs,
		ContainerID: isolatedContainer,
		StripParam:  "fbclid",
		Tracker:     tracker,
		Broker:      broker,
		DedupTTL:    ttl,
	})
	return &fixture{engine: eng, tabs: fakeTabs, exc: exc, oracle: oracle, tracker: tracker, broker: broker}
}

func defaultTab(id host.TabID, url string) host.Tab {
	return host.Tab{ID: id, URL: url, Container: host.DefaultContainer, Active: true, Index: 2, WindowID: 1, Status: "complete"}
}

func TestTrackedURLOutsideContainerIsReopened(t *testing.T) {
	f := newFixture(t, 0, defaultTab("tab-1", "https://example.com/"))

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: "tab-1", RequestID: "req-1", URL: "https://www.tiktok.com", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionCancel {
		t.Fatalf("Action = %v, want cancel", dec.Action)
	}
	if len(f.tabs.Created) != 1 {
		t.Fatalf("tabs created = %d, want 1", len(f.tabs.Created))
	}
	created := f.tabs.Created[0]
	if created.URL != "https://www.tiktok.com" || created.Container != isolatedContainer {
		t.Fatalf("created = %+v", created)
	}
	if !created.Active || created.Index != 2 || created.WindowID != 1 {
		t.Fatalf("activation state not carried: %+v", created)
	}
	if len(f.tabs.Removed) != 1 || f.tabs.Removed[0] != "tab-1" {
		t.Fatalf("removed = %v, want [tab-1]", f.tabs.Removed)
	}
}

func TestUntrackedURLInsideContainerIsReopenedToDefault(t *testing.T) {
	tab := defaultTab("tab-1", "https://www.tiktok.com/")
	tab.Container = isolatedContainer
	f := newFixture(t, 0, tab)

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: "tab-1", RequestID: "req-1", URL: "https://example.com", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionCancel {
		t.Fatalf("Action = %v, want cancel", dec.Action)
	}
	if len(f.tabs.Created) != 1 || f.tabs.Created[0].Container != host.DefaultContainer {
		t.Fatalf("created = %+v, want default container", f.tabs.Created)
	}
}

func TestNonHTTPSchemePasses(t *testing.T) {
	f := newFixture(t, 0, defaultTab("tab-1", "https://example.com/"))

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: "tab-1", RequestID: "req-1", URL: "ftp://www.tiktok.com", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionPass {
		t.Fatalf("Action = %v, want pass", dec.Action)
	}
	if f.tabs.CreateCount() != 0 {
		t.Fatal("reopen happened for non-HTTP scheme")
	}
}

func TestTablessRequestPasses(t *testing.T) {
	f := newFixture(t, 0)

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: host.NoTab, RequestID: "req-1", URL: "https://www.tiktok.com", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionPass {
		t.Fatalf("Action = %v, want pass", dec.Action)
	}
	if f.tabs.CreateCount() != 0 {
		t.Fatal("reopen happened for tabless request")
	}
}

func TestTrackingParamStrippedBeforeContainment(t *testing.T) {
	f := newFixture(t, 0, defaultTab("tab-1", "https://example.com/"))

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: "tab-1", RequestID: "req-1", URL: "https://example.com/?q=x&fbclid=123", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionRedirect {
		t.Fatalf("Action = %v, want redirect", dec.Action)
	}
	if dec.RedirectURL != "https://example.com/?q=x" {
		t.Fatalf("RedirectURL = %q, want https://example.com/?q=x", dec.RedirectURL)
	}
}

func TestTrackingParamStrippedEvenOnTrackedURL(t *testing.T) {
	f := newFixture(t, 0, defaultTab("tab-1", "https://example.com/"))

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: "tab-1", RequestID: "req-1", URL: "https://www.tiktok.com/help?fbclid=123", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionRedirect {
		t.Fatalf("Action = %v, want redirect before any container decision", dec.Action)
	}
	if dec.RedirectURL != "https://www.tiktok.com/help" {
		t.Fatalf("RedirectURL = %q", dec.RedirectURL)
	}
	if f.tabs.CreateCount() != 0 {
		t.Fatal("reopen happened on the redirect event")
	}
}

func TestMatchingContextPasses(t *testing.T) {
	tab := defaultTab("tab-1", "https://www.tiktok.com/")
	tab.Container = isolatedContainer
	f := newFixture(t, 0, tab)

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: "tab-1", RequestID: "req-1", URL: "https://www.tiktok.com/@feed", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionPass {
		t.Fatalf("Action = %v, want pass", dec.Action)
	}
}

func TestExceptionListedHostIsContained(t *testing.T) {
	f := newFixture(t, 0, defaultTab("tab-1", "https://start.example/"))
	if err := f.exc.Add(context.Background(), "example.com"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: "tab-1", RequestID: "req-1", URL: "https://example.com/", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionCancel {
		t.Fatalf("Action = %v, want cancel", dec.Action)
	}
	if f.tabs.Created[0].Container != isolatedContainer {
		t.Fatalf("created container = %v, want isolated", f.tabs.Created[0].Container)
	}
}

func TestExceptionListedHostPassesInsideContainer(t *testing.T) {
	tab := defaultTab("tab-1", "https://www.tiktok.com/")
	tab.Container = isolatedContainer
	f := newFixture(t, 0, tab)
	if err := f.exc.Add(context.Background(), "example.com"); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: "tab-1", RequestID: "req-1", URL: "https://example.com/", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionPass {
		t.Fatalf("Action = %v, want pass", dec.Action)
	}
	if f.tabs.CreateCount() != 0 {
		t.Fatal("exception-listed navigation was reopened")
	}
}

func TestOracleAssignmentOverridesContainment(t *testing.T) {
	f := newFixture(t, 0, defaultTab("tab-1", "https://example.com/"))
	f.oracle.active = true
	f.oracle.assignments["https://www.tiktok.com/"] = true

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: "tab-1", RequestID: "req-1", URL: "https://www.tiktok.com/", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionPass {
		t.Fatalf("Action = %v, want pass", dec.Action)
	}
	if f.tabs.CreateCount() != 0 {
		t.Fatal("reopen happened despite oracle assignment")
	}
}

func TestUnknownTabPasses(t *testing.T) {
	f := newFixture(t, 0)

	dec := f.engine.DecideNavigation(context.Background(), host.Request{
		TabID: "tab-gone", RequestID: "req-1", URL: "https://www.tiktok.com/", ResourceType: host.ResourceMainFrame,
	})
	if dec.Action != ActionPass {
		t.Fatalf("Action = %v, want pass", dec.Action)
	}
}

func TestStripTrackingParamPreservesOthers(t *testing.T) {
	got, ok := stripTrackingParam("https://github.com/mozilla/issues?q=is%3Aissue+is%3Aopen+track&fbclid=123", "fbclid")
	if !ok {
		t.Fatal("stripTrackingParam() ok = false")
	}
	if got != "https://github.com/mozilla/issues?q=is%3Aissue+is%3Aopen+track" {
		t.Fatalf("stripped = %q", got)
	}

	if _, ok := stripTrackingParam("https://example.com/?q=x", "fbclid"); ok {
		t.Fatal("stripTrackingParam() stripped a URL without the parameter")
	}
}

func TestStripTrackingParamKeepsQueryOrder(t *testing.T) {
	got, ok := stripTrackingParam("https://example.com/watch?zz=1&fbclid=abc&aa=2&mm=3", "fbclid")
	if !ok {
		t.Fatal("stripTrackingParam() ok = false")
	}
	if got != "https://example.com/watch?zz=1&aa=2&mm=3" {
		t.Fatalf("stripped = %q, want surviving parameters in original order", got)
	}

	// Original byte encoding of survivors must not be rewritten either.
	got, ok = stripTrackingParam("https://example.com/?b=%2Fpath&fbclid=x&a=1", "fbclid")
	if !ok {
		t.Fatal("stripTrackingParam() ok = false")
	}
	if got != "https://example.com/?b=%2Fpath&a=1" {
		t.Fatalf("stripped = %q, want untouched survivor encoding", got)
	}

	got, ok = stripTrackingParam("https://example.com/?fbclid=only", "fbclid")
	if !ok {
		t.Fatal("stripTrackingParam() ok = false")
	}
	if got != "https://example.com/" {
		t.Fatalf("stripped = %q, want bare URL", got)
	}
}
