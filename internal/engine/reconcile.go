package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgnsrekt/iso_agent/internal/host"
)

// ReopenOpenTabs runs the startup pass over already-open tabs: tabs with a
// real URL are reopened if their container does not match, and tabs still
// loading about:blank are parked on the wait list until their first real
// navigation resolves.
func (e *Engine) ReopenOpenTabs(ctx context.Context) error {
	tabs, err := e.tabs.Query(ctx)
	if err != nil {
		return fmt.Errorf("engine: query open tabs: %w", err)
	}

	for _, tab := range tabs {
		if tab.URL == "about:blank" {
			if tab.Status != "loading" {
				continue
			}
			e.mu.Lock()
			e.waiting[tab.ID] = struct{}{}
			e.mu.Unlock()
			continue
		}
		e.ReopenIfMisplaced(ctx, tab)
	}
	return nil
}

// ReopenIfMisplaced applies the containment decision to a tab outside the
// interception path (startup reconciliation and wait-list resolution). No
// dedup record is involved since there is no in-flight request to cancel.
func (e *Engine) ReopenIfMisplaced(ctx context.Context, tab host.Tab) bool {
	if !isHTTP(tab.URL) {
		return false
	}
	if e.oracle != nil && e.oracle.Assignment(ctx, tab.URL) {
		return false
	}
	target, move := e.targetContainer(ctx, tab.URL, tab.Container)
	if !move {
		return false
	}
	slog.Info("reopening misplaced tab", "tab_id", tab.ID, "url", tab.URL, "container", target)
	e.reopen(ctx, tab, tab.URL, target)
	return true
}

// OnTabUpdated resolves wait-list entries: a URL change means the tab's
// first real navigation arrived (maybe reopen it); completion means the tab
// settled without one.
func (e *Engine) OnTabUpdated(ctx context.Context, tab host.Tab, urlChanged bool) {
	if urlChanged {
		if e.clearWaiting(tab.ID) {
			e.ReopenIfMisplaced(ctx, tab)
		}
		return
	}
	if tab.Status == "complete" {
		e.clearWaiting(tab.ID)
	}
}

// WaitingCount reports how many tabs are still parked. Once it reaches zero
// the update events keep flowing; OnTabUpdated simply has nothing to resolve.
func (e *Engine) WaitingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.waiting)
}

func (e *Engine) clearWaiting(tabID host.TabID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.waiting[tabID]; ok {
		delete(e.waiting, tabID)
		return true
	}
	return false
}

// OnTabClosed drops per-tab state when the tab goes away.
func (e *Engine) OnTabClosed(tabID host.TabID) {
	e.clearCancellation(tabID)
	e.clearWaiting(tabID)
	if e.tracker != nil {
		e.tracker.Clear(tabID)
	}
}
