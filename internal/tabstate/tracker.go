// Package tabstate holds per-tab ephemeral state driving UI signaling.
package tabstate

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/dgnsrekt/iso_agent/internal/classify"
	"github.com/dgnsrekt/iso_agent/internal/exceptions"
	"github.com/dgnsrekt/iso_agent/internal/host"
)

// PanelState is the badge/popup state for a tab.
type PanelState string

const (
	PanelOnTracked        PanelState = "on-tracked"
	PanelInException      PanelState = "in-exception"
	PanelTrackersDetected PanelState = "trackers-detected"
	PanelNoTrackers       PanelState = "no-trackers"
)

// Tracker records which tabs had tracking sub-resources blocked. Entries are
// created lazily on the first block and dropped when the tab closes.
type Tracker struct {
	classifier *classify.Classifier
	exceptions *exceptions.Store
	storage    host.Storage

	mu       sync.Mutex
	detected map[host.TabID]bool
}

func NewTracker(classifier *classify.Classifier, exc *exceptions.Store, storage host.Storage) *Tracker {
	return &Tracker{
		classifier: classifier,
		exceptions: exc,
		storage:    storage,
		detected:   make(map[host.TabID]bool),
	}
}

// MarkTrackerDetected flags a tab after a tracking sub-resource was blocked.
func (t *Tracker) MarkTrackerDetected(tabID host.TabID) {
	t.mu.Lock()
	t.detected[tabID] = true
	t.mu.Unlock()
}

// TrackersDetected reports whether the tab had tracking sub-resources blocked.
func (t *Tracker) TrackersDetected(tabID host.TabID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detected[tabID]
}

// Clear drops the tab's state when it closes.
func (t *Tracker) Clear(tabID host.TabID) {
	t.mu.Lock()
	delete(t.detected, tabID)
	t.mu.Unlock()
}

// PanelState computes the badge state for a tab showing rawURL, in priority
// order: tracked host, exception membership, detected trackers, none. The
// result is persisted for the UI collaborator.
func (t *Tracker) PanelState(ctx context.Context, tabID host.TabID, rawURL string) (PanelState, error) {
	state := PanelNoTrackers
	switch {
	case t.classifier.IsTrackedHost(rawURL):
		state = PanelOnTracked
	default:
		hostname := hostnameOf(rawURL)
		listed, err := t.exceptions.Contains(ctx, hostname)
		if err != nil {
			return "", fmt.Errorf("tabstate: exception lookup: %w", err)
		}
		if listed {
			state = PanelInException
		} else if t.TrackersDetected(tabID) {
			state = PanelTrackersDetected
		}
	}

	if err := t.storage.Set(ctx, host.KeyCurrentPanelState, string(state)); err != nil {
		// Badge persistence is advisory; the state itself is still valid.
		slog.Debug("panel state persist failed", "tab_id", tabID, "error", err)
	}
	return state, nil
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
