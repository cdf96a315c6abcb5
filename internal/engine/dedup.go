package engine

import (
	"time"

	"github.com/dgnsrekt/iso_agent/internal/host"
)

// pendingCancellation tracks the cancellations already issued for one tab's
// in-flight navigation, so a redirect chain never reopens twice.
type pendingCancellation struct {
	requestIDs map[string]bool
	urls       map[string]bool
	timer      *time.Timer
}

// shouldCancelEarly reports whether a sibling event for the same navigation
// already owns the reopen. The first cancellation for a tab seeds the record
// and returns false; every later event with the same requestID (a retry) or
// the same URL (a parallel redirect leg) is recorded and returns true. The
// record and both sets are updated under the engine lock before the caller
// performs any host call, which closes the race between two interleaved
// events for the same tab.
func (e *Engine) shouldCancelEarly(tabID host.TabID, requestID, rawURL string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.canceled[tabID]
	if !ok {
		rec = &pendingCancellation{
			requestIDs: map[string]bool{requestID: true},
			urls:       map[string]bool{rawURL: true},
		}
		// The host's completion/error signals for a canceled request are
		// not guaranteed to fire, so the record expires on its own.
		rec.timer = time.AfterFunc(e.dedupTTL, func() {
			e.expireCancellation(tabID, rec)
		})
		e.canceled[tabID] = rec
		return false
	}

	early := rec.requestIDs[requestID] || rec.urls[rawURL]
	rec.requestIDs[requestID] = true
	rec.urls[rawURL] = true
	return early
}

// expireCancellation drops the record only if it is still the same one the
// timer was armed for; a completion signal may have cleared it and a new
// navigation recreated it in the meantime.
func (e *Engine) expireCancellation(tabID host.TabID, rec *pendingCancellation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.canceled[tabID] == rec {
		delete(e.canceled, tabID)
	}
}

func (e *Engine) clearCancellation(tabID host.TabID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rec, ok := e.canceled[tabID]; ok {
		rec.timer.Stop()
		delete(e.canceled, tabID)
	}
}

// OnRequestCompleted clears the tab's pending-cancellation record when its
// main-frame request finishes.
func (e *Engine) OnRequestCompleted(tabID host.TabID) {
	e.clearCancellation(tabID)
}

// OnRequestError clears the tab's pending-cancellation record when its
// main-frame request errors out.
func (e *Engine) OnRequestError(tabID host.TabID) {
	e.clearCancellation(tabID)
}

// hasPendingCancellation is a test seam.
func (e *Engine) hasPendingCancellation(tabID host.TabID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.canceled[tabID]
	return ok
}
