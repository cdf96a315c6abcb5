package engine

import (
	"context"
	"log/slog"

	"github.com/dgnsrekt/iso_agent/internal/audit"
	"github.com/dgnsrekt/iso_agent/internal/host"
	"github.com/dgnsrekt/iso_agent/internal/signal"
)

// DecideSubResource classifies a sub-resource request. Tracked-destination
// sub-resources loaded by untracked, unexcepted pages are blocked; everything
// else passes, with an informational signal for the UI where relevant.
func (e *Engine) DecideSubResource(ctx context.Context, req host.Request) Decision {
	if req.ResourceType == host.ResourceMainFrame {
		return pass()
	}
	if req.OriginURL == "" {
		// No originating page: the origin context is unknown.
		return pass()
	}
	if !e.classifier.IsTrackedHost(req.URL) {
		return pass()
	}

	if e.classifier.IsTrackedHost(req.OriginURL) {
		// Tracked-to-tracked traffic is not cross-site tracking.
		e.publish(signal.Event{TabID: req.TabID, Kind: signal.KindTrackedDomain, URL: req.URL})
		return pass()
	}

	listed, err := e.exceptions.Contains(ctx, hostnameOf(req.OriginURL))
	if err != nil {
		slog.Warn("exception lookup failed for sub-resource origin", "origin", req.OriginURL, "error", err)
	}
	if listed {
		e.publish(signal.Event{TabID: req.TabID, Kind: signal.KindAllowed, URL: req.URL})
		return pass()
	}

	e.tracker.MarkTrackerDetected(req.TabID)
	e.publish(signal.Event{TabID: req.TabID, Kind: signal.KindBlocked, URL: req.URL})
	e.record(audit.Record{
		Kind: "subresource", TabID: string(req.TabID), RequestID: req.RequestID,
		URL: req.URL, Action: "cancel", Reason: "cross-site-tracking",
	})
	return cancel()
}

func (e *Engine) publish(evt signal.Event) {
	if e.broker == nil {
		return
	}
	e.broker.Publish(evt)
}
