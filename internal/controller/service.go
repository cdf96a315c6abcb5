package controller

import (
	"context"
	"net/url"
	"strings"

	"github.com/dgnsrekt/iso_agent/internal/classify"
	"github.com/dgnsrekt/iso_agent/internal/exceptions"
	"github.com/dgnsrekt/iso_agent/internal/host"
	"github.com/dgnsrekt/iso_agent/internal/sweeper"
	"github.com/dgnsrekt/iso_agent/internal/tabstate"
)

// OracleStatus reports the assignment oracle's connection state.
type OracleStatus struct {
	Connected bool   `json:"connected"`
	URL       string `json:"url,omitempty"`
}

// TabStatus is the per-tab panel view.
type TabStatus struct {
	TabID host.TabID          `json:"tab_id"`
	State tabstate.PanelState `json:"state"`
}

type oracleProbe interface {
	Active() bool
}

// Service wraps the isolation engine's control operations.
type Service struct {
	classifier *classify.Classifier
	exceptions *exceptions.Store
	tracker    *tabstate.Tracker
	sweeper    *sweeper.Sweeper
	tabs       host.Tabs
	oracle     oracleProbe
	oracleURL  string
	container  host.ContainerID
}

type Config struct {
	Classifier *classify.Classifier
	Exceptions *exceptions.Store
	Tracker    *tabstate.Tracker
	Sweeper    *sweeper.Sweeper
	Tabs       host.Tabs
	Oracle     oracleProbe
	OracleURL  string
	Container  host.ContainerID
}

func NewService(cfg Config) *Service {
	return &Service{
		classifier: cfg.Classifier,
		exceptions: cfg.Exceptions,
		tracker:    cfg.Tracker,
		sweeper:    cfg.Sweeper,
		tabs:       cfg.Tabs,
		oracle:     cfg.Oracle,
		oracleURL:  cfg.OracleURL,
		container:  cfg.Container,
	}
}

// normalizeHost accepts a bare hostname or a full URL and returns the
// lowercased hostname.
func normalizeHost(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", host.NewError(host.CodeValidation, "domain is required", nil)
	}
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil || u.Hostname() == "" {
			return "", host.NewError(host.CodeValidation, "invalid url: "+raw, err)
		}
		return strings.ToLower(u.Hostname()), nil
	}
	if strings.ContainsAny(raw, "/ ") {
		return "", host.NewError(host.CodeValidation, "invalid hostname: "+raw, nil)
	}
	return strings.ToLower(raw), nil
}

func (s *Service) ListExceptions(ctx context.Context) ([]string, error) {
	domains, err := s.exceptions.List(ctx)
	if err != nil {
		return nil, host.NewError(host.CodeStorageFailure, "list exceptions failed", err)
	}
	return domains, nil
}

// AddException exempts a hostname from isolation. Accepts a hostname or a
// full URL and returns the normalized hostname that was stored.
func (s *Service) AddException(ctx context.Context, raw string) (string, error) {
	hostname, err := normalizeHost(raw)
	if err != nil {
		return "", err
	}
	if err := s.exceptions.Add(ctx, hostname); err != nil {
		return "", host.NewError(host.CodeStorageFailure, "add exception failed", err)
	}
	return hostname, nil
}

func (s *Service) RemoveException(ctx context.Context, raw string) (string, error) {
	hostname, err := normalizeHost(raw)
	if err != nil {
		return "", err
	}
	if err := s.exceptions.Remove(ctx, hostname); err != nil {
		return "", host.NewError(host.CodeStorageFailure, "remove exception failed", err)
	}
	return hostname, nil
}

// TabStatus computes the panel state for an open tab.
func (s *Service) TabStatus(ctx context.Context, tabID host.TabID) (TabStatus, error) {
	if strings.TrimSpace(string(tabID)) == "" {
		return TabStatus{}, host.NewError(host.CodeValidation, "tab_id is required", nil)
	}
	tab, err := s.tabs.Get(ctx, tabID)
	if err != nil {
		return TabStatus{}, host.NewError(host.CodeTabNotFound, "tab not found: "+string(tabID), err)
	}
	state, err := s.tracker.PanelState(ctx, tab.ID, tab.URL)
	if err != nil {
		return TabStatus{}, host.NewError(host.CodeStorageFailure, "panel state failed", err)
	}
	return TabStatus{TabID: tab.ID, State: state}, nil
}

// Sweep runs a cookie sweep and returns its run id.
func (s *Service) Sweep(ctx context.Context) (string, error) {
	if s.sweeper == nil {
		return "", host.NewError(host.CodeValidation, "sweeper not configured", nil)
	}
	return s.sweeper.Sweep(ctx)
}

func (s *Service) OracleStatus() OracleStatus {
	status := OracleStatus{URL: s.oracleURL}
	if s.oracle != nil {
		status.Connected = s.oracle.Active()
	}
	return status
}

// TrackedDomains returns the domain set the engine isolates.
func (s *Service) TrackedDomains() []string {
	return s.classifier.Domains()
}

// ContainerID returns the isolated container's identifier.
func (s *Service) ContainerID() host.ContainerID {
	return s.container
}
