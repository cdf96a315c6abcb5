// Package sweeper purges tracking cookies that leaked outside the isolated
// container.
package sweeper

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/iso_agent/internal/audit"
	"github.com/dgnsrekt/iso_agent/internal/engine"
	"github.com/dgnsrekt/iso_agent/internal/exceptions"
	"github.com/dgnsrekt/iso_agent/internal/host"
)

const sweepConcurrency = 4

// Sweeper removes tracking-domain cookies from every context except the
// isolated container and any oracle- or exception-protected domain. Runs at
// startup and on demand from the control API.
type Sweeper struct {
	domains    []string
	containers host.Containers
	cookies    host.Cookies
	exceptions *exceptions.Store
	oracle     engine.AssignmentOracle
	isolated   host.ContainerID
	audit      *audit.Writer
}

type Config struct {
	Domains    []string
	Containers host.Containers
	Cookies    host.Cookies
	Exceptions *exceptions.Store
	Oracle     engine.AssignmentOracle
	IsolatedID host.ContainerID
	Audit      *audit.Writer
}

func New(cfg Config) *Sweeper {
	return &Sweeper{
		domains:    cfg.Domains,
		containers: cfg.Containers,
		cookies:    cfg.Cookies,
		exceptions: cfg.Exceptions,
		oracle:     cfg.Oracle,
		isolated:   cfg.IsolatedID,
		audit:      cfg.Audit,
	}
}

// Sweep walks every tracked domain across every known container. Individual
// cookie failures are logged and skipped; only the container enumeration can
// fail the sweep as a whole. Returns the sweep run id.
func (s *Sweeper) Sweep(ctx context.Context) (string, error) {
	sweepID := uuid.NewString()
	slog.Info("cookie sweep started", "sweep_id", sweepID, "domains", len(s.domains))

	containers, err := s.containers.Query(ctx, host.ContainerFilter{})
	if err != nil {
		return "", err
	}
	stores := make([]host.ContainerID, 0, len(containers)+1)
	stores = append(stores, host.DefaultContainer)
	for _, c := range containers {
		if c.ID != host.DefaultContainer {
			stores = append(stores, c.ID)
		}
	}

	delegated := s.delegatedDomains(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, domain := range s.domains {
		if delegated[domain] || delegated["www."+domain] {
			// The oracle's delegation is authoritative; leave the
			// domain's cookies alone everywhere.
			slog.Debug("skipping oracle-delegated domain", "sweep_id", sweepID, "domain", domain)
			continue
		}
		if s.isExcepted(ctx, domain) {
			slog.Debug("skipping exception-listed domain", "sweep_id", sweepID, "domain", domain)
			continue
		}
		g.Go(func() error {
			s.sweepDomain(gctx, sweepID, domain, stores)
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("cookie sweep finished", "sweep_id", sweepID)
	return sweepID, nil
}

// delegatedDomains asks the oracle about every tracked domain up front, so
// the per-container loop never blocks on oracle round-trips.
func (s *Sweeper) delegatedDomains(ctx context.Context) map[string]bool {
	delegated := make(map[string]bool)
	if s.oracle == nil || !s.oracle.Active() {
		return delegated
	}
	for _, domain := range s.domains {
		if s.oracle.Assignment(ctx, "https://"+domain+"/") {
			delegated[domain] = true
		}
	}
	return delegated
}

func (s *Sweeper) isExcepted(ctx context.Context, domain string) bool {
	if s.exceptions == nil {
		return false
	}
	listed, err := s.exceptions.Contains(ctx, domain)
	if err != nil {
		slog.Warn("exception lookup failed during sweep", "domain", domain, "error", err)
		return false
	}
	return listed
}

func (s *Sweeper) sweepDomain(ctx context.Context, sweepID, domain string, stores []host.ContainerID) {
	cookieURL := "https://" + domain + "/"

	for _, store := range stores {
		if store == s.isolated {
			// Never touch the isolated container's own jar.
			continue
		}

		cookies, err := s.cookies.GetAll(ctx, domain, store)
		if err != nil {
			slog.Warn("cookie enumeration failed", "sweep_id", sweepID, "domain", domain, "container", store, "error", err)
			continue
		}

		removed := 0
		for _, cookie := range cookies {
			if err := s.cookies.Remove(ctx, cookie.Name, cookieURL, store); err != nil {
				slog.Warn("cookie removal failed", "sweep_id", sweepID, "domain", domain, "cookie", cookie.Name, "error", err)
				continue
			}
			removed++
		}

		// Cached workers can re-create tracking state after the cookies
		// are gone, so their storage goes too.
		if err := s.cookies.ClearWorkerState(ctx, domain, store); err != nil {
			slog.Warn("worker state clear failed", "sweep_id", sweepID, "domain", domain, "container", store, "error", err)
		}

		if removed > 0 && s.audit != nil {
			_ = s.audit.Write(audit.Record{
				Kind: "sweep", SweepID: sweepID, Domain: domain,
				Container: string(store), Action: "removed-cookies",
			})
		}
	}
}
