// Package classify decides whether a URL belongs to the tracked-destination
// domain family.
package classify

import (
	"net/url"
	"strings"
)

// matcher is an anchored host-suffix test: a host matches when it equals the
// pattern or ends with "." + pattern. Whole labels only, never substrings.
type matcher struct {
	exact  string
	suffix string
}

func (m matcher) match(host string) bool {
	return host == m.exact || strings.HasSuffix(host, m.suffix)
}

// Classifier tests URL hosts against an immutable domain pattern set.
type Classifier struct {
	matchers []matcher
	domains  []string
}

// New builds one matcher per pattern. The pattern set is fixed after
// construction.
func New(domains []string) *Classifier {
	c := &Classifier{
		matchers: make([]matcher, 0, len(domains)),
		domains:  make([]string, 0, len(domains)),
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d == "" {
			continue
		}
		c.matchers = append(c.matchers, matcher{exact: d, suffix: "." + d})
		c.domains = append(c.domains, d)
	}
	return c
}

// IsTrackedHost reports whether rawURL's host is a tracked destination.
// Unparsable URLs fail closed to false; the caller filters non-HTTP schemes
// before classification.
func (c *Classifier) IsTrackedHost(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return c.MatchesHost(u.Hostname())
}

// MatchesHost tests an already-extracted hostname against the pattern set.
func (c *Classifier) MatchesHost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	for _, m := range c.matchers {
		if m.match(hostname) {
			return true
		}
	}
	return false
}

// Domains returns the pattern set in construction order.
func (c *Classifier) Domains() []string {
	out := make([]string, len(c.domains))
	copy(out, c.domains)
	return out
}
