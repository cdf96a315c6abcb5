package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy describes the containment policy: which domain family is isolated,
// what the isolated container looks like, and which tracking query parameter
// is stripped from navigations.
type Policy struct {
	Container ContainerDetails `yaml:"container"`
	Domains   []string         `yaml:"domains"`
	// StripParam is the tracking query parameter removed from every
	// navigation before any container decision.
	StripParam string `yaml:"strip_param"`
}

// ContainerDetails are the display attributes of the reserved container.
type ContainerDetails struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
	Icon  string `yaml:"icon"`
}

// DefaultTrackedDomains is the built-in tracked-destination family.
var DefaultTrackedDomains = []string{
	"tiktok.com",
	"tiktok.org",
	"tiktokcdn.com",
	"tiktokv.com",
	"muscdn.com",
	"musical.ly",
	"musically.ly",
	"v16-tiktokcdn-com.akamaized.net",
	"p16-tiktokcdn-com.akamaized.net",
	"mon.byteoversea.com",
	"mon-va.byteoversea.com",
	"abtest-va-tiktok.byteoversea.com",
	"sf-tb-sg.ibytedtos.com",
	"xlog-va.byteoversea.com",
	"dm-maliva16.byteoversea.com",
	"dm.bytedance.com",
	"sgali3.l.byteoversea.net",
	"tiktokcdn-com.akamaized.net",
	"ibytedtos.com",
	"app.musemuse.cn",
	"share.musemuse.cn",
}

// DefaultPolicy returns the built-in containment policy.
func DefaultPolicy() *Policy {
	domains := make([]string, len(DefaultTrackedDomains))
	copy(domains, DefaultTrackedDomains)
	return &Policy{
		Container: ContainerDetails{
			Name:  "TikTok",
			Color: "purple",
			Icon:  "apple",
		},
		Domains:    domains,
		StripParam: "fbclid",
	}
}

// ErrPolicyNotFound is returned when an explicitly requested policy file
// does not exist.
var ErrPolicyNotFound = errors.New("policy file not found")

// LoadPolicy reads a YAML policy file and merges it over the defaults.
// An empty path returns the defaults unchanged.
func LoadPolicy(path string) (*Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}

	var file Policy
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	if file.Container.Name != "" {
		policy.Container.Name = file.Container.Name
	}
	if file.Container.Color != "" {
		policy.Container.Color = file.Container.Color
	}
	if file.Container.Icon != "" {
		policy.Container.Icon = file.Container.Icon
	}
	if len(file.Domains) > 0 {
		policy.Domains = file.Domains
	}
	if file.StripParam != "" {
		policy.StripParam = file.StripParam
	}

	return policy, nil
}
