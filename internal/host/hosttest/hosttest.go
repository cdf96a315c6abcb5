// Package hosttest provides in-memory host implementations for tests.
package hosttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dgnsrekt/iso_agent/internal/host"
)

// Storage is an in-memory host.Storage.
type Storage struct {
	mu   sync.Mutex
	data map[string]json.RawMessage

	// FailSet, when set, is returned by every Set call.
	FailSet error
}

func NewStorage() *Storage {
	return &Storage{data: make(map[string]json.RawMessage)}
}

func (s *Storage) Get(_ context.Context, key string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Storage) Set(_ context.Context, key string, val any) error {
	if s.FailSet != nil {
		return s.FailSet
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	return nil
}

// Containers is an in-memory host.Containers.
type Containers struct {
	mu      sync.Mutex
	nextID  int
	Records []host.Container

	Updates []host.ContainerID
	Created []host.ContainerAttrs

	FailCreate error
	FailUpdate error
}

func NewContainers(existing ...host.Container) *Containers {
	return &Containers{Records: existing, nextID: 100}
}

func (c *Containers) Query(_ context.Context, filter host.ContainerFilter) ([]host.Container, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []host.Container
	for _, rec := range c.Records {
		if filter.Name == "" || rec.Name == filter.Name {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (c *Containers) Create(_ context.Context, attrs host.ContainerAttrs) (host.Container, error) {
	if c.FailCreate != nil {
		return host.Container{}, c.FailCreate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	rec := host.Container{
		ID:    host.ContainerID(fmt.Sprintf("container-%d", c.nextID)),
		Name:  attrs.Name,
		Color: attrs.Color,
		Icon:  attrs.Icon,
	}
	c.Records = append(c.Records, rec)
	c.Created = append(c.Created, attrs)
	return rec, nil
}

func (c *Containers) Update(_ context.Context, id host.ContainerID, attrs host.ContainerAttrs) error {
	if c.FailUpdate != nil {
		return c.FailUpdate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.Records {
		if c.Records[i].ID == id {
			c.Records[i].Color = attrs.Color
			c.Records[i].Icon = attrs.Icon
			c.Updates = append(c.Updates, id)
			return nil
		}
	}
	return fmt.Errorf("container %s not found", id)
}

// Tabs is an in-memory host.Tabs that records create/remove calls.
type Tabs struct {
	mu     sync.Mutex
	nextID int
	Open   map[host.TabID]host.Tab

	Created []host.CreateTabParams
	Removed []host.TabID
}

func NewTabs(tabs ...host.Tab) *Tabs {
	t := &Tabs{Open: make(map[host.TabID]host.Tab), nextID: 1}
	for _, tab := range tabs {
		t.Open[tab.ID] = tab
	}
	return t
}

func (t *Tabs) Get(_ context.Context, id host.TabID) (host.Tab, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tab, ok := t.Open[id]
	if !ok {
		return host.Tab{}, fmt.Errorf("tab %s not found", id)
	}
	return tab, nil
}

func (t *Tabs) Query(_ context.Context) ([]host.Tab, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]host.Tab, 0, len(t.Open))
	for _, tab := range t.Open {
		out = append(out, tab)
	}
	return out, nil
}

func (t *Tabs) Create(_ context.Context, params host.CreateTabParams) (host.Tab, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	tab := host.Tab{
		ID:        host.TabID(fmt.Sprintf("tab-%d", t.nextID)),
		URL:       params.URL,
		Container: params.Container,
		Active:    params.Active,
		Index:     params.Index,
		WindowID:  params.WindowID,
		Status:    "loading",
	}
	t.Open[tab.ID] = tab
	t.Created = append(t.Created, params)
	return tab, nil
}

func (t *Tabs) Remove(_ context.Context, id host.TabID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.Open, id)
	t.Removed = append(t.Removed, id)
	return nil
}

// CreateCount returns how many tabs were opened through Create.
func (t *Tabs) CreateCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Created)
}

// Cookies is an in-memory host.Cookies keyed by container and domain.
type Cookies struct {
	mu   sync.Mutex
	jars map[host.ContainerID][]host.Cookie

	Removed        []host.Cookie
	ClearedWorkers []string

	// FailRemoveName makes Remove fail for cookies with this name.
	FailRemoveName string
}

func NewCookies() *Cookies {
	return &Cookies{jars: make(map[host.ContainerID][]host.Cookie)}
}

func (c *Cookies) Add(cookie host.Cookie) {
	c.mu.Lock()
	c.jars[cookie.Store] = append(c.jars[cookie.Store], cookie)
	c.mu.Unlock()
}

func (c *Cookies) GetAll(_ context.Context, domain string, store host.ContainerID) ([]host.Cookie, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []host.Cookie
	for _, cookie := range c.jars[store] {
		if cookie.Domain == domain || cookie.Domain == "."+domain {
			out = append(out, cookie)
		}
	}
	return out, nil
}

func (c *Cookies) Remove(_ context.Context, name, url string, store host.ContainerID) error {
	if c.FailRemoveName != "" && name == c.FailRemoveName {
		return fmt.Errorf("remove cookie %q: host error", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	jar := c.jars[store]
	for i, cookie := range jar {
		if cookie.Name == name {
			c.jars[store] = append(jar[:i:i], jar[i+1:]...)
			c.Removed = append(c.Removed, cookie)
			return nil
		}
	}
	return nil
}

func (c *Cookies) ClearWorkerState(_ context.Context, hostname string, store host.ContainerID) error {
	c.mu.Lock()
	c.ClearedWorkers = append(c.ClearedWorkers, string(store)+"/"+hostname)
	c.mu.Unlock()
	return nil
}

// Remaining returns all cookies still present in a container.
func (c *Cookies) Remaining(store host.ContainerID) []host.Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]host.Cookie, len(c.jars[store]))
	copy(out, c.jars[store])
	return out
}
