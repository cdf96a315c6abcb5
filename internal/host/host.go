// Package host defines the boundary to the browser platform. The engine only
// ever talks to these interfaces; the cdphost package binds them to a live
// Chromium over the DevTools protocol, and tests substitute in-memory fakes.
package host

import "context"

// ContainerID identifies a cookie-isolated browsing context.
type ContainerID string

// DefaultContainer is the browser's default (non-isolated) context.
const DefaultContainer ContainerID = "default"

// ContainerAttrs holds the display attributes of a container.
type ContainerAttrs struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// Container is a resolved browsing context with its display attributes.
type Container struct {
	ID    ContainerID `json:"id"`
	Name  string      `json:"name"`
	Color string      `json:"color"`
	Icon  string      `json:"icon"`
}

// ContainerFilter restricts a Containers.Query call. A zero filter matches
// every container.
type ContainerFilter struct {
	Name string
}

// Containers is the isolated-context primitive.
type Containers interface {
	Query(ctx context.Context, filter ContainerFilter) ([]Container, error)
	Create(ctx context.Context, attrs ContainerAttrs) (Container, error)
	Update(ctx context.Context, id ContainerID, attrs ContainerAttrs) error
}

// Cookie describes a cookie within a specific container's jar.
type Cookie struct {
	Name   string
	Domain string
	Path   string
	Secure bool
	Store  ContainerID
}

// Cookies is the cookie-store primitive.
type Cookies interface {
	// GetAll returns every cookie scoped to domain within the given container.
	GetAll(ctx context.Context, domain string, store ContainerID) ([]Cookie, error)
	// Remove deletes a single cookie by name and URL within the given container.
	Remove(ctx context.Context, name, url string, store ContainerID) error
	// ClearWorkerState drops persistent background-worker state for a
	// hostname within the given container. Cookie removal alone is not
	// enough to stop passive re-tracking via cached workers.
	ClearWorkerState(ctx context.Context, hostname string, store ContainerID) error
}

// TabID identifies a browser tab. The zero value means the event is not
// bound to a real tab (synthetic or background fetch).
type TabID string

// NoTab marks a navigation event with no tab binding.
const NoTab TabID = ""

// Tab is the slice of tab state the engine cares about.
type Tab struct {
	ID        TabID
	URL       string
	Container ContainerID
	Active    bool
	Index     int
	WindowID  int
	Status    string // "loading" or "complete"
}

// CreateTabParams describes the tab to open when reopening a navigation in a
// different container.
type CreateTabParams struct {
	URL       string
	Container ContainerID
	Active    bool
	Index     int
	WindowID  int
}

// Tabs is the tab primitive.
type Tabs interface {
	Get(ctx context.Context, id TabID) (Tab, error)
	Query(ctx context.Context) ([]Tab, error)
	Create(ctx context.Context, params CreateTabParams) (Tab, error)
	Remove(ctx context.Context, id TabID) error
}

// Storage is a flat durable key-value store. Values are JSON-encoded.
type Storage interface {
	// Get unmarshals the value for key into out. The bool reports whether
	// the key existed.
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, val any) error
}

// Storage keys shared between the engine and the UI collaborator.
const (
	KeyExceptionDomains  = "exceptionDomains"
	KeyCurrentPanelState = "currentPanelState"
)

// ResourceType classifies an intercepted request.
type ResourceType string

const (
	ResourceMainFrame ResourceType = "main_frame"
	ResourceSubFrame  ResourceType = "sub_frame"
	ResourceOther     ResourceType = "other"
)

// Request is a navigation-hook event as delivered by the platform.
type Request struct {
	TabID        TabID
	RequestID    string
	URL          string
	OriginURL    string
	ResourceType ResourceType
}
