// Package signal fans engine signals out to UI subscribers over a buffered
// broker suited to SSE delivery.
package signal

import (
	"sync"
	"sync/atomic"

	"github.com/dgnsrekt/iso_agent/internal/host"
)

const subscriberBufSize = 64

// Kind labels a sub-resource classification signal.
type Kind string

const (
	KindTrackedDomain Kind = "tracked-domain"
	KindBlocked       Kind = "blocked-subresources"
	KindAllowed       Kind = "allowed-subresources"
)

// Event is a single signal destined for the UI.
type Event struct {
	TabID host.TabID `json:"tab_id"`
	Kind  Kind       `json:"kind"`
	URL   string     `json:"url,omitempty"`
}

// Broker fans out events to all subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{subscribers: make(map[int64]chan Event)}
}

// Subscribe registers a new client. The channel is buffered; slow consumers
// have events dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers without blocking.
func (b *Broker) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
