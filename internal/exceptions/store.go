// Package exceptions persists the hostnames a user has explicitly opted to
// keep inside the isolated container.
package exceptions

import (
	"context"
	"fmt"
	"sync"

	"github.com/dgnsrekt/iso_agent/internal/host"
)

// Store is the persisted exception list. The list is a set with stable
// insertion order; every operation is a read-modify-write against durable
// storage, serialized by the store's own mutex since the backing key has no
// optimistic-concurrency check.
type Store struct {
	storage host.Storage
	mu      sync.Mutex
}

func NewStore(storage host.Storage) *Store {
	return &Store{storage: storage}
}

func (s *Store) load(ctx context.Context) ([]string, error) {
	var domains []string
	found, err := s.storage.Get(ctx, host.KeyExceptionDomains, &domains)
	if err != nil {
		return nil, fmt.Errorf("exceptions: load: %w", err)
	}
	if !found {
		// First run: the list starts empty rather than failing.
		return []string{}, nil
	}
	return domains, nil
}

// Add appends hostname to the persisted set. Adding an existing hostname is
// a no-op.
func (s *Store) Add(ctx context.Context, hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	domains, err := s.load(ctx)
	if err != nil {
		return err
	}
	for _, d := range domains {
		if d == hostname {
			return nil
		}
	}
	domains = append(domains, hostname)
	if err := s.storage.Set(ctx, host.KeyExceptionDomains, domains); err != nil {
		return fmt.Errorf("exceptions: persist add: %w", err)
	}
	return nil
}

// Remove deletes hostname from the persisted set. Removing an absent
// hostname is a no-op.
func (s *Store) Remove(ctx context.Context, hostname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	domains, err := s.load(ctx)
	if err != nil {
		return err
	}
	kept := domains[:0]
	for _, d := range domains {
		if d != hostname {
			kept = append(kept, d)
		}
	}
	if len(kept) == len(domains) {
		return nil
	}
	if err := s.storage.Set(ctx, host.KeyExceptionDomains, kept); err != nil {
		return fmt.Errorf("exceptions: persist remove: %w", err)
	}
	return nil
}

// Contains reports whether hostname is exception-listed.
func (s *Store) Contains(ctx context.Context, hostname string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	domains, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range domains {
		if d == hostname {
			return true, nil
		}
	}
	return false, nil
}

// List returns the exception list in insertion order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}
