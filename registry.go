package main

import (
	"context"
	"strings"
	"sync"
	"time"
)

// ClientFactory builds and initializes a client for one cookie string.
type ClientFactory func(ctx context.Context, cookie string) (*SunoClient, error)

type registryEntry struct {
	client  *SunoClient
	created time.Time
}

// Registry caches initialized clients by their raw cookie string.
//
// Bootstrap runs outside the lock: two first requests for the same cookie may
// both initialize a client, and whichever stores last is kept. Bootstrap is
// idempotent on the remote side, so the duplicate only costs a round trip.
type Registry struct {
	factory ClientFactory
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]registryEntry
}

type RegistryOption func(*Registry)

// WithTTL evicts entries older than ttl on lookup. Zero keeps them forever.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) { r.ttl = ttl }
}

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(factory ClientFactory, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory: factory,
		now:     time.Now,
		entries: make(map[string]registryEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the cached client for cookie, creating it on first use.
func (r *Registry) Get(ctx context.Context, cookie string) (*SunoClient, error) {
	cookie = strings.TrimSpace(cookie)
	if cookie == "" {
		return nil, ErrNoCookie
	}

	if client, ok := r.lookup(cookie); ok {
		return client, nil
	}

	client, err := r.factory(ctx, cookie)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entries[cookie] = registryEntry{client: client, created: r.now()}
	r.mu.Unlock()
	return client, nil
}

func (r *Registry) lookup(cookie string) (*SunoClient, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[cookie]
	if !ok {
		return nil, false
	}
	if r.ttl > 0 && r.now().Sub(entry.created) >= r.ttl {
		delete(r.entries, cookie)
		return nil, false
	}
	return entry.client, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
