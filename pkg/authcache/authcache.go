// Package authcache holds short-lived bearer tokens for outbound service
// calls. The cache is an explicit object handed to clients by reference, and
// concurrent callers racing for an expired token share a single in-flight
// refresh instead of issuing duplicates.
package authcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Token is a bearer credential with its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// RefreshFunc fetches a fresh token for the given resource.
type RefreshFunc func(ctx context.Context, resource string) (Token, error)

// Cache caches tokens per resource string.
type Cache struct {
	refresh RefreshFunc
	leeway  time.Duration

	mu     sync.RWMutex
	tokens map[string]Token
	group  singleflight.Group
}

// Option customises cache behaviour.
type Option func(*Cache)

// WithLeeway treats tokens as expired this long before their real expiry,
// so callers never hand out a token that dies mid-request.
func WithLeeway(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.leeway = d
		}
	}
}

// New creates a token cache backed by the provided refresh function.
func New(refresh RefreshFunc, opts ...Option) *Cache {
	c := &Cache{
		refresh: refresh,
		leeway:  30 * time.Second,
		tokens:  make(map[string]Token),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a valid token for the resource, refreshing it when missing or
// expiring. Concurrent callers for the same resource share one refresh.
func (c *Cache) Get(ctx context.Context, resource string) (Token, error) {
	c.mu.RLock()
	tok, ok := c.tokens[resource]
	c.mu.RUnlock()
	if ok && time.Until(tok.ExpiresAt) > c.leeway {
		return tok, nil
	}

	v, err, _ := c.group.Do(resource, func() (any, error) {
		// Re-check under the group: a racing caller may have refreshed
		// while we waited for the flight slot.
		c.mu.RLock()
		cur, ok := c.tokens[resource]
		c.mu.RUnlock()
		if ok && time.Until(cur.ExpiresAt) > c.leeway {
			return cur, nil
		}
		fresh, err := c.refresh(ctx, resource)
		if err != nil {
			return Token{}, err
		}
		c.mu.Lock()
		c.tokens[resource] = fresh
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Invalidate drops the cached token for a resource, forcing the next Get to
// refresh. Used after a 401 from the downstream service.
func (c *Cache) Invalidate(resource string) {
	c.mu.Lock()
	delete(c.tokens, resource)
	c.mu.Unlock()
}
