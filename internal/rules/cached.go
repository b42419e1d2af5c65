package rules

import (
	"context"
	"sync"
	"time"
)

// Compile-time check that Cached implements Store.
var _ Store = (*Cached)(nil)

// Cached wraps a Store with a TTL read-through cache over the enabled rule
// list. Admin writes go through Update, which invalidates immediately, so a
// configuration change takes effect within at most one TTL on other
// processes and immediately on this one.
type Cached struct {
	inner Store
	ttl   time.Duration

	mu          sync.Mutex
	enabled     []*Rule
	expires     time.Time
	ensuredOnce bool
	ensureAfter time.Time
}

// NewCached wraps inner with a cache of the given TTL.
func NewCached(inner Store, ttl time.Duration) *Cached {
	return &Cached{inner: inner, ttl: ttl}
}

// EnsureCatalog forwards to the inner store, at most once per TTL. The
// catalog cannot shrink between calls, so skipping repeats inside the
// window is safe.
func (c *Cached) EnsureCatalog(ctx context.Context) error {
	c.mu.Lock()
	if c.ensuredOnce && time.Now().Before(c.ensureAfter) {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.inner.EnsureCatalog(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.ensuredOnce = true
	c.ensureAfter = time.Now().Add(c.ttl)
	c.mu.Unlock()
	return nil
}

// ListEnabled serves from cache while fresh, refreshing from the inner
// store on expiry.
func (c *Cached) ListEnabled(ctx context.Context) ([]*Rule, error) {
	c.mu.Lock()
	if c.enabled != nil && time.Now().Before(c.expires) {
		out := copyRules(c.enabled)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	fresh, err := c.inner.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.enabled = fresh
	c.expires = time.Now().Add(c.ttl)
	out := copyRules(c.enabled)
	c.mu.Unlock()
	return out, nil
}

func (c *Cached) List(ctx context.Context) ([]*Rule, error) {
	return c.inner.List(ctx)
}

func (c *Cached) Get(ctx context.Context, key Key) (*Rule, error) {
	return c.inner.Get(ctx, key)
}

// Update writes through to the inner store and invalidates the cache.
func (c *Cached) Update(ctx context.Context, key Key, u Update) (*Rule, error) {
	r, err := c.inner.Update(ctx, key, u)
	if err != nil {
		return nil, err
	}
	c.Invalidate()
	return r, nil
}

// Invalidate drops the cached enabled list; the next read refreshes.
func (c *Cached) Invalidate() {
	c.mu.Lock()
	c.enabled = nil
	c.mu.Unlock()
}

func copyRules(in []*Rule) []*Rule {
	out := make([]*Rule, len(in))
	for i, r := range in {
		cp := *r
		out[i] = &cp
	}
	return out
}
