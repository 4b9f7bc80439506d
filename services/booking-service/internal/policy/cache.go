package policy

import (
	"context"
	"sync"
	"time"

	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/model"
)

// CachedStore serves rules and windows from memory for ttl. Writes through
// this store invalidate the tenant entry immediately, and a load that was in
// flight during such a write is returned but not cached. Writes made by other
// replicas become visible after at most ttl.
type CachedStore struct {
	next Store
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
	gens    map[string]uint64
}

type cacheEntry struct {
	rule     model.BookingRule
	windows  []model.AvailabilityWindow
	loadedAt time.Time
}

func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, ttl: ttl, now: time.Now, entries: map[string]cacheEntry{}, gens: map[string]uint64{}}
}

func (c *CachedStore) entry(ctx context.Context, tenantID string) (cacheEntry, error) {
	c.mu.Lock()
	e, ok := c.entries[tenantID]
	gen := c.gens[tenantID]
	c.mu.Unlock()
	if ok && c.now().Sub(e.loadedAt) < c.ttl {
		return e, nil
	}

	rule, err := c.next.Rule(ctx, tenantID)
	if err != nil {
		return cacheEntry{}, err
	}
	windows, err := c.next.Windows(ctx, tenantID)
	if err != nil {
		return cacheEntry{}, err
	}
	e = cacheEntry{rule: rule, windows: windows, loadedAt: c.now()}
	c.mu.Lock()
	if c.gens[tenantID] == gen {
		c.entries[tenantID] = e
	}
	c.mu.Unlock()
	return e, nil
}

func (c *CachedStore) invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.gens[tenantID]++
	c.mu.Unlock()
}

func (c *CachedStore) Rule(ctx context.Context, tenantID string) (model.BookingRule, error) {
	e, err := c.entry(ctx, tenantID)
	if err != nil {
		return model.BookingRule{}, err
	}
	return cloneRule(e.rule), nil
}

func (c *CachedStore) PutRule(ctx context.Context, rule model.BookingRule) error {
	defer c.invalidate(rule.TenantID)
	return c.next.PutRule(ctx, rule)
}

func (c *CachedStore) Windows(ctx context.Context, tenantID string) ([]model.AvailabilityWindow, error) {
	e, err := c.entry(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]model.AvailabilityWindow, len(e.windows))
	copy(out, e.windows)
	return out, nil
}

func (c *CachedStore) AddWindow(ctx context.Context, w model.AvailabilityWindow) (model.AvailabilityWindow, error) {
	defer c.invalidate(w.TenantID)
	return c.next.AddWindow(ctx, w)
}

func (c *CachedStore) DeleteWindow(ctx context.Context, tenantID, windowID string) error {
	defer c.invalidate(tenantID)
	return c.next.DeleteWindow(ctx, tenantID, windowID)
}

func (c *CachedStore) Service(ctx context.Context, tenantID, serviceID string) (model.Service, error) {
	return c.next.Service(ctx, tenantID, serviceID)
}

func (c *CachedStore) PutService(ctx context.Context, svc model.Service) error {
	return c.next.PutService(ctx, svc)
}
