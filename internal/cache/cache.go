package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// AnalyticsCache stores derived report payloads. Invalidate drops every entry
// at once and advances the generation; it is called after each committed sale
// or void. SetAt stores a value computed under gen and must not make it
// readable once the generation has moved on.
type AnalyticsCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Generation(ctx context.Context) (int64, error)
	SetAt(ctx context.Context, gen int64, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type NoopAnalyticsCache struct{}

func (NoopAnalyticsCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopAnalyticsCache) Generation(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopAnalyticsCache) SetAt(_ context.Context, _ int64, _ string, _ []byte, _ time.Duration) error {
	return nil
}

func (NoopAnalyticsCache) Invalidate(_ context.Context) error {
	return nil
}

func GetJSON[T any](ctx context.Context, c AnalyticsCache, key string) (T, bool, error) {
	var out T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, err
	}
	return out, true, nil
}

// SetJSON encodes value and stores it under the generation it was computed in.
func SetJSON(ctx context.Context, c AnalyticsCache, gen int64, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.SetAt(ctx, gen, key, payload, ttl)
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryAnalyticsCache is a process-local TTL cache.
type MemoryAnalyticsCache struct {
	mu      sync.Mutex
	entries map[string]entry
	gen     int64
	now     func() time.Time
}

func NewMemoryAnalyticsCache() *MemoryAnalyticsCache {
	return &MemoryAnalyticsCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (c *MemoryAnalyticsCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryAnalyticsCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen, nil
}

// SetAt drops the value when an invalidation happened after gen was read.
func (c *MemoryAnalyticsCache) SetAt(_ context.Context, gen int64, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen {
		return nil
	}
	c.pruneLocked()
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryAnalyticsCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.gen++
	return nil
}

func (c *MemoryAnalyticsCache) pruneLocked() {
	now := c.now()
	for key, e := range c.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
}
