package mapping

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache serves the mapping with bounded staleness: a read past the TTL
// reloads synchronously, concurrent reads share one reload, and within the
// TTL the cached snapshot is returned as is.
type Cache struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	mapping map[string]string
	loaded  time.Time

	group singleflight.Group
}

func NewCache(source Source, ttl time.Duration) *Cache {
	return &Cache{source: source, ttl: ttl, now: time.Now}
}

// Mapping returns the current worker -> hotkey map, reloading if the cached
// snapshot is older than the TTL. Callers must not mutate the result.
func (c *Cache) Mapping(ctx context.Context) (map[string]string, error) {
	c.mu.RLock()
	mapping, loaded := c.mapping, c.loaded
	c.mu.RUnlock()
	if mapping != nil && c.now().Sub(loaded) < c.ttl {
		return mapping, nil
	}

	v, err, _ := c.group.Do("mapping", func() (any, error) {
		fresh, err := c.source.LoadMapping(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.mapping = fresh
		c.loaded = c.now()
		c.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]string), nil
}

// Hotkey resolves the hotkey a worker is bound to.
func (c *Cache) Hotkey(ctx context.Context, worker string) (string, bool, error) {
	mapping, err := c.Mapping(ctx)
	if err != nil {
		return "", false, err
	}
	hotkey, ok := mapping[worker]
	return hotkey, ok, nil
}

// Worker returns one worker bound to the hotkey, if any.
func (c *Cache) Worker(ctx context.Context, hotkey string) (string, bool, error) {
	mapping, err := c.Mapping(ctx)
	if err != nil {
		return "", false, err
	}
	for worker, hk := range mapping {
		if hk == hotkey {
			return worker, true, nil
		}
	}
	return "", false, nil
}
