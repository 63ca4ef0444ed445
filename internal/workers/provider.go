// Package workers tracks which worker accounts currently exist on the pool.
package workers

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hashtensor/validator/internal/metrics"
)

// UptimeSource yields the pool's uptime series; workers with a reported start
// time are considered to exist.
type UptimeSource interface {
	Uptimes(ctx context.Context) (map[metrics.MinerKey]float64, error)
}

// Provider caches the pool's live worker set for a TTL so registration
// bursts do not hammer the telemetry backend. Concurrent refreshes collapse
// into one fetch.
type Provider struct {
	source UptimeSource
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	set     map[metrics.MinerKey]struct{}
	fetched time.Time

	group singleflight.Group
}

func NewProvider(source UptimeSource, ttl time.Duration) *Provider {
	return &Provider{source: source, ttl: ttl, now: time.Now}
}

// Exists reports whether the pool currently knows the worker under the given
// wallet.
func (p *Provider) Exists(ctx context.Context, wallet, worker string) (bool, error) {
	set, err := p.workerSet(ctx)
	if err != nil {
		return false, err
	}
	_, ok := set[metrics.MinerKey{Wallet: wallet, Worker: worker}]
	return ok, nil
}

func (p *Provider) workerSet(ctx context.Context) (map[metrics.MinerKey]struct{}, error) {
	p.mu.RLock()
	set, fetched := p.set, p.fetched
	p.mu.RUnlock()
	if set != nil && p.now().Sub(fetched) < p.ttl {
		return set, nil
	}

	v, err, _ := p.group.Do("workers", func() (any, error) {
		uptimes, err := p.source.Uptimes(ctx)
		if err != nil {
			return nil, err
		}
		fresh := make(map[metrics.MinerKey]struct{}, len(uptimes))
		for key, uptime := range uptimes {
			if uptime > 0 {
				fresh[key] = struct{}{}
			}
		}
		p.mu.Lock()
		p.set = fresh
		p.fetched = p.now()
		p.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[metrics.MinerKey]struct{}), nil
}
