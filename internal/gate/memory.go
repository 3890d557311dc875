// Package gate holds short-lived claims on order numbers so that two
// deliveries of the same webhook cannot both start an expansion.
package gate

import (
	"context"
	"sync"
	"time"
)

const DefaultClaimTTL = 10 * time.Minute

type MemoryGate struct {
	mu      sync.Mutex
	ttl     time.Duration
	claims  map[string]time.Time
	nowFunc func() time.Time
}

func NewMemoryGate(ttl time.Duration) *MemoryGate {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &MemoryGate{
		ttl:     ttl,
		claims:  make(map[string]time.Time),
		nowFunc: time.Now,
	}
}

func (g *MemoryGate) Claim(_ context.Context, orderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	for id, expires := range g.claims {
		if !now.Before(expires) {
			delete(g.claims, id)
		}
	}

	if _, ok := g.claims[orderID]; ok {
		return false, nil
	}
	g.claims[orderID] = now.Add(g.ttl)
	return true, nil
}

func (g *MemoryGate) Release(_ context.Context, orderID string) error {
	g.mu.Lock()
	delete(g.claims, orderID)
	g.mu.Unlock()
	return nil
}
