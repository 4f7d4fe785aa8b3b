package quote

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type cachedEntry struct {
	price     float64
	expiresAt time.Time
}

// Cached shares quotes between concurrent callers. Simultaneous misses for
// one symbol collapse into a single upstream call, and a successful result is
// reused for TTL. A TTL of zero only coalesces in-flight calls.
type Cached struct {
	src Source
	ttl time.Duration
	now func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	items map[string]cachedEntry
}

func NewCached(src Source, ttl time.Duration) *Cached {
	return &Cached{src: src, ttl: ttl, now: time.Now, items: map[string]cachedEntry{}}
}

func (c *Cached) Fetch(ctx context.Context, symbol string) (float64, error) {
	c.mu.RLock()
	e, ok := c.items[symbol]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.price, nil
	}

	ch := c.group.DoChan(symbol, func() (any, error) {
		// Detached from any single caller so one cancellation does not fail the others.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callBudget(ctx))
		defer cancel()
		p, err := c.src.Fetch(fctx, symbol)
		if err != nil {
			return 0.0, err
		}
		c.mu.Lock()
		if c.ttl > 0 {
			c.items[symbol] = cachedEntry{price: p, expiresAt: c.now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return p, nil
	})

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return 0, r.Err
		}
		return r.Val.(float64), nil
	}
}

// SetTTL changes the cache lifetime for future entries.
func (c *Cached) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	c.ttl = ttl
	c.items = map[string]cachedEntry{}
	c.mu.Unlock()
}

func callBudget(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
	}
	return 30 * time.Second
}
