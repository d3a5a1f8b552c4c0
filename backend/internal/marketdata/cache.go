package marketdata

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/shopspring/decimal"
)

// Cached wraps a Provider with a TTL cache. Failures are not cached.
type Cached struct {
	Provider
	c   *ristretto.Cache
	ttl time.Duration
}

// NewCached caches lookups made through p for ttl.
func NewCached(p Provider, maxCost int64, ttl time.Duration) (*Cached, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{Provider: p, c: c, ttl: ttl}, nil
}

func (c *Cached) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := "price:" + symbol
	if v, ok := c.c.Get(key); ok {
		return v.(decimal.Decimal), nil
	}
	d, err := c.Provider.CurrentPrice(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	c.c.SetWithTTL(key, d, 1, c.ttl)
	return d, nil
}

func (c *Cached) HistoricalCloses(ctx context.Context, symbol, period string) ([]Close, error) {
	key := "history:" + symbol + ":" + period
	if v, ok := c.c.Get(key); ok {
		return append([]Close(nil), v.([]Close)...), nil
	}
	closes, err := c.Provider.HistoricalCloses(ctx, symbol, period)
	if err != nil {
		return nil, err
	}
	c.c.SetWithTTL(key, append([]Close(nil), closes...), int64(len(closes)), c.ttl)
	return closes, nil
}

// Wait blocks until pending cache writes are visible.
func (c *Cached) Wait() { c.c.Wait() }

// Close stops the cache's background goroutines.
func (c *Cached) Close() { c.c.Close() }
