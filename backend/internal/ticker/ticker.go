package ticker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/marketdata"
)

// Publisher receives every batch of polled quotes.
type Publisher interface {
	PublishQuotes(quotes []marketdata.Quote)
}

// stepper is implemented by simulated markets that advance on demand.
type stepper interface {
	Step(symbols ...string) []marketdata.Quote
}

// Feed polls a provider for a fixed set of symbols and publishes the quotes.
type Feed struct {
	provider marketdata.Provider
	symbols  []string
	interval time.Duration
	pub      Publisher
	log      *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	latest map[string]marketdata.Quote
}

// NewFeed returns a feed polling symbols every interval.
func NewFeed(p marketdata.Provider, symbols []string, interval time.Duration, pub Publisher, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Feed{
		provider: p,
		symbols:  symbols,
		interval: interval,
		pub:      pub,
		log:      log,
		now:      time.Now,
		latest:   make(map[string]marketdata.Quote),
	}
}

// Run polls until ctx is done.
func (f *Feed) Run(ctx context.Context) {
	if len(f.symbols) == 0 {
		f.log.Info("quote feed disabled: no symbols")
		return
	}
	f.log.Info("quote feed started",
		zap.String("provider", f.provider.Name()),
		zap.Strings("symbols", f.symbols),
		zap.Duration("interval", f.interval))

	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		f.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Poll fetches one round of quotes, records them and publishes them.
// Symbols whose lookup fails are skipped for this round.
func (f *Feed) Poll(ctx context.Context) []marketdata.Quote {
	var quotes []marketdata.Quote
	if s, ok := f.provider.(stepper); ok {
		quotes = s.Step(f.symbols...)
	} else {
		ts := f.now().UnixMilli()
		for _, sym := range f.symbols {
			price, err := f.provider.CurrentPrice(ctx, sym)
			if err != nil {
				f.log.Warn("quote poll failed", zap.String("symbol", sym), zap.Error(err))
				continue
			}
			quotes = append(quotes, marketdata.Quote{Symbol: sym, Price: price, Ts: ts})
		}
	}
	if len(quotes) == 0 {
		return nil
	}

	f.mu.Lock()
	for _, q := range quotes {
		f.latest[q.Symbol] = q
	}
	f.mu.Unlock()

	if f.pub != nil {
		f.pub.PublishQuotes(quotes)
	}
	return quotes
}

// Latest returns a copy of the most recent quote per symbol.
func (f *Feed) Latest() map[string]marketdata.Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]marketdata.Quote, len(f.latest))
	for k, v := range f.latest {
		out[k] = v
	}
	return out
}
