package marketdata

import (
	"context"
	"hash/fnv"
	"math/rand"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// maxSimDays caps the history generated for "max".
const maxSimDays = 20 * 365

// Sim is an in-process random-walk market used for development and tests.
// Unknown symbols get a stable starting price derived from their name.
type Sim struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	now    func() time.Time
}

// NewSim returns a simulated market seeded with seed.
func NewSim(seed int64) *Sim {
	return &Sim{
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64),
		now:    time.Now,
	}
}

func (s *Sim) Name() string { return "sim" }

// Set pins the current price of symbol.
func (s *Sim) Set(symbol string, price float64) {
	s.mu.Lock()
	s.prices[symbol] = price
	s.mu.Unlock()
}

// price returns the tracked price of symbol, or its seed price. Lookups
// never start tracking a symbol; only Set and Step do.
func (s *Sim) price(symbol string) float64 {
	if p, ok := s.prices[symbol]; ok {
		return p
	}
	return seedPrice(symbol)
}

// CurrentPrice returns the last simulated price for symbol.
func (s *Sim) CurrentPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return decimal.NewFromFloat(s.price(symbol)).Round(2), nil
}

// Quote is a point-in-time price for one symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Ts     int64           `json:"ts"` // Unix timestamp milliseconds
}

// Step moves symbols by up to 0.5% in either direction and returns the new
// quotes, sorted by symbol. With no symbols it moves every tracked one.
func (s *Sim) Step(symbols ...string) []Quote {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(symbols))
	if len(symbols) == 0 {
		for k := range s.prices {
			keys = append(keys, k)
		}
	} else {
		keys = append(keys, symbols...)
	}
	sort.Strings(keys)
	keys = slices.Compact(keys)

	ts := s.now().UnixMilli()
	quotes := make([]Quote, 0, len(keys))
	for _, sym := range keys {
		oldPrice := s.price(sym)
		changePercent := (s.rng.Float64() - 0.5) / 100
		newPrice := oldPrice * (1 + changePercent)
		if newPrice <= 0.01 {
			newPrice = oldPrice
		}
		s.prices[sym] = newPrice
		quotes = append(quotes, Quote{Symbol: sym, Price: decimal.NewFromFloat(newPrice).Round(2), Ts: ts})
	}
	return quotes
}

// HistoricalCloses walks backwards from the current price, one close per
// calendar day. The same symbol and period always produce the same series
// for a given current price.
func (s *Sim) HistoricalCloses(_ context.Context, symbol, period string) ([]Close, error) {
	now := s.now().UTC().Truncate(24 * time.Hour)
	from, err := PeriodStart(period, now)
	if err != nil {
		return nil, err
	}
	days := int(now.Sub(from).Hours() / 24)
	if days > maxSimDays {
		days = maxSimDays
	}
	if days < 2 {
		days = 2
	}

	s.mu.Lock()
	last := s.price(symbol)
	s.mu.Unlock()

	rng := rand.New(rand.NewSource(int64(symbolHash(symbol)) + int64(days)))
	raw := make([]float64, days)
	raw[days-1] = last
	for i := days - 2; i >= 0; i-- {
		p := raw[i+1] * (1 + (rng.Float64()-0.5)/50)
		if p <= 0.01 {
			p = raw[i+1]
		}
		raw[i] = p
	}

	closes := make([]Close, days)
	for i, p := range raw {
		closes[i] = Close{
			Date:  now.AddDate(0, 0, i-(days-1)),
			Price: decimal.NewFromFloat(p).Round(2),
		}
	}
	return closes, nil
}

func symbolHash(symbol string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return h.Sum32()
}

// seedPrice maps a symbol to a starting price between 50 and 1050.
func seedPrice(symbol string) float64 {
	return 50 + float64(symbolHash(symbol)%100000)/100
}
