// Package marketdata is the contract the rest of the service uses to look
// up stock prices, plus the adapters that implement it. Lookups are best
// effort: every failure surfaces as an UpstreamUnavailableError and never
// touches ledger state.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Close is one historical closing price.
type Close struct {
	Date  time.Time       `json:"date"`
	Price decimal.Decimal `json:"price"`
}

// Provider looks up current and historical prices for a symbol.
type Provider interface {
	Name() string
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	// HistoricalCloses returns closes in chronological order.
	HistoricalCloses(ctx context.Context, symbol, period string) ([]Close, error)
}

// ErrNoPrice is wrapped when the upstream answered but carried no usable price.
var ErrNoPrice = errors.New("no price in response")

// ErrUnknownPeriod is returned for a period outside Periods.
var ErrUnknownPeriod = errors.New("unknown period")

// UpstreamUnavailableError reports a failed or unusable provider lookup.
type UpstreamUnavailableError struct {
	Provider string
	Symbol   string
	Err      error
}

func (e *UpstreamUnavailableError) Error() string {
	return fmt.Sprintf("market data unavailable from %s for %s: %v", e.Provider, e.Symbol, e.Err)
}

func (e *UpstreamUnavailableError) Unwrap() error { return e.Err }

func unavailable(provider, symbol string, err error) error {
	return &UpstreamUnavailableError{Provider: provider, Symbol: symbol, Err: err}
}

// Periods are the history windows understood by every provider.
var Periods = []string{"1m", "6m", "1yr", "3yr", "5yr", "10yr", "max"}

// DefaultPeriod is used when a caller leaves the period empty.
const DefaultPeriod = "1m"

// PeriodStart returns the first instant covered by period, counted back from now.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "", "1m":
		return now.AddDate(0, -1, 0), nil
	case "6m":
		return now.AddDate(0, -6, 0), nil
	case "1yr":
		return now.AddDate(-1, 0, 0), nil
	case "3yr":
		return now.AddDate(-3, 0, 0), nil
	case "5yr":
		return now.AddDate(-5, 0, 0), nil
	case "10yr":
		return now.AddDate(-10, 0, 0), nil
	case "max":
		return time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, fmt.Errorf("%w %q", ErrUnknownPeriod, period)
	}
}

// Prices strips the dates from closes.
func Prices(closes []Close) []decimal.Decimal {
	out := make([]decimal.Decimal, len(closes))
	for i, c := range closes {
		out[i] = c.Price
	}
	return out
}

// Options selects and configures a Provider.
type Options struct {
	Kind          string // sim, indianapi or polygon
	IndianAPIKey  string
	IndianAPIBase string
	PolygonKey    string
	SimSeed       int64
}

// New builds the provider named by o.Kind.
func New(o Options) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(o.Kind)) {
	case "", "sim":
		return NewSim(o.SimSeed), nil
	case "indianapi":
		if o.IndianAPIKey == "" {
			return nil, errors.New("indianapi provider needs INDIAN_API_KEY")
		}
		return NewIndianAPI(nil, o.IndianAPIBase, o.IndianAPIKey), nil
	case "polygon":
		if o.PolygonKey == "" {
			return nil, errors.New("polygon provider needs POLYGON_API_KEY")
		}
		return NewPolygon(o.PolygonKey), nil
	default:
		return nil, fmt.Errorf("unknown market data provider %q", o.Kind)
	}
}
