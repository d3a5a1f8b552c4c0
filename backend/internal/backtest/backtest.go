// Package backtest replays a fixed momentum rule over a price series
// against a synthetic in-memory account. Nothing is persisted.
package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/marketdata"
	"github.com/user/papertrade/backend/internal/models"
)

// Result is the outcome of one run.
type Result struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
	FinalBalance   decimal.Decimal `json:"final_balance"`
	Profit         decimal.Decimal `json:"profit"`
}

// Run walks prices in order. On a rise it buys one share if the balance
// covers it; on a fall it sells every share held. Shares still held at the
// end are liquidated at the last price.
func Run(prices []decimal.Decimal, initial decimal.Decimal) (Result, error) {
	if len(prices) < 2 {
		return Result{}, &ledger.ValidationError{Msg: "At least two numeric prices are required"}
	}
	if initial.IsNegative() {
		return Result{}, &ledger.ValidationError{Msg: "Initial balance must not be negative"}
	}
	for _, p := range prices {
		if !p.IsPositive() {
			return Result{}, &ledger.ValidationError{Msg: "Prices must be positive numbers"}
		}
	}

	balance := initial
	shares := decimal.Zero
	for i := 1; i < len(prices); i++ {
		prev, price := prices[i-1], prices[i]
		switch {
		case price.GreaterThan(prev):
			// Unaffordable buys are skipped.
			if balance.GreaterThanOrEqual(price) {
				balance = balance.Sub(price)
				shares = shares.Add(decimal.NewFromInt(1))
			}
		case price.LessThan(prev):
			if shares.IsPositive() {
				balance = balance.Add(shares.Mul(price))
				shares = decimal.Zero
			}
		}
	}
	if shares.IsPositive() {
		balance = balance.Add(shares.Mul(prices[len(prices)-1]))
	}

	return Result{
		InitialBalance: initial,
		FinalBalance:   balance,
		Profit:         balance.Sub(initial),
	}, nil
}

// Sanitize keeps the numeric entries of a decoded JSON array: finite
// numbers and strings that parse as decimals. Everything else is dropped.
func Sanitize(raw []any) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(raw))
	for _, v := range raw {
		switch x := v.(type) {
		case float64:
			if !math.IsNaN(x) && !math.IsInf(x, 0) {
				out = append(out, decimal.NewFromFloat(x))
			}
		case json.Number:
			if d, err := decimal.NewFromString(x.String()); err == nil {
				out = append(out, d)
			}
		case string:
			if d, err := decimal.NewFromString(strings.TrimSpace(x)); err == nil {
				out = append(out, d)
			}
		case int:
			out = append(out, decimal.NewFromInt(int64(x)))
		case int64:
			out = append(out, decimal.NewFromInt(x))
		case decimal.Decimal:
			out = append(out, x)
		}
	}
	return out
}

// RunSymbol fetches closes for symbol over period and runs them.
func RunSymbol(ctx context.Context, p marketdata.Provider, symbol, period string, initial decimal.Decimal) (Result, error) {
	symbol = models.NormalizeSymbol(symbol)
	if symbol == "" {
		return Result{}, &ledger.ValidationError{Msg: "Symbol is required"}
	}
	if period == "" {
		period = marketdata.DefaultPeriod
	}
	closes, err := p.HistoricalCloses(ctx, symbol, period)
	if errors.Is(err, marketdata.ErrUnknownPeriod) {
		return Result{}, &ledger.ValidationError{Msg: "Period must be one of " + strings.Join(marketdata.Periods, ", ")}
	}
	if err != nil {
		return Result{}, err
	}
	return Run(marketdata.Prices(closes), initial)
}
