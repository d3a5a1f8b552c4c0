package ledger

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/models"
)

// PriceSource supplies current market prices for valuation.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// History returns every trade of the user, newest first.
func (e *Engine) History(ctx context.Context, userID string) ([]*models.Trade, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("User id is required")
	}
	trades, err := e.store.ListTrades(ctx, userID)
	if err != nil {
		return nil, persistence("list trades", err)
	}
	if trades == nil {
		trades = make([]*models.Trade, 0)
	}
	return trades, nil
}

// Performance returns the user's balance and positions, creating the
// default ledger on first use.
func (e *Engine) Performance(ctx context.Context, userID string) (*models.Performance, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("User id is required")
	}
	l, err := e.store.GetOrCreateLedger(ctx, userID)
	if err != nil {
		return nil, persistence("load ledger", err)
	}
	return &models.Performance{
		Balance:     l.Balance,
		Positions:   l.Clone().Positions,
		LastUpdated: l.LastUpdated,
	}, nil
}

// Valuation marks every position to market using prices. A failed lookup
// leaves that position unpriced and the valuation incomplete; it is never
// an error for the whole call.
func (e *Engine) Valuation(ctx context.Context, userID string, prices PriceSource) (*models.Valuation, error) {
	perf, err := e.Performance(ctx, userID)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(perf.Positions))
	for s := range perf.Positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	v := &models.Valuation{
		Balance:     perf.Balance,
		Positions:   make([]models.PositionValue, 0, len(symbols)),
		Equity:      perf.Balance,
		Complete:    true,
		LastUpdated: perf.LastUpdated,
	}
	for _, s := range symbols {
		pv := models.PositionValue{Symbol: s, Quantity: perf.Positions[s]}
		price, err := prices.CurrentPrice(ctx, s)
		if err != nil {
			e.log.Warn("price unavailable for valuation", zap.String("symbol", s), zap.Error(err))
			v.Complete = false
		} else {
			pv.Price = price
			pv.MarketValue = price.Mul(pv.Quantity)
			pv.PriceAvailable = true
			v.Equity = v.Equity.Add(pv.MarketValue)
		}
		v.Positions = append(v.Positions, pv)
	}
	return v, nil
}

// AddFunds credits amount to the user's cash balance and returns the new
// balance. Any positive amount is accepted.
func (e *Engine) AddFunds(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" || !amount.IsPositive() {
		return decimal.Zero, invalid("Invalid input")
	}

	release := e.locks.lock(userID)
	defer release()

	current, err := e.store.GetOrCreateLedger(ctx, userID)
	if err != nil {
		return decimal.Zero, persistence("load ledger", err)
	}
	next := current.Clone()
	next.Balance = next.Balance.Add(amount)
	next.LastUpdated = e.timestamp()

	if err := e.store.SaveLedger(ctx, next); err != nil {
		return decimal.Zero, persistence("save ledger", err)
	}
	e.log.Info("funds added",
		zap.String("user_id", userID),
		zap.Stringer("amount", amount),
		zap.Stringer("balance", next.Balance))
	return next.Balance, nil
}
