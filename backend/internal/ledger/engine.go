// Package ledger is the paper-trading core: it validates and applies
// orders against a user's cash balance and share positions, and serves
// the read-only views of that state.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/id"
	"github.com/user/papertrade/backend/internal/models"
)

// Notifier is told about every trade after it has been committed.
type Notifier interface {
	TradeExecuted(t *models.Trade)
}

// Order is a buy or sell request for one user.
type Order struct {
	UserID   string
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal
	Side     string
}

// Validate runs the checks that need no ledger state: required fields,
// positive quantity and price, and a known side.
func Validate(o Order) error {
	_, err := validate(o, true)
	return err
}

// ValidateMarket is Validate for an order that will be filled at the market
// price, so its Price is ignored.
func ValidateMarket(o Order) error {
	_, err := validate(o, false)
	return err
}

func validate(o Order, priced bool) (models.Side, error) {
	if strings.TrimSpace(o.UserID) == "" || models.NormalizeSymbol(o.Symbol) == "" ||
		strings.TrimSpace(o.Side) == "" || o.Quantity.IsZero() || (priced && o.Price.IsZero()) {
		return "", invalid("Missing required fields")
	}
	if !o.Quantity.IsPositive() || (priced && !o.Price.IsPositive()) {
		return "", invalid("Quantity and price must be positive numbers")
	}
	side, ok := models.ParseSide(o.Side)
	if !ok {
		return "", invalid("Side must be buy or sell")
	}
	return side, nil
}

// Engine is the only place where cash and shares move.
type Engine struct {
	store    Store
	log      *zap.Logger
	notifier Notifier
	currency string
	now      func() time.Time
	newID    func(time.Time) string
	locks    *userLocks
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier registers n to receive executed trades.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithCurrency sets the ISO code used when formatting amounts in error
// messages.
func WithCurrency(code string) Option {
	return func(e *Engine) { e.currency = strings.ToUpper(code) }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds an Engine over store.
func NewEngine(store Store, log *zap.Logger, opts ...Option) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		store:    store,
		log:      log,
		currency: "USD",
		now:      time.Now,
		newID:    id.At,
		locks:    newUserLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) timestamp() time.Time {
	// Postgres keeps microseconds; truncating keeps both stores identical.
	return e.now().UTC().Truncate(time.Microsecond)
}

// Execute validates o and, if every precondition holds, applies it to the
// user's ledger and appends a trade record. Preconditions are checked in
// this order: required fields and positivity, side, shares held (sell),
// funds available (buy). A rejected order changes nothing.
func (e *Engine) Execute(ctx context.Context, o Order) (*models.Trade, error) {
	side, err := validate(o, true)
	if err != nil {
		return nil, err
	}
	userID := strings.TrimSpace(o.UserID)
	symbol := models.NormalizeSymbol(o.Symbol)

	release := e.locks.lock(userID)
	defer release()

	current, err := e.store.GetOrCreateLedger(ctx, userID)
	if err != nil {
		return nil, persistence("load ledger", err)
	}

	next := current.Clone()
	value := o.Quantity.Mul(o.Price)

	switch side {
	case models.SideSell:
		held := next.Held(symbol)
		if held.LessThan(o.Quantity) {
			e.log.Debug("sell rejected",
				zap.String("user_id", userID),
				zap.String("symbol", symbol),
				zap.Stringer("held", held),
				zap.Stringer("requested", o.Quantity))
			return nil, &InsufficientSharesError{Symbol: symbol, Held: held, Requested: o.Quantity}
		}
		next.Balance = next.Balance.Add(value)
		if remaining := held.Sub(o.Quantity); remaining.IsZero() {
			delete(next.Positions, symbol)
		} else {
			next.Positions[symbol] = remaining
		}

	case models.SideBuy:
		if next.Balance.LessThan(value) {
			e.log.Debug("buy rejected",
				zap.String("user_id", userID),
				zap.String("symbol", symbol),
				zap.Stringer("required", value),
				zap.Stringer("available", next.Balance))
			return nil, &InsufficientFundsError{Required: value, Available: next.Balance, Currency: e.currency}
		}
		next.Balance = next.Balance.Sub(value)
		next.Positions[symbol] = next.Held(symbol).Add(o.Quantity)
	}

	now := e.timestamp()
	next.LastUpdated = now
	trade := &models.Trade{
		ID:        e.newID(now),
		UserID:    userID,
		Symbol:    symbol,
		Quantity:  o.Quantity,
		Price:     o.Price,
		Side:      side,
		Timestamp: now,
	}

	if err := e.store.CommitTrade(ctx, next, trade); err != nil {
		e.log.Error("commit trade failed",
			zap.String("user_id", userID),
			zap.String("trade_id", trade.ID),
			zap.Error(err))
		return nil, persistence("commit trade", err)
	}

	e.log.Info("trade executed",
		zap.String("user_id", userID),
		zap.String("trade_id", trade.ID),
		zap.String("side", string(side)),
		zap.String("symbol", symbol),
		zap.Stringer("quantity", trade.Quantity),
		zap.Stringer("price", trade.Price),
		zap.Stringer("balance", next.Balance))

	if e.notifier != nil {
		e.notifier.TradeExecuted(trade)
	}
	return trade, nil
}
