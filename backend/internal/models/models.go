package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Balances, quantities and prices go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// DefaultBalance is the cash every ledger starts with.
var DefaultBalance = decimal.NewFromInt(100000)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide normalises a raw side string. ok is false for anything other
// than buy or sell.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	default:
		return "", false
	}
}

// NormalizeSymbol trims and upper-cases a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// User represents a user account
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"` // Store hash, exclude from JSON responses
	CreatedAt time.Time `json:"created_at"`
}

// Ledger is a user's paper-trading account: cash plus share positions.
type Ledger struct {
	UserID      string                     `json:"userId"`
	Balance     decimal.Decimal            `json:"balance"`
	Positions   map[string]decimal.Decimal `json:"positions"`
	LastUpdated time.Time                  `json:"lastUpdated"`

	// Version is bumped on every successful save. Zero means the ledger
	// has never been persisted.
	Version int64 `json:"-"`
}

// NewLedger returns a ledger holding DefaultBalance and no positions.
func NewLedger(userID string, now time.Time) *Ledger {
	return &Ledger{
		UserID:      userID,
		Balance:     DefaultBalance,
		Positions:   make(map[string]decimal.Decimal),
		LastUpdated: now,
	}
}

// Held returns the quantity held for symbol, zero when absent.
func (l *Ledger) Held(symbol string) decimal.Decimal {
	if q, ok := l.Positions[symbol]; ok {
		return q
	}
	return decimal.Zero
}

// Clone returns a deep copy so callers can mutate without touching l.
func (l *Ledger) Clone() *Ledger {
	c := *l
	c.Positions = make(map[string]decimal.Decimal, len(l.Positions))
	for k, v := range l.Positions {
		c.Positions[k] = v
	}
	return &c
}

// Trade is an executed paper trade. Trades are never modified.
type Trade struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Symbol    string          `json:"symbol"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Side      Side            `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
}

// Performance is the read-only view of a ledger.
type Performance struct {
	Balance     decimal.Decimal            `json:"balance"`
	Positions   map[string]decimal.Decimal `json:"positions"`
	LastUpdated time.Time                  `json:"lastUpdated"`
}

// PositionValue is one holding priced at the current market.
type PositionValue struct {
	Symbol         string          `json:"symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	MarketValue    decimal.Decimal `json:"marketValue"`
	PriceAvailable bool            `json:"priceAvailable"`
}

// Valuation is a performance snapshot with positions marked to market.
// Equity only counts positions whose price was available.
type Valuation struct {
	Balance     decimal.Decimal `json:"balance"`
	Positions   []PositionValue `json:"positions"`
	Equity      decimal.Decimal `json:"equity"`
	Complete    bool            `json:"complete"`
	LastUpdated time.Time       `json:"lastUpdated"`
}
