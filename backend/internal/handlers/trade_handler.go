package handlers

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/marketdata"
	"github.com/user/papertrade/backend/internal/middleware"
	"github.com/user/papertrade/backend/internal/models"
)

// TradeRequest is the body of POST /trade. user_id is accepted as an alias
// of userId; when both are empty the authenticated user is used.
type TradeRequest struct {
	UserID         string          `json:"userId"`
	UserIDAlt      string          `json:"user_id"`
	Symbol         string          `json:"symbol"`
	Qty            decimal.Decimal `json:"qty"`
	Price          decimal.Decimal `json:"price"`
	Side           string          `json:"side"`
	UseMarketPrice bool            `json:"useMarketPrice"`
}

// AddFundsRequest is the body of POST /add-funds.
type AddFundsRequest struct {
	UserID    string          `json:"userId"`
	UserIDAlt string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
}

func pickUser(c *fiber.Ctx, ids ...string) string {
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return middleware.UserID(c)
}

// TradeHandler serves the ledger operations.
type TradeHandler struct {
	engine *ledger.Engine
	prices marketdata.Provider
	band   decimal.Decimal
	log    *zap.Logger
}

// NewTradeHandler wires the ledger routes. prices may be nil, which
// disables market-price fills, the price band and valuation.
func NewTradeHandler(engine *ledger.Engine, prices marketdata.Provider, band decimal.Decimal, log *zap.Logger) *TradeHandler {
	return &TradeHandler{engine: engine, prices: prices, band: band, log: log}
}

// Trade executes a buy or sell.
func (h *TradeHandler) Trade(c *fiber.Ctx) error {
	req := new(TradeRequest)
	if err := c.BodyParser(req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Cannot parse request body")
	}
	userID := pickUser(c, req.UserID, req.UserIDAlt)
	if ok, err := sameUser(c, userID); !ok {
		return err
	}

	ctx := c.UserContext()
	o := ledger.Order{
		UserID:   userID,
		Symbol:   models.NormalizeSymbol(req.Symbol),
		Quantity: req.Qty,
		Price:    req.Price,
		Side:     req.Side,
	}
	// Reject malformed orders before any market data is fetched.
	check := ledger.Validate
	if req.UseMarketPrice && h.prices != nil {
		check = ledger.ValidateMarket
	}
	if err := check(o); err != nil {
		return writeError(c, h.log, err, "Invalid order")
	}

	symbol, price := o.Symbol, o.Price
	if h.prices != nil {
		switch {
		case req.UseMarketPrice:
			market, err := h.prices.CurrentPrice(ctx, symbol)
			if err != nil {
				return writeError(c, h.log, err, "Failed to look up market price")
			}
			price = market
		case h.band.IsPositive() && price.IsPositive():
			// Best effort: without a market price the band is not enforced.
			market, err := h.prices.CurrentPrice(ctx, symbol)
			if err != nil {
				h.log.Debug("price band skipped", zap.String("symbol", symbol), zap.Error(err))
			} else if err := ledger.CheckPriceBand(price, market, h.band); err != nil {
				return fail(c, fiber.StatusBadRequest, err.Error())
			}
		}
	}

	o.Price = price
	trade, err := h.engine.Execute(ctx, o)
	if err != nil {
		return writeError(c, h.log, err, "An error occurred while processing the trade")
	}

	verb := "bought"
	if trade.Side == models.SideSell {
		verb = "sold"
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": fmt.Sprintf("Successfully %s %s shares of %s", verb, trade.Quantity, trade.Symbol),
		"trade":   trade,
	})
}

// History returns the user's trades, newest first.
func (h *TradeHandler) History(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if ok, err := sameUser(c, userID); !ok {
		return err
	}
	trades, err := h.engine.History(c.UserContext(), userID)
	if err != nil {
		return writeError(c, h.log, err, "Failed to fetch trade history")
	}
	return c.JSON(fiber.Map{"success": true, "history": trades})
}

// Performance returns balance and positions.
func (h *TradeHandler) Performance(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if ok, err := sameUser(c, userID); !ok {
		return err
	}
	perf, err := h.engine.Performance(c.UserContext(), userID)
	if err != nil {
		return writeError(c, h.log, err, "Failed to fetch performance")
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"userId":      userID,
		"balance":     perf.Balance,
		"positions":   perf.Positions,
		"lastUpdated": perf.LastUpdated,
	})
}

// Valuation returns positions marked to market.
func (h *TradeHandler) Valuation(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if ok, err := sameUser(c, userID); !ok {
		return err
	}
	if h.prices == nil {
		return fail(c, fiber.StatusServiceUnavailable, "Market data is currently unavailable")
	}
	v, err := h.engine.Valuation(c.UserContext(), userID, h.prices)
	if err != nil {
		return writeError(c, h.log, err, "Failed to value portfolio")
	}
	return c.JSON(fiber.Map{"success": true, "valuation": v})
}

// AddFunds credits cash to the user's balance.
func (h *TradeHandler) AddFunds(c *fiber.Ctx) error {
	req := new(AddFundsRequest)
	if err := c.BodyParser(req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid input")
	}
	userID := pickUser(c, req.UserID, req.UserIDAlt)
	if ok, err := sameUser(c, userID); !ok {
		return err
	}
	balance, err := h.engine.AddFunds(c.UserContext(), userID, req.Amount)
	if err != nil {
		return writeError(c, h.log, err, "Failed to add funds")
	}
	return c.JSON(fiber.Map{"success": true, "newBalance": balance})
}
