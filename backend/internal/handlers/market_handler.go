package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/marketdata"
	"github.com/user/papertrade/backend/internal/models"
)

// MarketHandler exposes provider lookups for the dashboard.
type MarketHandler struct {
	prices marketdata.Provider
	log    *zap.Logger
}

func NewMarketHandler(prices marketdata.Provider, log *zap.Logger) *MarketHandler {
	return &MarketHandler{prices: prices, log: log}
}

// Quote returns the current price of :symbol.
func (h *MarketHandler) Quote(c *fiber.Ctx) error {
	symbol := models.NormalizeSymbol(c.Params("symbol"))
	price, err := h.prices.CurrentPrice(c.UserContext(), symbol)
	if err != nil {
		return writeError(c, h.log, err, "Failed to fetch quote")
	}
	return c.JSON(fiber.Map{"success": true, "symbol": symbol, "price": price, "provider": h.prices.Name()})
}

// History returns closes for :symbol over ?period= (default 1m).
func (h *MarketHandler) History(c *fiber.Ctx) error {
	symbol := models.NormalizeSymbol(c.Params("symbol"))
	period := c.Query("period", marketdata.DefaultPeriod)
	if _, err := marketdata.PeriodStart(period, time.Now()); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	closes, err := h.prices.HistoricalCloses(c.UserContext(), symbol, period)
	if err != nil {
		return writeError(c, h.log, err, "Failed to fetch price history")
	}
	return c.JSON(fiber.Map{"success": true, "symbol": symbol, "period": period, "closes": closes})
}
