package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/backtest"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/marketdata"
)

// BacktestRequest carries either an explicit price series or a symbol
// whose history is fetched.
type BacktestRequest struct {
	Prices         []any            `json:"prices"`
	Symbol         string           `json:"symbol"`
	Period         string           `json:"period"`
	InitialBalance *decimal.Decimal `json:"initial_balance"`
}

// BacktestHandler runs the momentum backtest.
type BacktestHandler struct {
	prices         marketdata.Provider
	defaultInitial decimal.Decimal
	log            *zap.Logger
}

func NewBacktestHandler(prices marketdata.Provider, defaultInitial decimal.Decimal, log *zap.Logger) *BacktestHandler {
	return &BacktestHandler{prices: prices, defaultInitial: defaultInitial, log: log}
}

// Run answers {initial_balance, final_balance, profit} or 400 {error}.
func (h *BacktestHandler) Run(c *fiber.Ctx) error {
	req := new(BacktestRequest)
	if err := c.BodyParser(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Cannot parse request body"})
	}
	initial := h.defaultInitial
	if req.InitialBalance != nil {
		initial = *req.InitialBalance
	}

	var (
		res backtest.Result
		err error
	)
	switch {
	case len(req.Prices) > 0 || req.Symbol == "" || h.prices == nil:
		res, err = backtest.Run(backtest.Sanitize(req.Prices), initial)
	default:
		res, err = backtest.RunSymbol(c.UserContext(), h.prices, req.Symbol, req.Period, initial)
	}
	if err != nil {
		if ledger.IsRejection(err) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return writeError(c, h.log, err, "Backtest failed")
	}
	return c.JSON(res)
}
