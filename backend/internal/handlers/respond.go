package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/marketdata"
	"github.com/user/papertrade/backend/internal/middleware"
)

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"success": false, "error": msg})
}

// writeError maps a service error onto a response. Rejections carry their
// own message; anything else is logged and answered generically.
func writeError(c *fiber.Ctx, log *zap.Logger, err error, internalMsg string) error {
	if ledger.IsRejection(err) {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	var ue *marketdata.UpstreamUnavailableError
	if errors.As(err, &ue) {
		log.Warn("market data unavailable",
			zap.String("path", c.Path()),
			zap.String("provider", ue.Provider),
			zap.String("symbol", ue.Symbol),
			zap.Error(ue.Err))
		return fail(c, fiber.StatusServiceUnavailable, "Market data is currently unavailable")
	}
	log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return fail(c, fiber.StatusInternalServerError, internalMsg)
}

// sameUser answers 403 unless the token's user is userID. ok is false
// when a response has been written.
func sameUser(c *fiber.Ctx, userID string) (ok bool, err error) {
	if middleware.UserID(c) != userID {
		return false, fail(c, fiber.StatusForbidden, "You can only access your own account")
	}
	return true, nil
}
