package server

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/handlers"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/marketdata"
	"github.com/user/papertrade/backend/internal/middleware"
	ws "github.com/user/papertrade/backend/internal/websocket"
)

// Deps are the services the HTTP surface is built on. Prices and Hub are
// optional.
type Deps struct {
	Engine                 *ledger.Engine
	Users                  handlers.UserStore
	Tokens                 *auth.TokenIssuer
	Prices                 marketdata.Provider
	Hub                    *ws.Hub
	Logger                 *zap.Logger
	CORSOrigins            string
	PriceBand              decimal.Decimal
	BacktestInitialBalance decimal.Decimal
}

// New builds the fiber app with every route registered.
func New(d Deps) *fiber.App {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		AppName: "papertrade",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				code = fe.Code
			}
			if code >= fiber.StatusInternalServerError {
				log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
				return c.Status(code).JSON(fiber.Map{"success": false, "error": "Internal server error"})
			}
			return c.Status(code).JSON(fiber.Map{"success": false, "error": err.Error()})
		},
	})

	app.Use(middleware.RequestLogger(log))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: d.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	// --- WebSocket Routes ---
	if d.Hub != nil {
		wsGroup := app.Group("/ws")
		wsGroup.Use("/", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		wsGroup.Get("/feed", websocket.New(handlers.FeedEndpoint(d.Hub, log)))
	}

	api := app.Group("/api")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authHandler := handlers.NewAuthHandler(d.Users, d.Tokens, log)
	authGroup := api.Group("/auth")
	authGroup.Post("/signup", authHandler.Signup)
	authGroup.Post("/login", authHandler.Login)
	authGroup.Get("/me", middleware.Protected(d.Tokens), authHandler.Me)

	if d.Prices != nil {
		market := handlers.NewMarketHandler(d.Prices, log)
		marketGroup := api.Group("/market")
		marketGroup.Get("/quote/:symbol", market.Quote)
		marketGroup.Get("/history/:symbol", market.History)
	}

	initial := d.BacktestInitialBalance
	if initial.IsZero() {
		initial = decimal.NewFromInt(1000000)
	}
	bt := handlers.NewBacktestHandler(d.Prices, initial, log)
	trade := handlers.NewTradeHandler(d.Engine, d.Prices, d.PriceBand, log)

	pt := api.Group("/papertrade")
	// Backtests touch no account, so they are public.
	pt.Post("/backtest", bt.Run)

	protected := pt.Group("", middleware.Protected(d.Tokens))
	protected.Post("/trade", trade.Trade)
	protected.Get("/history/:userId", trade.History)
	protected.Get("/performance/:userId", trade.Performance)
	protected.Get("/portfolio/:userId", trade.Performance)
	protected.Get("/valuation/:userId", trade.Valuation)
	protected.Post("/add-funds", trade.AddFunds)

	return app
}
