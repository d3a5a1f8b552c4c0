package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/auth"
	"github.com/user/papertrade/backend/internal/config"
	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/handlers"
	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/marketdata"
	"github.com/user/papertrade/backend/internal/server"
	"github.com/user/papertrade/backend/internal/ticker"
	ws "github.com/user/papertrade/backend/internal/websocket"
)

// store is what both database backends provide.
type store interface {
	ledger.Store
	handlers.UserStore
	Close() error
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store, error) {
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		return database.NewPostgresStore(pool), nil
	}
	logger.Info("DATABASE_URL not set, using sqlite", zap.String("path", cfg.SQLitePath))
	s, err := database.NewSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// Base context canceled by SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	provider, err := marketdata.New(marketdata.Options{
		Kind:          cfg.MarketProvider,
		IndianAPIKey:  cfg.IndianAPIKey,
		IndianAPIBase: cfg.IndianAPIBaseURL,
		PolygonKey:    cfg.PolygonAPIKey,
		SimSeed:       time.Now().UnixNano(),
	})
	if err != nil {
		logger.Fatal("market data provider", zap.Error(err))
	}
	prices, err := marketdata.NewCached(provider, 1<<20, cfg.QuoteCacheTTL)
	if err != nil {
		logger.Fatal("quote cache", zap.Error(err))
	}
	defer prices.Close()

	tokens, err := auth.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("token issuer", zap.Error(err))
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	// The feed reads the provider directly so every tick is fresh.
	feed := ticker.NewFeed(provider, cfg.FeedSymbols, cfg.FeedInterval, hub, logger)
	go feed.Run(ctx)

	engine := ledger.NewEngine(st, logger,
		ledger.WithNotifier(hub),
		ledger.WithCurrency(cfg.Currency))

	app := server.New(server.Deps{
		Engine:                 engine,
		Users:                  st,
		Tokens:                 tokens,
		Prices:                 prices,
		Hub:                    hub,
		Logger:                 logger,
		CORSOrigins:            cfg.CORSOrigins,
		PriceBand:              decimal.NewFromFloat(cfg.PriceBand),
		BacktestInitialBalance: decimal.NewFromFloat(cfg.BacktestInitialBalance),
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("provider", provider.Name()),
			zap.String("currency", cfg.Currency))
		errCh <- app.Listen(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}
}
