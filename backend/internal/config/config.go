package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// DefaultPriceBand applies to real market-data providers.
const DefaultPriceBand = 0.10

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"papertrade.db"`

	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"*"`
	Currency    string `env:"CURRENCY" envDefault:"INR"`

	BacktestInitialBalance float64 `env:"BACKTEST_INITIAL_BALANCE" envDefault:"1000000"`
	// PriceBand rejects client prices further than this fraction from the
	// market price. Zero disables the check. When PRICE_BAND is unset it is
	// DefaultPriceBand for real providers and zero for the sim provider, so
	// any positive price trades there.
	PriceBand float64 `env:"PRICE_BAND"`

	MarketProvider   string        `env:"MARKET_PROVIDER" envDefault:"sim"`
	IndianAPIKey     string        `env:"INDIAN_API_KEY"`
	IndianAPIBaseURL string        `env:"INDIAN_API_BASE_URL" envDefault:"https://stock.indianapi.in"`
	PolygonAPIKey    string        `env:"POLYGON_API_KEY"`
	QuoteCacheTTL    time.Duration `env:"QUOTE_CACHE_TTL" envDefault:"30s"`

	FeedSymbols  []string      `env:"FEED_SYMBOLS" envSeparator:"," envDefault:"TCS,INFY,RELIANCE"`
	FeedInterval time.Duration `env:"FEED_INTERVAL" envDefault:"5s"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Dev      bool   `env:"DEV" envDefault:"false"`
}

// Load reads .env files (when present) and then the environment. Variables
// already set in the environment win over .env entries.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		if !c.Dev {
			return errors.New("JWT_SECRET is required unless DEV=true")
		}
		c.JWTSecret = "dev-insecure-secret"
	}
	if c.BacktestInitialBalance < 0 {
		return errors.New("BACKTEST_INITIAL_BALANCE must not be negative")
	}
	if _, set := os.LookupEnv("PRICE_BAND"); !set && !c.simulated() {
		c.PriceBand = DefaultPriceBand
	}
	if c.PriceBand < 0 || c.PriceBand >= 1 {
		return errors.New("PRICE_BAND must be in [0, 1)")
	}
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	symbols := c.FeedSymbols[:0]
	for _, s := range c.FeedSymbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}
	c.FeedSymbols = symbols
	return nil
}

func (c *Config) simulated() bool {
	p := strings.ToLower(strings.TrimSpace(c.MarketProvider))
	return p == "" || p == "sim"
}

// NewLogger builds the process logger: development output when Dev is set,
// JSON otherwise, at LogLevel.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	if c.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
