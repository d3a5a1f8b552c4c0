package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/user/papertrade/backend/internal/database"
	"github.com/user/papertrade/backend/internal/ledger"
)

// rootConfig holds the persistent flags shared by every subcommand.
type rootConfig struct {
	DatabaseURL string
	SQLitePath  string
	Currency    string
	Verbose     bool
}

func newRootCmd() *cobra.Command {
	rc := &rootConfig{}
	cmd := &cobra.Command{
		Use:          "papertradectl",
		Short:        "Backtest strategies and manage paper-trading accounts",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&rc.DatabaseURL, "db", os.Getenv("DATABASE_URL"), "postgres connection URL (overrides --sqlite)")
	cmd.PersistentFlags().StringVar(&rc.SQLitePath, "sqlite", "papertrade.db", "sqlite database file")
	cmd.PersistentFlags().StringVar(&rc.Currency, "currency", "INR", "currency used in messages")
	cmd.PersistentFlags().BoolVarP(&rc.Verbose, "verbose", "v", false, "log to stderr")

	cmd.AddCommand(
		newBacktestCmd(),
		newTradeCmd(rc),
		newHistoryCmd(rc),
		newPerformanceCmd(rc),
		newAddFundsCmd(rc),
	)
	return cmd
}

func (rc *rootConfig) logger() *zap.Logger {
	if !rc.Verbose {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// withEngine opens the configured store, runs fn and closes the store.
func (rc *rootConfig) withEngine(ctx context.Context, fn func(*ledger.Engine) error) error {
	log := rc.logger()
	defer log.Sync()

	var (
		store  ledger.Store
		closer func() error
	)
	if rc.DatabaseURL != "" {
		pool, err := database.Connect(ctx, rc.DatabaseURL, log)
		if err != nil {
			return err
		}
		pg := database.NewPostgresStore(pool)
		store, closer = pg, pg.Close
	} else {
		s, err := database.NewSQLite(rc.SQLitePath)
		if err != nil {
			return err
		}
		store, closer = s, s.Close
	}
	defer closer()

	return fn(ledger.NewEngine(store, log, ledger.WithCurrency(rc.Currency)))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDecimal(name, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("--%s: %q is not a number", name, s)
	}
	return d, nil
}
