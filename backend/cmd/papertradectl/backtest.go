package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/papertrade/backend/internal/backtest"
	"github.com/user/papertrade/backend/internal/marketdata"
)

// priceFile is the YAML layout accepted by --file.
type priceFile struct {
	Symbol         string   `yaml:"symbol"`
	InitialBalance *float64 `yaml:"initial_balance"`
	Prices         []any    `yaml:"prices"`
}

func loadPriceFile(path string) (*priceFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pf := &priceFile{}
	if err := yaml.Unmarshal(raw, pf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return pf, nil
}

func newBacktestCmd() *cobra.Command {
	var (
		prices   []string
		file     string
		symbol   string
		period   string
		initial  float64
		provider string
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run the momentum strategy over a price series",
		Long: `Buys one share on every rise it can afford and sells everything on a fall.
Prices come from --prices, a YAML --file, or the history of --symbol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := make([]any, 0, len(prices))
			for _, p := range prices {
				raw = append(raw, p)
			}
			if file != "" {
				pf, err := loadPriceFile(file)
				if err != nil {
					return err
				}
				raw = append(raw, pf.Prices...)
				if pf.InitialBalance != nil && !cmd.Flags().Changed("initial") {
					initial = *pf.InitialBalance
				}
				if symbol == "" && len(pf.Prices) == 0 {
					symbol = pf.Symbol
				}
			}
			start := decimal.NewFromFloat(initial)

			var (
				res backtest.Result
				err error
			)
			if len(raw) == 0 && symbol != "" {
				p, perr := marketdata.New(marketdata.Options{
					Kind:          provider,
					IndianAPIKey:  os.Getenv("INDIAN_API_KEY"),
					IndianAPIBase: os.Getenv("INDIAN_API_BASE_URL"),
					PolygonKey:    os.Getenv("POLYGON_API_KEY"),
					SimSeed:       1,
				})
				if perr != nil {
					return perr
				}
				res, err = backtest.RunSymbol(cmd.Context(), p, symbol, period, start)
			} else {
				if len(raw) == 0 {
					return errors.New("nothing to backtest: pass --prices, --file or --symbol")
				}
				res, err = backtest.Run(backtest.Sanitize(raw), start)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringSliceVar(&prices, "prices", nil, "comma separated prices")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with a prices list")
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "backtest this symbol's history instead")
	cmd.Flags().StringVar(&period, "period", marketdata.DefaultPeriod, "history period for --symbol")
	cmd.Flags().Float64Var(&initial, "initial", 1000000, "starting cash")
	cmd.Flags().StringVar(&provider, "provider", "sim", "market data provider for --symbol")
	return cmd
}
