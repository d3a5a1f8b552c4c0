package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/user/papertrade/backend/internal/ledger"
)

func newTradeCmd(rc *rootConfig) *cobra.Command {
	var user, symbol, qty, price, side string
	cmd := &cobra.Command{
		Use:     "trade",
		Short:   "Buy or sell shares at a given price",
		Example: `  papertradectl trade --user alice --symbol TCS --qty 10 --price 3500 --side buy`,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseDecimal("qty", qty)
			if err != nil {
				return err
			}
			p, err := parseDecimal("price", price)
			if err != nil {
				return err
			}
			return rc.withEngine(cmd.Context(), func(e *ledger.Engine) error {
				t, err := e.Execute(cmd.Context(), ledger.Order{
					UserID:   user,
					Symbol:   symbol,
					Quantity: q,
					Price:    p,
					Side:     side,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "account id")
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "", "ticker symbol")
	cmd.Flags().StringVar(&qty, "qty", "", "number of shares")
	cmd.Flags().StringVar(&price, "price", "", "price per share")
	cmd.Flags().StringVar(&side, "side", "", "buy or sell")
	return cmd
}

func newHistoryCmd(rc *rootConfig) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List an account's trades, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withEngine(cmd.Context(), func(e *ledger.Engine) error {
				trades, err := e.History(cmd.Context(), user)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), trades)
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "account id")
	return cmd
}

func newPerformanceCmd(rc *rootConfig) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:     "performance",
		Aliases: []string{"portfolio"},
		Short:   "Show an account's balance and positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rc.withEngine(cmd.Context(), func(e *ledger.Engine) error {
				perf, err := e.Performance(cmd.Context(), user)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), perf)
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "account id")
	return cmd
}

func newAddFundsCmd(rc *rootConfig) *cobra.Command {
	var user, amount string
	cmd := &cobra.Command{
		Use:   "add-funds",
		Short: "Credit cash to an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := parseDecimal("amount", amount)
			if err != nil {
				return err
			}
			if user == "" {
				return errors.New("--user is required")
			}
			return rc.withEngine(cmd.Context(), func(e *ledger.Engine) error {
				balance, err := e.AddFunds(cmd.Context(), user, a)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"userId": user, "newBalance": balance})
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "account id")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to add")
	return cmd
}
