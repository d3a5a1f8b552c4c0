package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/papertrade/backend/internal/ledger"
	"github.com/user/papertrade/backend/internal/marketdata"
)

func decs(vals ...float64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(vals))
	for i, v := range vals {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func TestRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prices  []decimal.Decimal
		initial int64
		final   string
		profit  string
	}{
		{"rise fall rise", decs(100, 105, 95, 100), 1000, "990", "-10"},
		{"accumulate then dump", decs(100, 110, 120, 90, 130), 100000, "99950", "-50"},
		{"flat never trades", decs(50, 50, 50), 1000, "1000", "0"},
		{"only falls", decs(30, 20, 10), 1000, "1000", "0"},
		{"unaffordable buy skipped", decs(100, 200, 300), 150, "150", "0"},
		{"liquidate at end", decs(10, 11, 12), 100, "101", "1"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := Run(tt.prices, decimal.NewFromInt(tt.initial))
			require.NoError(t, err)
			assert.Equal(t, tt.final, res.FinalBalance.String())
			assert.Equal(t, tt.profit, res.Profit.String())
			assert.True(t, res.Profit.Equal(res.FinalBalance.Sub(res.InitialBalance)))
		})
	}
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	prices := decs(12.5, 13, 12.75, 14, 15.25, 11, 11.5)
	a, err := Run(prices, decimal.NewFromInt(100))
	require.NoError(t, err)
	b, err := Run(prices, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.True(t, a.FinalBalance.Equal(b.FinalBalance))
}

func TestRunRejects(t *testing.T) {
	t.Parallel()

	var ve *ledger.ValidationError
	_, err := Run(nil, decimal.NewFromInt(1000))
	assert.ErrorAs(t, err, &ve)
	_, err = Run(decs(100), decimal.NewFromInt(1000))
	assert.ErrorAs(t, err, &ve)
	_, err = Run(decs(100, 0, 3), decimal.NewFromInt(1000))
	assert.ErrorAs(t, err, &ve)
	_, err = Run(decs(100, 101), decimal.NewFromInt(-1))
	assert.ErrorAs(t, err, &ve)
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	var raw []any
	require.NoError(t, json.Unmarshal([]byte(`[100, "105", "abc", null, true, {"p": 1}, [2], 95.5, " 100 "]`), &raw))
	raw = append(raw, math.NaN(), math.Inf(1))

	got := Sanitize(raw)
	require.Len(t, got, 4)
	assert.Equal(t, "100", got[0].String())
	assert.Equal(t, "105", got[1].String())
	assert.Equal(t, "95.5", got[2].String())
	assert.Equal(t, "100", got[3].String())
}

func TestSanitizedTooShortIsRejected(t *testing.T) {
	t.Parallel()

	_, err := Run(Sanitize([]any{"x", 100.0, "y"}), decimal.NewFromInt(1000))
	var ve *ledger.ValidationError
	assert.ErrorAs(t, err, &ve)
}

type failingProvider struct{ *marketdata.Sim }

func (failingProvider) HistoricalCloses(context.Context, string, string) ([]marketdata.Close, error) {
	return nil, &marketdata.UpstreamUnavailableError{Provider: "test", Symbol: "X", Err: errors.New("down")}
}

func TestRunSymbol(t *testing.T) {
	t.Parallel()

	sim := marketdata.NewSim(42)
	sim.Set("TCS", 3800)
	ctx := context.Background()

	res, err := RunSymbol(ctx, sim, " tcs ", "6m", decimal.NewFromInt(100000))
	require.NoError(t, err)
	closes, err := sim.HistoricalCloses(ctx, "TCS", "6m")
	require.NoError(t, err)
	want, err := Run(marketdata.Prices(closes), decimal.NewFromInt(100000))
	require.NoError(t, err)
	assert.True(t, want.FinalBalance.Equal(res.FinalBalance))

	var ve *ledger.ValidationError
	_, err = RunSymbol(ctx, sim, "", "6m", decimal.NewFromInt(1))
	assert.ErrorAs(t, err, &ve)
	_, err = RunSymbol(ctx, sim, "TCS", "fortnight", decimal.NewFromInt(1))
	assert.ErrorAs(t, err, &ve)

	var ue *marketdata.UpstreamUnavailableError
	_, err = RunSymbol(ctx, failingProvider{sim}, "TCS", "", decimal.NewFromInt(1))
	assert.ErrorAs(t, err, &ue)
}
