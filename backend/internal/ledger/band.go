package ledger

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CheckPriceBand rejects price when it lies outside market ± band
// (band is a fraction, 0.1 for ten percent). A zero band or a non-positive
// market price disables the check.
func CheckPriceBand(price, market, band decimal.Decimal) error {
	if !band.IsPositive() || !market.IsPositive() {
		return nil
	}
	lower := market.Mul(decimal.NewFromInt(1).Sub(band))
	upper := market.Mul(decimal.NewFromInt(1).Add(band))
	if price.LessThan(lower) || price.GreaterThan(upper) {
		return invalid("Price must be within ±%s%% of current price (%s - %s)",
			band.Mul(hundred).String(), lower.StringFixed(2), upper.StringFixed(2))
	}
	return nil
}
