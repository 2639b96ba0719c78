package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CurrencyScale is the number of decimal places prices are kept at
const CurrencyScale = 2

// ErrUnchargeablePrice marks a catalog price that is negative or finer than
// one minor unit
var ErrUnchargeablePrice = errors.New("price cannot be charged in minor units")

var hundred = decimal.NewFromInt(100)

// ValidatePrice accepts non-negative prices with at most CurrencyScale
// decimals. Order items keep such prices unchanged, so the minor-unit sum of
// the items equals the minor units of the order total.
func ValidatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrUnchargeablePrice, price)
	}
	if !price.Equal(price.Truncate(CurrencyScale)) {
		return fmt.Errorf("%w: %s has more than %d decimals", ErrUnchargeablePrice, price, CurrencyScale)
	}
	return nil
}

// ToMinorUnits converts a decimal amount to integer minor units, round(amount * 100)
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FormatAmount renders an amount for humans, half-up at currency scale
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(CurrencyScale)
}
