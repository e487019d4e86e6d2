package clob

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TradingRules hold the per-pair granularity and size constraints. They are
// validated before any order mutates book or ledger state, and are adjustable
// by the book owner only.
type TradingRules struct {
	MinOrderSize      decimal.Decimal // smallest accepted order quantity
	MinExecutionSize  decimal.Decimal // smallest allowed single fill
	PriceIncrement    decimal.Decimal // price tick
	QuantityIncrement decimal.Decimal // quantity step
}

// DefaultTradingRules returns permissive rules suitable for tests and as a
// fallback when no configuration is present.
func DefaultTradingRules() TradingRules {
	return TradingRules{
		MinOrderSize:      decimal.RequireFromString("0.000001"),
		MinExecutionSize:  decimal.RequireFromString("0.000001"),
		PriceIncrement:    decimal.RequireFromString("0.000001"),
		QuantityIncrement: decimal.RequireFromString("0.000001"),
	}
}

func (r TradingRules) validate() error {
	if !r.MinOrderSize.IsPositive() || !r.MinExecutionSize.IsPositive() ||
		!r.PriceIncrement.IsPositive() || !r.QuantityIncrement.IsPositive() {
		return fmt.Errorf("%w: trading rules must be positive", ErrValidation)
	}
	if r.MinExecutionSize.GreaterThan(r.MinOrderSize) {
		return fmt.Errorf("%w: minimum execution size exceeds minimum order size", ErrValidation)
	}
	return nil
}

func (r TradingRules) validatePrice(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price %s is not positive", ErrValidation, price)
	}
	if !price.Mod(r.PriceIncrement).IsZero() {
		return fmt.Errorf("%w: price %s is not a multiple of tick %s", ErrValidation, price, r.PriceIncrement)
	}
	return nil
}

func (r TradingRules) validateQuantity(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity %s is not positive", ErrValidation, qty)
	}
	if !qty.Mod(r.QuantityIncrement).IsZero() {
		return fmt.Errorf("%w: quantity %s is not a multiple of step %s", ErrValidation, qty, r.QuantityIncrement)
	}
	if qty.LessThan(r.MinOrderSize) {
		return fmt.Errorf("%w: quantity %s is below minimum order size %s", ErrValidation, qty, r.MinOrderSize)
	}
	return nil
}
