package clob

import "github.com/shopspring/decimal"

// DepthChange describes how a single book event moves one side's aggregated
// depth at one price.
type DepthChange struct {
	Side     Side
	Price    decimal.Decimal
	SizeDiff decimal.Decimal
}

// CalculateDepthChange maps a book event to its depth delta.
// Note: for LogTypeMatch, the side returned is the maker's side, the opposite
// of the log's side. A match removes liquidity from the maker side only; the
// taker's own resting quantity, if any, arrives as a separate open event.
func CalculateDepthChange(log *BookLog) DepthChange {
	switch log.Type {
	case LogTypeOpen:
		return DepthChange{
			Side:     log.Side,
			Price:    log.Price,
			SizeDiff: log.Quantity,
		}
	case LogTypeCancel:
		return DepthChange{
			Side:     log.Side,
			Price:    log.Price,
			SizeDiff: log.Quantity.Neg(),
		}
	case LogTypeMatch:
		return DepthChange{
			Side:     log.Side.Opposite(),
			Price:    log.Price,
			SizeDiff: log.Quantity.Neg(),
		}
	case LogTypeUpdate:
		// Only expiry releases resting liquidity; fill updates are already
		// covered by their match event.
		if log.Status == StatusExpired {
			return DepthChange{
				Side:     log.Side,
				Price:    log.Price,
				SizeDiff: log.Quantity.Neg(),
			}
		}
	}

	return DepthChange{}
}
