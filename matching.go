package clob

import (
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// crosses reports whether a limit price reaches an opposite-side price.
func crosses(side Side, limit, opposite decimal.Decimal) bool {
	if side == Buy {
		return opposite.LessThanOrEqual(limit)
	}
	return opposite.GreaterThanOrEqual(limit)
}

// match drains opposite-side liquidity into the taker, level by level, best
// price first. Every mutation goes through the unit of work so a settlement
// failure aborts the caller's whole operation. The outer loop is bounded by
// the number of occupied opposite levels at entry, which guarantees
// termination: levels are only consumed during matching, never added.
// Returns the total executed quantity.
func (book *OrderBook) match(uow *unitOfWork, taker *Order) (decimal.Decimal, error) {
	opp := book.sideOf(taker.Side.Opposite())
	total := decimal.Zero

	maxLevels := opp.levelCount()
	el := opp.levels.Front()
	for i := 0; i < maxLevels && el != nil; i++ {
		if taker.Remaining().IsZero() {
			break
		}

		lvl, _ := el.Value.(*priceLevel)
		if !taker.IsMarket() && !crosses(taker.Side, taker.LimitPrice(), lvl.price) {
			break
		}

		// Grab the next element before the level can empty out and drop.
		nextEl := el.Next()

		executed, stop, err := book.matchLevel(uow, taker, opp, lvl)
		if err != nil {
			return total, err
		}
		total = total.Add(executed)
		if stop {
			break
		}

		el = nextEl
	}

	return total, nil
}

// matchLevel walks one level's queue head to tail (oldest first). Expired
// makers are evicted at encounter, same-owner makers are skipped entirely.
// A true stop means the whole matching loop must end: the taker ran out of
// affordable balance or the next fill would be below the minimum execution
// size.
func (book *OrderBook) matchLevel(uow *unitOfWork, taker *Order, opp *bookSide, lvl *priceLevel) (decimal.Decimal, bool, error) {
	executed := decimal.Zero
	nowNano := time.Now().UnixNano()

	id := lvl.headID
	for id != 0 {
		remaining := taker.Remaining()
		if remaining.IsZero() {
			break
		}

		maker := book.orders[id]
		id = maker.nextID

		if maker.expired(nowNano) {
			if err := book.evictExpired(uow, opp, lvl, maker); err != nil {
				return executed, true, err
			}
			continue
		}

		// Self-trade avoidance: never matched, not even partially.
		if maker.Owner == taker.Owner {
			continue
		}

		exec := decimal.Min(remaining, maker.Remaining())
		if taker.IsMarket() {
			// A market taker can only spend what it has. The balance cannot
			// grow mid-operation, so an unaffordable fill ends the loop.
			afford := book.affordable(taker, lvl.price)
			if !afford.IsPositive() {
				return executed, true, nil
			}
			exec = decimal.Min(exec, afford)
		}

		if exec.LessThan(book.rules.MinExecutionSize) {
			return executed, true, nil
		}

		if err := book.applyFill(uow, taker, maker, opp, lvl, exec); err != nil {
			return executed, true, err
		}
		executed = executed.Add(exec)
	}

	return executed, false, nil
}

// applyFill executes one match at the maker's price: settles both legs,
// updates both orders, keeps the level's aggregate volume in step and unlinks
// a fully filled maker. Margin hooks run last, inside the same unit of work.
func (book *OrderBook) applyFill(uow *unitOfWork, taker, maker *Order, opp *bookSide, lvl *priceLevel, exec decimal.Decimal) error {
	price := lvl.price
	quote := exec.Mul(price)

	// Settlement legs. A maker's deposit was locked at placement; a limit
	// taker pays from its own placement lock, a market taker from available
	// balance.
	if taker.Side == Buy {
		if taker.IsMarket() {
			if err := uow.transfer(taker.Owner, maker.Owner, book.quoteAsset, quote); err != nil {
				return err
			}
		} else {
			if err := uow.transferLocked(taker.Owner, maker.Owner, book.quoteAsset, quote); err != nil {
				return err
			}
			// The lock was priced at the taker's limit; release the price
			// improvement over the maker's price.
			excess := exec.Mul(taker.LimitPrice().Sub(price))
			if excess.IsPositive() {
				if err := uow.unlock(taker.Owner, book.quoteAsset, excess); err != nil {
					return err
				}
			}
		}
		if err := uow.transferLocked(maker.Owner, taker.Owner, book.baseAsset, exec); err != nil {
			return err
		}
	} else {
		if taker.IsMarket() {
			if err := uow.transfer(taker.Owner, maker.Owner, book.baseAsset, exec); err != nil {
				return err
			}
		} else {
			if err := uow.transferLocked(taker.Owner, maker.Owner, book.baseAsset, exec); err != nil {
				return err
			}
		}
		if err := uow.transferLocked(maker.Owner, taker.Owner, book.quoteAsset, quote); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	oldVolume := lvl.volume
	takerFilled, takerUpdated := taker.Filled, taker.UpdatedAt
	makerFilled, makerStatus, makerUpdated := maker.Filled, maker.Status, maker.UpdatedAt

	lvl.volume = lvl.volume.Sub(exec)
	taker.Filled = taker.Filled.Add(exec)
	taker.UpdatedAt = now
	maker.Filled = maker.Filled.Add(exec)
	maker.UpdatedAt = now

	uow.onRollback(func() {
		lvl.volume = oldVolume
		taker.Filled, taker.UpdatedAt = takerFilled, takerUpdated
		maker.Filled, maker.Status, maker.UpdatedAt = makerFilled, makerStatus, makerUpdated
	})

	if maker.Remaining().IsZero() {
		prevID, nextID := maker.prevID, maker.nextID
		if err := opp.unlink(lvl, maker); err != nil {
			return err
		}
		maker.Status = StatusFilled
		uow.onRollback(func() {
			opp.relinkAt(lvl, maker, prevID, nextID)
		})
	} else {
		maker.Status = StatusPartiallyFilled
	}

	fill := Fill{
		TradeRef:     xid.New().String(),
		TakerOrderID: taker.ID,
		MakerOrderID: maker.ID,
		Price:        price,
		Quantity:     exec,
	}
	uow.emit(newMatchLog(book.pair, taker, maker, fill))
	uow.emit(newUpdateLog(book.pair, maker, decimal.Zero))

	if book.marginHook != nil {
		if taker.Margin != 0 {
			if err := book.marginHook.OnFill(*taker, fill); err != nil {
				return err
			}
		}
		if maker.Margin != 0 {
			if err := book.marginHook.OnFill(*maker, fill); err != nil {
				return err
			}
		}
	}

	return nil
}

// evictExpired removes an expired resting order at encounter time, releasing
// its remaining locked deposit.
func (book *OrderBook) evictExpired(uow *unitOfWork, side *bookSide, lvl *priceLevel, maker *Order) error {
	released := maker.Remaining()
	asset, amount := book.restingLock(maker, released)
	if err := uow.unlock(maker.Owner, asset, amount); err != nil {
		return err
	}

	prevID, nextID := maker.prevID, maker.nextID
	if err := side.unlink(lvl, maker); err != nil {
		return err
	}

	oldVolume := lvl.volume
	prevStatus, prevUpdated := maker.Status, maker.UpdatedAt
	lvl.volume = lvl.volume.Sub(released)
	maker.Status = StatusExpired
	maker.UpdatedAt = time.Now().UTC()

	uow.onRollback(func() {
		side.relinkAt(lvl, maker, prevID, nextID)
		lvl.volume = oldVolume
		maker.Status, maker.UpdatedAt = prevStatus, prevUpdated
	})

	uow.emit(newUpdateLog(book.pair, maker, released))
	logger.Debug("expired order evicted", "order_id", uint64(maker.ID), "released", released.String())
	return nil
}

// previewFill simulates the matching loop without mutating anything and
// returns how much of the taker would fill right now. Fill-or-kill commits
// only when this covers the full quantity.
func (book *OrderBook) previewFill(taker *Order) decimal.Decimal {
	opp := book.sideOf(taker.Side.Opposite())
	nowNano := time.Now().UnixNano()
	remaining := taker.Remaining()
	fillable := decimal.Zero

	el := opp.levels.Front()
	for el != nil && remaining.IsPositive() {
		lvl, _ := el.Value.(*priceLevel)
		if !taker.IsMarket() && !crosses(taker.Side, taker.LimitPrice(), lvl.price) {
			break
		}

		for id := lvl.headID; id != 0 && remaining.IsPositive(); {
			maker := book.orders[id]
			id = maker.nextID

			if maker.expired(nowNano) || maker.Owner == taker.Owner {
				continue
			}

			exec := decimal.Min(remaining, maker.Remaining())
			if exec.LessThan(book.rules.MinExecutionSize) {
				return fillable
			}
			fillable = fillable.Add(exec)
			remaining = remaining.Sub(exec)
		}

		el = el.Next()
	}

	return fillable
}

// affordable returns the largest quantity the market taker can still pay for
// at the given price, floored to the quantity increment.
func (book *OrderBook) affordable(taker *Order, price decimal.Decimal) decimal.Decimal {
	step := book.rules.QuantityIncrement

	if taker.Side == Buy {
		avail := book.ledger.GetBalance(taker.Owner, book.quoteAsset)
		qty := avail.Div(price)
		qty = qty.Sub(qty.Mod(step))
		// Div rounds at DivisionPrecision digits, which can land one step high.
		if qty.IsPositive() && qty.Mul(price).GreaterThan(avail) {
			qty = qty.Sub(step)
		}
		if qty.IsNegative() {
			return decimal.Zero
		}
		return qty
	}

	avail := book.ledger.GetBalance(taker.Owner, book.baseAsset)
	return avail.Sub(avail.Mod(step))
}
