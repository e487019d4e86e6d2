package clob

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarketOrderPartialFill(t *testing.T) {
	book, ledger, publisher := newTestBook(t)

	// Empty book; place BUY limit 100@10.
	buyID, err := book.PlaceLimitOrder("alice", Buy, d("10"), d("100"), GTC, 0)
	require.NoError(t, err)

	price, volume := book.BestPrice(Buy)
	assert.True(t, price.Equal(d("10")))
	assert.True(t, volume.Equal(d("100")))

	// SELL market qty 60 fills 60@10 against the resting bid.
	_, filled, err := book.PlaceMarketOrder("bob", Sell, d("60"), 0)
	require.NoError(t, err)
	assert.True(t, filled.Equal(d("60")))

	matches := publisher.OfType(LogTypeMatch)
	require.Len(t, matches, 1)
	assert.True(t, matches[0].Price.Equal(d("10")))
	assert.True(t, matches[0].Quantity.Equal(d("60")))
	assert.Equal(t, buyID, matches[0].MakerOrderID)
	assert.NotEmpty(t, matches[0].TradeRef)

	resting, err := book.GetOrder(buyID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, resting.Status)
	assert.True(t, resting.Filled.Equal(d("60")))

	// Remaining 40 still indexed at price 10.
	price, volume = book.BestPrice(Buy)
	assert.True(t, price.Equal(d("10")))
	assert.True(t, volume.Equal(d("40")))

	// bob sold 60 base for 600 quote from alice's lock.
	assert.True(t, ledger.GetBalance("bob", "BTC").Equal(d("940")))
	assert.True(t, ledger.GetBalance("bob", "USDT").Equal(d("1000600")))
	assert.True(t, ledger.GetBalance("alice", "BTC").Equal(d("1060")))
	assert.True(t, ledger.LockedBalance("alice", "USDT").Equal(d("400")))
}

func TestTimePriorityAtSamePrice(t *testing.T) {
	book, _, publisher := newTestBook(t)

	// Two resting SELLs at 10: bob first, carol second.
	bobID, err := book.PlaceLimitOrder("bob", Sell, d("10"), d("50"), GTC, 0)
	require.NoError(t, err)
	carolID, err := book.PlaceLimitOrder("carol", Sell, d("10"), d("50"), GTC, 0)
	require.NoError(t, err)

	// BUY market 70 fills 50 from bob then 20 from carol, strictly in order.
	_, filled, err := book.PlaceMarketOrder("alice", Buy, d("70"), 0)
	require.NoError(t, err)
	assert.True(t, filled.Equal(d("70")))

	matches := publisher.OfType(LogTypeMatch)
	require.Len(t, matches, 2)
	assert.Equal(t, bobID, matches[0].MakerOrderID)
	assert.True(t, matches[0].Quantity.Equal(d("50")))
	assert.Equal(t, carolID, matches[1].MakerOrderID)
	assert.True(t, matches[1].Quantity.Equal(d("20")))

	bobOrder, err := book.GetOrder(bobID)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, bobOrder.Status)

	carolOrder, err := book.GetOrder(carolID)
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyFilled, carolOrder.Status)
	assert.True(t, carolOrder.Remaining().Equal(d("30")))

	count, volume := book.Level(Sell, d("10"))
	assert.Equal(t, int64(1), count)
	assert.True(t, volume.Equal(d("30")))
}

func TestPricePriority(t *testing.T) {
	book, ledger, publisher := newTestBook(t)

	// A BUY always takes the lowest SELL before any higher one.
	_, err := book.PlaceLimitOrder("bob", Sell, d("11"), d("10"), GTC, 0)
	require.NoError(t, err)
	_, err = book.PlaceLimitOrder("carol", Sell, d("10"), d("10"), GTC, 0)
	require.NoError(t, err)

	id, err := book.PlaceLimitOrder("alice", Buy, d("11"), d("15"), GTC, 0)
	require.NoError(t, err)

	matches := publisher.OfType(LogTypeMatch)
	require.Len(t, matches, 2)
	assert.True(t, matches[0].Price.Equal(d("10")))
	assert.True(t, matches[0].Quantity.Equal(d("10")))
	assert.True(t, matches[1].Price.Equal(d("11")))
	assert.True(t, matches[1].Quantity.Equal(d("5")))

	order, err := book.GetOrder(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, order.Status)

	// Locked 15*11=165; spent 10*10+5*11=155, price improvement released.
	assert.True(t, ledger.LockedBalance("alice", "USDT").IsZero())
	assert.True(t, ledger.GetBalance("alice", "USDT").Equal(d("999845")))
	assert.True(t, ledger.GetBalance("alice", "BTC").Equal(d("1015")))
}

func TestSelfTradeAvoidance(t *testing.T) {
	t.Run("own resting order never matches", func(t *testing.T) {
		book, _, publisher := newTestBook(t)

		sellID, err := book.PlaceLimitOrder("alice", Sell, d("10"), d("50"), GTC, 0)
		require.NoError(t, err)

		buyID, err := book.PlaceLimitOrder("alice", Buy, d("10"), d("100"), GTC, 0)
		require.NoError(t, err)

		assert.Empty(t, publisher.OfType(LogTypeMatch))

		sell, err := book.GetOrder(sellID)
		require.NoError(t, err)
		assert.True(t, sell.Filled.IsZero())

		buy, err := book.GetOrder(buyID)
		require.NoError(t, err)
		assert.True(t, buy.Filled.IsZero())
		assert.Equal(t, StatusOpen, buy.Status)

		_, askVolume := book.BestPrice(Sell)
		assert.True(t, askVolume.Equal(d("50")))
		_, bidVolume := book.BestPrice(Buy)
		assert.True(t, bidVolume.Equal(d("100")))
	})

	t.Run("own order is skipped, later orders still match", func(t *testing.T) {
		book, _, publisher := newTestBook(t)

		_, err := book.PlaceLimitOrder("alice", Sell, d("10"), d("50"), GTC, 0)
		require.NoError(t, err)
		bobID, err := book.PlaceLimitOrder("bob", Sell, d("10"), d("50"), GTC, 0)
		require.NoError(t, err)

		_, filled, err := book.PlaceMarketOrder("alice", Buy, d("50"), 0)
		require.NoError(t, err)
		assert.True(t, filled.Equal(d("50")))

		matches := publisher.OfType(LogTypeMatch)
		require.Len(t, matches, 1)
		assert.Equal(t, bobID, matches[0].MakerOrderID)

		// Alice's own sell is untouched at the head of the level.
		count, volume := book.Level(Sell, d("10"))
		assert.Equal(t, int64(1), count)
		assert.True(t, volume.Equal(d("50")))
	})
}

func TestMarketOrderAffordabilityCap(t *testing.T) {
	ledger := NewMemoryCustodyLedger()
	ledger.Deposit("bob", "BTC", decimal.NewFromInt(1000))
	ledger.Deposit("alice", "USDT", decimal.NewFromInt(500))

	book, err := NewOrderBook("BTC", "USDT", "venue", testRules, ledger, nil)
	require.NoError(t, err)

	_, err = book.PlaceLimitOrder("bob", Sell, d("10"), d("100"), GTC, 0)
	require.NoError(t, err)

	// Alice can only afford 50 of the 100 she asks for; the fill is capped,
	// not reverted, and the rest is discarded.
	id, filled, err := book.PlaceMarketOrder("alice", Buy, d("100"), 0)
	require.NoError(t, err)
	assert.True(t, filled.Equal(d("50")))

	order, err := book.GetOrder(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, order.Status)

	assert.True(t, ledger.GetBalance("alice", "USDT").IsZero())
	assert.True(t, ledger.GetBalance("alice", "BTC").Equal(d("50")))

	count, volume := book.Level(Sell, d("10"))
	assert.Equal(t, int64(1), count)
	assert.True(t, volume.Equal(d("50")))
}

func TestMarketOrderNoLiquidity(t *testing.T) {
	book, ledger, _ := newTestBook(t)

	id, filled, err := book.PlaceMarketOrder("alice", Buy, d("10"), 0)
	require.NoError(t, err)
	assert.True(t, filled.IsZero())

	order, err := book.GetOrder(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, order.Status)
	assert.True(t, ledger.GetBalance("alice", "USDT").Equal(d("1000000")))
}

func TestExpiredMakerEvictedAtEncounter(t *testing.T) {
	book, ledger, publisher := newTestBook(t)

	expiringID, err := book.PlaceLimitOrder("bob", Sell, d("10"), d("50"), GTC, 0,
		WithExpiry(time.Now().Add(20*time.Millisecond)))
	require.NoError(t, err)
	carolID, err := book.PlaceLimitOrder("carol", Sell, d("10"), d("50"), GTC, 0)
	require.NoError(t, err)

	assert.True(t, ledger.LockedBalance("bob", "BTC").Equal(d("50")))

	time.Sleep(30 * time.Millisecond)

	// The walk evicts bob's expired order and fills from carol instead.
	_, filled, err := book.PlaceMarketOrder("alice", Buy, d("50"), 0)
	require.NoError(t, err)
	assert.True(t, filled.Equal(d("50")))

	expired, err := book.GetOrder(expiringID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, expired.Status)
	assert.True(t, ledger.LockedBalance("bob", "BTC").IsZero())
	assert.True(t, ledger.GetBalance("bob", "BTC").Equal(d("1000")))

	matches := publisher.OfType(LogTypeMatch)
	require.Len(t, matches, 1)
	assert.Equal(t, carolID, matches[0].MakerOrderID)

	price, volume := book.BestPrice(Sell)
	assert.True(t, price.IsZero())
	assert.True(t, volume.IsZero())
}

// flakyLedger fails the nth mutating call to inject settlement errors
// mid-match.
type flakyLedger struct {
	*MemoryCustodyLedger
	calls  int
	failAt int
}

func (l *flakyLedger) step() error {
	l.calls++
	if l.calls == l.failAt {
		return fmt.Errorf("%w: injected failure", ErrInsufficientBalance)
	}
	return nil
}

func (l *flakyLedger) Lock(user, asset string, amount decimal.Decimal) error {
	if err := l.step(); err != nil {
		return err
	}
	return l.MemoryCustodyLedger.Lock(user, asset, amount)
}

func (l *flakyLedger) Unlock(user, asset string, amount decimal.Decimal) error {
	if err := l.step(); err != nil {
		return err
	}
	return l.MemoryCustodyLedger.Unlock(user, asset, amount)
}

func (l *flakyLedger) TransferBetween(from, to, asset string, amount decimal.Decimal) error {
	if err := l.step(); err != nil {
		return err
	}
	return l.MemoryCustodyLedger.TransferBetween(from, to, asset, amount)
}

func (l *flakyLedger) TransferLockedFrom(from, to, asset string, amount decimal.Decimal) error {
	if err := l.step(); err != nil {
		return err
	}
	return l.MemoryCustodyLedger.TransferLockedFrom(from, to, asset, amount)
}

func TestSettlementFailureRollsBackWholePlacement(t *testing.T) {
	inner := NewMemoryCustodyLedger()
	for _, user := range []string{"alice", "bob", "carol"} {
		inner.Deposit(user, "BTC", decimal.NewFromInt(1000))
		inner.Deposit(user, "USDT", decimal.NewFromInt(1000000))
	}
	ledger := &flakyLedger{MemoryCustodyLedger: inner}

	publisher := NewMemoryPublisher()
	book, err := NewOrderBook("BTC", "USDT", "venue", testRules, ledger, publisher)
	require.NoError(t, err)

	bobID, err := book.PlaceLimitOrder("bob", Sell, d("10"), d("50"), GTC, 0)
	require.NoError(t, err)
	carolID, err := book.PlaceLimitOrder("carol", Sell, d("10"), d("50"), GTC, 0)
	require.NoError(t, err)

	logsBefore := publisher.Count()
	bobBTCLocked := inner.LockedBalance("bob", "BTC")
	aliceUSDT := inner.GetBalance("alice", "USDT")

	// Alice's buy crosses both sellers. Calls during her placement:
	// 1 lock, fill vs bob: 2 quote leg + 3 base leg, fill vs carol: 4 quote
	// leg. Failing call 4 must unwind the whole placement.
	ledger.calls = 0
	ledger.failAt = 4
	_, err = book.PlaceLimitOrder("alice", Buy, d("10"), d("100"), GTC, 0)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Balances are exactly as before.
	assert.True(t, inner.GetBalance("alice", "USDT").Equal(aliceUSDT))
	assert.True(t, inner.LockedBalance("alice", "USDT").IsZero())
	assert.True(t, inner.GetBalance("alice", "BTC").Equal(d("1000")))
	assert.True(t, inner.LockedBalance("bob", "BTC").Equal(bobBTCLocked))
	assert.True(t, inner.GetBalance("bob", "USDT").Equal(d("1000000")))

	// Both makers are back resting, unfilled and in their original order.
	count, volume := book.Level(Sell, d("10"))
	assert.Equal(t, int64(2), count)
	assert.True(t, volume.Equal(d("100")))

	bobOrder, err := book.GetOrder(bobID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, bobOrder.Status)
	assert.True(t, bobOrder.Filled.IsZero())

	carolOrder, err := book.GetOrder(carolID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, carolOrder.Status)

	snap := book.Snapshot()
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, bobID, snap.Asks[0].ID)
	assert.Equal(t, carolID, snap.Asks[1].ID)

	// The rejected taker is not recorded and no events leaked.
	assert.Equal(t, logsBefore, publisher.Count())

	// The same placement succeeds once the ledger behaves.
	ledger.failAt = 0
	id, err := book.PlaceLimitOrder("alice", Buy, d("10"), d("100"), GTC, 0)
	require.NoError(t, err)
	order, err := book.GetOrder(id)
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, order.Status)
}

// recordingMarginHook captures every fill routed through the hook.
type recordingMarginHook struct {
	orders []OrderID
	fills  []Fill
	err    error
}

func (h *recordingMarginHook) OnFill(order Order, fill Fill) error {
	if h.err != nil {
		return h.err
	}
	h.orders = append(h.orders, order.ID)
	h.fills = append(h.fills, fill)
	return nil
}

func TestMarginHook(t *testing.T) {
	t.Run("invoked per fill for flagged orders only", func(t *testing.T) {
		book, _, _ := newTestBook(t)
		hook := &recordingMarginHook{}
		book.SetMarginHook(hook)

		_, err := book.PlaceLimitOrder("bob", Sell, d("10"), d("50"), GTC, 0)
		require.NoError(t, err)

		// Unflagged taker: hook stays silent.
		_, _, err = book.PlaceMarketOrder("alice", Buy, d("20"), 0)
		require.NoError(t, err)
		assert.Empty(t, hook.fills)

		// Flagged taker: one callback per fill.
		takerID, _, err := book.PlaceMarketOrder("alice", Buy, d("20"), MarginAutoBorrow)
		require.NoError(t, err)
		require.Len(t, hook.fills, 1)
		assert.Equal(t, []OrderID{takerID}, hook.orders)
		assert.True(t, hook.fills[0].Quantity.Equal(d("20")))
		assert.True(t, hook.fills[0].Price.Equal(d("10")))
	})

	t.Run("hook failure aborts the operation", func(t *testing.T) {
		book, ledger, _ := newTestBook(t)
		hook := &recordingMarginHook{err: fmt.Errorf("%w: borrow rejected", ErrInsufficientBalance)}
		book.SetMarginHook(hook)

		makerID, err := book.PlaceLimitOrder("bob", Sell, d("10"), d("50"), GTC, 0)
		require.NoError(t, err)

		_, _, err = book.PlaceMarketOrder("alice", Buy, d("20"), MarginAutoBorrow)
		assert.ErrorIs(t, err, ErrInsufficientBalance)

		maker, err := book.GetOrder(makerID)
		require.NoError(t, err)
		assert.True(t, maker.Filled.IsZero())
		assert.True(t, ledger.GetBalance("alice", "BTC").Equal(d("1000")))
		assert.True(t, ledger.GetBalance("alice", "USDT").Equal(d("1000000")))
	})
}

func TestBookInvariantsAfterMixedFlow(t *testing.T) {
	book, _, _ := newTestBook(t)

	_, err := book.PlaceLimitOrder("alice", Buy, d("9"), d("10"), GTC, 0)
	require.NoError(t, err)
	_, err = book.PlaceLimitOrder("bob", Buy, d("10"), d("20"), GTC, 0)
	require.NoError(t, err)
	_, err = book.PlaceLimitOrder("carol", Sell, d("11"), d("30"), GTC, 0)
	require.NoError(t, err)
	_, _, err = book.PlaceMarketOrder("alice", Sell, d("25"), 0)
	require.NoError(t, err)

	// Every occupied level's aggregate equals the sum of its orders' remainders.
	snap := book.Snapshot()
	for _, side := range []Side{Buy, Sell} {
		perPrice := make(map[string]decimal.Decimal)
		orders := snap.Bids
		if side == Sell {
			orders = snap.Asks
		}
		for i := range orders {
			o := orders[i]
			assert.False(t, o.Filled.IsNegative())
			assert.True(t, o.Filled.LessThanOrEqual(o.Quantity))
			key := o.LimitPrice().String()
			perPrice[key] = perPrice[key].Add(o.Remaining())
		}
		for key, sum := range perPrice {
			_, volume := book.Level(side, d(key))
			assert.True(t, volume.Equal(sum), "side %s level %s volume %s != %s", side, key, volume, sum)
		}
	}
}
