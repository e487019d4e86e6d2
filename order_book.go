package clob

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook is the matching core for one trading pair. It owns the per-side
// price indexes, the per-level FIFO queues and the canonical order ledger,
// validates trading rules before any mutation and settles every fill through
// the custody ledger.
//
// Every mutating operation and every view runs under one mutex, so the
// multi-step queue/index/ledger updates of a single call appear atomic to all
// other callers; settlement calls stay synchronous inside that boundary.
type OrderBook struct {
	mu sync.Mutex

	pair       string
	baseAsset  string
	quoteAsset string
	owner      string

	rules      TradingRules
	ledger     CustodyLedger
	publisher  EventPublisher
	marginHook MarginHook

	// orders is the canonical id-indexed ledger; records are unlinked from
	// their queue when terminal, never deleted.
	orders map[OrderID]*Order
	bids   *bookSide
	asks   *bookSide

	lastOrderID uint64
	seqID       uint64
}

// NewOrderBook creates the book for one pair. owner is the account allowed to
// adjust the trading rules. A nil publisher discards all events.
func NewOrderBook(baseAsset, quoteAsset, owner string, rules TradingRules, ledger CustodyLedger, publisher EventPublisher) (*OrderBook, error) {
	if baseAsset == "" || quoteAsset == "" || baseAsset == quoteAsset {
		return nil, fmt.Errorf("%w: invalid pair %q/%q", ErrValidation, baseAsset, quoteAsset)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: custody ledger is required", ErrValidation)
	}
	if err := rules.validate(); err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = NewDiscardPublisher()
	}

	orders := make(map[OrderID]*Order)
	return &OrderBook{
		pair:       PairID(baseAsset, quoteAsset),
		baseAsset:  baseAsset,
		quoteAsset: quoteAsset,
		owner:      owner,
		rules:      rules,
		ledger:     ledger,
		publisher:  publisher,
		orders:     orders,
		bids:       newBidSide(orders),
		asks:       newAskSide(orders),
	}, nil
}

// Pair returns the book's pair identifier.
func (book *OrderBook) Pair() string {
	return book.pair
}

// SetMarginHook installs the post-fill borrow/repay callback.
func (book *OrderBook) SetMarginHook(h MarginHook) {
	book.mu.Lock()
	defer book.mu.Unlock()
	book.marginHook = h
}

// Rules returns the current trading rules.
func (book *OrderBook) Rules() TradingRules {
	book.mu.Lock()
	defer book.mu.Unlock()
	return book.rules
}

// SetTradingRules replaces the trading rules. Only the book owner may call it.
func (book *OrderBook) SetTradingRules(caller string, rules TradingRules) error {
	book.mu.Lock()
	defer book.mu.Unlock()

	if caller != book.owner {
		return fmt.Errorf("%w: only the book owner may change trading rules", ErrInvalidState)
	}
	if err := rules.validate(); err != nil {
		return err
	}
	book.rules = rules
	return nil
}

func (book *OrderBook) sideOf(s Side) *bookSide {
	if s == Buy {
		return book.bids
	}
	return book.asks
}

func (book *OrderBook) nextSeq() uint64 {
	book.seqID++
	return book.seqID
}

// restingLock returns the asset and amount a resting order of this book locks
// for the given quantity: quote at the limit price for bids, base for asks.
func (book *OrderBook) restingLock(o *Order, qty decimal.Decimal) (string, decimal.Decimal) {
	if o.Side == Buy {
		return book.quoteAsset, qty.Mul(o.LimitPrice())
	}
	return book.baseAsset, qty
}

func validateSide(side Side) error {
	if side != Buy && side != Sell {
		return fmt.Errorf("%w: unknown side %d", ErrValidation, side)
	}
	return nil
}

// PlaceLimitOrder validates, locks the required deposit, matches against the
// opposite side and applies the time-in-force to the remainder. Violations
// reject with a specific error and mutate nothing; settlement failures abort
// the whole placement as one unit.
func (book *OrderBook) PlaceLimitOrder(owner string, side Side, price, quantity decimal.Decimal, tif TimeInForce, flags MarginFlags, opts ...OrderOption) (OrderID, error) {
	book.mu.Lock()
	defer book.mu.Unlock()

	if owner == "" {
		return 0, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if err := validateSide(side); err != nil {
		return 0, err
	}
	if !tif.valid() {
		return 0, fmt.Errorf("%w: unknown time in force %q", ErrValidation, tif)
	}
	if err := book.rules.validatePrice(price); err != nil {
		return 0, err
	}
	if err := book.rules.validateQuantity(quantity); err != nil {
		return 0, err
	}

	now := time.Now()
	order := &Order{
		Owner:     owner,
		Side:      side,
		Variant:   LimitOrder{Price: price, TimeInForce: tif},
		Quantity:  quantity,
		Filled:    decimal.Zero,
		Status:    StatusOpen,
		Margin:    flags,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	for _, opt := range opts {
		opt(order)
	}
	if order.ExpiresAt != 0 && order.ExpiresAt <= now.UnixNano() {
		return 0, fmt.Errorf("%w: expiry is in the past", ErrValidation)
	}

	// Post-only must never execute; fill-or-kill must execute completely.
	// Both are decided before any balance lock or queue mutation.
	opp := book.sideOf(side.Opposite())
	switch tif {
	case PostOnly:
		if best := opp.bestLevel(); best != nil && crosses(side, price, best.price) {
			return 0, fmt.Errorf("%w: post-only order would cross at %s", ErrInvalidState, best.price)
		}
	case FOK:
		if book.previewFill(order).LessThan(quantity) {
			return 0, fmt.Errorf("%w: fill-or-kill order cannot be fully filled", ErrInvalidState)
		}
	}

	uow := newUnitOfWork(book.ledger)

	lockAsset, lockAmount := book.restingLock(order, quantity)
	if err := uow.lock(owner, lockAsset, lockAmount); err != nil {
		uow.rollback()
		return 0, err
	}

	book.lastOrderID++
	order.ID = OrderID(book.lastOrderID)
	book.orders[order.ID] = order
	uow.onRollback(func() {
		delete(book.orders, order.ID)
	})
	uow.emit(newPlacedLog(book.pair, order))

	if tif != PostOnly {
		if _, err := book.match(uow, order); err != nil {
			uow.rollback()
			return 0, err
		}
	}

	remaining := order.Remaining()
	switch {
	case remaining.IsZero():
		order.Status = StatusFilled
		order.UpdatedAt = time.Now().UTC()
		uow.emit(newUpdateLog(book.pair, order, decimal.Zero))

	case tif == GTC || tif == PostOnly:
		if order.Filled.IsPositive() {
			order.Status = StatusPartiallyFilled
		}
		book.sideOf(side).append(order)
		uow.emit(newOpenLog(book.pair, order))

	default: // IOC: discard the remainder and release its share of the lock
		releaseAsset, releaseAmount := book.restingLock(order, remaining)
		if err := uow.unlock(owner, releaseAsset, releaseAmount); err != nil {
			uow.rollback()
			return 0, err
		}
		order.Status = StatusCancelled
		order.UpdatedAt = time.Now().UTC()
		uow.emit(newUpdateLog(book.pair, order, remaining))
	}

	uow.commit(book.publisher, book.nextSeq)
	logger.Debug("limit order placed",
		"pair", book.pair, "order_id", uint64(order.ID), "side", side.String(),
		"price", price.String(), "quantity", quantity.String(), "filled", order.Filled.String())
	return order.ID, nil
}

// PlaceMarketOrder consumes opposite-side liquidity from the taker's
// available balance. Market orders never rest: any unfilled remainder is
// discarded. Returns the order id and the filled quantity.
func (book *OrderBook) PlaceMarketOrder(owner string, side Side, quantity decimal.Decimal, flags MarginFlags, opts ...OrderOption) (OrderID, decimal.Decimal, error) {
	book.mu.Lock()
	defer book.mu.Unlock()

	if owner == "" {
		return 0, decimal.Zero, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if err := validateSide(side); err != nil {
		return 0, decimal.Zero, err
	}
	if err := book.rules.validateQuantity(quantity); err != nil {
		return 0, decimal.Zero, err
	}

	now := time.Now()
	order := &Order{
		Owner:     owner,
		Side:      side,
		Variant:   MarketOrder{},
		Quantity:  quantity,
		Filled:    decimal.Zero,
		Status:    StatusOpen,
		Margin:    flags,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
	for _, opt := range opts {
		opt(order)
	}

	uow := newUnitOfWork(book.ledger)

	book.lastOrderID++
	order.ID = OrderID(book.lastOrderID)
	book.orders[order.ID] = order
	uow.onRollback(func() {
		delete(book.orders, order.ID)
	})
	uow.emit(newPlacedLog(book.pair, order))

	filled, err := book.match(uow, order)
	if err != nil {
		uow.rollback()
		return 0, decimal.Zero, err
	}

	if order.Remaining().IsZero() {
		order.Status = StatusFilled
	} else {
		order.Status = StatusCancelled
	}
	order.UpdatedAt = time.Now().UTC()
	uow.emit(newUpdateLog(book.pair, order, decimal.Zero))

	uow.commit(book.publisher, book.nextSeq)
	logger.Debug("market order placed",
		"pair", book.pair, "order_id", uint64(order.ID), "side", side.String(),
		"quantity", quantity.String(), "filled", filled.String())
	return order.ID, filled, nil
}

// CancelOrder unlinks a resting order and releases its remaining locked
// deposit. The caller must be the order's owner or its delegate.
func (book *OrderBook) CancelOrder(caller string, id OrderID) error {
	book.mu.Lock()
	defer book.mu.Unlock()

	order, ok := book.orders[id]
	if !ok {
		return fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	if caller != order.Owner && (order.Delegate == "" || caller != order.Delegate) {
		return fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	if order.Status.Terminal() {
		return fmt.Errorf("%w: order %d is %s", ErrInvalidState, id, order.Status)
	}
	if !order.queued {
		return fmt.Errorf("%w: order %d is not resting", ErrInvalidState, id)
	}

	uow := newUnitOfWork(book.ledger)

	remaining := order.Remaining()
	asset, amount := book.restingLock(order, remaining)
	if err := uow.unlock(order.Owner, asset, amount); err != nil {
		uow.rollback()
		return err
	}

	side := book.sideOf(order.Side)
	lvl := side.level(order.LimitPrice())
	if err := side.remove(lvl, order); err != nil {
		uow.rollback()
		return err
	}

	order.Status = StatusCancelled
	order.UpdatedAt = time.Now().UTC()
	uow.emit(newCancelLog(book.pair, order, remaining))

	uow.commit(book.publisher, book.nextSeq)
	logger.Debug("order cancelled", "pair", book.pair, "order_id", uint64(id), "released", remaining.String())
	return nil
}

// GetOrder returns a copy of the order record.
func (book *OrderBook) GetOrder(id OrderID) (Order, error) {
	book.mu.Lock()
	defer book.mu.Unlock()

	order, ok := book.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	return *order, nil
}

// BestPrice returns the most aggressive occupied price on a side and its
// aggregate resting volume, or zeros when the side is empty.
func (book *OrderBook) BestPrice(side Side) (decimal.Decimal, decimal.Decimal) {
	book.mu.Lock()
	defer book.mu.Unlock()

	lvl := book.sideOf(side).bestLevel()
	if lvl == nil {
		return decimal.Zero, decimal.Zero
	}
	return lvl.price, lvl.volume
}

// Level returns the order count and aggregate volume resting at one price.
func (book *OrderBook) Level(side Side, price decimal.Decimal) (int64, decimal.Decimal) {
	book.mu.Lock()
	defer book.mu.Unlock()

	lvl := book.sideOf(side).level(price)
	if lvl == nil {
		return 0, decimal.Zero
	}
	return lvl.count, lvl.volume
}

// Depth returns up to count aggregated levels walking from startPrice toward
// less aggressive prices. A zero startPrice starts at the best price.
func (book *OrderBook) Depth(side Side, startPrice decimal.Decimal, count int) []DepthItem {
	book.mu.Lock()
	defer book.mu.Unlock()

	return book.sideOf(side).depth(startPrice, count)
}

// BookSnapshot carries the resting state of a book, best price first on both
// sides, orders in time priority within each level.
type BookSnapshot struct {
	Pair  string  `json:"pair"`
	SeqID uint64  `json:"seq_id"`
	Bids  []Order `json:"bids"`
	Asks  []Order `json:"asks"`
}

// Snapshot captures the current resting orders of the book.
func (book *OrderBook) Snapshot() *BookSnapshot {
	book.mu.Lock()
	defer book.mu.Unlock()

	return &BookSnapshot{
		Pair:  book.pair,
		SeqID: book.seqID,
		Bids:  book.bids.toSnapshot(),
		Asks:  book.asks.toSnapshot(),
	}
}
