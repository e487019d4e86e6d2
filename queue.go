package clob

import (
	"fmt"

	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// priceLevel is the FIFO queue of resting orders at one price. Orders are
// linked head to tail (oldest first) through the book's order ledger using id
// links, so relinking is O(1) and involves no pointer cycles.
// Invariant: volume == sum of Remaining() over all linked orders, and a level
// with count == 0 is never present in the side's price index.
type priceLevel struct {
	price  decimal.Decimal
	headID OrderID
	tailID OrderID
	count  int64
	volume decimal.Decimal
}

// bookSide owns one side of the book: the ordered set of occupied price levels
// and their queues. The price index is a skip list sorted best price first
// (descending for bids, ascending for asks), giving O(log n) insert, remove
// and neighbor lookups over distinct occupied prices.
type bookSide struct {
	side   Side
	levels *skiplist.SkipList
	arena  map[OrderID]*Order
}

// newBidSide creates the buy side. Best price first means highest first.
func newBidSide(arena map[OrderID]*Order) *bookSide {
	return &bookSide{
		side:  Buy,
		arena: arena,
		levels: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)

			if d1.LessThan(d2) {
				return 1
			} else if d1.GreaterThan(d2) {
				return -1
			}

			return 0
		})),
	}
}

// newAskSide creates the sell side. Best price first means lowest first.
func newAskSide(arena map[OrderID]*Order) *bookSide {
	return &bookSide{
		side:  Sell,
		arena: arena,
		levels: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			d1, _ := lhs.(decimal.Decimal)
			d2, _ := rhs.(decimal.Decimal)

			if d1.GreaterThan(d2) {
				return 1
			} else if d1.LessThan(d2) {
				return -1
			}

			return 0
		})),
	}
}

// level returns the queue at price, or nil when the price is unoccupied.
func (s *bookSide) level(price decimal.Decimal) *priceLevel {
	el := s.levels.Get(price)
	if el == nil {
		return nil
	}
	lvl, _ := el.Value.(*priceLevel)
	return lvl
}

// bestLevel returns the most aggressive occupied level, or nil when empty.
func (s *bookSide) bestLevel() *priceLevel {
	el := s.levels.Front()
	if el == nil {
		return nil
	}
	lvl, _ := el.Value.(*priceLevel)
	return lvl
}

// bestPrice returns the most aggressive occupied price, or zero when empty.
func (s *bookSide) bestPrice() decimal.Decimal {
	lvl := s.bestLevel()
	if lvl == nil {
		return decimal.Zero
	}
	return lvl.price
}

// worstPrice returns the least aggressive occupied price, or zero when empty.
func (s *bookSide) worstPrice() decimal.Decimal {
	el := s.levels.Back()
	if el == nil {
		return decimal.Zero
	}
	lvl, _ := el.Value.(*priceLevel)
	return lvl.price
}

func (s *bookSide) levelCount() int {
	return s.levels.Len()
}

// append links an order at the tail of its price level, creating the level on
// first use. Tail insertion preserves time priority.
func (s *bookSide) append(o *Order) {
	lvl := s.level(o.LimitPrice())
	if lvl == nil {
		lvl = &priceLevel{price: o.LimitPrice(), volume: decimal.Zero}
		s.levels.Set(lvl.price, lvl)
	}

	o.prevID = lvl.tailID
	o.nextID = 0
	if lvl.tailID != 0 {
		s.arena[lvl.tailID].nextID = o.ID
	}
	lvl.tailID = o.ID
	if lvl.headID == 0 {
		lvl.headID = o.ID
	}

	lvl.count++
	lvl.volume = lvl.volume.Add(o.Remaining())
	o.queued = true
}

// unlink splices the order out of its level in O(1) and drops the level from
// the price index once empty. It does not touch the level's volume; callers
// account for volume explicitly so fills and cancellations compose with the
// rollback journal.
func (s *bookSide) unlink(lvl *priceLevel, o *Order) error {
	if lvl == nil || !o.queued {
		logger.Error("unlink of an order that is not queued", "order_id", uint64(o.ID))
		return fmt.Errorf("%w: order %d is not queued", ErrQueueInvariant, o.ID)
	}

	if o.prevID != 0 {
		s.arena[o.prevID].nextID = o.nextID
	} else {
		lvl.headID = o.nextID
	}
	if o.nextID != 0 {
		s.arena[o.nextID].prevID = o.prevID
	} else {
		lvl.tailID = o.prevID
	}

	o.prevID = 0
	o.nextID = 0
	o.queued = false
	lvl.count--

	if lvl.count == 0 {
		if lvl.headID != 0 || lvl.tailID != 0 {
			logger.Error("empty level still holds linked orders", "price", lvl.price)
			return fmt.Errorf("%w: level %s is empty but still linked", ErrQueueInvariant, lvl.price)
		}
		s.levels.Remove(lvl.price)
	} else if lvl.count < 0 {
		logger.Error("level order count went negative", "price", lvl.price)
		return fmt.Errorf("%w: level %s count below zero", ErrQueueInvariant, lvl.price)
	}

	return nil
}

// relinkAt is the exact inverse of unlink: it re-splices the order between
// its former neighbors and restores the level into the price index when it
// had been dropped. It exists for the rollback journal, which unwinds in LIFO
// order, so the captured neighbors are linked again by the time this runs.
func (s *bookSide) relinkAt(lvl *priceLevel, o *Order, prevID, nextID OrderID) {
	if s.levels.Get(lvl.price) == nil {
		s.levels.Set(lvl.price, lvl)
	}

	o.prevID = prevID
	o.nextID = nextID
	if prevID != 0 {
		s.arena[prevID].nextID = o.ID
	} else {
		lvl.headID = o.ID
	}
	if nextID != 0 {
		s.arena[nextID].prevID = o.ID
	} else {
		lvl.tailID = o.ID
	}

	lvl.count++
	o.queued = true
}

// remove takes a resting order out of the book entirely (cancel or expiry
// path) and keeps the level's volume in step with its queue.
func (s *bookSide) remove(lvl *priceLevel, o *Order) error {
	if err := s.unlink(lvl, o); err != nil {
		return err
	}
	lvl.volume = lvl.volume.Sub(o.Remaining())
	return nil
}

// toSnapshot copies all resting orders, walking levels best-first and each
// queue head to tail to preserve priority.
func (s *bookSide) toSnapshot() []Order {
	snapshots := make([]Order, 0)

	el := s.levels.Front()
	for el != nil {
		lvl, _ := el.Value.(*priceLevel)

		for id := lvl.headID; id != 0; {
			o := s.arena[id]
			id = o.nextID
			snapshots = append(snapshots, *o)
		}

		el = el.Next()
	}

	return snapshots
}

// depth walks levels best-first starting at startPrice (zero = from the best)
// and returns up to count aggregated entries.
func (s *bookSide) depth(startPrice decimal.Decimal, count int) []DepthItem {
	result := make([]DepthItem, 0, count)

	var el *skiplist.Element
	if startPrice.IsZero() {
		el = s.levels.Front()
	} else {
		el = s.levels.Find(startPrice)
	}

	for i := 0; i < count && el != nil; i++ {
		lvl, _ := el.Value.(*priceLevel)
		result = append(result, DepthItem{
			Price:  lvl.price,
			Volume: lvl.volume,
			Count:  lvl.count,
		})
		el = el.Next()
	}

	return result
}
