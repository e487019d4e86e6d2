package clob

import (
	"fmt"
	"sync"

	"github.com/igrmk/treemap/v2"
	"github.com/shopspring/decimal"
)

// DepthView maintains a simplified view of the order book, tracking only
// price levels and their aggregated sizes. It is designed for downstream
// consumers that rebuild book state from the event stream (e.g. received via
// a message queue) without holding the book's lock. Per-level order counts
// are not tracked; DepthItem.Count is always zero in its output.
type DepthView struct {
	mu    sync.RWMutex
	seqID uint64
	ask   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
	bid   *treemap.TreeMap[decimal.Decimal, decimal.Decimal]
}

// NewDepthView creates an empty view.
func NewDepthView() *DepthView {
	return &DepthView{
		ask: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
			return a.LessThan(b)
		}),
		bid: treemap.NewWithKeyCompare[decimal.Decimal, decimal.Decimal](func(a, b decimal.Decimal) bool {
			return a.LessThan(b)
		}),
	}
}

// SequenceID returns the last applied sequence id, used for synchronization
// and gap detection during rebuild.
func (v *DepthView) SequenceID() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.seqID
}

// Reset clears the view and rebases it on the given sequence id, typically
// taken from a snapshot before replaying subsequent events.
func (v *DepthView) Reset(seqID uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.seqID = seqID
	v.ask.Clear()
	v.bid.Clear()
}

// Apply folds one event into the view. Events must arrive in sequence order;
// a gap returns ErrSequenceGap and leaves the view unchanged.
func (v *DepthView) Apply(log *BookLog) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.seqID != 0 && log.SequenceID != v.seqID+1 {
		return fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, v.seqID, log.SequenceID)
	}
	v.seqID = log.SequenceID

	change := CalculateDepthChange(log)
	if change.Side == 0 || change.SizeDiff.IsZero() {
		return nil
	}

	tree := v.ask
	if change.Side == Buy {
		tree = v.bid
	}

	current, _ := tree.Get(change.Price)
	next := current.Add(change.SizeDiff)
	if next.IsPositive() {
		tree.Set(change.Price, next)
	} else {
		tree.Del(change.Price)
	}

	return nil
}

// Size returns the aggregated size at a price level, zero when unoccupied.
func (v *DepthView) Size(side Side, price decimal.Decimal) decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()

	tree := v.ask
	if side == Buy {
		tree = v.bid
	}
	size, _ := tree.Get(price)
	return size
}

// Depth returns up to limit levels, best price first.
func (v *DepthView) Depth(side Side, limit int) []DepthItem {
	v.mu.RLock()
	defer v.mu.RUnlock()

	result := make([]DepthItem, 0, limit)

	if side == Buy {
		// Bids iterate highest price first.
		for it := v.bid.Reverse(); it.Valid() && len(result) < limit; it.Next() {
			result = append(result, DepthItem{Price: it.Key(), Volume: it.Value()})
		}
		return result
	}

	for it := v.ask.Iterator(); it.Valid() && len(result) < limit; it.Next() {
		result = append(result, DepthItem{Price: it.Key(), Volume: it.Value()})
	}
	return result
}
