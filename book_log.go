package clob

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type LogType string

const (
	LogTypePlaced LogType = "placed" // order accepted by the book
	LogTypeOpen   LogType = "open"   // remainder rested in a queue
	LogTypeMatch  LogType = "match"  // one fill, at the maker's price
	LogTypeUpdate LogType = "update" // fill/status change on an order
	LogTypeCancel LogType = "cancel" // order cancelled, remainder released
)

// BookLog represents an event emitted by the order book.
// SequenceID is assigned at commit time and increases by one per published
// event, so downstream consumers can order, deduplicate and detect gaps.
// Quantity carries the event's size: full order quantity for placed, resting
// size for open, executed size for match, released remainder for cancel and
// for expiry updates.
type BookLog struct {
	SequenceID   uint64          `json:"seq_id"`
	Type         LogType         `json:"type"`
	Pair         string          `json:"pair"`
	OrderID      OrderID         `json:"order_id"`
	Owner        string          `json:"owner"`
	Side         Side            `json:"side"`
	Status       OrderStatus     `json:"status,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Filled       decimal.Decimal `json:"filled"`
	TradeRef     string          `json:"trade_ref,omitempty"` // set for match events only
	MakerOrderID OrderID         `json:"maker_order_id,omitempty"`
	MakerOwner   string          `json:"maker_owner,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

var bookLogPool = sync.Pool{
	New: func() any {
		return new(BookLog)
	},
}

func acquireBookLog() *BookLog {
	return bookLogPool.Get().(*BookLog)
}

func releaseBookLog(log *BookLog) {
	// Reset structure to zero values.
	// For decimal.Decimal, the zero value (nil internal pointer) represents 0, which is valid.
	*log = BookLog{}
	bookLogPool.Put(log)
}

func newPlacedLog(pair string, order *Order) *BookLog {
	log := acquireBookLog()
	log.Type = LogTypePlaced
	log.Pair = pair
	log.OrderID = order.ID
	log.Owner = order.Owner
	log.Side = order.Side
	log.Status = order.Status
	log.Price = order.LimitPrice()
	log.Quantity = order.Quantity
	log.Filled = order.Filled
	log.CreatedAt = time.Now().UTC()
	return log
}

func newOpenLog(pair string, order *Order) *BookLog {
	log := acquireBookLog()
	log.Type = LogTypeOpen
	log.Pair = pair
	log.OrderID = order.ID
	log.Owner = order.Owner
	log.Side = order.Side
	log.Status = order.Status
	log.Price = order.LimitPrice()
	log.Quantity = order.Remaining()
	log.Filled = order.Filled
	log.CreatedAt = time.Now().UTC()
	return log
}

func newMatchLog(pair string, taker, maker *Order, fill Fill) *BookLog {
	log := acquireBookLog()
	log.Type = LogTypeMatch
	log.Pair = pair
	log.OrderID = taker.ID
	log.Owner = taker.Owner
	log.Side = taker.Side
	log.Price = fill.Price
	log.Quantity = fill.Quantity
	log.Filled = taker.Filled
	log.TradeRef = fill.TradeRef
	log.MakerOrderID = maker.ID
	log.MakerOwner = maker.Owner
	log.CreatedAt = time.Now().UTC()
	return log
}

// newUpdateLog reports a fill or status change. released is the resting
// quantity freed by a terminal transition (expiry), zero otherwise.
func newUpdateLog(pair string, order *Order, released decimal.Decimal) *BookLog {
	log := acquireBookLog()
	log.Type = LogTypeUpdate
	log.Pair = pair
	log.OrderID = order.ID
	log.Owner = order.Owner
	log.Side = order.Side
	log.Status = order.Status
	log.Price = order.LimitPrice()
	log.Quantity = released
	log.Filled = order.Filled
	log.CreatedAt = time.Now().UTC()
	return log
}

func newCancelLog(pair string, order *Order, released decimal.Decimal) *BookLog {
	log := acquireBookLog()
	log.Type = LogTypeCancel
	log.Pair = pair
	log.OrderID = order.ID
	log.Owner = order.Owner
	log.Side = order.Side
	log.Status = order.Status
	log.Price = order.LimitPrice()
	log.Quantity = released
	log.Filled = order.Filled
	log.CreatedAt = time.Now().UTC()
	return log
}

// EventPublisher receives the book's event stream.
//
// IMPORTANT: Implementations must either:
//  1. Process logs synchronously before returning, OR
//  2. Clone the BookLog data before returning
//
// The caller recycles BookLog objects to a sync.Pool after Publish returns,
// so any asynchronous processing must work with cloned data.
type EventPublisher interface {
	Publish(...*BookLog)
}

// MemoryPublisher stores logs in memory, useful for testing.
type MemoryPublisher struct {
	mu   sync.RWMutex
	logs []*BookLog
}

// NewMemoryPublisher creates a new MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		logs: make([]*BookLog, 0),
	}
}

// Publish appends cloned logs to the in-memory slice.
func (m *MemoryPublisher) Publish(logs ...*BookLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, log := range logs {
		cpy := new(BookLog)
		*cpy = *log
		m.logs = append(m.logs, cpy)
	}
}

// Count returns the number of logs stored.
func (m *MemoryPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.logs)
}

// Get returns the log at the specified index.
func (m *MemoryPublisher) Get(index int) *BookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.logs[index]
}

// Logs returns a copy of all logs stored.
func (m *MemoryPublisher) Logs() []*BookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logs := make([]*BookLog, len(m.logs))
	copy(logs, m.logs)
	return logs
}

// OfType returns all stored logs of the given type.
func (m *MemoryPublisher) OfType(t LogType) []*BookLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	logs := make([]*BookLog, 0)
	for _, log := range m.logs {
		if log.Type == t {
			logs = append(logs, log)
		}
	}
	return logs
}

// DiscardPublisher drops all logs, useful for benchmarking.
type DiscardPublisher struct {
}

// NewDiscardPublisher creates a new DiscardPublisher.
func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

// Publish does nothing.
func (p *DiscardPublisher) Publish(logs ...*BookLog) {

}
