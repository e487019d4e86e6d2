package clob

import (
	"fmt"
	"sync"
)

// PairID builds the canonical identifier for a trading pair.
func PairID(baseAsset, quoteAsset string) string {
	return baseAsset + "/" + quoteAsset
}

// Engine is the pair registry: it resolves (baseAsset, quoteAsset) to its
// OrderBook instance. All books share one custody ledger and one event
// publisher.
type Engine struct {
	ledger    CustodyLedger
	publisher EventPublisher
	books     sync.Map
}

func NewEngine(ledger CustodyLedger, publisher EventPublisher) *Engine {
	return &Engine{
		ledger:    ledger,
		publisher: publisher,
	}
}

// Register creates the book for a pair, or returns the existing one when the
// pair is already registered.
func (engine *Engine) Register(baseAsset, quoteAsset, owner string, rules TradingRules) (*OrderBook, error) {
	pair := PairID(baseAsset, quoteAsset)
	if existing, found := engine.books.Load(pair); found {
		book, _ := existing.(*OrderBook)
		return book, nil
	}

	book, err := NewOrderBook(baseAsset, quoteAsset, owner, rules, engine.ledger, engine.publisher)
	if err != nil {
		return nil, err
	}

	actual, _ := engine.books.LoadOrStore(pair, book)
	registered, _ := actual.(*OrderBook)
	return registered, nil
}

// Book resolves a registered pair to its order book.
func (engine *Engine) Book(baseAsset, quoteAsset string) (*OrderBook, error) {
	found, ok := engine.books.Load(PairID(baseAsset, quoteAsset))
	if !ok {
		return nil, fmt.Errorf("%w: pair %s", ErrNotFound, PairID(baseAsset, quoteAsset))
	}

	book, _ := found.(*OrderBook)
	return book, nil
}
