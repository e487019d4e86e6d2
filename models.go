package clob

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
)

// Opposite returns the side an incoming order matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	}
	return "unknown"
}

// TimeInForce controls what happens to the unmatched remainder of a limit order.
type TimeInForce string

const (
	GTC      TimeInForce = "gtc"       // Good Til Cancelled: remainder rests in the book
	IOC      TimeInForce = "ioc"       // Immediate Or Cancel: remainder is discarded
	FOK      TimeInForce = "fok"       // Fill Or Kill: fill completely or reject with no mutation
	PostOnly TimeInForce = "post_only" // must rest as maker, rejected if it would cross
)

func (t TimeInForce) valid() bool {
	switch t {
	case GTC, IOC, FOK, PostOnly:
		return true
	}
	return false
}

type OrderStatus string

const (
	StatusOpen            OrderStatus = "open"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusExpired         OrderStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// OrderID is monotonically assigned per book and never reused.
// Zero is the null id and doubles as the end-of-list sentinel in queue links.
type OrderID uint64

// OrderVariant is the tagged order kind. Exactly two variants exist:
// LimitOrder carries a price and a time-in-force, MarketOrder carries neither,
// so invalid combinations are unrepresentable.
type OrderVariant interface {
	orderVariant()
}

type LimitOrder struct {
	Price       decimal.Decimal
	TimeInForce TimeInForce
}

type MarketOrder struct{}

func (LimitOrder) orderVariant()  {}
func (MarketOrder) orderVariant() {}

// MarginFlags ride on the order for the post-fill margin hook and audit.
// The matching loop never inspects them.
type MarginFlags uint8

const (
	MarginAutoBorrow MarginFlags = 1 << iota
	MarginAutoRepay
)

// Order is the canonical order record. Records are never deleted from the
// book's ledger, only unlinked from their queue, preserving audit history.
type Order struct {
	ID       OrderID
	Owner    string
	Side     Side
	Variant  OrderVariant
	Quantity decimal.Decimal
	Filled   decimal.Decimal
	Status   OrderStatus

	// ExpiresAt is the unix-nano expiry deadline, 0 means never. Expired
	// orders are evicted lazily when their queue is walked.
	ExpiresAt int64

	// Margin and Delegate are owner-visible metadata, opaque to matching.
	// Delegate may cancel the order on the owner's behalf.
	Margin   MarginFlags
	Delegate string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Queue links through the book's order ledger (id arena). Zero = none.
	prevID OrderID
	nextID OrderID
	queued bool
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.Filled)
}

// IsMarket reports whether the order is a market order.
func (o *Order) IsMarket() bool {
	_, ok := o.Variant.(MarketOrder)
	return ok
}

// LimitPrice returns the limit price, or zero for market orders.
func (o *Order) LimitPrice() decimal.Decimal {
	if lo, ok := o.Variant.(LimitOrder); ok {
		return lo.Price
	}
	return decimal.Zero
}

// TimeInForce returns the limit order's time-in-force, or empty for market orders.
func (o *Order) TimeInForce() TimeInForce {
	if lo, ok := o.Variant.(LimitOrder); ok {
		return lo.TimeInForce
	}
	return ""
}

func (o *Order) expired(nowNano int64) bool {
	return o.ExpiresAt != 0 && o.ExpiresAt <= nowNano
}

// Fill describes one executed match, always at the maker's price.
type Fill struct {
	TradeRef     string
	TakerOrderID OrderID
	MakerOrderID OrderID
	Price        decimal.Decimal
	Quantity     decimal.Decimal
}

// DepthItem is one aggregated price level in a depth view.
type DepthItem struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Count  int64           `json:"count"`
}

// OrderOption customizes optional order fields at placement.
type OrderOption func(*Order)

// WithExpiry sets the order's expiry deadline.
func WithExpiry(t time.Time) OrderOption {
	return func(o *Order) {
		o.ExpiresAt = t.UnixNano()
	}
}

// WithDelegate authorizes another account to cancel the order.
func WithDelegate(account string) OrderOption {
	return func(o *Order) {
		o.Delegate = account
	}
}
