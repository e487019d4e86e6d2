package clob

// MarginHook receives every committed-side fill of an order that carries
// margin flags. The hook decides what auto-borrow/auto-repay means; the book
// only guarantees the call happens after the fill's settlement legs and
// inside the same unit of work, so a hook error aborts the whole operation.
type MarginHook interface {
	OnFill(order Order, fill Fill) error
}

// NopMarginHook ignores all fills.
type NopMarginHook struct{}

func (NopMarginHook) OnFill(order Order, fill Fill) error {
	return nil
}
