package clob

import "errors"

// Error categories. Specific failures wrap one of these with fmt.Errorf("%w: ..."),
// so callers branch with errors.Is.
var (
	// ErrValidation covers trading-rule violations: bad price or quantity
	// granularity, below minimum size. Always rejected before any mutation.
	ErrValidation = errors.New("order violates trading rules")

	// ErrInsufficientBalance is a settlement lock/transfer shortfall. The whole
	// operation is aborted, nothing is partially applied.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNotFound covers unknown orders, unknown books, and cancellation
	// attempts by an account that is neither owner nor delegate.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState covers cancel on a terminal order, an unsatisfiable FOK,
	// and a crossing post-only order. Rejected with no mutation.
	ErrInvalidState = errors.New("invalid order state")

	// ErrQueueInvariant indicates an internal defect, e.g. removing an order
	// from an empty queue. It is never expected in correct operation and is
	// not meant to be handled by callers.
	ErrQueueInvariant = errors.New("order queue invariant violated")

	// ErrSequenceGap is returned by DepthView when the event stream skips a
	// sequence id and the view can no longer be trusted.
	ErrSequenceGap = errors.New("event sequence gap detected")
)
