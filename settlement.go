package clob

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CustodyLedger is the settlement boundary. The book locks a limit order's
// deposit at placement and settles both legs of every fill through it.
// Each call must fully succeed or leave the ledger untouched; the book's
// unit of work takes care of unwinding earlier calls of an aborted operation.
type CustodyLedger interface {
	GetBalance(user, asset string) decimal.Decimal
	Lock(user, asset string, amount decimal.Decimal) error
	Unlock(user, asset string, amount decimal.Decimal) error

	// TransferBetween moves unlocked funds from one account to another.
	TransferBetween(from, to, asset string, amount decimal.Decimal) error

	// TransferLockedFrom moves funds out of the sender's lock into the
	// receiver's available balance.
	TransferLockedFrom(from, to, asset string, amount decimal.Decimal) error
}

// JournalEntry is one committed custody movement, kept for audit.
type JournalEntry struct {
	ID     uuid.UUID
	Op     string
	From   string
	To     string
	Asset  string
	Amount decimal.Decimal
	At     time.Time
}

type balance struct {
	available decimal.Decimal
	locked    decimal.Decimal
}

// MemoryCustodyLedger is an in-process CustodyLedger with per-account,
// per-asset available and locked balances and an append-only journal.
type MemoryCustodyLedger struct {
	mu       sync.Mutex
	balances map[string]map[string]*balance
	journal  []JournalEntry
}

func NewMemoryCustodyLedger() *MemoryCustodyLedger {
	return &MemoryCustodyLedger{
		balances: make(map[string]map[string]*balance),
	}
}

func (l *MemoryCustodyLedger) account(user, asset string) *balance {
	assets, ok := l.balances[user]
	if !ok {
		assets = make(map[string]*balance)
		l.balances[user] = assets
	}
	b, ok := assets[asset]
	if !ok {
		b = &balance{available: decimal.Zero, locked: decimal.Zero}
		assets[asset] = b
	}
	return b
}

func (l *MemoryCustodyLedger) record(op, from, to, asset string, amount decimal.Decimal) {
	l.journal = append(l.journal, JournalEntry{
		ID:     uuid.New(),
		Op:     op,
		From:   from,
		To:     to,
		Asset:  asset,
		Amount: amount,
		At:     time.Now().UTC(),
	})
}

// Deposit credits an account's available balance. Funding entry point for
// tests and embedding processes.
func (l *MemoryCustodyLedger) Deposit(user, asset string, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.account(user, asset)
	b.available = b.available.Add(amount)
	l.record("deposit", "", user, asset, amount)
}

func (l *MemoryCustodyLedger) GetBalance(user, asset string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.account(user, asset).available
}

// LockedBalance returns the account's locked balance for an asset.
func (l *MemoryCustodyLedger) LockedBalance(user, asset string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.account(user, asset).locked
}

func (l *MemoryCustodyLedger) Lock(user, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.account(user, asset)
	if b.available.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s available, need %s", ErrInsufficientBalance, user, b.available, asset, amount)
	}
	b.available = b.available.Sub(amount)
	b.locked = b.locked.Add(amount)
	l.record("lock", user, user, asset, amount)
	return nil
}

func (l *MemoryCustodyLedger) Unlock(user, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.account(user, asset)
	if b.locked.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s locked, need %s", ErrInsufficientBalance, user, b.locked, asset, amount)
	}
	b.locked = b.locked.Sub(amount)
	b.available = b.available.Add(amount)
	l.record("unlock", user, user, asset, amount)
	return nil
}

func (l *MemoryCustodyLedger) TransferBetween(from, to, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.account(from, asset)
	if src.available.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s available, need %s", ErrInsufficientBalance, from, src.available, asset, amount)
	}
	dst := l.account(to, asset)
	src.available = src.available.Sub(amount)
	dst.available = dst.available.Add(amount)
	l.record("transfer", from, to, asset, amount)
	return nil
}

func (l *MemoryCustodyLedger) TransferLockedFrom(from, to, asset string, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.account(from, asset)
	if src.locked.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s %s locked, need %s", ErrInsufficientBalance, from, src.locked, asset, amount)
	}
	dst := l.account(to, asset)
	src.locked = src.locked.Sub(amount)
	dst.available = dst.available.Add(amount)
	l.record("transfer_locked", from, to, asset, amount)
	return nil
}

// Journal returns a copy of all committed entries.
func (l *MemoryCustodyLedger) Journal() []JournalEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]JournalEntry, len(l.journal))
	copy(entries, l.journal)
	return entries
}
