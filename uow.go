package clob

import "github.com/shopspring/decimal"

// unitOfWork makes one order-book operation all-or-nothing. Book mutations
// register undo closures and custody-ledger calls register compensating
// calls; on any failure the whole journal is unwound in LIFO order, leaving
// book and ledger exactly as they were. Events are buffered and only handed
// to the publisher once the operation commits.
type unitOfWork struct {
	ledger  CustodyLedger
	journal []func()
	events  []*BookLog
}

func newUnitOfWork(ledger CustodyLedger) *unitOfWork {
	return &unitOfWork{ledger: ledger}
}

// onRollback registers an undo step for a book mutation that just happened.
func (u *unitOfWork) onRollback(fn func()) {
	u.journal = append(u.journal, fn)
}

func (u *unitOfWork) lock(user, asset string, amount decimal.Decimal) error {
	if err := u.ledger.Lock(user, asset, amount); err != nil {
		return err
	}
	u.journal = append(u.journal, func() {
		if err := u.ledger.Unlock(user, asset, amount); err != nil {
			logger.Error("rollback unlock failed", "user", user, "asset", asset, "err", err)
		}
	})
	return nil
}

func (u *unitOfWork) unlock(user, asset string, amount decimal.Decimal) error {
	if err := u.ledger.Unlock(user, asset, amount); err != nil {
		return err
	}
	u.journal = append(u.journal, func() {
		if err := u.ledger.Lock(user, asset, amount); err != nil {
			logger.Error("rollback lock failed", "user", user, "asset", asset, "err", err)
		}
	})
	return nil
}

func (u *unitOfWork) transfer(from, to, asset string, amount decimal.Decimal) error {
	if err := u.ledger.TransferBetween(from, to, asset, amount); err != nil {
		return err
	}
	u.journal = append(u.journal, func() {
		if err := u.ledger.TransferBetween(to, from, asset, amount); err != nil {
			logger.Error("rollback transfer failed", "from", to, "to", from, "asset", asset, "err", err)
		}
	})
	return nil
}

func (u *unitOfWork) transferLocked(from, to, asset string, amount decimal.Decimal) error {
	if err := u.ledger.TransferLockedFrom(from, to, asset, amount); err != nil {
		return err
	}
	u.journal = append(u.journal, func() {
		if err := u.ledger.TransferBetween(to, from, asset, amount); err != nil {
			logger.Error("rollback transfer failed", "from", to, "to", from, "asset", asset, "err", err)
			return
		}
		if err := u.ledger.Lock(from, asset, amount); err != nil {
			logger.Error("rollback relock failed", "user", from, "asset", asset, "err", err)
		}
	})
	return nil
}

// emit buffers an event for publication at commit.
func (u *unitOfWork) emit(log *BookLog) {
	u.events = append(u.events, log)
}

// rollback unwinds every journaled step in reverse order and releases the
// buffered events back to the pool.
func (u *unitOfWork) rollback() {
	for i := len(u.journal) - 1; i >= 0; i-- {
		u.journal[i]()
	}
	u.journal = nil

	for _, log := range u.events {
		releaseBookLog(log)
	}
	u.events = nil
}

// commit stamps sequence ids in publication order, publishes the buffered
// events and recycles them. nextSeq hands out the book's next sequence id.
func (u *unitOfWork) commit(pub EventPublisher, nextSeq func() uint64) {
	if len(u.events) == 0 {
		return
	}

	for _, log := range u.events {
		log.SequenceID = nextSeq()
	}
	pub.Publish(u.events...)
	for _, log := range u.events {
		releaseBookLog(log)
	}
	u.events = nil
	u.journal = nil
}
