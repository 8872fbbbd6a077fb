package bank

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bankline/recordbank/store"
)

// Deposit credits amount to the account.
func (b *Bank) Deposit(accountID int32, amount decimal.Decimal) (Receipt, error) {
	const op = "deposit"
	if err := positive(op, "deposit", amount); err != nil {
		return Receipt{}, err
	}
	f, err := b.openAccounts(op)
	if err != nil {
		return Receipt{}, err
	}
	defer b.closeFile(op, f)

	off, acc, unlock, err := b.lockAccount(op, f, accountID, store.Exclusive)
	if err != nil {
		return Receipt{}, err
	}
	defer b.release(op, unlock)

	acc.Balance = acc.Balance.Add(amount)
	if err := withinLimit(op, acc.Balance); err != nil {
		return Receipt{}, err
	}
	if err := f.WriteAt(off, acc); err != nil {
		return Receipt{}, storageErr(op, err)
	}
	r := Receipt{AccountID: accountID, Balance: acc.Balance}
	r.AuditErr = b.audit(op, b.entry(accountID, "%s deposited", FormatAmount(amount)))
	b.log.Info("deposit",
		zap.Int32("account", accountID),
		zap.Stringer("amount", amount),
		zap.Stringer("balance", acc.Balance),
		zap.Bool("audited", r.AuditErr == nil))
	return r, nil
}

// Withdraw debits amount from the account. Overdrawing is refused and the
// error message carries the current balance.
func (b *Bank) Withdraw(accountID int32, amount decimal.Decimal) (Receipt, error) {
	const op = "withdraw"
	if err := positive(op, "withdrawal", amount); err != nil {
		return Receipt{}, err
	}
	f, err := b.openAccounts(op)
	if err != nil {
		return Receipt{}, err
	}
	defer b.closeFile(op, f)

	off, acc, unlock, err := b.lockAccount(op, f, accountID, store.Exclusive)
	if err != nil {
		return Receipt{}, err
	}
	defer b.release(op, unlock)

	if amount.GreaterThan(acc.Balance) {
		return Receipt{AccountID: accountID, Balance: acc.Balance},
			newErr(InsufficientFunds, op, "Insufficient funds! Balance: %s", FormatAmount(acc.Balance))
	}
	acc.Balance = acc.Balance.Sub(amount)
	if err := f.WriteAt(off, acc); err != nil {
		return Receipt{}, storageErr(op, err)
	}
	r := Receipt{AccountID: accountID, Balance: acc.Balance}
	r.AuditErr = b.audit(op, b.entry(accountID, "%s withdrawn", FormatAmount(amount)))
	b.log.Info("withdraw",
		zap.Int32("account", accountID),
		zap.Stringer("amount", amount),
		zap.Stringer("balance", acc.Balance),
		zap.Bool("audited", r.AuditErr == nil))
	return r, nil
}

// Transfer moves amount from src to dst. Both records are locked in ascending
// file offset order whatever the direction of the transfer, so two transfers
// between the same pair of accounts in opposite directions cannot deadlock.
// The receipt reports the source balance.
func (b *Bank) Transfer(src, dst int32, amount decimal.Decimal) (Receipt, error) {
	const op = "transfer"
	if src == dst {
		return Receipt{}, newErr(InvalidInput, op, "Cannot transfer to the same account.")
	}
	if err := positive(op, "transfer", amount); err != nil {
		return Receipt{}, err
	}
	f, err := b.openAccounts(op)
	if err != nil {
		return Receipt{}, err
	}
	defer b.closeFile(op, f)

	// One pass finds both offsets.
	srcOff, dstOff := int64(-1), int64(-1)
	err = f.Scan(func(off int64, a *Account) bool {
		switch a.ID {
		case src:
			if srcOff < 0 {
				srcOff = off
			}
		case dst:
			if dstOff < 0 {
				dstOff = off
			}
		}
		return srcOff < 0 || dstOff < 0
	})
	if err != nil {
		return Receipt{}, storageErr(op, err)
	}
	if srcOff < 0 {
		return Receipt{}, newErr(NotFound, op, "Account not found.")
	}
	if dstOff < 0 {
		return Receipt{}, newErr(NotFound, op, "Destination account does not exist.")
	}

	first, second := srcOff, dstOff
	if first > second {
		first, second = second, first
	}
	unlockFirst, err := f.LockRecord(first, store.Exclusive)
	if err != nil {
		return Receipt{}, storageErr(op, err)
	}
	defer b.release(op, unlockFirst)
	unlockSecond, err := f.LockRecord(second, store.Exclusive)
	if err != nil {
		return Receipt{}, storageErr(op, err)
	}
	defer b.release(op, unlockSecond)

	from, err := f.ReadAt(srcOff)
	if err != nil {
		return Receipt{}, storageErr(op, err)
	}
	to, err := f.ReadAt(dstOff)
	if err != nil {
		return Receipt{}, storageErr(op, err)
	}
	if from.ID != src || to.ID != dst {
		return Receipt{}, lookupErr(op, errRecordMoved)
	}
	if amount.GreaterThan(from.Balance) {
		return Receipt{AccountID: src, Balance: from.Balance},
			newErr(InsufficientFunds, op, "Insufficient funds! Balance: %s", FormatAmount(from.Balance))
	}

	before := from
	from.Balance = from.Balance.Sub(amount)
	to.Balance = to.Balance.Add(amount)
	if withinLimit(op, to.Balance) != nil {
		return Receipt{}, newErr(InvalidInput, op, "Destination balance would exceed the maximum of %s.", FormatAmount(MaxAmount))
	}
	if err := f.WriteAt(srcOff, from); err != nil {
		return Receipt{}, storageErr(op, err)
	}
	if err := f.WriteAt(dstOff, to); err != nil {
		if rerr := f.WriteAt(srcOff, before); rerr != nil {
			b.log.Error("transfer rollback failed",
				zap.Int32("src", src), zap.Int32("dst", dst), zap.Stringer("amount", amount), zap.Error(rerr))
		}
		return Receipt{}, storageErr(op, err)
	}

	r := Receipt{AccountID: src, Balance: from.Balance}
	amt := FormatAmount(amount)
	r.AuditErr = b.audit(op,
		b.entry(src, "%s transferred to acc %d", amt, dst),
		b.entry(dst, "%s credited from acc %d", amt, src))
	b.log.Info("transfer",
		zap.Int32("src", src),
		zap.Int32("dst", dst),
		zap.Stringer("amount", amount),
		zap.Bool("audited", r.AuditErr == nil))
	return r, nil
}

// Balance returns the current balance, read under a shared record lock.
func (b *Bank) Balance(accountID int32) (decimal.Decimal, error) {
	acc, err := b.Account(accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

// Account returns a snapshot of the account record without its password hash.
func (b *Bank) Account(accountID int32) (Account, error) {
	const op = "read account"
	f, err := b.openAccounts(op)
	if err != nil {
		return Account{}, err
	}
	defer b.closeFile(op, f)

	_, acc, unlock, err := b.lockAccount(op, f, accountID, store.Shared)
	if err != nil {
		return Account{}, err
	}
	b.release(op, unlock)
	acc.PasswordHash = ""
	return acc, nil
}

// History returns the most recent entries for the account, oldest first. A
// limit of zero or less uses the configured default.
func (b *Bank) History(accountID int32, limit int) ([]LogEntry, error) {
	const op = "history"
	if limit <= 0 {
		limit = b.opts.HistoryLimit
	}
	f, err := b.openHistory()
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer b.closeFile(op, f)

	all, err := f.ReadAll(func(e *LogEntry) bool { return e.AccountID == accountID })
	if err != nil {
		return nil, storageErr(op, err)
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// ------------------ Feedback ------------------

// Rating is a customer's verdict on the service.
type Rating int

const (
	Good Rating = iota + 1
	Average
	Poor
)

func (r Rating) String() string {
	switch r {
	case Good:
		return "Good"
	case Average:
		return "Average"
	case Poor:
		return "Poor"
	}
	return "Unknown"
}

// AddFeedback records an anonymous rating.
func (b *Bank) AddFeedback(r Rating) error {
	const op = "add feedback"
	if r < Good || r > Poor {
		return newErr(InvalidInput, op, "Invalid Choice")
	}
	f, err := b.openFeedback(op)
	if err != nil {
		return err
	}
	defer b.closeFile(op, f)
	if _, err := f.AppendLocked(FeedbackEntry{At: b.opts.Now(), Message: r.String()}); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// Feedback lists every rating in submission order.
func (b *Bank) Feedback() ([]FeedbackEntry, error) {
	const op = "read feedback"
	f, err := b.openFeedback(op)
	if err != nil {
		return nil, err
	}
	defer b.closeFile(op, f)
	all, err := f.ReadAll(nil)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return all, nil
}
