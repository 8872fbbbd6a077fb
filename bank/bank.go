// Package bank implements the ledger on top of the record store: deposits,
// withdrawals, transfers, the loan lifecycle, staff and admin maintenance, and
// authentication.
//
// A Bank holds no record state. Every operation opens its own file handles,
// takes the locks it needs, and closes the handles before returning, so one
// Bank may be shared by any number of goroutines and processes.
//
// Lock order, outermost first: loan records, account records, transaction
// history. The loan id counter is never locked while another lock is held.
package bank

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bankline/recordbank/session"
	"github.com/bankline/recordbank/store"
)

// Options tune a Bank. Zero values pick the defaults.
type Options struct {
	BcryptCost           int
	DefaultAdminPassword string
	HistoryLimit         int
	// Now stamps audit entries. Defaults to time.Now.
	Now func() time.Time
}

const (
	DefaultHistoryLimit  = 10
	DefaultAdminPassword = "root123"
	timestampLayout      = "15:04:05 2-1-2006"
)

var errRecordMoved = errors.New("record no longer matches after lock")

// Bank coordinates every operation against one data directory.
type Bank struct {
	layout   Layout
	sessions *session.Service
	log      *zap.Logger
	ids      *IDGenerator
	validate *validator.Validate
	opts     Options
}

// New returns a Bank over layout. Files are created lazily.
func New(layout Layout, sessions *session.Service, log *zap.Logger, opts Options) *Bank {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.DefaultAdminPassword == "" {
		opts.DefaultAdminPassword = DefaultAdminPassword
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Bank{
		layout:   layout,
		sessions: sessions,
		log:      log,
		ids:      NewIDGenerator(layout.LoanIDs),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
	}
}

// Layout returns the files this Bank works on.
func (b *Bank) Layout() Layout { return b.layout }

// Receipt is the result of a balance-changing operation. A non-nil AuditErr
// means the balance change committed but its history entry was not written.
type Receipt struct {
	AccountID int32
	Balance   decimal.Decimal
	AuditErr  error
}

// Degraded reports whether the audit trail missed this operation.
func (r Receipt) Degraded() bool { return r.AuditErr != nil }

// ------------------ Handles ------------------

type (
	accountFile  = store.File[Account, *Account]
	staffFile    = store.File[Staff, *Staff]
	loanFile     = store.File[Loan, *Loan]
	historyFile  = store.File[LogEntry, *LogEntry]
	feedbackFile = store.File[FeedbackEntry, *FeedbackEntry]
)

func (b *Bank) openAccounts(op string) (*accountFile, error) {
	f, err := store.Open[Account](b.layout.Accounts)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return f, nil
}

func (b *Bank) openStaff(op string) (*staffFile, error) {
	f, err := store.Open[Staff](b.layout.Staff)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return f, nil
}

func (b *Bank) openLoans(op string) (*loanFile, error) {
	f, err := store.Open[Loan](b.layout.Loans)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return f, nil
}

func (b *Bank) openHistory() (*historyFile, error) {
	return store.Open[LogEntry](b.layout.History)
}

func (b *Bank) openFeedback(op string) (*feedbackFile, error) {
	f, err := store.Open[FeedbackEntry](b.layout.Feedback)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return f, nil
}

// closeFile closes a handle at the end of an operation. Any lock still held
// through it is dropped with it.
func (b *Bank) closeFile(op string, c interface{ Close() error }) {
	if err := c.Close(); err != nil {
		b.log.Warn("close failed", zap.String("op", op), zap.Error(err))
	}
}

// release drops a lock. Failures are logged and otherwise ignored: the handle
// is closed right after, which releases the lock anyway.
func (b *Bank) release(op string, unlock store.Unlock) {
	if unlock == nil {
		return
	}
	if err := unlock(); err != nil {
		b.log.Warn("lock release failed", zap.String("op", op), zap.Error(err))
	}
}

// ------------------ Lookup ------------------

// lockMatch is scan, lock, re-read. It finds the first record matching match
// without a lock, locks that record in mode m, reads it again and checks that it
// still matches. found is false when no record matched; no lock is held then.
func lockMatch[T any, P interface {
	*T
	store.Record
}](b *Bank, op string, f *store.File[T, P], match func(*T) bool, m store.Mode) (off int64, rec T, unlock store.Unlock, found bool, err error) {
	off, _, found, err = f.ScanFind(match)
	if err != nil || !found {
		return 0, rec, nil, false, err
	}
	unlock, err = f.LockRecord(off, m)
	if err != nil {
		return 0, rec, nil, false, err
	}
	rec, err = f.ReadAt(off)
	if err != nil {
		b.release(op, unlock)
		return 0, rec, nil, false, err
	}
	if !match(&rec) {
		b.release(op, unlock)
		return 0, rec, nil, false, errRecordMoved
	}
	return off, rec, unlock, true, nil
}

func accountByID(id int32) func(*Account) bool { return func(a *Account) bool { return a.ID == id } }
func staffByID(id int32) func(*Staff) bool     { return func(s *Staff) bool { return s.ID == id } }
func loanByID(id int32) func(*Loan) bool       { return func(l *Loan) bool { return l.ID == id } }

// lockAccount locks the account record for id. The returned unlock is never
// nil on success.
func (b *Bank) lockAccount(op string, f *accountFile, id int32, m store.Mode) (int64, Account, store.Unlock, error) {
	off, acc, unlock, found, err := lockMatch(b, op, f, accountByID(id), m)
	if err != nil {
		return 0, acc, nil, lookupErr(op, err)
	}
	if !found {
		return 0, acc, nil, newErr(NotFound, op, "Account not found.")
	}
	return off, acc, unlock, nil
}

func (b *Bank) lockStaff(op string, f *staffFile, id int32, m store.Mode) (int64, Staff, store.Unlock, error) {
	off, s, unlock, found, err := lockMatch(b, op, f, staffByID(id), m)
	if err != nil {
		return 0, s, nil, lookupErr(op, err)
	}
	if !found {
		return 0, s, nil, newErr(NotFound, op, "Employee ID not found.")
	}
	return off, s, unlock, nil
}

func (b *Bank) lockLoan(op string, f *loanFile, id int32, m store.Mode) (int64, Loan, store.Unlock, error) {
	off, l, unlock, found, err := lockMatch(b, op, f, loanByID(id), m)
	if err != nil {
		return 0, l, nil, lookupErr(op, err)
	}
	if !found {
		return 0, l, nil, newErr(NotFound, op, "Loan ID %d not found.", id)
	}
	return off, l, unlock, nil
}

func lookupErr(op string, err error) error {
	if errors.Is(err, errRecordMoved) {
		return &Error{Kind: PreconditionFailed, Op: op, Msg: "Record changed before it could be locked. Please try again.", Err: err}
	}
	return storageErr(op, err)
}

// ------------------ Audit ------------------

// audit appends entries to the transaction history under a whole-file
// exclusive lock. The caller decides what a failure means; here it is only
// logged.
func (b *Bank) audit(op string, entries ...LogEntry) (err error) {
	defer func() {
		if err != nil {
			b.log.Error("audit append failed", zap.String("op", op), zap.Error(err))
		}
	}()
	f, err := b.openHistory()
	if err != nil {
		return err
	}
	defer b.closeFile(op, f)

	unlock, err := f.LockRegion(store.WholeFile, store.Exclusive)
	if err != nil {
		return err
	}
	defer b.release(op, unlock)
	for _, e := range entries {
		if _, err := f.Append(e); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bank) entry(accountID int32, format string, args ...any) LogEntry {
	now := b.opts.Now()
	args = append(args, now.Format(timestampLayout))
	return LogEntry{AccountID: accountID, At: now, Text: fmt.Sprintf(format+" at %s\n", args...)}
}
