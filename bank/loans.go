package bank

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bankline/recordbank/store"
)

// Decision is an employee's verdict on a pending loan.
type Decision int

const (
	Approve Decision = iota + 1
	Reject
)

// LoanOutcome reports what DecideLoan did. When the account turned out to be
// inactive an approval is recorded as a rejection and InactiveAccount is set.
type LoanOutcome struct {
	Loan            Loan
	Balance         decimal.Decimal
	InactiveAccount bool
	AuditErr        error
}

// Degraded reports whether an approval committed without its history entry.
func (o LoanOutcome) Degraded() bool { return o.AuditErr != nil }

// RequestLoan files a new application in state Requested with no assignee.
func (b *Bank) RequestLoan(accountID int32, amount decimal.Decimal) (Loan, error) {
	const op = "request loan"
	if err := positive(op, "loan", amount); err != nil {
		return Loan{}, err
	}
	if _, err := b.Account(accountID); err != nil {
		return Loan{}, err
	}

	id, err := b.ids.Next()
	if err != nil {
		return Loan{}, err
	}
	loan := Loan{ID: int32(id), AccountID: accountID, AssignedTo: Unassigned, Status: Requested, Amount: amount}

	f, err := b.openLoans(op)
	if err != nil {
		return Loan{}, err
	}
	defer b.closeFile(op, f)
	if _, err := f.AppendLocked(loan); err != nil {
		return Loan{}, storageErr(op, err)
	}
	b.log.Info("loan requested", zap.Int32("loan", loan.ID), zap.Int32("account", accountID), zap.Stringer("amount", amount))
	return loan, nil
}

// AssignLoan routes a Requested loan to an employee, moving it to Pending.
// The assignee must be a staff record with the Employee role.
func (b *Bank) AssignLoan(loanID, staffID int32) (Loan, error) {
	const op = "assign loan"
	st, err := b.Staff(staffID)
	if err != nil {
		return Loan{}, err
	}
	if st.Role != Employee {
		return Loan{}, newErr(InvalidInput, op, "Staff %d is not an employee.", staffID)
	}

	f, err := b.openLoans(op)
	if err != nil {
		return Loan{}, err
	}
	defer b.closeFile(op, f)

	off, loan, unlock, err := b.lockLoan(op, f, loanID, store.Exclusive)
	if err != nil {
		return Loan{}, err
	}
	defer b.release(op, unlock)

	if loan.Status != Requested || loan.AssignedTo != Unassigned {
		return loan, newErr(PreconditionFailed, op, "Loan %d was already assigned or processed.", loanID)
	}
	loan.AssignedTo = staffID
	loan.Status = Pending
	if err := f.WriteAt(off, loan); err != nil {
		return Loan{}, storageErr(op, err)
	}
	b.log.Info("loan assigned", zap.Int32("loan", loanID), zap.Int32("staff", staffID))
	return loan, nil
}

// DecideLoan approves or rejects a Pending loan assigned to staffID. Approval
// credits the linked account; if that account is inactive the loan is rejected
// instead and the balance is left alone. The loan record is locked before the
// account record.
func (b *Bank) DecideLoan(loanID, staffID int32, d Decision) (LoanOutcome, error) {
	const op = "decide loan"
	if d != Approve && d != Reject {
		return LoanOutcome{}, newErr(InvalidInput, op, "Invalid choice. No action taken.")
	}
	loans, err := b.openLoans(op)
	if err != nil {
		return LoanOutcome{}, err
	}
	defer b.closeFile(op, loans)

	loanOff, loan, unlockLoan, err := b.lockLoan(op, loans, loanID, store.Exclusive)
	if err != nil {
		return LoanOutcome{}, err
	}
	defer b.release(op, unlockLoan)

	if loan.Status != Pending || loan.AssignedTo != staffID {
		return LoanOutcome{Loan: loan}, newErr(PreconditionFailed, op, "Loan ID %d is not assigned to you or is not pending.", loanID)
	}

	if d == Reject {
		loan.Status = Rejected
		if err := loans.WriteAt(loanOff, loan); err != nil {
			return LoanOutcome{}, storageErr(op, err)
		}
		b.log.Info("loan rejected", zap.Int32("loan", loanID), zap.Int32("account", loan.AccountID))
		return LoanOutcome{Loan: loan}, nil
	}

	accounts, err := b.openAccounts(op)
	if err != nil {
		return LoanOutcome{}, err
	}
	defer b.closeFile(op, accounts)

	accOff, acc, unlockAcc, err := b.lockAccount(op, accounts, loan.AccountID, store.Exclusive)
	if err != nil {
		if KindOf(err) == NotFound {
			b.log.Error("loan references missing account", zap.Int32("loan", loanID), zap.Int32("account", loan.AccountID))
			return LoanOutcome{Loan: loan}, newErr(NotFound, op, "Error: Account %d for loan %d not found!", loan.AccountID, loanID)
		}
		return LoanOutcome{}, err
	}
	defer b.release(op, unlockAcc)

	if !acc.Active {
		loan.Status = Rejected
		if err := loans.WriteAt(loanOff, loan); err != nil {
			return LoanOutcome{}, storageErr(op, err)
		}
		b.log.Info("loan rejected for inactive account", zap.Int32("loan", loanID), zap.Int32("account", acc.ID))
		return LoanOutcome{Loan: loan, Balance: acc.Balance, InactiveAccount: true}, nil
	}

	before := acc
	acc.Balance = acc.Balance.Add(loan.Amount)
	if err := withinLimit(op, acc.Balance); err != nil {
		return LoanOutcome{Loan: loan}, err
	}
	if err := accounts.WriteAt(accOff, acc); err != nil {
		return LoanOutcome{}, storageErr(op, err)
	}
	loan.Status = Approved
	if err := loans.WriteAt(loanOff, loan); err != nil {
		if rerr := accounts.WriteAt(accOff, before); rerr != nil {
			b.log.Error("loan credit rollback failed", zap.Int32("loan", loanID), zap.Error(rerr))
		}
		return LoanOutcome{}, storageErr(op, err)
	}

	out := LoanOutcome{Loan: loan, Balance: acc.Balance}
	out.AuditErr = b.audit(op, b.entry(acc.ID, "%s credited via loan %d", FormatAmount(loan.Amount), loanID))
	b.log.Info("loan approved",
		zap.Int32("loan", loanID),
		zap.Int32("account", acc.ID),
		zap.Stringer("amount", loan.Amount),
		zap.Bool("audited", out.AuditErr == nil))
	return out, nil
}

// Loan returns a snapshot of one loan read under a shared record lock.
func (b *Bank) Loan(loanID int32) (Loan, error) {
	const op = "read loan"
	f, err := b.openLoans(op)
	if err != nil {
		return Loan{}, err
	}
	defer b.closeFile(op, f)

	_, loan, unlock, err := b.lockLoan(op, f, loanID, store.Shared)
	if err != nil {
		return Loan{}, err
	}
	b.release(op, unlock)
	return loan, nil
}

// AssignedLoans lists the Pending loans assigned to staffID.
func (b *Bank) AssignedLoans(staffID int32) ([]Loan, error) {
	return b.listLoans("assigned loans", func(l *Loan) bool {
		return l.Status == Pending && l.AssignedTo == staffID
	})
}

// UnassignedLoans lists the loans still waiting for a manager.
func (b *Bank) UnassignedLoans() ([]Loan, error) {
	return b.listLoans("unassigned loans", func(l *Loan) bool {
		return l.Status == Requested && l.AssignedTo == Unassigned
	})
}

func (b *Bank) listLoans(op string, keep func(*Loan) bool) ([]Loan, error) {
	f, err := b.openLoans(op)
	if err != nil {
		return nil, err
	}
	defer b.closeFile(op, f)
	loans, err := f.ReadAll(keep)
	if err != nil {
		return nil, storageErr(op, err)
	}
	return loans, nil
}
