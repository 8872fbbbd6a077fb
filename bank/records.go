package bank

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Encoded record widths. Files have no header, so these are the only framing.
const (
	AccountSize  = 100
	StaffSize    = 112
	LoanSize     = 24
	LogEntrySize = 1024
	FeedbackSize = 1024
	counterSize  = 8

	nameWidth = 20
	hashWidth = 64
	textWidth = LogEntrySize - 16
	msgWidth  = FeedbackSize - 8
)

// Unassigned is the AssignedTo value of a loan no manager has routed yet.
const Unassigned int32 = -1

var (
	errNegativeBalance = errors.New("refusing to persist a negative balance")
	errNegativeAmount  = errors.New("refusing to persist a negative loan amount")
)

// ------------------ Account ------------------

// Account is one customer record.
type Account struct {
	ID           int32
	Active       bool
	Balance      decimal.Decimal
	Name         string
	PasswordHash string
}

func (a *Account) RecordSize() int { return AccountSize }

func (a *Account) MarshalBinary() ([]byte, error) {
	if a.Balance.IsNegative() {
		return nil, errNegativeBalance
	}
	cents, err := toCents(a.Balance)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, AccountSize)
	le.PutUint32(buf[0:], uint32(a.ID))
	le.PutUint32(buf[4:], boolWord(a.Active))
	le.PutUint64(buf[8:], uint64(cents))
	putString(buf[16:36], a.Name)
	putString(buf[36:100], a.PasswordHash)
	return buf, nil
}

func (a *Account) UnmarshalBinary(buf []byte) error {
	if err := checkSize("account", buf, AccountSize); err != nil {
		return err
	}
	a.ID = int32(le.Uint32(buf[0:]))
	a.Active = le.Uint32(buf[4:]) != 0
	a.Balance = fromCents(int64(le.Uint64(buf[8:])))
	a.Name = getString(buf[16:36])
	a.PasswordHash = getString(buf[36:100])
	return nil
}

// ------------------ Staff ------------------

// Role distinguishes managers from employees. The numeric values are persisted.
type Role uint32

const (
	Manager  Role = 0
	Employee Role = 1
)

func (r Role) String() string {
	switch r {
	case Manager:
		return "Manager"
	case Employee:
		return "Employee"
	}
	return fmt.Sprintf("Role(%d)", uint32(r))
}

// Staff is one employee or manager record.
type Staff struct {
	ID           int32
	Role         Role
	FirstName    string
	LastName     string
	PasswordHash string
}

func (s *Staff) RecordSize() int { return StaffSize }

func (s *Staff) MarshalBinary() ([]byte, error) {
	buf := make([]byte, StaffSize)
	le.PutUint32(buf[0:], uint32(s.ID))
	le.PutUint32(buf[4:], uint32(s.Role))
	putString(buf[8:28], s.FirstName)
	putString(buf[28:48], s.LastName)
	putString(buf[48:112], s.PasswordHash)
	return buf, nil
}

func (s *Staff) UnmarshalBinary(buf []byte) error {
	if err := checkSize("staff", buf, StaffSize); err != nil {
		return err
	}
	s.ID = int32(le.Uint32(buf[0:]))
	s.Role = Role(le.Uint32(buf[4:]))
	s.FirstName = getString(buf[8:28])
	s.LastName = getString(buf[28:48])
	s.PasswordHash = getString(buf[48:112])
	return nil
}

// ------------------ Loan ------------------

// LoanStatus only moves forward: Requested, then Pending, then Approved or Rejected.
type LoanStatus uint32

const (
	Requested LoanStatus = iota
	Pending
	Approved
	Rejected
)

func (s LoanStatus) String() string {
	switch s {
	case Requested:
		return "Requested"
	case Pending:
		return "Pending"
	case Approved:
		return "Approved"
	case Rejected:
		return "Rejected"
	}
	return fmt.Sprintf("LoanStatus(%d)", uint32(s))
}

// Terminal reports whether no further transition is allowed.
func (s LoanStatus) Terminal() bool { return s == Approved || s == Rejected }

// Loan is one loan application.
type Loan struct {
	ID         int32
	AccountID  int32
	AssignedTo int32
	Status     LoanStatus
	Amount     decimal.Decimal
}

func (l *Loan) RecordSize() int { return LoanSize }

func (l *Loan) MarshalBinary() ([]byte, error) {
	if l.Amount.IsNegative() {
		return nil, errNegativeAmount
	}
	cents, err := toCents(l.Amount)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, LoanSize)
	le.PutUint32(buf[0:], uint32(l.ID))
	le.PutUint32(buf[4:], uint32(l.AccountID))
	le.PutUint32(buf[8:], uint32(l.AssignedTo))
	le.PutUint32(buf[12:], uint32(l.Status))
	le.PutUint64(buf[16:], uint64(cents))
	return buf, nil
}

func (l *Loan) UnmarshalBinary(buf []byte) error {
	if err := checkSize("loan", buf, LoanSize); err != nil {
		return err
	}
	l.ID = int32(le.Uint32(buf[0:]))
	l.AccountID = int32(le.Uint32(buf[4:]))
	l.AssignedTo = int32(le.Uint32(buf[8:]))
	l.Status = LoanStatus(le.Uint32(buf[12:]))
	l.Amount = fromCents(int64(le.Uint64(buf[16:])))
	return nil
}

// ------------------ Audit and feedback ------------------

// LogEntry is one line of an account's transaction history.
type LogEntry struct {
	AccountID int32
	At        time.Time
	Text      string
}

func (e *LogEntry) RecordSize() int { return LogEntrySize }

func (e *LogEntry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, LogEntrySize)
	le.PutUint32(buf[0:], uint32(e.AccountID))
	le.PutUint64(buf[8:], uint64(e.At.UnixNano()))
	putString(buf[16:], e.Text)
	return buf, nil
}

func (e *LogEntry) UnmarshalBinary(buf []byte) error {
	if err := checkSize("log entry", buf, LogEntrySize); err != nil {
		return err
	}
	e.AccountID = int32(le.Uint32(buf[0:]))
	e.At = time.Unix(0, int64(le.Uint64(buf[8:])))
	e.Text = getString(buf[16:])
	return nil
}

// FeedbackEntry is one anonymous customer rating.
type FeedbackEntry struct {
	At      time.Time
	Message string
}

func (f *FeedbackEntry) RecordSize() int { return FeedbackSize }

func (f *FeedbackEntry) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FeedbackSize)
	le.PutUint64(buf[0:], uint64(f.At.UnixNano()))
	putString(buf[8:], f.Message)
	return buf, nil
}

func (f *FeedbackEntry) UnmarshalBinary(buf []byte) error {
	if err := checkSize("feedback", buf, FeedbackSize); err != nil {
		return err
	}
	f.At = time.Unix(0, int64(le.Uint64(buf[0:])))
	f.Message = getString(buf[8:])
	return nil
}

// counter is the single record of the loan id counter file.
type counter struct {
	Next int64
}

func (c *counter) RecordSize() int { return counterSize }

func (c *counter) MarshalBinary() ([]byte, error) {
	buf := make([]byte, counterSize)
	le.PutUint64(buf, uint64(c.Next))
	return buf, nil
}

func (c *counter) UnmarshalBinary(buf []byte) error {
	if err := checkSize("counter", buf, counterSize); err != nil {
		return err
	}
	c.Next = int64(le.Uint64(buf))
	return nil
}

// ------------------ Layout ------------------

// Layout names the files of one data directory.
type Layout struct {
	Dir       string
	Accounts  string
	Staff     string
	Loans     string
	History   string
	Feedback  string
	LoanIDs   string
	AdminPass string
	Sessions  string
}

// NewLayout returns the standard file names under dir.
func NewLayout(dir string) Layout {
	return Layout{
		Dir:       dir,
		Accounts:  filepath.Join(dir, "account_records.dat"),
		Staff:     filepath.Join(dir, "employee_records.dat"),
		Loans:     filepath.Join(dir, "loan_records.dat"),
		History:   filepath.Join(dir, "transaction_logs.dat"),
		Feedback:  filepath.Join(dir, "feedback_logs.dat"),
		LoanIDs:   filepath.Join(dir, "loan_id_counter.dat"),
		AdminPass: filepath.Join(dir, "admin_pass.dat"),
		Sessions:  filepath.Join(dir, "sessions"),
	}
}

// ------------------ Encoding helpers ------------------

var le = binary.LittleEndian

func boolWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func checkSize(what string, buf []byte, want int) error {
	if len(buf) != want {
		return fmt.Errorf("decode %s: got %d bytes, want %d", what, len(buf), want)
	}
	return nil
}

// putString writes s NUL-padded into dst, truncating on a rune boundary so the
// field never holds half a character.
func putString(dst []byte, s string) {
	if len(s) > len(dst) {
		cut := len(dst)
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	n := copy(dst, s)
	clear(dst[n:])
}

func getString(src []byte) string {
	for i, b := range src {
		if b == 0 {
			return string(src[:i])
		}
	}
	return string(src)
}
