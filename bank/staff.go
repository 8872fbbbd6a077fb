package bank

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bankline/recordbank/store"
)

// NewCustomer is the input to OpenAccount.
type NewCustomer struct {
	ID             int32           `validate:"gt=0"`
	Name           string          `validate:"required,max=20"`
	Password       string          `validate:"required,max=72"`
	OpeningBalance decimal.Decimal `validate:"-"`
}

// NewStaff is the input to AddStaff.
type NewStaff struct {
	ID        int32  `validate:"gt=0"`
	FirstName string `validate:"required,max=20"`
	LastName  string `validate:"max=20"`
	Password  string `validate:"required,max=72"`
	Role      Role   `validate:"lte=1"`
}

// ------------------ Customers ------------------

// OpenAccount creates an active customer account. A negative opening balance
// is treated as zero. The whole account file is locked while the id is checked
// for uniqueness and the record appended.
func (b *Bank) OpenAccount(c NewCustomer) (Receipt, error) {
	const op = "open account"
	c.Name = strings.TrimSpace(c.Name)
	if err := b.check(op, c); err != nil {
		return Receipt{}, err
	}
	if c.OpeningBalance.IsNegative() {
		c.OpeningBalance = decimal.Zero
	}
	c.OpeningBalance = c.OpeningBalance.Truncate(2)
	if err := withinLimit(op, c.OpeningBalance); err != nil {
		return Receipt{}, err
	}
	hash, err := b.hash(op, c.Password)
	if err != nil {
		return Receipt{}, err
	}

	f, err := b.openAccounts(op)
	if err != nil {
		return Receipt{}, err
	}
	defer b.closeFile(op, f)

	unlock, err := f.LockRegion(store.WholeFile, store.Exclusive)
	if err != nil {
		return Receipt{}, storageErr(op, err)
	}
	defer b.release(op, unlock)

	_, _, exists, err := f.ScanFind(accountByID(c.ID))
	if err != nil {
		return Receipt{}, storageErr(op, err)
	}
	if exists {
		return Receipt{}, newErr(PreconditionFailed, op, "Account number already exists.")
	}
	acc := Account{ID: c.ID, Active: true, Balance: c.OpeningBalance, Name: c.Name, PasswordHash: hash}
	if _, err := f.Append(acc); err != nil {
		return Receipt{}, storageErr(op, err)
	}

	r := Receipt{AccountID: c.ID, Balance: acc.Balance}
	r.AuditErr = b.audit(op, b.entry(c.ID, "%s Opening Balance", FormatAmount(acc.Balance)))
	b.log.Info("account opened", zap.Int32("account", c.ID), zap.Bool("audited", r.AuditErr == nil))
	return r, nil
}

// RenameCustomer replaces the account holder's name.
func (b *Bank) RenameCustomer(accountID int32, name string) error {
	const op = "rename customer"
	name = strings.TrimSpace(name)
	if err := b.checkVar(op, "name", name, "required,max=20"); err != nil {
		return err
	}
	return b.updateAccount(op, accountID, func(a *Account) error {
		a.Name = name
		return nil
	})
}

// SetAccountActive activates or deactivates an account. Asking for the state
// the account is already in is refused.
func (b *Bank) SetAccountActive(accountID int32, active bool) error {
	const op = "set account status"
	err := b.updateAccount(op, accountID, func(a *Account) error {
		if a.Active == active {
			return newErr(PreconditionFailed, op, "Invalid choice or status already set.")
		}
		a.Active = active
		return nil
	})
	if err == nil {
		b.log.Info("account status changed", zap.Int32("account", accountID), zap.Bool("active", active))
	}
	return err
}

// ChangeCustomerPassword stores a new password hash for the account.
func (b *Bank) ChangeCustomerPassword(accountID int32, password string) error {
	const op = "change customer password"
	if err := b.checkVar(op, "password", password, "required,max=72"); err != nil {
		return err
	}
	hash, err := b.hash(op, password)
	if err != nil {
		return err
	}
	return b.updateAccount(op, accountID, func(a *Account) error {
		a.PasswordHash = hash
		return nil
	})
}

// updateAccount applies mutate to the account under its exclusive record lock.
func (b *Bank) updateAccount(op string, accountID int32, mutate func(*Account) error) error {
	f, err := b.openAccounts(op)
	if err != nil {
		return err
	}
	defer b.closeFile(op, f)

	off, acc, unlock, err := b.lockAccount(op, f, accountID, store.Exclusive)
	if err != nil {
		return err
	}
	defer b.release(op, unlock)

	if err := mutate(&acc); err != nil {
		return err
	}
	if err := f.WriteAt(off, acc); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// ------------------ Staff ------------------

// AddStaff creates a manager or employee record with a unique id.
func (b *Bank) AddStaff(s NewStaff) error {
	const op = "add staff"
	s.FirstName = strings.TrimSpace(s.FirstName)
	s.LastName = strings.TrimSpace(s.LastName)
	if err := b.check(op, s); err != nil {
		return err
	}
	hash, err := b.hash(op, s.Password)
	if err != nil {
		return err
	}

	f, err := b.openStaff(op)
	if err != nil {
		return err
	}
	defer b.closeFile(op, f)

	unlock, err := f.LockRegion(store.WholeFile, store.Exclusive)
	if err != nil {
		return storageErr(op, err)
	}
	defer b.release(op, unlock)

	_, _, exists, err := f.ScanFind(staffByID(s.ID))
	if err != nil {
		return storageErr(op, err)
	}
	if exists {
		return newErr(PreconditionFailed, op, "Employee ID already exists. Please try again.")
	}
	rec := Staff{ID: s.ID, Role: s.Role, FirstName: s.FirstName, LastName: s.LastName, PasswordHash: hash}
	if _, err := f.Append(rec); err != nil {
		return storageErr(op, err)
	}
	b.log.Info("staff added", zap.Int32("staff", s.ID), zap.Stringer("role", s.Role))
	return nil
}

// Staff returns a snapshot of one staff record without its password hash.
func (b *Bank) Staff(staffID int32) (Staff, error) {
	const op = "read staff"
	f, err := b.openStaff(op)
	if err != nil {
		return Staff{}, err
	}
	defer b.closeFile(op, f)

	_, s, unlock, err := b.lockStaff(op, f, staffID, store.Shared)
	if err != nil {
		return Staff{}, err
	}
	b.release(op, unlock)
	s.PasswordHash = ""
	return s, nil
}

// RenameStaff replaces a staff member's names. An empty last name keeps the
// current one.
func (b *Bank) RenameStaff(staffID int32, first, last string) error {
	const op = "rename staff"
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if err := b.checkVar(op, "first name", first, "required,max=20"); err != nil {
		return err
	}
	if err := b.checkVar(op, "last name", last, "max=20"); err != nil {
		return err
	}
	return b.updateStaff(op, staffID, func(s *Staff) error {
		s.FirstName = first
		if last != "" {
			s.LastName = last
		}
		return nil
	})
}

// SetStaffRole promotes or demotes a staff member. Setting the current role
// again is refused.
func (b *Bank) SetStaffRole(staffID int32, role Role) error {
	const op = "set staff role"
	if role != Manager && role != Employee {
		return newErr(InvalidInput, op, "Invalid choice or role already set.")
	}
	err := b.updateStaff(op, staffID, func(s *Staff) error {
		if s.Role == role {
			return newErr(PreconditionFailed, op, "Invalid choice or role already set.")
		}
		s.Role = role
		return nil
	})
	if err == nil {
		b.log.Info("staff role changed", zap.Int32("staff", staffID), zap.Stringer("role", role))
	}
	return err
}

// ChangeStaffPassword stores a new password hash for a manager or employee.
func (b *Bank) ChangeStaffPassword(staffID int32, password string) error {
	const op = "change staff password"
	if err := b.checkVar(op, "password", password, "required,max=72"); err != nil {
		return err
	}
	hash, err := b.hash(op, password)
	if err != nil {
		return err
	}
	return b.updateStaff(op, staffID, func(s *Staff) error {
		s.PasswordHash = hash
		return nil
	})
}

func (b *Bank) updateStaff(op string, staffID int32, mutate func(*Staff) error) error {
	f, err := b.openStaff(op)
	if err != nil {
		return err
	}
	defer b.closeFile(op, f)

	off, s, unlock, err := b.lockStaff(op, f, staffID, store.Exclusive)
	if err != nil {
		return err
	}
	defer b.release(op, unlock)

	if err := mutate(&s); err != nil {
		return err
	}
	if err := f.WriteAt(off, s); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// ------------------ Admin ------------------

// ChangeAdminPassword replaces the admin credential.
func (b *Bank) ChangeAdminPassword(password string) error {
	const op = "change admin password"
	if err := b.checkVar(op, "password", password, "required,max=72"); err != nil {
		return err
	}
	hash, err := b.hash(op, password)
	if err != nil {
		return err
	}
	blob, err := store.OpenBlob(b.layout.AdminPass)
	if err != nil {
		return storageErr(op, err)
	}
	defer b.closeFile(op, blob)
	if err := blob.Replace([]byte(hash)); err != nil {
		return storageErr(op, err)
	}
	b.log.Info("admin password changed")
	return nil
}

// ------------------ Validation ------------------

func (b *Bank) hash(op, password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), b.opts.BcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", &Error{Kind: InvalidInput, Op: op, Msg: "Password is too long.", Err: err}
		}
		return "", &Error{Kind: StorageUnavailable, Op: op, Msg: "Password change failed.", Err: err}
	}
	return string(h), nil
}

func (b *Bank) check(op string, v any) error {
	return validationErr(op, b.validate.Struct(v))
}

func (b *Bank) checkVar(op, field string, v any, tag string) error {
	err := b.validate.Var(v, tag)
	if err == nil {
		return nil
	}
	return &Error{Kind: InvalidInput, Op: op, Msg: fmt.Sprintf("Invalid %s.", field), Err: err}
}

func validationErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &Error{Kind: InvalidInput, Op: op, Msg: fmt.Sprintf("Invalid %s.", fieldLabel(fe.Field())), Err: err}
	}
	return &Error{Kind: InvalidInput, Op: op, Msg: "Invalid input.", Err: err}
}

func fieldLabel(field string) string {
	switch field {
	case "ID":
		return "ID"
	case "FirstName":
		return "first name"
	case "LastName":
		return "last name"
	}
	return strings.ToLower(field)
}
