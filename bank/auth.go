package bank

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bankline/recordbank/session"
	"github.com/bankline/recordbank/store"
)

// AdminID is the identity number of the single admin session.
const AdminID int32 = 0

// Session is an authenticated principal. Close it to log out.
type Session struct {
	Identity session.Identity
	// Role is set for staff sessions.
	Role  Role
	Name  string
	guard *session.Guard
}

// Close releases the session lock. Calling it more than once is harmless.
func (s *Session) Close() error {
	if s == nil || s.guard == nil {
		return nil
	}
	return s.guard.Release()
}

// AuthenticateCustomer logs a customer in. The session is claimed before the
// credentials are checked and released again on every failure.
func (b *Bank) AuthenticateCustomer(accountID int32, password, owner string) (*Session, error) {
	const op = "customer login"
	id := session.Identity{Kind: session.Customer, ID: accountID}
	return b.authenticate(op, id, owner, "This account is already logged in elsewhere.", func() (*Session, error) {
		f, err := b.openAccounts(op)
		if err != nil {
			return nil, err
		}
		defer b.closeFile(op, f)

		_, acc, unlock, err := b.lockAccount(op, f, accountID, store.Shared)
		if err != nil {
			if KindOf(err) == NotFound {
				return nil, newErr(Unauthorized, op, "Invalid ID, Password, or Inactive Account")
			}
			return nil, err
		}
		b.release(op, unlock)

		if !acc.Active || !passwordMatches(acc.PasswordHash, password) {
			return nil, newErr(Unauthorized, op, "Invalid ID, Password, or Inactive Account")
		}
		return &Session{Identity: id, Name: acc.Name}, nil
	})
}

// AuthenticateStaff logs a manager or employee in. The stored role must equal
// want.
func (b *Bank) AuthenticateStaff(staffID int32, password string, want Role, owner string) (*Session, error) {
	const op = "staff login"
	id := session.Identity{Kind: session.Staff, ID: staffID}
	return b.authenticate(op, id, owner, "This ID is already logged in elsewhere.", func() (*Session, error) {
		f, err := b.openStaff(op)
		if err != nil {
			return nil, err
		}
		defer b.closeFile(op, f)

		_, st, unlock, err := b.lockStaff(op, f, staffID, store.Shared)
		if err != nil {
			if KindOf(err) == NotFound {
				return nil, newErr(Unauthorized, op, "Invalid ID or Password")
			}
			return nil, err
		}
		b.release(op, unlock)

		if st.Role != want || !passwordMatches(st.PasswordHash, password) {
			return nil, newErr(Unauthorized, op, "Invalid ID or Password")
		}
		return &Session{Identity: id, Role: st.Role, Name: st.FirstName + " " + st.LastName}, nil
	})
}

// AuthenticateAdmin logs the admin in. On first use the credential file is
// initialised with the configured default password.
func (b *Bank) AuthenticateAdmin(password, owner string) (*Session, error) {
	const op = "admin login"
	id := session.Identity{Kind: session.Admin, ID: AdminID}
	return b.authenticate(op, id, owner, "This ID is already logged in elsewhere.", func() (*Session, error) {
		stored, err := b.adminHash(op)
		if err != nil {
			return nil, err
		}
		if !passwordMatches(string(stored), password) {
			return nil, newErr(Unauthorized, op, "Invalid credential")
		}
		return &Session{Identity: id, Name: "admin"}, nil
	})
}

func (b *Bank) adminHash(op string) ([]byte, error) {
	blob, err := store.OpenBlob(b.layout.AdminPass)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer b.closeFile(op, blob)

	data, err := blob.ReadOrInit(func() ([]byte, error) {
		b.log.Info("initialising admin credential")
		return bcrypt.GenerateFromPassword([]byte(b.opts.DefaultAdminPassword), b.opts.BcryptCost)
	})
	if err != nil {
		return nil, storageErr(op, err)
	}
	return data, nil
}

// authenticate claims the session for id, runs verify and gives the session
// back if verify fails.
func (b *Bank) authenticate(op string, id session.Identity, owner, busy string, verify func() (*Session, error)) (*Session, error) {
	guard, err := b.sessions.TryAcquire(id, owner)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyHeld) {
			b.log.Info("login refused, session held", zap.Stringer("identity", id))
			return nil, &Error{Kind: SessionConflict, Op: op, Msg: busy, Err: err}
		}
		return nil, storageErr(op, err)
	}

	s, err := verify()
	if err != nil {
		if rerr := guard.Release(); rerr != nil {
			b.log.Warn("session release failed", zap.Stringer("identity", id), zap.Error(rerr))
		}
		b.log.Info("login failed", zap.Stringer("identity", id), zap.Error(err))
		return nil, err
	}
	s.guard = guard
	b.log.Info("logged in", zap.Stringer("identity", id))
	return s, nil
}

func passwordMatches(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
