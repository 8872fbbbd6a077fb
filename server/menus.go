package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bankline/recordbank/bank"
)

const (
	mainMenuText = "\n===== Login As =====\n1. Customer\n2. Employee\n3. Manager\n4. Admin\n5. Exit\nEnter your choice: "

	customerMenuText = "\n===== Customer =====\n1. Deposit\n2. Withdraw\n3. View Balance\n4. Apply for a loan\n" +
		"5. Money Transfer\n6. Change Password\n7. View Transaction\n8. Add Feedback\n9. Logout\n10. Exit\nEnter your choice: "

	feedbackMenuText = "Enter Feedback:\n1. Good\n2. Average\n3. Poor\nChoice: "
)

// errExit unwinds a role menu when the user picks Exit rather than Logout.
var errExit = errors.New("exit requested")

func (s *Server) mainMenu(c *conn) error {
	for {
		choice, _, err := c.askInt(mainMenuText)
		if err != nil {
			return err
		}
		switch choice {
		case 1:
			err = s.customerSession(c)
		case 2:
			err = s.staffSession(c, bank.Employee)
		case 3:
			err = s.staffSession(c, bank.Manager)
		case 4:
			err = s.adminSession(c)
		case 5:
			return c.bye()
		default:
			err = c.tell("Invalid Choice for Login menu")
		}
		if errors.Is(err, errExit) {
			return c.bye()
		}
		if err != nil {
			return err
		}
	}
}

// scoped installs a child logger carrying the logged-in identity for the
// duration of one session and returns a func that restores the previous one.
func (c *conn) scoped(role string, id int32) func() {
	prev := c.log
	c.log = c.log.With(zap.String("role", role), zap.Int32("id", id))
	return func() { c.log = prev }
}

func (s *Server) logout(c *conn, sess *bank.Session) {
	if err := sess.Close(); err != nil {
		c.log.Warn("session release failed", zap.Error(err))
	}
	c.log.Info("logged out")
}

// fail reports err to the client. Storage failures are also logged since the
// client only sees a generic message.
func (s *Server) fail(c *conn, err error) error {
	if bank.KindOf(err) == bank.StorageUnavailable || bank.KindOf(err) == 0 {
		c.log.Error("operation failed", zap.Error(err))
	}
	return c.tell(bank.Message(err))
}

// askAmount reads a positive amount. A malformed one is answered with invalid.
func (c *conn) askAmount(prompt, invalid string) (decimal.Decimal, bool, error) {
	s, err := c.ask(prompt)
	if err != nil {
		return decimal.Zero, false, err
	}
	amt, perr := bank.ParseAmount(s)
	if perr != nil {
		return decimal.Zero, false, c.tell(invalid)
	}
	return amt, true, nil
}

// ------------------ Customer ------------------

func (s *Server) customerSession(c *conn) error {
	id, ok, err := c.askID("\nEnter account number: ", "Invalid account number")
	if err != nil || !ok {
		return err
	}
	password, err := c.ask("Enter password: ")
	if err != nil {
		return err
	}
	sess, err := s.bank.AuthenticateCustomer(id, password, c.id)
	if err != nil {
		return c.tell("\n" + bank.Message(err))
	}
	defer c.scoped("customer", id)()
	defer s.logout(c, sess)
	c.log.Info("logged in")

	if err := c.tell("\nLogin Successfully"); err != nil {
		return err
	}
	for {
		choice, _, err := c.askInt(customerMenuText)
		if err != nil {
			return err
		}
		switch choice {
		case 1:
			err = s.deposit(c, id)
		case 2:
			err = s.withdraw(c, id)
		case 3:
			err = s.showBalance(c, id)
		case 4:
			err = s.requestLoan(c, id)
		case 5:
			err = s.transfer(c, id)
		case 6:
			var changed bool
			changed, err = s.changePassword(c, func(pw string) error {
				return s.bank.ChangeCustomerPassword(id, pw)
			})
			if changed && err == nil {
				return nil
			}
		case 7:
			err = s.showHistory(c, id)
		case 8:
			err = s.feedback(c)
		case 9:
			return c.tell("Logging out...")
		case 10:
			return errExit
		default:
			err = c.tell("Invalid Choice")
		}
		if err != nil {
			return err
		}
	}
}

func (s *Server) deposit(c *conn, id int32) error {
	amt, ok, err := c.askAmount("Enter the amount to deposit: ", "Invalid deposit amount.")
	if err != nil || !ok {
		return err
	}
	r, err := s.bank.Deposit(id, amt)
	if err != nil {
		return s.fail(c, err)
	}
	if r.Degraded() {
		return c.tellf("Deposit successful BUT LOGGING FAILED! New Balance: %s", bank.FormatAmount(r.Balance))
	}
	return c.tellf("Deposit successful! New Balance: %s", bank.FormatAmount(r.Balance))
}

func (s *Server) withdraw(c *conn, id int32) error {
	amt, ok, err := c.askAmount("Enter the amount to withdraw: ", "Invalid withdrawal amount.")
	if err != nil || !ok {
		return err
	}
	r, err := s.bank.Withdraw(id, amt)
	if err != nil {
		return s.fail(c, err)
	}
	if r.Degraded() {
		return c.tellf("Withdrawal successful BUT LOGGING FAILED! Balance: %s", bank.FormatAmount(r.Balance))
	}
	return c.tellf("Withdrawal successful! New Balance: %s", bank.FormatAmount(r.Balance))
}

func (s *Server) showBalance(c *conn, id int32) error {
	bal, err := s.bank.Balance(id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.tellf("The current balance is: %s", bank.FormatAmount(bal))
}

func (s *Server) requestLoan(c *conn, id int32) error {
	amt, ok, err := c.askAmount("Enter Loan Amount: ", "Invalid loan amount.")
	if err != nil || !ok {
		return err
	}
	loan, err := s.bank.RequestLoan(id, amt)
	if err != nil {
		return s.fail(c, err)
	}
	return c.tellf("Loan %d for amount %s has been requested.", loan.ID, bank.FormatAmount(loan.Amount))
}

func (s *Server) transfer(c *conn, id int32) error {
	dst, ok, err := c.askID("Enter destination account number: ", "Invalid account number")
	if err != nil || !ok {
		return err
	}
	amt, ok, err := c.askAmount("Enter amount: ", "Invalid transfer amount.")
	if err != nil || !ok {
		return err
	}
	r, err := s.bank.Transfer(id, dst, amt)
	if err != nil {
		return s.fail(c, err)
	}
	if r.Degraded() {
		return c.tellf("Transfer successful BUT LOGGING FAILED! New Balance: %s", bank.FormatAmount(r.Balance))
	}
	return c.tellf("Transfer successful! New Balance: %s", bank.FormatAmount(r.Balance))
}

func (s *Server) showHistory(c *conn, id int32) error {
	entries, err := s.bank.History(id, 0)
	if err != nil {
		return s.fail(c, err)
	}
	if len(entries) == 0 {
		return c.tell("No transactions found.\n")
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Text)
	}
	return c.tell(sb.String())
}

func (s *Server) feedback(c *conn) error {
	choice, ok, err := c.askInt(feedbackMenuText)
	if err != nil {
		return err
	}
	if !ok {
		return c.tell("Invalid Choice")
	}
	if err := s.bank.AddFeedback(bank.Rating(choice)); err != nil {
		return s.fail(c, err)
	}
	return c.tell("Thank you for your feedback!")
}

// changePassword asks for a new password and stores it with set. changed is
// true when the caller must end the session so the user logs in again.
func (s *Server) changePassword(c *conn, set func(string) error) (changed bool, err error) {
	pw, err := c.ask("Enter new password: ")
	if err != nil {
		return false, err
	}
	if err := set(pw); err != nil {
		if bank.KindOf(err) == bank.InvalidInput {
			return false, c.tell(bank.Message(err))
		}
		c.log.Error("password change failed", zap.Error(err))
		return false, c.tell("Password change failed.")
	}
	c.log.Info("password changed")
	return true, c.tell("Password changed. Please log in again.")
}

func formatLoan(prefix string, l bank.Loan) string {
	return fmt.Sprintf("%sLoan ID: %d | Account: %d | Amount: %s", prefix, l.ID, l.AccountID, bank.FormatAmount(l.Amount))
}
