package server

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bankline/recordbank/bank"
)

const (
	employeeMenuText = "\n===== Employee =====\n1. Add New Customer\n2. Modify Customer Details\n3. Approve/Reject Loans\n" +
		"4. View Assigned Loan Applications\n5. View Customer Transactions\n6. Change Password\n7. Logout\n8. Exit\nEnter your choice: "

	managerMenuText = "\n===== Manager =====\n1. Activate/Deactivate Customer Accounts\n2. Assign Loan Application Processes to Employees\n" +
		"3. Review Customer Feedback\n4. Change Password\n5. Logout\n6. Exit\nEnter your choice: "

	adminMenuText = "\n===== Admin =====\n1. Add New Bank Employee\n2. Modify Customer/Employee Details\n3. Manage User Roles\n" +
		"4. Change Password\n5. Logout\nEnter your choice: "
)

func (s *Server) staffSession(c *conn, role bank.Role) error {
	prompt, label := "\nEnter Employee ID: ", "employee"
	if role == bank.Manager {
		prompt, label = "\nEnter Manager ID: ", "manager"
	}
	id, ok, err := c.askID(prompt, "Invalid employee ID")
	if err != nil || !ok {
		return err
	}
	password, err := c.ask("Enter password: ")
	if err != nil {
		return err
	}
	sess, err := s.bank.AuthenticateStaff(id, password, role, c.id)
	if err != nil {
		return c.tell("\n" + bank.Message(err))
	}
	defer c.scoped(label, id)()
	defer s.logout(c, sess)
	c.log.Info("logged in")

	if err := c.tell("\nLogin Successfully"); err != nil {
		return err
	}
	if role == bank.Manager {
		return s.managerMenu(c, id)
	}
	return s.employeeMenu(c, id)
}

// ------------------ Employee ------------------

func (s *Server) employeeMenu(c *conn, id int32) error {
	for {
		choice, _, err := c.askInt(employeeMenuText)
		if err != nil {
			return err
		}
		switch choice {
		case 1:
			err = s.addCustomer(c)
		case 2:
			err = s.modifyCustomer(c)
		case 3:
			err = s.decideLoan(c, id)
		case 4:
			err = s.assignedLoans(c, id)
		case 5:
			var acct int32
			var ok bool
			acct, ok, err = c.askID("Enter Account Number: ", "Invalid account number")
			if err == nil && ok {
				err = s.showHistory(c, acct)
			}
		case 6:
			var changed bool
			changed, err = s.changePassword(c, func(pw string) error { return s.bank.ChangeStaffPassword(id, pw) })
			if changed && err == nil {
				return nil
			}
		case 7:
			return c.tell("Logging out...")
		case 8:
			return errExit
		default:
			err = c.tell("Invalid Choice")
		}
		if err != nil {
			return err
		}
	}
}

func (s *Server) addCustomer(c *conn) error {
	id, ok, err := c.askID("Enter Account Number: ", "Invalid account number")
	if err != nil || !ok {
		return err
	}
	name, err := c.ask("Enter Name: ")
	if err != nil {
		return err
	}
	password, err := c.ask("Enter Password: ")
	if err != nil {
		return err
	}
	raw, err := c.ask("Enter Opening Balance: ")
	if err != nil {
		return err
	}
	opening, perr := decimal.NewFromString(raw)
	if perr != nil {
		return c.tell("Invalid amount.")
	}

	r, err := s.bank.OpenAccount(bank.NewCustomer{ID: id, Name: name, Password: password, OpeningBalance: opening})
	if err != nil {
		return s.fail(c, err)
	}
	if r.Degraded() {
		return c.tell("Customer added BUT LOG FAILED!")
	}
	return c.tell("Customer added successfully!")
}

func (s *Server) modifyCustomer(c *conn) error {
	id, ok, err := c.askID("Enter Account Number to modify: ", "Invalid account number")
	if err != nil || !ok {
		return err
	}
	name, err := c.ask("Enter New Name: ")
	if err != nil {
		return err
	}
	if err := s.bank.RenameCustomer(id, name); err != nil {
		return s.fail(c, err)
	}
	return c.tell("Customer name updated.")
}

// decideLoan shows the loan and its account, then asks for the verdict. The
// snapshot is only for display; DecideLoan checks everything again under lock.
func (s *Server) decideLoan(c *conn, staffID int32) error {
	loanID, ok, err := c.askID("Enter Loan ID to process: ", "Invalid Choice")
	if err != nil || !ok {
		return err
	}
	loan, err := s.bank.Loan(loanID)
	if err != nil {
		return s.fail(c, err)
	}
	if loan.Status != bank.Pending || loan.AssignedTo != staffID {
		return c.tellf("Loan ID %d is not assigned to you or is not pending.", loanID)
	}
	acc, err := s.bank.Account(loan.AccountID)
	if err != nil {
		return s.fail(c, err)
	}

	choice, _, err := c.askInt(
		"Processing Loan ID: " + itoa(loan.ID) +
			"\nAccount: " + itoa(acc.ID) + " (" + acc.Name + ")" +
			"\nCurrent Balance: " + bank.FormatAmount(acc.Balance) +
			"\nLoan Amount: " + bank.FormatAmount(loan.Amount) +
			"\n[1] Approve Loan\n[2] Reject Loan\nChoice: ")
	if err != nil {
		return err
	}
	var d bank.Decision
	switch choice {
	case 1:
		d = bank.Approve
	case 2:
		d = bank.Reject
	default:
		return c.tell("Invalid choice. No action taken.")
	}

	out, err := s.bank.DecideLoan(loanID, staffID, d)
	if err != nil {
		return s.fail(c, err)
	}
	switch {
	case out.InactiveAccount:
		return c.tell("Account is inactive. Loan rejected.")
	case out.Loan.Status == bank.Rejected:
		return c.tell("Loan Rejected.")
	case out.Degraded():
		return c.tell("Loan Approved BUT LOGGING FAILED!")
	}
	return c.tell("Loan Approved.")
}

func (s *Server) assignedLoans(c *conn, staffID int32) error {
	loans, err := s.bank.AssignedLoans(staffID)
	if err != nil {
		return s.fail(c, err)
	}
	if len(loans) == 0 {
		return c.tell("No pending assigned loans found.")
	}
	for _, l := range loans {
		if err := c.tell(formatLoan("", l)); err != nil {
			return err
		}
	}
	return nil
}

// ------------------ Manager ------------------

func (s *Server) managerMenu(c *conn, id int32) error {
	for {
		choice, _, err := c.askInt(managerMenuText)
		if err != nil {
			return err
		}
		switch choice {
		case 1:
			err = s.setAccountStatus(c)
		case 2:
			err = s.assignLoan(c)
		case 3:
			err = s.reviewFeedback(c)
		case 4:
			var changed bool
			changed, err = s.changePassword(c, func(pw string) error { return s.bank.ChangeStaffPassword(id, pw) })
			if changed && err == nil {
				return nil
			}
		case 5:
			return c.tell("Logging out...")
		case 6:
			return errExit
		default:
			err = c.tell("Invalid Choice")
		}
		if err != nil {
			return err
		}
	}
}

func (s *Server) setAccountStatus(c *conn) error {
	id, ok, err := c.askID("Enter Account Number: ", "Invalid account number")
	if err != nil || !ok {
		return err
	}
	acc, err := s.bank.Account(id)
	if err != nil {
		return s.fail(c, err)
	}
	state := "Inactive"
	if acc.Active {
		state = "Active"
	}
	choice, _, err := c.askInt("Account " + itoa(acc.ID) + " (" + acc.Name + ") is currently " + state +
		".\n[1] Deactivate\n[2] Activate\nChoice: ")
	if err != nil {
		return err
	}
	var active bool
	switch choice {
	case 1:
		active = false
	case 2:
		active = true
	default:
		return c.tell("Invalid choice or status already set.")
	}
	if err := s.bank.SetAccountActive(id, active); err != nil {
		return s.fail(c, err)
	}
	return c.tell("Status Changed Successfully")
}

func (s *Server) assignLoan(c *conn) error {
	loans, err := s.bank.UnassignedLoans()
	if err != nil {
		return s.fail(c, err)
	}
	if len(loans) == 0 {
		return c.tell("No unassigned loans found.")
	}
	for _, l := range loans {
		if err := c.tell(formatLoan("-> Unassigned ", l)); err != nil {
			return err
		}
	}
	loanID, ok, err := c.askID("Enter Loan ID to assign: ", "Invalid Choice")
	if err != nil || !ok {
		return err
	}
	staffID, ok, err := c.askID("Enter Employee ID to assign to: ", "Invalid employee ID")
	if err != nil || !ok {
		return err
	}
	if _, err := s.bank.AssignLoan(loanID, staffID); err != nil {
		return s.fail(c, err)
	}
	return c.tellf("Loan %d assigned to employee %d.", loanID, staffID)
}

func (s *Server) reviewFeedback(c *conn) error {
	entries, err := s.bank.Feedback()
	if err != nil {
		return s.fail(c, err)
	}
	if len(entries) == 0 {
		return c.tell("No feedback found.\n")
	}
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.At.Format("2006-01-02 15:04") + "  " + e.Message + "\n")
	}
	return c.tell(sb.String())
}

// ------------------ Admin ------------------

func (s *Server) adminSession(c *conn) error {
	password, err := c.ask("Enter admin password: ")
	if err != nil {
		return err
	}
	sess, err := s.bank.AuthenticateAdmin(password, c.id)
	if err != nil {
		return c.tell("\n" + bank.Message(err))
	}
	defer c.scoped("admin", bank.AdminID)()
	defer s.logout(c, sess)
	c.log.Info("logged in")

	if err := c.tell("\nAdmin Login Successfully"); err != nil {
		return err
	}
	for {
		choice, _, err := c.askInt(adminMenuText)
		if err != nil {
			return err
		}
		switch choice {
		case 1:
			err = s.addStaff(c)
		case 2:
			err = s.modifyDetails(c)
		case 3:
			err = s.setStaffRole(c)
		case 4:
			err = s.changeAdminPassword(c)
		case 5:
			return c.tell("Logging out...")
		default:
			err = c.tell("Invalid Choice")
		}
		if err != nil {
			return err
		}
	}
}

func (s *Server) addStaff(c *conn) error {
	id, ok, err := c.askID("Enter Employee ID: ", "Invalid employee ID")
	if err != nil || !ok {
		return err
	}
	first, err := c.ask("Enter FirstName: ")
	if err != nil {
		return err
	}
	last, err := c.ask("Enter LastName: ")
	if err != nil {
		return err
	}
	password, err := c.ask("Enter Password: ")
	if err != nil {
		return err
	}
	role, ok, err := c.askInt("[0] Manager\n[1] Employee\nChoice: ")
	if err != nil {
		return err
	}
	if !ok || (role != int64(bank.Manager) && role != int64(bank.Employee)) {
		return c.tell("Invalid choice!")
	}

	err = s.bank.AddStaff(bank.NewStaff{ID: id, FirstName: first, LastName: last, Password: password, Role: bank.Role(role)})
	if err != nil {
		return s.fail(c, err)
	}
	return c.tell("Employee added successfully")
}

func (s *Server) modifyDetails(c *conn) error {
	kind, _, err := c.askInt("[1] Modify Customer\n[2] Modify Employee\nChoice: ")
	if err != nil {
		return err
	}
	switch kind {
	case 1:
		return s.modifyCustomer(c)
	case 2:
	default:
		return c.tell("Invalid modification type.")
	}

	id, ok, err := c.askID("Enter Employee ID: ", "Invalid employee ID")
	if err != nil || !ok {
		return err
	}
	first, err := c.ask("Enter New First Name: ")
	if err != nil {
		return err
	}
	last, err := c.ask("Enter New Last Name (blank to keep): ")
	if err != nil {
		return err
	}
	if err := s.bank.RenameStaff(id, first, last); err != nil {
		return s.fail(c, err)
	}
	return c.tell("employee name updated.")
}

func (s *Server) setStaffRole(c *conn) error {
	id, ok, err := c.askID("Enter employee ID to change role: ", "Invalid employee ID")
	if err != nil || !ok {
		return err
	}
	st, err := s.bank.Staff(id)
	if err != nil {
		return s.fail(c, err)
	}
	choice, ok, err := c.askInt("employee " + itoa(st.ID) + " is currently " + st.Role.String() +
		".\n[0] Make Manager\n[1] Make Employee\nChoice: ")
	if err != nil {
		return err
	}
	if !ok || (choice != int64(bank.Manager) && choice != int64(bank.Employee)) {
		return c.tell("Invalid choice or role already set.")
	}
	if err := s.bank.SetStaffRole(id, bank.Role(choice)); err != nil {
		return s.fail(c, err)
	}
	return c.tell("Role updated.")
}

func (s *Server) changeAdminPassword(c *conn) error {
	pw, err := c.ask("Enter new admin password: ")
	if err != nil {
		return err
	}
	if err := s.bank.ChangeAdminPassword(pw); err != nil {
		return s.fail(c, err)
	}
	return c.tell("Admin password changed successfully.")
}
