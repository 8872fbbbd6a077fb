package export

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/bankline/recordbank/bank"
	"github.com/bankline/recordbank/session"
)

func seed(t *testing.T) bank.Layout {
	t.Helper()
	log := zaptest.NewLogger(t)
	layout := bank.NewLayout(filepath.Join(t.TempDir(), "data"))
	sessions, err := session.NewService(layout.Sessions, log)
	if err != nil {
		t.Fatal(err)
	}
	b := bank.New(layout, sessions, log, bank.Options{BcryptCost: bcrypt.MinCost})

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	_, err = b.OpenAccount(bank.NewCustomer{ID: 1001, Name: "Ada", Password: "pw", OpeningBalance: decimal.RequireFromString("500")})
	must(err)
	_, err = b.OpenAccount(bank.NewCustomer{ID: 1002, Name: "Bo", Password: "pw"})
	must(err)
	_, err = b.Deposit(1001, decimal.RequireFromString("0.25"))
	must(err)
	must(b.AddStaff(bank.NewStaff{ID: 2, FirstName: "Eli", Password: "e", Role: bank.Employee}))
	loan, err := b.RequestLoan(1002, decimal.RequireFromString("75"))
	must(err)
	_, err = b.AssignLoan(loan.ID, 2)
	must(err)
	_, err = b.RequestLoan(1001, decimal.RequireFromString("10"))
	must(err)
	must(b.AddFeedback(bank.Good))
	return layout
}

func TestRunWritesEveryTable(t *testing.T) {
	layout := seed(t)
	dbPath := filepath.Join(t.TempDir(), "out", "bank.db")

	counts, err := Run(layout, dbPath)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	want := Counts{Accounts: 2, Staff: 1, Loans: 2, Transactions: 3, Feedback: 1}
	if counts != want {
		t.Fatalf("counts %+v, want %+v", counts, want)
	}

	db, err := NewDatabase(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var cents int64
	if err := db.DB().QueryRow(`SELECT balance_cents FROM accounts WHERE id=1001`).Scan(&cents); err != nil {
		t.Fatal(err)
	}
	if cents != 50025 {
		t.Fatalf("balance cents %d", cents)
	}

	var assigned sql.NullInt64
	var status string
	if err := db.DB().QueryRow(`SELECT assigned_to, status FROM loans WHERE account_id=1002`).Scan(&assigned, &status); err != nil {
		t.Fatal(err)
	}
	if !assigned.Valid || assigned.Int64 != 2 || status != bank.Pending.String() {
		t.Fatalf("loan assigned=%v status=%s", assigned, status)
	}
	if err := db.DB().QueryRow(`SELECT assigned_to FROM loans WHERE account_id=1001`).Scan(&assigned); err != nil {
		t.Fatal(err)
	}
	if assigned.Valid {
		t.Fatalf("unassigned loan exported as %d", assigned.Int64)
	}

	var role string
	if err := db.DB().QueryRow(`SELECT role FROM staff WHERE id=2`).Scan(&role); err != nil {
		t.Fatal(err)
	}
	if role != "Employee" {
		t.Fatalf("role %q", role)
	}
}

func TestRunReplacesPreviousExport(t *testing.T) {
	layout := seed(t)
	dbPath := filepath.Join(t.TempDir(), "bank.db")

	for i := 0; i < 2; i++ {
		if _, err := Run(layout, dbPath); err != nil {
			t.Fatalf("export %d: %v", i, err)
		}
	}

	db, err := NewDatabase(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var n int
	if err := db.DB().QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("transactions after re-export: %d", n)
	}
	var version string
	if err := db.DB().QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != "1" {
		t.Fatalf("schema version %q", version)
	}
}

func TestTakeDropsPasswordHashes(t *testing.T) {
	snap, err := Take(seed(t))
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range snap.Accounts {
		if a.PasswordHash != "" {
			t.Fatalf("account %d kept its hash", a.ID)
		}
	}
	for _, s := range snap.Staff {
		if s.PasswordHash != "" {
			t.Fatalf("staff %d kept its hash", s.ID)
		}
	}
}

func TestTakeMissingDir(t *testing.T) {
	if _, err := Take(bank.NewLayout(filepath.Join(t.TempDir(), "absent"))); err == nil {
		t.Fatal("expected error for missing data dir")
	}
}
