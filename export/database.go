// Package export copies the record files into a SQLite database for offline
// inspection and ad hoc queries. The service never reads the export.
package export

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/bankline/recordbank/bank"
)

// Database is an export target.
type Database struct {
	db *sql.DB
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Database{db: db}, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// DB exposes the connection for queries over an export.
func (d *Database) DB() *sql.DB { return d.db }

// ------------------ Schema migration ------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
            id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            active BOOLEAN NOT NULL,
            balance_cents INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS staff (
            id INTEGER PRIMARY KEY,
            first_name TEXT NOT NULL,
            last_name TEXT NOT NULL,
            role TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS loans (
            id INTEGER PRIMARY KEY,
            account_id INTEGER NOT NULL,
            assigned_to INTEGER,
            status TEXT NOT NULL,
            amount_cents INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS transactions (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            account_id INTEGER NOT NULL,
            at DATETIME NOT NULL,
            text TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id);`,
		`CREATE TABLE IF NOT EXISTS feedback (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            at DATETIME NOT NULL,
            message TEXT NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, schemaVersion); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return tx.Commit()
}

// ------------------ Snapshot ------------------

// Counts reports how many rows of each kind an export wrote.
type Counts struct {
	Accounts     int
	Staff        int
	Loans        int
	Transactions int
	Feedback     int
}

// Replace swaps the whole contents of the export for snap in one transaction.
func (d *Database) Replace(snap *Snapshot) (Counts, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return Counts{}, err
	}
	defer tx.Rollback()

	for _, table := range []string{"accounts", "staff", "loans", "transactions", "feedback"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return Counts{}, fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insert := func(query string, rows int, args func(i int) []any) error {
		stmt, err := tx.Prepare(query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for i := 0; i < rows; i++ {
			if _, err := stmt.Exec(args(i)...); err != nil {
				return err
			}
		}
		return nil
	}

	if err := insert(`INSERT OR REPLACE INTO accounts(id,name,active,balance_cents) VALUES(?,?,?,?)`, len(snap.Accounts), func(i int) []any {
		a := snap.Accounts[i]
		return []any{a.ID, a.Name, a.Active, cents(a.Balance)}
	}); err != nil {
		return Counts{}, fmt.Errorf("export accounts: %w", err)
	}
	if err := insert(`INSERT OR REPLACE INTO staff(id,first_name,last_name,role) VALUES(?,?,?,?)`, len(snap.Staff), func(i int) []any {
		s := snap.Staff[i]
		return []any{s.ID, s.FirstName, s.LastName, s.Role.String()}
	}); err != nil {
		return Counts{}, fmt.Errorf("export staff: %w", err)
	}
	if err := insert(`INSERT OR REPLACE INTO loans(id,account_id,assigned_to,status,amount_cents) VALUES(?,?,?,?,?)`, len(snap.Loans), func(i int) []any {
		l := snap.Loans[i]
		var assigned sql.NullInt32
		if l.AssignedTo != bank.Unassigned {
			assigned = sql.NullInt32{Int32: l.AssignedTo, Valid: true}
		}
		return []any{l.ID, l.AccountID, assigned, l.Status.String(), cents(l.Amount)}
	}); err != nil {
		return Counts{}, fmt.Errorf("export loans: %w", err)
	}
	if err := insert(`INSERT INTO transactions(account_id,at,text) VALUES(?,?,?)`, len(snap.History), func(i int) []any {
		e := snap.History[i]
		return []any{e.AccountID, e.At.UTC(), e.Text}
	}); err != nil {
		return Counts{}, fmt.Errorf("export transactions: %w", err)
	}
	if err := insert(`INSERT INTO feedback(at,message) VALUES(?,?)`, len(snap.Feedback), func(i int) []any {
		f := snap.Feedback[i]
		return []any{f.At.UTC(), f.Message}
	}); err != nil {
		return Counts{}, fmt.Errorf("export feedback: %w", err)
	}

	if _, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('exported_at',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`, snap.TakenAt.UTC().Format(time.RFC3339)); err != nil {
		return Counts{}, err
	}
	if err := tx.Commit(); err != nil {
		return Counts{}, err
	}
	return Counts{
		Accounts:     len(snap.Accounts),
		Staff:        len(snap.Staff),
		Loans:        len(snap.Loans),
		Transactions: len(snap.History),
		Feedback:     len(snap.Feedback),
	}, nil
}

func cents(d decimal.Decimal) int64 { return d.Shift(2).Round(0).IntPart() }
