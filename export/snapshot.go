package export

import (
	"fmt"
	"os"
	"time"

	"github.com/bankline/recordbank/bank"
	"github.com/bankline/recordbank/store"
)

// Snapshot is every record of one data directory. Each file is read under its
// own whole-file shared lock, so each table is internally consistent; the
// tables are not a single point-in-time cut across files.
type Snapshot struct {
	TakenAt  time.Time
	Accounts []bank.Account
	Staff    []bank.Staff
	Loans    []bank.Loan
	History  []bank.LogEntry
	Feedback []bank.FeedbackEntry
}

// Take reads the record files named by layout. Password hashes are dropped.
func Take(layout bank.Layout) (*Snapshot, error) {
	if _, err := os.Stat(layout.Dir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	snap := &Snapshot{TakenAt: time.Now()}
	var err error
	if snap.Accounts, err = readAll[bank.Account](layout.Accounts); err != nil {
		return nil, err
	}
	for i := range snap.Accounts {
		snap.Accounts[i].PasswordHash = ""
	}
	if snap.Staff, err = readAll[bank.Staff](layout.Staff); err != nil {
		return nil, err
	}
	for i := range snap.Staff {
		snap.Staff[i].PasswordHash = ""
	}
	if snap.Loans, err = readAll[bank.Loan](layout.Loans); err != nil {
		return nil, err
	}
	if snap.History, err = readAll[bank.LogEntry](layout.History); err != nil {
		return nil, err
	}
	if snap.Feedback, err = readAll[bank.FeedbackEntry](layout.Feedback); err != nil {
		return nil, err
	}
	return snap, nil
}

func readAll[T any, P interface {
	*T
	store.Record
}](path string) ([]T, error) {
	f, err := store.Open[T, P](path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	recs, err := f.ReadAll(nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return recs, nil
}

// Run takes a snapshot of layout and writes it to the SQLite file at dbPath.
func Run(layout bank.Layout, dbPath string) (Counts, error) {
	snap, err := Take(layout)
	if err != nil {
		return Counts{}, err
	}
	db, err := NewDatabase(dbPath)
	if err != nil {
		return Counts{}, err
	}
	defer db.Close()
	return db.Replace(snap)
}
