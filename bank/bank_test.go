package bank

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/bankline/recordbank/session"
)

func newBank(t *testing.T) *Bank {
	t.Helper()
	log := zaptest.NewLogger(t)
	layout := NewLayout(filepath.Join(t.TempDir(), "data"))
	sessions, err := session.NewService(layout.Sessions, log)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	clock := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	return New(layout, sessions, log, Options{
		BcryptCost: bcrypt.MinCost,
		Now:        func() time.Time { return clock },
	})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func openAccount(t *testing.T, b *Bank, id int32, balance string) {
	t.Helper()
	r, err := b.OpenAccount(NewCustomer{ID: id, Name: "Holder", Password: "pw", OpeningBalance: dec(balance)})
	if err != nil {
		t.Fatalf("open account %d: %v", id, err)
	}
	if r.Degraded() {
		t.Fatalf("open account %d: audit failed: %v", id, r.AuditErr)
	}
}

func balanceOf(t *testing.T, b *Bank, id int32) decimal.Decimal {
	t.Helper()
	bal, err := b.Balance(id)
	if err != nil {
		t.Fatalf("balance %d: %v", id, err)
	}
	return bal
}

func wantBalance(t *testing.T, b *Bank, id int32, want string) {
	t.Helper()
	if got := balanceOf(t, b, id); !got.Equal(dec(want)) {
		t.Fatalf("account %d balance %s, want %s", id, got.StringFixed(2), want)
	}
}

func historyCount(t *testing.T, b *Bank, id int32) int {
	t.Helper()
	h, err := b.History(id, 1000)
	if err != nil {
		t.Fatalf("history %d: %v", id, err)
	}
	return len(h)
}

func TestDeposit(t *testing.T) {
	b := newBank(t)
	openAccount(t, b, 1001, "500.00")

	r, err := b.Deposit(1001, dec("100.50"))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if r.Degraded() || !r.Balance.Equal(dec("600.50")) {
		t.Fatalf("receipt %+v", r)
	}
	wantBalance(t, b, 1001, "600.50")

	h, _ := b.History(1001, 0)
	var deposits []LogEntry
	for _, e := range h {
		if strings.Contains(e.Text, "deposited") {
			deposits = append(deposits, e)
		}
	}
	if len(deposits) != 1 {
		t.Fatalf("deposit entries %+v", deposits)
	}
	if deposits[0].AccountID != 1001 || !strings.Contains(deposits[0].Text, "100.50") {
		t.Fatalf("entry %+v", deposits[0])
	}
}

func TestWithdrawRejections(t *testing.T) {
	b := newBank(t)
	openAccount(t, b, 1001, "600.50")
	before := historyCount(t, b, 1001)

	_, err := b.Withdraw(1001, dec("700"))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("want insufficient funds, got %v", err)
	}
	if msg := Message(err); !strings.Contains(msg, "Insufficient funds") || !strings.Contains(msg, "600.50") {
		t.Fatalf("message %q", msg)
	}

	for _, amt := range []string{"0", "-5", "1.234"} {
		if _, err := b.Withdraw(1001, dec(amt)); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("withdraw %s: want invalid input, got %v", amt, err)
		}
	}
	wantBalance(t, b, 1001, "600.50")
	if n := historyCount(t, b, 1001); n != before {
		t.Fatalf("history grew from %d to %d", before, n)
	}

	r, err := b.Withdraw(1001, dec("600.50"))
	if err != nil || !r.Balance.IsZero() {
		t.Fatalf("withdraw all: %+v %v", r, err)
	}
}

func TestTransfer(t *testing.T) {
	b := newBank(t)
	openAccount(t, b, 1001, "600.50")
	openAccount(t, b, 1002, "300.00")

	r, err := b.Transfer(1001, 1002, dec("200.00"))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !r.Balance.Equal(dec("400.50")) {
		t.Fatalf("receipt balance %s", r.Balance)
	}
	wantBalance(t, b, 1001, "400.50")
	wantBalance(t, b, 1002, "500.00")

	src, _ := b.History(1001, 0)
	dst, _ := b.History(1002, 0)
	if last := src[len(src)-1].Text; !strings.Contains(last, "200.00 transferred to acc 1002") {
		t.Fatalf("source entry %q", last)
	}
	if last := dst[len(dst)-1].Text; !strings.Contains(last, "200.00 credited from acc 1001") {
		t.Fatalf("destination entry %q", last)
	}
}

func TestTransferRejectsWithoutSideEffects(t *testing.T) {
	b := newBank(t)
	openAccount(t, b, 1001, "100.00")
	openAccount(t, b, 1002, "50.00")

	tests := []struct {
		name     string
		src, dst int32
		amount   string
		want     error
	}{
		{"same account", 1001, 1001, "10", ErrInvalidInput},
		{"zero amount", 1001, 1002, "0", ErrInvalidInput},
		{"missing destination", 1001, 9999, "10", ErrNotFound},
		{"missing source", 9999, 1001, "10", ErrNotFound},
		{"insufficient funds", 1001, 1002, "100.01", ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h1, h2 := historyCount(t, b, 1001), historyCount(t, b, 1002)
			_, err := b.Transfer(tt.src, tt.dst, dec(tt.amount))
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
			wantBalance(t, b, 1001, "100.00")
			wantBalance(t, b, 1002, "50.00")
			if historyCount(t, b, 1001) != h1 || historyCount(t, b, 1002) != h2 {
				t.Fatalf("history changed on rejected transfer")
			}
		})
	}

	_, err := b.Transfer(1001, 9999, dec("10"))
	if Message(err) != "Destination account does not exist." {
		t.Fatalf("message %q", Message(err))
	}
}

func TestConcurrentDepositsAndWithdrawals(t *testing.T) {
	b := newBank(t)
	openAccount(t, b, 7, "1000.00")

	const workers, rounds = 8, 25
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < rounds; i++ {
				if _, err := b.Deposit(7, dec("3.25")); err != nil {
					return err
				}
				if _, err := b.Withdraw(7, dec("1.00")); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("worker: %v", err)
	}
	// 1000 + 8*25*(3.25-1.00)
	wantBalance(t, b, 7, "1450.00")
	if n := historyCount(t, b, 7); n != 1+2*workers*rounds {
		t.Fatalf("history entries %d", n)
	}
}

func TestOppositeTransfersDoNotDeadlock(t *testing.T) {
	b := newBank(t)
	openAccount(t, b, 1, "500.00")
	openAccount(t, b, 2, "500.00")

	done := make(chan error, 1)
	go func() {
		var g errgroup.Group
		for i := 0; i < 4; i++ {
			g.Go(func() error {
				for j := 0; j < 20; j++ {
					if _, err := b.Transfer(1, 2, dec("1.50")); err != nil {
						return err
					}
				}
				return nil
			})
			g.Go(func() error {
				for j := 0; j < 20; j++ {
					if _, err := b.Transfer(2, 1, dec("0.50")); err != nil {
						return err
					}
				}
				return nil
			})
		}
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("transfer: %v", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatalf("transfers did not finish; likely deadlock")
	}
	// 80 transfers of 1.50 one way, 80 of 0.50 back.
	wantBalance(t, b, 1, "420.00")
	wantBalance(t, b, 2, "580.00")
}

func TestDegradedSuccessWhenHistoryUnavailable(t *testing.T) {
	b := newBank(t)
	openAccount(t, b, 1001, "10.00")
	openAccount(t, b, 1002, "10.00")

	hist := b.Layout().History
	if err := os.Remove(hist); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(hist, 0o755); err != nil {
		t.Fatal(err)
	}

	r, err := b.Deposit(1001, dec("5"))
	if err != nil {
		t.Fatalf("deposit should still succeed: %v", err)
	}
	if !r.Degraded() {
		t.Fatalf("expected audit failure to be reported")
	}
	wantBalance(t, b, 1001, "15.00")

	r, err = b.Transfer(1001, 1002, dec("15"))
	if err != nil || !r.Degraded() {
		t.Fatalf("transfer: %+v %v", r, err)
	}
	wantBalance(t, b, 1001, "0.00")
	wantBalance(t, b, 1002, "25.00")
}

func TestFeedback(t *testing.T) {
	b := newBank(t)
	for _, r := range []Rating{Good, Poor, Average} {
		if err := b.AddFeedback(r); err != nil {
			t.Fatalf("add feedback: %v", err)
		}
	}
	if err := b.AddFeedback(Rating(9)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad rating: %v", err)
	}
	all, err := b.Feedback()
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	var got []string
	for _, f := range all {
		got = append(got, f.Message)
	}
	if strings.Join(got, ",") != "Good,Poor,Average" {
		t.Fatalf("feedback %v", got)
	}
}

func TestHistoryLimit(t *testing.T) {
	b := newBank(t)
	openAccount(t, b, 5, "0")
	for i := 0; i < 15; i++ {
		if _, err := b.Deposit(5, dec("1")); err != nil {
			t.Fatal(err)
		}
	}
	h, err := b.History(5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != DefaultHistoryLimit {
		t.Fatalf("got %d entries, want %d", len(h), DefaultHistoryLimit)
	}
	if !strings.Contains(h[len(h)-1].Text, "deposited at 09:26:53 14-3-2025") {
		t.Fatalf("last entry %q", h[len(h)-1].Text)
	}
}
