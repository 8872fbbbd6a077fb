package bank

import (
	"errors"
	"testing"
	"time"
	"unicode/utf8"
)

func TestAccountEncoding(t *testing.T) {
	a := Account{ID: 1001, Active: true, Balance: dec("600.50"), Name: "Ada", PasswordHash: "$2a$04$abc"}
	buf, err := a.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(buf) != AccountSize {
		t.Fatalf("size %d", len(buf))
	}
	if cents := int64(le.Uint64(buf[8:])); cents != 60050 {
		t.Fatalf("stored cents %d", cents)
	}
	var got Account
	if err := got.UnmarshalBinary(buf); err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID || !got.Active || !got.Balance.Equal(a.Balance) || got.Name != a.Name || got.PasswordHash != a.PasswordHash {
		t.Fatalf("decoded %+v", got)
	}

	neg := Account{ID: 1, Balance: dec("-0.01")}
	if _, err := neg.MarshalBinary(); !errors.Is(err, errNegativeBalance) {
		t.Fatalf("negative balance encoded: %v", err)
	}
	huge := Account{ID: 1, Balance: dec("92233720368547758.08")}
	if _, err := huge.MarshalBinary(); !errors.Is(err, errAmountRange) {
		t.Fatalf("out of range balance encoded: %v", err)
	}
}

func TestLoanEncodingRejectsBadAmounts(t *testing.T) {
	for _, tc := range []struct {
		amount string
		want   error
	}{
		{"-1", errNegativeAmount},
		{"100000000000000000", errAmountRange},
	} {
		l := Loan{ID: 1, AccountID: 1, AssignedTo: Unassigned, Amount: dec(tc.amount)}
		if _, err := l.MarshalBinary(); !errors.Is(err, tc.want) {
			t.Errorf("loan amount %s: want %v, got %v", tc.amount, tc.want, err)
		}
	}
}

func TestLoanAndLogEncoding(t *testing.T) {
	l := Loan{ID: 3, AccountID: 1001, AssignedTo: Unassigned, Status: Requested, Amount: dec("125.75")}
	buf, _ := l.MarshalBinary()
	var gotLoan Loan
	if err := gotLoan.UnmarshalBinary(buf); err != nil {
		t.Fatal(err)
	}
	if gotLoan.AssignedTo != -1 || gotLoan.Status != Requested || !gotLoan.Amount.Equal(l.Amount) {
		t.Fatalf("loan %+v", gotLoan)
	}

	at := time.Unix(1700000000, 123)
	e := LogEntry{AccountID: 7, At: at, Text: "10.00 deposited"}
	buf, _ = e.MarshalBinary()
	var gotEntry LogEntry
	if err := gotEntry.UnmarshalBinary(buf); err != nil {
		t.Fatal(err)
	}
	if gotEntry.AccountID != 7 || !gotEntry.At.Equal(at) || gotEntry.Text != e.Text {
		t.Fatalf("entry %+v", gotEntry)
	}

	if err := gotEntry.UnmarshalBinary(buf[:10]); err == nil {
		t.Fatalf("short buffer accepted")
	}
}

func TestPutStringTruncatesOnRuneBoundary(t *testing.T) {
	dst := make([]byte, 5)
	putString(dst, "abcé€") // é is 2 bytes, € is 3
	got := getString(dst)
	if got != "abcé" || !utf8.ValidString(got) {
		t.Fatalf("got %q", got)
	}

	putString(dst, "ab")
	if got := getString(dst); got != "ab" {
		t.Fatalf("shorter value left residue: %q", got)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"100.50", "100.50", true},
		{" 7 ", "7.00", true},
		{"0", "", false},
		{"-1", "", false},
		{"1.005", "", false},
		{"ten", "", false},
		{"10000000000000", "10000000000000.00", true},
		{"10000000000000.01", "", false},
		{"100000000000000000", "", false},
	}
	for _, tt := range tests {
		d, err := ParseAmount(tt.in)
		if tt.ok != (err == nil) {
			t.Errorf("ParseAmount(%q) err=%v", tt.in, err)
			continue
		}
		if tt.ok && FormatAmount(d) != tt.want {
			t.Errorf("ParseAmount(%q) = %s", tt.in, FormatAmount(d))
		}
	}
}
