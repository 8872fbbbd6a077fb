package bank

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// MaxAmount bounds every amount and every balance. Twice the bound still fits
// the int64 cents of a record, so one credit on top of a valid balance can be
// computed and checked before anything is written.
var MaxAmount = decimal.New(1, 13)

var errAmountRange = errors.New("amount does not fit a record")

// ParseAmount reads a user-entered amount. It accepts at most two decimal
// places and rejects anything that is not strictly positive.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, &Error{Kind: InvalidInput, Op: "parse amount", Msg: "Invalid amount.", Err: err}
	}
	if !d.Equal(d.Truncate(2)) {
		return decimal.Zero, newErr(InvalidInput, "parse amount", "Amounts have at most two decimal places.")
	}
	if !d.IsPositive() {
		return decimal.Zero, newErr(InvalidInput, "parse amount", "Amount must be positive.")
	}
	if d.GreaterThan(MaxAmount) {
		return decimal.Zero, newErr(InvalidInput, "parse amount", "Amount exceeds the maximum of %s.", FormatAmount(MaxAmount))
	}
	return d, nil
}

// FormatAmount renders d with exactly two decimal places.
func FormatAmount(d decimal.Decimal) string { return d.StringFixed(2) }

// toCents refuses values whose cents do not fit an int64 instead of wrapping.
func toCents(d decimal.Decimal) (int64, error) {
	c := d.Mul(hundred).Round(0)
	if !c.BigInt().IsInt64() {
		return 0, errAmountRange
	}
	return c.IntPart(), nil
}

func fromCents(c int64) decimal.Decimal { return decimal.New(c, -2) }

// positive validates amount for op without touching storage.
func positive(op, what string, amount decimal.Decimal) error {
	if !amount.IsPositive() || !amount.Equal(amount.Truncate(2)) || amount.GreaterThan(MaxAmount) {
		return newErr(InvalidInput, op, "Invalid %s amount.", what)
	}
	return nil
}

// withinLimit checks a balance about to be written.
func withinLimit(op string, balance decimal.Decimal) error {
	if balance.GreaterThan(MaxAmount) {
		return newErr(InvalidInput, op, "Balance would exceed the maximum of %s.", FormatAmount(MaxAmount))
	}
	return nil
}
