package bank

import (
	"errors"
	"io"
	"math"

	"github.com/bankline/recordbank/store"
)

// IDGenerator hands out loan identifiers from a single-record counter file.
type IDGenerator struct {
	path string
}

// NewIDGenerator uses the counter file at path; it is created on first use.
func NewIDGenerator(path string) *IDGenerator { return &IDGenerator{path: path} }

// Next returns the next identifier. The read and the write back happen under
// one whole-file exclusive lock, so concurrent callers in any process see
// distinct, contiguous values. An empty counter starts at 1.
func (g *IDGenerator) Next() (id int64, err error) {
	f, err := store.Open[counter](g.path)
	if err != nil {
		return 0, storageErr("next loan id", err)
	}
	defer f.Close()

	unlock, err := f.LockRegion(store.WholeFile, store.Exclusive)
	if err != nil {
		return 0, storageErr("next loan id", err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil && err == nil {
			err = storageErr("next loan id", uerr)
		}
	}()

	c, err := f.ReadAt(0)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, store.ErrShortRecord):
		c.Next = 1
	case err != nil:
		return 0, storageErr("next loan id", err)
	}
	if c.Next < 1 {
		c.Next = 1
	}
	// Loan records carry 32-bit ids. The counter is left alone once exhausted.
	if c.Next > math.MaxInt32 {
		return 0, newErr(StorageUnavailable, "next loan id", "No loan IDs left.")
	}
	if err := f.WriteAt(0, counter{Next: c.Next + 1}); err != nil {
		return 0, storageErr("next loan id", err)
	}
	return c.Next, nil
}
