package store

import (
	"errors"
	"os"
)

// Mode selects how a region is locked.
type Mode int

const (
	// Shared allows any number of concurrent readers.
	Shared Mode = iota
	// Exclusive admits a single holder and no readers.
	Exclusive
)

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

// Region is a byte range of a file. A zero Length extends the region to EOF and
// past it, so the zero Region covers the whole file including future appends.
type Region struct {
	Offset int64
	Length int64
}

// WholeFile is the region used for append-only files, counters and listings.
var WholeFile = Region{}

// ErrWouldBlock is returned by TryLockFile when another handle holds a
// conflicting lock.
var ErrWouldBlock = errors.New("store: region is locked by another holder")

// Unlock releases a lock taken through LockRegion or LockRecord.
type Unlock func() error

// LockFile blocks until r is granted on f in the requested mode. There is no
// timeout; a hung holder stalls every contender.
//
// Locks belong to the open file description, so two handles opened separately
// on the same path contend with each other even inside one process. Closing the
// handle releases every lock it holds.
func LockFile(f *os.File, r Region, m Mode) error {
	return lockRegion(f, r, m, true)
}

// TryLockFile is the non-blocking form of LockFile. It reports ErrWouldBlock
// when the region is held elsewhere.
func TryLockFile(f *os.File, r Region, m Mode) error {
	return lockRegion(f, r, m, false)
}

// UnlockFile drops any lock f holds on r.
func UnlockFile(f *os.File, r Region) error {
	return unlockRegion(f, r)
}

// Held reports whether some other handle holds a lock that overlaps r. Where
// the platform can query locks it takes none itself, so asking never makes a
// contender's TryLockFile fail.
func Held(f *os.File, r Region) (bool, error) {
	return regionHeld(f, r)
}
