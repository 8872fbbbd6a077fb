//go:build unix && !linux

package store

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Without OFD locks the closest per-handle primitive is flock(2), which only
// covers whole files. Every region is widened to the whole file: correctness
// holds, record-level parallelism does not.

func lockRegion(f *os.File, _ Region, m Mode, wait bool) error {
	how := unix.LOCK_SH
	if m == Exclusive {
		how = unix.LOCK_EX
	}
	if !wait {
		how |= unix.LOCK_NB
	}
	for {
		err := unix.Flock(int(f.Fd()), how)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case !wait && errors.Is(err, unix.EWOULDBLOCK):
			return ErrWouldBlock
		default:
			return &os.PathError{Op: "lock", Path: f.Name(), Err: err}
		}
	}
}

func unlockRegion(f *os.File, _ Region) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		return &os.PathError{Op: "unlock", Path: f.Name(), Err: err}
	}
	return nil
}

// flock(2) cannot be queried, so the lock is taken and dropped at once.
func regionHeld(f *os.File, r Region) (bool, error) {
	err := lockRegion(f, r, Exclusive, false)
	if errors.Is(err, ErrWouldBlock) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, unlockRegion(f, r)
}
