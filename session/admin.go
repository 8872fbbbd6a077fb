package session

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bankline/recordbank/store"
)

// Entry is one lock file found in the sessions directory.
type Entry struct {
	Identity Identity
	Holder   Holder
	// Live is true when some process still holds the lock.
	Live bool
}

// ParseIdentity is the inverse of Identity.String.
func ParseIdentity(s string) (Identity, error) {
	kind, num, ok := strings.Cut(s, "-")
	if !ok {
		return Identity{}, fmt.Errorf("identity %q: want kind-id", s)
	}
	switch Kind(kind) {
	case Customer, Staff, Admin:
	default:
		return Identity{}, fmt.Errorf("identity %q: unknown kind %q", s, kind)
	}
	id, err := strconv.ParseInt(num, 10, 32)
	if err != nil {
		return Identity{}, fmt.Errorf("identity %q: %w", s, err)
	}
	return Identity{Kind: Kind(kind), ID: int32(id)}, nil
}

// List reports every session lock file and whether it is currently held.
func (s *Service) List() ([]Entry, error) {
	names, err := s.lockFiles()
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, name := range names {
		id, err := ParseIdentity(strings.TrimSuffix(name, lockSuffix))
		if err != nil {
			continue
		}
		live, holder, err := s.probe(id, false)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, Entry{Identity: id, Holder: holder, Live: live})
	}
	return out, nil
}

// Sweep deletes lock files that no live process holds and returns the
// identities it cleared. Servers run it at startup.
func (s *Service) Sweep() ([]Identity, error) {
	names, err := s.lockFiles()
	if err != nil {
		return nil, err
	}
	var cleared []Identity
	for _, name := range names {
		id, err := ParseIdentity(strings.TrimSuffix(name, lockSuffix))
		if err != nil {
			continue
		}
		live, _, err := s.probe(id, true)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return cleared, err
		}
		if !live {
			cleared = append(cleared, id)
		}
	}
	if len(cleared) > 0 {
		s.log.Info("cleared stale sessions", zap.Int("count", len(cleared)))
	}
	return cleared, nil
}

// Unlock clears the session file for id. A live session is refused with
// ErrAlreadyHeld unless force is set, in which case the file is removed and the
// identity can log in again while the old holder keeps running.
func (s *Service) Unlock(id Identity, force bool) error {
	live, holder, err := s.probe(id, true)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	if !live {
		return nil
	}
	if !force {
		return ErrAlreadyHeld
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove session lock: %w", err)
	}
	s.log.Warn("forced session unlock", zap.Stringer("identity", id), zap.Int("holder_pid", holder.PID))
	return nil
}

// probe opens the lock file for id and reports whether a live process holds
// it. Without remove it only queries the lock, so a listing never races a
// login. With remove it takes the lock without blocking and, when that
// succeeds, deletes the file while still locked: a concurrent TryAcquire then
// either fails fast on our lock or opens a fresh file at the path.
func (s *Service) probe(id Identity, remove bool) (live bool, h Holder, err error) {
	path := s.path(id)
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return false, h, err
	}
	defer f.Close()

	if data, rerr := io.ReadAll(io.LimitReader(f, 512)); rerr == nil {
		h = parseHolder(data)
	}

	if !remove {
		held, err := store.Held(f, store.WholeFile)
		return held, h, err
	}

	err = store.TryLockFile(f, store.WholeFile, store.Exclusive)
	if errors.Is(err, store.ErrWouldBlock) {
		return true, h, nil
	}
	if err != nil {
		return false, h, err
	}
	defer store.UnlockFile(f, store.WholeFile)

	if sameFile(f, path) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, h, fmt.Errorf("remove session lock: %w", err)
		}
	}
	return false, h, nil
}

func (s *Service) lockFiles() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*"+lockSuffix))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}
