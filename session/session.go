// Package session enforces at most one live session per identity across
// processes that share nothing but the filesystem.
//
// Each identity maps to a named lock file under the sessions directory. A
// session is granted by taking an exclusive, non-blocking lock on that file and
// is held for as long as the handle stays open. A second login attempt fails
// fast with ErrAlreadyHeld; it is never queued.
//
// The kernel drops the lock when the holding process dies, whatever the signal,
// so a crash cannot leave an identity permanently locked out. What a crash can
// leave behind is the file itself; Sweep removes such leftovers and Unlock is
// the operator's manual override.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bankline/recordbank/store"
)

// Kind separates identity namespaces: customer 7 and staff 7 are different sessions.
type Kind string

const (
	Customer Kind = "customer"
	Staff    Kind = "staff"
	Admin    Kind = "admin"
)

// Identity names the principal whose session is being guarded.
type Identity struct {
	Kind Kind
	ID   int32
}

func (i Identity) String() string { return fmt.Sprintf("%s-%d", i.Kind, i.ID) }

// ErrAlreadyHeld means another live session holds the identity.
var ErrAlreadyHeld = errors.New("session: identity already logged in")

const lockSuffix = ".lock"

// acquireAttempts bounds retries when the lock file is unlinked between our
// open and our lock.
const acquireAttempts = 5

// Service hands out session guards and remembers the ones held by this process
// so they can all be released on shutdown.
type Service struct {
	dir string
	log *zap.Logger

	mu   sync.Mutex
	held map[*Guard]struct{}
}

// NewService creates the sessions directory if needed.
func NewService(dir string, log *zap.Logger) (*Service, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Service{dir: dir, log: log, held: make(map[*Guard]struct{})}, nil
}

// Dir returns the directory holding the lock files.
func (s *Service) Dir() string { return s.dir }

func (s *Service) path(id Identity) string {
	return filepath.Join(s.dir, id.String()+lockSuffix)
}

// TryAcquire grants the session for id or returns ErrAlreadyHeld. owner is a
// free-form label (a connection id) recorded in the lock file for operators.
func (s *Service) TryAcquire(id Identity, owner string) (*Guard, error) {
	path := s.path(id)
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open session lock: %w", err)
		}
		if err := store.TryLockFile(f, store.WholeFile, store.Exclusive); err != nil {
			f.Close()
			if errors.Is(err, store.ErrWouldBlock) {
				return nil, ErrAlreadyHeld
			}
			return nil, err
		}
		// A releasing holder unlinks before unlocking. If that happened between
		// our open and our lock we hold a dead inode; start over on the new path.
		if !sameFile(f, path) {
			f.Close()
			continue
		}
		writeHolder(f, owner)

		g := &Guard{svc: s, id: id, path: path, f: f}
		s.mu.Lock()
		s.held[g] = struct{}{}
		s.mu.Unlock()
		s.log.Debug("session acquired", zap.Stringer("identity", id), zap.String("owner", owner))
		return g, nil
	}
	return nil, ErrAlreadyHeld
}

// ReleaseAll releases every guard held by this process. It is the signal-path
// cleanup and is safe to call concurrently with Guard.Release.
func (s *Service) ReleaseAll() {
	s.mu.Lock()
	guards := make([]*Guard, 0, len(s.held))
	for g := range s.held {
		guards = append(guards, g)
	}
	s.mu.Unlock()

	for _, g := range guards {
		if err := g.Release(); err != nil {
			s.log.Warn("session release failed", zap.Stringer("identity", g.id), zap.Error(err))
		}
	}
}

// Held returns the number of guards this process currently holds.
func (s *Service) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}

func (s *Service) forget(g *Guard) {
	s.mu.Lock()
	delete(s.held, g)
	s.mu.Unlock()
}

// Guard is a held session. Release it exactly once; extra calls are no-ops.
type Guard struct {
	svc  *Service
	id   Identity
	path string
	f    *os.File

	once sync.Once
	err  error
}

// Identity returns the identity this guard holds.
func (g *Guard) Identity() Identity { return g.id }

// Release removes the lock file, drops the lock and closes the handle.
func (g *Guard) Release() error {
	g.once.Do(func() {
		// After a forced unlock the path may belong to a newer holder.
		if sameFile(g.f, g.path) {
			if err := os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				g.err = fmt.Errorf("remove session lock: %w", err)
			}
		}
		if err := store.UnlockFile(g.f, store.WholeFile); err != nil && g.err == nil {
			g.err = err
		}
		if err := g.f.Close(); err != nil && g.err == nil {
			g.err = err
		}
		g.svc.forget(g)
		g.svc.log.Debug("session released", zap.Stringer("identity", g.id))
	})
	return g.err
}

// ------------------ Holder metadata ------------------

// Holder describes the process that wrote a lock file.
type Holder struct {
	PID   int
	Owner string
	Since time.Time
}

func writeHolder(f *os.File, owner string) {
	line := fmt.Sprintf("pid=%d owner=%s since=%s\n", os.Getpid(), owner, time.Now().UTC().Format(time.RFC3339))
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(line), 0)
	}
}

func parseHolder(data []byte) Holder {
	var h Holder
	for _, field := range strings.Fields(string(data)) {
		key, val, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(val)
		case "owner":
			h.Owner = val
		case "since":
			h.Since, _ = time.Parse(time.RFC3339, val)
		}
	}
	return h
}

func sameFile(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	current, err := os.Stat(path)
	if err != nil {
		return false
	}
	return os.SameFile(held, current)
}
