package session

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"
)

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(filepath.Join(t.TempDir(), "sessions"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestSecondAcquireFails(t *testing.T) {
	svc := newService(t)
	id := Identity{Kind: Customer, ID: 1}

	g, err := svc.TryAcquire(id, "conn-a")
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if _, err := svc.TryAcquire(id, "conn-b"); !errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("second acquire: want ErrAlreadyHeld, got %v", err)
	}

	// Same number in another namespace is a different identity.
	other, err := svc.TryAcquire(Identity{Kind: Staff, ID: 1}, "conn-c")
	if err != nil {
		t.Fatalf("staff 1 while customer 1 held: %v", err)
	}
	other.Release()

	if err := g.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := g.Release(); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}
	g2, err := svc.TryAcquire(id, "conn-b")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	g2.Release()
}

func TestConcurrentAcquireGrantsOne(t *testing.T) {
	svc := newService(t)
	id := Identity{Kind: Staff, ID: 9}

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted []*Guard
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := svc.TryAcquire(id, "racer")
			if err == nil {
				mu.Lock()
				granted = append(granted, g)
				mu.Unlock()
			} else if !errors.Is(err, ErrAlreadyHeld) {
				t.Errorf("acquire: %v", err)
			}
		}()
	}
	wg.Wait()
	if len(granted) != 1 {
		t.Fatalf("granted %d sessions, want 1", len(granted))
	}
	granted[0].Release()
}

func TestReleaseAll(t *testing.T) {
	svc := newService(t)
	for i := int32(1); i <= 3; i++ {
		if _, err := svc.TryAcquire(Identity{Kind: Customer, ID: i}, "c"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if svc.Held() != 3 {
		t.Fatalf("held %d", svc.Held())
	}
	svc.ReleaseAll()
	if svc.Held() != 0 {
		t.Fatalf("held %d after ReleaseAll", svc.Held())
	}
	entries, err := svc.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("lock files left behind: %+v", entries)
	}
}

func TestSweepRemovesOnlyStaleFiles(t *testing.T) {
	svc := newService(t)
	live, err := svc.TryAcquire(Identity{Kind: Customer, ID: 1}, "live")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer live.Release()

	// A crashed holder leaves its file but not its lock.
	stale := filepath.Join(svc.Dir(), "staff-4.lock")
	if err := os.WriteFile(stale, []byte("pid=1 owner=gone since=2024-01-01T00:00:00Z\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	entries, err := svc.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("list: %+v", entries)
	}
	for _, e := range entries {
		switch e.Identity.String() {
		case "customer-1":
			if !e.Live || e.Holder.Owner != "live" || e.Holder.PID != os.Getpid() {
				t.Fatalf("live entry %+v", e)
			}
		case "staff-4":
			if e.Live || e.Holder.Owner != "gone" {
				t.Fatalf("stale entry %+v", e)
			}
		default:
			t.Fatalf("unexpected entry %+v", e)
		}
	}

	cleared, err := svc.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(cleared) != 1 || cleared[0] != (Identity{Kind: Staff, ID: 4}) {
		t.Fatalf("cleared %+v", cleared)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale file still present: %v", err)
	}
	if _, err := svc.TryAcquire(Identity{Kind: Customer, ID: 1}, "x"); !errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("live session lost by sweep: %v", err)
	}
}

func TestUnlockForce(t *testing.T) {
	svc := newService(t)
	id := Identity{Kind: Admin, ID: 0}
	g, err := svc.TryAcquire(id, "stuck")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer g.Release()

	if err := svc.Unlock(id, false); !errors.Is(err, ErrAlreadyHeld) {
		t.Fatalf("unforced unlock of live session: %v", err)
	}
	if err := svc.Unlock(id, true); err != nil {
		t.Fatalf("forced unlock: %v", err)
	}
	g2, err := svc.TryAcquire(id, "fresh")
	if err != nil {
		t.Fatalf("acquire after forced unlock: %v", err)
	}
	g2.Release()
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("customer-42")
	if err != nil || id != (Identity{Kind: Customer, ID: 42}) {
		t.Fatalf("parse: %+v %v", id, err)
	}
	for _, bad := range []string{"customer", "robot-1", "staff-x"} {
		if _, err := ParseIdentity(bad); err == nil {
			t.Errorf("ParseIdentity(%q) should fail", bad)
		}
	}
}
