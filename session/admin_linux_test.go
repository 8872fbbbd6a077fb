//go:build linux

package session

import (
	"sync"
	"testing"
)

func TestListDoesNotBlockLogins(t *testing.T) {
	svc := newService(t)
	id := Identity{Kind: Customer, ID: 5}

	// A held session gives List a live file to query on every pass.
	other := Identity{Kind: Customer, ID: 6}
	g, err := svc.TryAcquire(other, "conn-x")
	if err != nil {
		t.Fatal(err)
	}
	defer g.Release()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(stop)
		wg.Wait()
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := svc.List(); err != nil {
				t.Errorf("list: %v", err)
				return
			}
		}
	}()

	for i := 0; i < 300; i++ {
		g, err := svc.TryAcquire(id, "conn-a")
		if err != nil {
			t.Fatalf("acquire %d while listing: %v", i, err)
		}
		if err := g.Release(); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}
	entries, err := svc.List()
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Identity == other && !e.Live {
			t.Fatalf("held session listed as stale")
		}
	}
}
