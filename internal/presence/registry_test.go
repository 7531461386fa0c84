package presence

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()

	first := r.Register("u1", "c1")
	if !first {
		t.Error("expected first connection for u1")
	}

	conns := r.ActiveConnections("u1")
	if len(conns) != 1 || conns[0] != "c1" {
		t.Fatalf("expected [c1], got %v", conns)
	}

	userID, ok := r.UserOf("c1")
	if !ok || userID != "u1" {
		t.Errorf("expected c1 -> u1, got %q ok=%v", userID, ok)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()

	r.Register("u1", "c1")
	first := r.Register("u1", "c1")
	if first {
		t.Error("re-registering the same connID must not report first")
	}

	if n := r.Connections(); n != 1 {
		t.Fatalf("expected exactly 1 entry after duplicate register, got %d", n)
	}
}

func TestMultiDevice(t *testing.T) {
	r := NewRegistry()

	if !r.Register("u1", "c1") {
		t.Error("c1 should be first")
	}
	if r.Register("u1", "c2") {
		t.Error("c2 should not be first")
	}

	conns := r.ActiveConnections("u1")
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(conns))
	}

	// Removing one entry must not touch the other.
	userID, last, ok := r.Unregister("c1")
	if !ok || userID != "u1" || last {
		t.Fatalf("unregister c1: user=%q last=%v ok=%v", userID, last, ok)
	}
	conns = r.ActiveConnections("u1")
	if len(conns) != 1 || conns[0] != "c2" {
		t.Fatalf("expected [c2] after removing c1, got %v", conns)
	}

	userID, last, ok = r.Unregister("c2")
	if !ok || userID != "u1" || !last {
		t.Fatalf("unregister c2: user=%q last=%v ok=%v", userID, last, ok)
	}
	if len(r.ActiveConnections("u1")) != 0 {
		t.Error("expected u1 offline after last unregister")
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Register("u1", "c1")

	if _, _, ok := r.Unregister("never-registered"); ok {
		t.Error("unregistering an unknown connID must report ok=false")
	}
	if n := r.Connections(); n != 1 {
		t.Errorf("unknown unregister must not affect other entries, got %d", n)
	}
}

func TestOfflineUserHasEmptySet(t *testing.T) {
	r := NewRegistry()

	conns := r.ActiveConnections("nobody")
	if conns == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(conns) != 0 {
		t.Fatalf("expected empty set for offline user, got %v", conns)
	}
}

func TestCounts(t *testing.T) {
	r := NewRegistry()

	r.Register("u1", "c1")
	r.Register("u1", "c2")
	r.Register("u2", "c3")

	if got := r.Connections(); got != 3 {
		t.Errorf("expected 3 connections, got %d", got)
	}
	if got := r.Users(); got != 2 {
		t.Errorf("expected 2 users, got %d", got)
	}
	if got := len(r.Entries()); got != 3 {
		t.Errorf("expected 3 entries, got %d", got)
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	goroutines := 50
	connsPer := 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			userID := fmt.Sprintf("user-%d", g%5)
			for i := 0; i < connsPer; i++ {
				connID := fmt.Sprintf("conn-%d-%d", g, i)
				r.Register(userID, connID)
				_ = r.ActiveConnections(userID)
				if i%2 == 0 {
					r.Unregister(connID)
				}
			}
		}(g)
	}
	wg.Wait()

	want := goroutines * connsPer / 2
	if got := r.Connections(); got != want {
		t.Errorf("expected %d surviving connections, got %d", want, got)
	}
}
