package app

import (
	"fmt"
	"sync"
	"testing"

	"github.com/pingitup/pingitup/internal/core"
	"github.com/pingitup/pingitup/internal/domain"
)

type nullConn struct{}

func (nullConn) TrySend(core.Frame) error { return nil }
func (nullConn) Close()                   {}

func TestRegistryResolveMostRecent(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	alice := domain.UserID("alice")

	if _, ok := r.Resolve(alice); ok {
		t.Fatal("expected unregistered user to be unreachable")
	}

	c1, c2 := nullConn{}, nullConn{}
	r.Register(alice, "conn-1", c1)
	r.Register(alice, "conn-2", c2)

	cid, ok := r.ConnIDOf(alice)
	if !ok || cid != "conn-2" {
		t.Fatalf("expected newest registration to win, got %q ok=%v", cid, ok)
	}
	if _, ok := r.Resolve(alice); !ok {
		t.Fatal("expected registered user to resolve")
	}
}

func TestRegistryUnregisterGuard(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	alice := domain.UserID("alice")

	r.Register(alice, "conn-1", nullConn{})
	r.Register(alice, "conn-2", nullConn{})

	// A stale disconnect of the replaced connection must not clobber the
	// newer registration.
	r.Unregister(alice, "conn-1")
	if cid, ok := r.ConnIDOf(alice); !ok || cid != "conn-2" {
		t.Fatalf("stale unregister clobbered mapping, got %q ok=%v", cid, ok)
	}

	r.Unregister(alice, "conn-2")
	if _, ok := r.Resolve(alice); ok {
		t.Fatal("expected user to be unreachable after matching unregister")
	}

	// Unregistering an absent user is a no-op.
	r.Unregister(alice, "conn-2")
}

func TestRegistrySnapshot(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register("a", "c1", nullConn{})
	r.Register("b", "c2", nullConn{})
	r.Register("a", "c3", nullConn{})

	snap := r.SnapshotUserIDs()
	if len(snap) != 2 {
		t.Fatalf("expected 2 users online, got %v", snap)
	}
	seen := map[domain.UserID]bool{}
	for _, uid := range snap {
		seen[uid] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("snapshot missing users: %v", snap)
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			uid := domain.UserID(fmt.Sprintf("user-%d", n%4))
			cid := core.ConnID(fmt.Sprintf("conn-%d", n))
			for j := 0; j < 200; j++ {
				r.Register(uid, cid, nullConn{})
				r.Resolve(uid)
				r.SnapshotUserIDs()
				r.Unregister(uid, cid)
			}
		}(i)
	}
	wg.Wait()
}
