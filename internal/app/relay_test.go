package app

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pingitup/pingitup/internal/core"
	"github.com/pingitup/pingitup/internal/domain"
)

type captureConn struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
}

func (c *captureConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *captureConn) Close() {}

func (c *captureConn) last(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatal("expected a frame")
	}
	var m map[string]any
	if err := json.Unmarshal(c.frames[len(c.frames)-1], &m); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	return m
}

func (c *captureConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestBroadcastPresenceReachesAllConnections(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	relay := NewRelay(reg)

	a, b := &captureConn{}, &captureConn{}
	reg.Register("alice", "c1", a)
	reg.Register("bob", "c2", b)

	relay.BroadcastPresence()

	for _, conn := range []*captureConn{a, b} {
		env := conn.last(t)
		if env["type"] != core.TypePresenceOnline {
			t.Fatalf("expected presence envelope, got %v", env)
		}
		ids, _ := env["userIds"].([]any)
		if len(ids) != 2 {
			t.Fatalf("expected full online set, got %v", ids)
		}
	}
}

func TestForwardMessageToRecipientOnly(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	relay := NewRelay(reg)

	a, b := &captureConn{}, &captureConn{}
	reg.Register("alice", "c1", a)
	reg.Register("bob", "c2", b)

	relay.ForwardMessage(domain.Message{
		ID: "m1", SenderID: "alice", ReceiverID: "bob", Text: "hi", CreatedAt: time.Now(),
	})

	if a.count() != 0 {
		t.Fatal("sender must not receive its own push")
	}
	env := b.last(t)
	if env["type"] != core.TypeMessageNew {
		t.Fatalf("expected message envelope, got %v", env)
	}
}

func TestForwardSignalStampsSender(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	relay := NewRelay(reg)

	b := &captureConn{}
	reg.Register("bob", "c2", b)

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	relay.ForwardSignal("alice", "bob", payload)

	env := b.last(t)
	if env["type"] != core.TypeCallSignal {
		t.Fatalf("expected signal envelope, got %v", env)
	}
	if env["fromUserId"] != "alice" {
		t.Fatalf("expected stamped sender, got %v", env)
	}
	if _, ok := env["payload"]; !ok {
		t.Fatal("payload must be relayed")
	}
}

func TestForwardToUnresolvedTargetIsSilentDrop(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	relay := NewRelay(reg)

	// None of these may panic, error or block when the target is offline.
	relay.ForwardSignal("alice", "ghost", json.RawMessage(`{}`))
	relay.ForwardEnd("alice", "ghost")
	relay.ForwardInvite("alice", "Alice", "ghost")
	relay.ForwardMessage(domain.Message{ID: "m1", ReceiverID: "ghost"})
}

func TestSlowConsumerDoesNotStallOthers(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	relay := NewRelay(reg)

	slow := &captureConn{fail: true}
	ok := &captureConn{}
	reg.Register("slow", "c1", slow)
	reg.Register("ok", "c2", ok)

	relay.BroadcastPresence()

	if ok.count() != 1 {
		t.Fatal("healthy connection must still receive the broadcast")
	}
}
