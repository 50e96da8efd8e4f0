package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	wsgateway "github.com/pingitup/pingitup/internal/adapters/signal"
	"github.com/pingitup/pingitup/internal/app"
	"github.com/pingitup/pingitup/internal/call"
	"github.com/pingitup/pingitup/internal/config"
	"github.com/pingitup/pingitup/internal/domain"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeStream struct{}

func (fakeStream) Release() {}

type fakeMedia struct{}

func (fakeMedia) AcquireMedia() (call.MediaStream, error) { return fakeStream{}, nil }

type fakeNegotiator struct {
	cb  call.Callbacks
	mu  sync.Mutex
	fed []json.RawMessage
}

func (n *fakeNegotiator) FeedSignal(p json.RawMessage) error {
	n.mu.Lock()
	n.fed = append(n.fed, p)
	n.mu.Unlock()
	return nil
}

func (n *fakeNegotiator) Destroy() {}

func (n *fakeNegotiator) fedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.fed)
}

type negRecorder struct {
	mu      sync.Mutex
	created []*fakeNegotiator
}

func (r *negRecorder) factory(_ call.Role, _ call.MediaStream, cb call.Callbacks) (call.Negotiator, error) {
	n := &fakeNegotiator{cb: cb}
	r.mu.Lock()
	r.created = append(r.created, n)
	r.mu.Unlock()
	return n, nil
}

func (r *negRecorder) last() *fakeNegotiator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.created) == 0 {
		return nil
	}
	return r.created[len(r.created)-1]
}

func startRelay(t *testing.T) (*httptest.Server, *app.Relay) {
	t.Helper()
	reg := app.NewRegistry()
	relay := app.NewRelay(reg)
	ctl := wsgateway.NewController(reg, relay, nil, &config.Config{ReadLimit: 32768})

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.Use(sessions.Sessions("PingItUp", cookie.NewStore([]byte("test"))))
	r.GET("/ws", func(c *gin.Context) { ctl.HandleWS(ctx, c) })

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, relay
}

type endpoint struct {
	client  *Client
	machine *call.Machine
	negs    *negRecorder
}

func connect(t *testing.T, ctx context.Context, srv *httptest.Server, uid domain.UserID, name string, handlers Handlers, events call.Events) *endpoint {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	c, err := Dial(ctx, wsURL, uid, nil, handlers)
	if err != nil {
		t.Fatalf("dial %s: %v", uid, err)
	}
	negs := &negRecorder{}
	m := call.NewMachine(uid, name, c, fakeMedia{}, negs.factory, events)
	c.Bind(m)
	go c.Run(ctx)
	t.Cleanup(c.Close)
	return &endpoint{client: c, machine: m, negs: negs}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestFullCallAcrossRelay(t *testing.T) {
	t.Parallel()
	srv, _ := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		incoming *call.Invite
	)
	onIncoming := func(inv call.Invite) {
		mu.Lock()
		incoming = &inv
		mu.Unlock()
	}

	alice := connect(t, ctx, srv, "alice", "Alice", Handlers{}, call.Events{})
	bob := connect(t, ctx, srv, "bob", "Bob", Handlers{}, call.Events{OnIncoming: onIncoming})

	if err := alice.machine.StartCall("bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	waitFor(t, "bob ringing", func() bool { return bob.machine.State() == call.Ringing })
	mu.Lock()
	if incoming == nil || incoming.From != "alice" || incoming.FromName != "Alice" {
		t.Fatalf("unexpected invite %+v", incoming)
	}
	mu.Unlock()

	// Caller's negotiation object produces the offer; it crosses the relay
	// and is buffered against bob's pending invite.
	alice.negs.last().cb.OnSignal(json.RawMessage(`{"type":"offer","sdp":"caller"}`))

	waitFor(t, "bob accept feeds offer", func() bool {
		if err := bob.machine.Accept(); err != nil && !errors.Is(err, call.ErrNotRinging) {
			t.Fatalf("accept: %v", err)
		}
		n := bob.negs.last()
		return n != nil && n.fedCount() == 1
	})

	bob.negs.last().cb.OnSignal(json.RawMessage(`{"type":"answer","sdp":"callee"}`))
	waitFor(t, "alice negotiating", func() bool {
		return alice.machine.State() == call.Negotiating && alice.negs.last().fedCount() == 1
	})

	alice.negs.last().cb.OnStream(fakeStream{})
	bob.negs.last().cb.OnStream(fakeStream{})
	waitFor(t, "both connected", func() bool {
		return alice.machine.State() == call.Connected && bob.machine.State() == call.Connected
	})

	alice.machine.End()
	waitFor(t, "both idle", func() bool {
		return alice.machine.State() == call.Idle && bob.machine.State() == call.Idle
	})
}

func TestPresenceAndMessagePush(t *testing.T) {
	t.Parallel()
	srv, relay := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu     sync.Mutex
		online []domain.UserID
		msgs   []domain.Message
	)
	handlers := Handlers{
		OnPresence: func(ids []domain.UserID) {
			mu.Lock()
			online = ids
			mu.Unlock()
		},
		OnMessage: func(m domain.Message) {
			mu.Lock()
			msgs = append(msgs, m)
			mu.Unlock()
		},
	}

	connect(t, ctx, srv, "alice", "Alice", handlers, call.Events{})
	connect(t, ctx, srv, "bob", "Bob", Handlers{}, call.Events{})

	waitFor(t, "presence shows both", func() bool {
		mu.Lock()
		defer mu.Unlock()
		seen := map[domain.UserID]bool{}
		for _, id := range online {
			seen[id] = true
		}
		return seen["alice"] && seen["bob"]
	})

	// The chat API pushes a stored record through the relay.
	relay.ForwardMessage(domain.Message{
		ID: "m1", SenderID: "bob", ReceiverID: "alice", Text: "hi", CreatedAt: time.Now(),
	})
	waitFor(t, "message push", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(msgs) == 1 && msgs[0].Text == "hi"
	})
}

func TestSocketDeathEndsActiveCall(t *testing.T) {
	t.Parallel()
	srv, _ := startRelay(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := connect(t, ctx, srv, "alice", "Alice", Handlers{}, call.Events{})
	bob := connect(t, ctx, srv, "bob", "Bob", Handlers{}, call.Events{})

	if err := alice.machine.StartCall("bob"); err != nil {
		t.Fatalf("start call: %v", err)
	}
	waitFor(t, "bob ringing", func() bool { return bob.machine.State() == call.Ringing })

	// Alice's transport dies: her machine must release local resources and
	// the gateway delivers the termination to bob.
	alice.client.Close()
	waitFor(t, "both idle", func() bool {
		return alice.machine.State() == call.Idle && bob.machine.State() == call.Idle
	})
}
