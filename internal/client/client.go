// Package client is the live endpoint an embedding UI drives: it holds the
// websocket to the relay, pumps envelopes in both directions and routes call
// envelopes into a call.Machine.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/call"
	"github.com/pingitup/pingitup/internal/core"
	"github.com/pingitup/pingitup/internal/domain"
)

// Handlers are the chat-level callbacks surfaced to the UI. Call-level
// events flow through call.Events on the bound machine instead.
type Handlers struct {
	OnPresence func(online []domain.UserID)
	OnMessage  func(msg domain.Message)
}

type Client struct {
	self     domain.UserID
	conn     *websocket.Conn
	send     chan core.Frame
	handlers Handlers

	mu      sync.Mutex
	machine *call.Machine
	closed  bool
}

// Dial connects to the relay's ws endpoint, passing the authenticated user
// id as the handshake identity.
func Dial(ctx context.Context, wsURL string, self domain.UserID, header http.Header, handlers Handlers) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, fmt.Sprintf("%s?userId=%s", wsURL, self), header)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &Client{
		self:     self,
		conn:     conn,
		send:     make(chan core.Frame, 32),
		handlers: handlers,
	}, nil
}

// Bind attaches the call machine that incoming call envelopes are routed to.
// The machine's Outbound should be this client.
func (c *Client) Bind(m *call.Machine) {
	c.mu.Lock()
	c.machine = m
	c.mu.Unlock()
}

// Run pumps the connection until ctx is canceled or the socket dies.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	c.readLoop(ctx)

	// A dead socket mid-call must still release local resources.
	if m := c.bound(); m != nil {
		m.End()
	}
	c.Close()
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Client) bound() *call.Machine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "client").Msg("write error")
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "client").Str("self", string(c.self)).Msg("read error")
				return
			}
			c.dispatch(data)
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "client").Msg("bad json")
		return
	}

	switch env.Type {
	case core.TypePresenceOnline:
		var p core.PresenceEnvelope
		if err := json.Unmarshal(data, &p); err == nil && c.handlers.OnPresence != nil {
			c.handlers.OnPresence(p.UserIDs)
		}
	case core.TypeMessageNew:
		var m core.MessageEnvelope
		if err := json.Unmarshal(data, &m); err == nil && c.handlers.OnMessage != nil {
			c.handlers.OnMessage(m.Message)
		}
	case core.TypeCallInvite:
		var inv core.InviteEnvelope
		if err := json.Unmarshal(data, &inv); err != nil {
			return
		}
		if m := c.bound(); m != nil {
			m.HandleInvite(inv.FromUserID, inv.FromName)
		}
	case core.TypeCallSignal:
		var sig core.SignalEnvelope
		if err := json.Unmarshal(data, &sig); err != nil {
			return
		}
		if m := c.bound(); m != nil {
			m.HandleSignal(sig.FromUserID, sig.Payload)
		}
	case core.TypeCallEnd:
		var end core.EndEnvelope
		if err := json.Unmarshal(data, &end); err != nil {
			return
		}
		if m := c.bound(); m != nil {
			m.HandleRemoteEnd(end.FromUserID)
		}
	default:
		log.Warn().Str("module", "client").Str("type", env.Type).Msg("unknown envelope")
	}
}

// Outbound implementation: the machine's envelopes toward the relay.

func (c *Client) SendInvite(to domain.UserID, fromName string) {
	c.trySend(core.InviteEnvelope{Type: core.TypeCallInvite, ToUserID: to, FromName: fromName})
}

func (c *Client) SendSignal(to domain.UserID, payload json.RawMessage) {
	c.trySend(core.SignalEnvelope{Type: core.TypeCallSignal, ToUserID: to, Payload: payload})
}

func (c *Client) SendEnd(to domain.UserID) {
	c.trySend(core.EndEnvelope{Type: core.TypeCallEnd, ToUserID: to})
}

func (c *Client) trySend(v any) {
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Msg("envelope marshal")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		log.Warn().Str("module", "client").Msg("send buffer full, dropped")
	}
}
