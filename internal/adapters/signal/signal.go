package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/app"
	"github.com/pingitup/pingitup/internal/config"
	"github.com/pingitup/pingitup/internal/core"
	"github.com/pingitup/pingitup/internal/domain"
	"github.com/pingitup/pingitup/internal/store"
)

var ErrBackpressure = errors.New("backpressure")

// Controller is the connection gateway: it accepts websocket connections,
// binds each to an authenticated user id at handshake time, and drives
// registry and call cleanup on disconnect.
type Controller struct {
	Registry *app.Registry
	Relay    *app.Relay
	Users    store.UserStore
	Cfg      *config.Config

	calls callTracker
}

func NewController(reg *app.Registry, relay *app.Relay, users store.UserStore, cfg *config.Config) *Controller {
	return &Controller{Registry: reg, Relay: relay, Users: users, Cfg: cfg}
}

type WsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsConn) Close() {
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

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// identity resolves the externally-authenticated user id for the handshake:
// the session set at login, with a query fallback for non-browser clients.
func (ctl *Controller) identity(c *gin.Context) (domain.UserID, bool) {
	if v := sessions.Default(c).Get("uid"); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return domain.UserID(s), true
		}
	}
	if q := c.Query("userId"); q != "" {
		return domain.UserID(q), true
	}
	return "", false
}

func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	uid, ok := ctl.identity(c)
	if !ok {
		c.String(http.StatusUnauthorized, "missing identity")
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.Cfg != nil && ctl.Cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Cfg.ReadLimit)
	}

	cid := core.ConnID(uuid.NewString())
	conn := &WsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	log.Info().Str("module", "signal").Str("uid", string(uid)).Str("cid", string(cid)).Msg("connected")

	ctl.Registry.Register(uid, cid, conn)
	ctl.Relay.BroadcastPresence()

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, uid, cid, conn)
}

// onDisconnect runs once the read pump dies. The connection-id guard keeps a
// stale disconnect from clobbering a newer registration of the same user.
func (ctl *Controller) onDisconnect(uid domain.UserID, cid core.ConnID) {
	if peer, ok := ctl.calls.drop(uid); ok {
		ctl.Relay.ForwardEnd(uid, peer)
	}
	ctl.Registry.Unregister(uid, cid)
	ctl.Relay.BroadcastPresence()
	log.Info().Str("module", "signal").Str("uid", string(uid)).Str("cid", string(cid)).Msg("disconnected")
}
