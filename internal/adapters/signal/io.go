package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/core"
	"github.com/pingitup/pingitup/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *WsConn) {
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, uid domain.UserID, cid core.ConnID, c *WsConn) {
	defer func() {
		ctl.onDisconnect(uid, cid)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("uid", string(uid)).Msg("readPump read error")
				return
			}
			ctl.handleEnvelope(uid, data)
		}
	}
}

func (ctl *Controller) handleEnvelope(uid domain.UserID, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case core.TypeCallInvite:
		ctl.handleInvite(uid, data)
	case core.TypeCallSignal:
		ctl.handleSignal(uid, data)
	case core.TypeCallEnd:
		ctl.handleEnd(uid, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown envelope")
	}
}
