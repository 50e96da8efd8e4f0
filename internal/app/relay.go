package app

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/core"
	"github.com/pingitup/pingitup/internal/domain"
)

// Relay routes envelopes from a sender to the registry-resolved target
// connection. Every push is fire-and-forget: a resolve miss or a full send
// buffer drops the envelope and never blocks the caller.
type Relay struct {
	Registry *Registry
}

func NewRelay(reg *Registry) *Relay {
	return &Relay{Registry: reg}
}

// BroadcastPresence pushes the full online set to every live connection.
// Called after each registry mutation.
func (r *Relay) BroadcastPresence() {
	env := core.PresenceEnvelope{
		Type:    core.TypePresenceOnline,
		UserIDs: r.Registry.SnapshotUserIDs(),
	}
	frame, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("presence marshal")
		return
	}
	for _, conn := range r.Registry.Connections() {
		if err := conn.TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.relay").Msg("presence push dropped")
		}
	}
}

// ForwardMessage pushes an already-persisted message to its recipient.
// An offline recipient sees it on the next history fetch instead.
func (r *Relay) ForwardMessage(msg domain.Message) {
	env := core.MessageEnvelope{Type: core.TypeMessageNew, Message: msg}
	r.push(msg.ReceiverID, env)
}

// ForwardInvite rings the callee on behalf of from.
func (r *Relay) ForwardInvite(from domain.UserID, fromName string, to domain.UserID) {
	env := core.InviteEnvelope{Type: core.TypeCallInvite, FromUserID: from, FromName: fromName}
	r.push(to, env)
}

// ForwardSignal relays one opaque negotiation payload. Unresolved targets
// are dropped without reporting back; the caller's own timeout path owns
// that failure.
func (r *Relay) ForwardSignal(from, to domain.UserID, payload json.RawMessage) {
	env := core.SignalEnvelope{Type: core.TypeCallSignal, FromUserID: from, Payload: payload}
	r.push(to, env)
}

// ForwardEnd delivers a termination (or busy) notice.
func (r *Relay) ForwardEnd(from, to domain.UserID) {
	env := core.EndEnvelope{Type: core.TypeCallEnd, FromUserID: from}
	r.push(to, env)
}

func (r *Relay) push(to domain.UserID, v any) {
	conn, ok := r.Registry.Resolve(to)
	if !ok {
		log.Debug().Str("module", "app.relay").Str("to", string(to)).Msg("target unreachable, dropped")
		return
	}
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.relay").Msg("envelope marshal")
		return
	}
	if err := conn.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "app.relay").Str("to", string(to)).Msg("push dropped")
	}
}
