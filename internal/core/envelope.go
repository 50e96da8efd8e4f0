package core

import (
	"encoding/json"

	"github.com/pingitup/pingitup/internal/domain"
)

// Envelope type tags on the ws wire. Every frame is a JSON object with a
// "type" field; the remaining fields depend on the type.
const (
	TypePresenceOnline = "presence.online"
	TypeCallInvite     = "call.invite"
	TypeCallSignal     = "call.signal"
	TypeCallEnd        = "call.end"
	TypeMessageNew     = "message.new"
)

// PresenceEnvelope carries the full online set, not a diff.
type PresenceEnvelope struct {
	Type    string          `json:"type"`
	UserIDs []domain.UserID `json:"userIds"`
}

// InviteEnvelope rings the receiver. Clients send it with ToUserID set; the
// gateway stamps FromUserID from the connection's bound identity before
// forwarding, so a client cannot spoof the caller.
type InviteEnvelope struct {
	Type       string        `json:"type"`
	ToUserID   domain.UserID `json:"toUserId,omitempty"`
	FromUserID domain.UserID `json:"fromUserId,omitempty"`
	FromName   string        `json:"fromName,omitempty"`
}

// SignalEnvelope relays one opaque negotiation unit (offer, answer or ICE
// candidate). The payload is produced and consumed by the negotiation
// library and never interpreted here.
type SignalEnvelope struct {
	Type       string          `json:"type"`
	ToUserID   domain.UserID   `json:"toUserId,omitempty"`
	FromUserID domain.UserID   `json:"fromUserId,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// EndEnvelope is the bidirectional termination notice, also used as the busy
// rejection.
type EndEnvelope struct {
	Type       string        `json:"type"`
	ToUserID   domain.UserID `json:"toUserId,omitempty"`
	FromUserID domain.UserID `json:"fromUserId,omitempty"`
}

// MessageEnvelope pushes a stored chat message to its recipient.
type MessageEnvelope struct {
	Type    string         `json:"type"`
	Message domain.Message `json:"message"`
}
