// Package call implements the two-party call protocol run at each endpoint.
// The same machine is instantiated on both sides of a call, one in the
// caller role and one in the receiver role, coordinated only through
// envelopes relayed by the server.
package call

import (
	"encoding/json"

	"github.com/pingitup/pingitup/internal/domain"
)

type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

// MediaStream is an owned media handle (camera/microphone capture or a
// remote track set). Release must be idempotent.
type MediaStream interface {
	Release()
}

// MediaSource acquires the local stream before a call is placed or answered.
type MediaSource interface {
	AcquireMedia() (MediaStream, error)
}

// Callbacks are delivered by a Negotiator as negotiation progresses. They
// may fire from the negotiator's own goroutines; implementations must not
// assume the machine's lock is held.
type Callbacks struct {
	// OnSignal yields an opaque payload to relay to the counterpart.
	OnSignal func(payload json.RawMessage)
	// OnStream fires once the remote media stream is live.
	OnStream func(remote MediaStream)
	OnClose  func()
	OnError  func(err error)
}

// Negotiator encodes and decodes connection-setup payloads and eventually
// yields a live media stream. Payloads pass through the machine uninspected.
type Negotiator interface {
	// FeedSignal applies one counterpart payload, in arrival order.
	FeedSignal(payload json.RawMessage) error
	Destroy()
}

// NegotiatorFactory creates a negotiation object for one call attempt.
type NegotiatorFactory func(role Role, local MediaStream, cb Callbacks) (Negotiator, error)

// Outbound carries the machine's envelopes toward the relay.
type Outbound interface {
	SendInvite(to domain.UserID, fromName string)
	SendSignal(to domain.UserID, payload json.RawMessage)
	SendEnd(to domain.UserID)
}
