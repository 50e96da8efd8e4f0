package call

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/domain"
)

type State int

const (
	Idle State = iota
	Dialing
	Ringing
	Negotiating
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Dialing:
		return "dialing"
	case Ringing:
		return "ringing"
	case Negotiating:
		return "negotiating"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

var (
	ErrNotIdle    = errors.New("already in a call")
	ErrNotRinging = errors.New("no call to answer")
)

// Invite is the buffered incoming-call presentation data. The initial offer
// may arrive before or after the user decides; it is held here until accept.
type Invite struct {
	From     domain.UserID
	FromName string
	Offer    json.RawMessage
}

// Events surfaces high-level call progress to the embedding UI. All fields
// are optional.
type Events struct {
	OnIncoming  func(inv Invite)
	OnConnected func(peer domain.UserID, remote MediaStream)
	// OnEnded fires on every transition back to Idle from a non-Idle state.
	OnEnded func(peer domain.UserID)
}

// Machine is one endpoint of the call protocol. Every failure path
// converges on Idle; no media resource is held past that transition.
type Machine struct {
	self      domain.UserID
	selfName  string
	out       Outbound
	media     MediaSource
	negotiate NegotiatorFactory
	events    Events

	mu          sync.Mutex
	state       State
	peer        domain.UserID
	invite      *Invite
	neg         Negotiator
	local       MediaStream
	dialTimeout time.Duration
	dialTimer   *time.Timer
}

func NewMachine(self domain.UserID, selfName string, out Outbound, media MediaSource, negotiate NegotiatorFactory, events Events) *Machine {
	return &Machine{
		self:      self,
		selfName:  selfName,
		out:       out,
		media:     media,
		negotiate: negotiate,
		events:    events,
	}
}

// SetDialTimeout bounds the Dialing state. Zero (the default) preserves the
// protocol's indefinite wait.
func (m *Machine) SetDialTimeout(d time.Duration) {
	m.mu.Lock()
	m.dialTimeout = d
	m.mu.Unlock()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Peer() domain.UserID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer
}

// StartCall places a call to peer. Media acquisition failure aborts back to
// Idle before any envelope is sent. The invitation is dispatched before the
// negotiation object exists so the invite always precedes the offer on the
// wire; a busy reply may therefore tear the call down while the negotiation
// object is still being built.
func (m *Machine) StartCall(peer domain.UserID) error {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		return ErrNotIdle
	}

	local, err := m.media.AcquireMedia()
	if err != nil {
		m.mu.Unlock()
		return err
	}

	m.state = Dialing
	m.peer = peer
	m.local = local
	m.armDialTimerLocked(peer)
	m.mu.Unlock()

	log.Info().Str("module", "call").Str("self", string(m.self)).Str("peer", string(peer)).Msg("dialing")
	m.out.SendInvite(peer, m.selfName)

	neg, err := m.negotiate(RoleInitiator, local, m.callbacks(peer))
	if err != nil {
		m.teardown(true)
		return err
	}

	m.mu.Lock()
	if m.state != Dialing || m.peer != peer {
		// The call was already torn down (e.g. an immediate busy reply).
		m.mu.Unlock()
		neg.Destroy()
		return nil
	}
	m.neg = neg
	m.mu.Unlock()
	return nil
}

// HandleInvite processes an incoming call.invite. A non-Idle receiver
// answers busy with a termination envelope and keeps its state.
func (m *Machine) HandleInvite(from domain.UserID, fromName string) {
	m.mu.Lock()
	if m.state != Idle {
		m.mu.Unlock()
		log.Info().Str("module", "call").Str("self", string(m.self)).Str("from", string(from)).Msg("busy, rejecting invite")
		m.out.SendEnd(from)
		return
	}
	m.state = Ringing
	m.invite = &Invite{From: from, FromName: fromName}
	inv := *m.invite
	m.mu.Unlock()

	log.Info().Str("module", "call").Str("self", string(m.self)).Str("from", string(from)).Msg("ringing")
	if m.events.OnIncoming != nil {
		m.events.OnIncoming(inv)
	}
}

// Accept answers the pending invite. A buffered offer is fed to the fresh
// negotiation object immediately; otherwise the offer is consumed whenever
// it arrives via HandleSignal.
func (m *Machine) Accept() error {
	m.mu.Lock()
	if m.state != Ringing || m.invite == nil {
		m.mu.Unlock()
		return ErrNotRinging
	}
	inv := m.invite

	local, err := m.media.AcquireMedia()
	if err != nil {
		// Local-resource failure: abort to Idle, surface locally, no
		// envelope to the caller.
		m.invite = nil
		m.state = Idle
		m.mu.Unlock()
		return err
	}

	neg, err := m.negotiate(RoleResponder, local, m.callbacks(inv.From))
	if err != nil {
		local.Release()
		m.invite = nil
		m.state = Idle
		m.mu.Unlock()
		return err
	}

	m.state = Negotiating
	m.peer = inv.From
	m.local = local
	m.neg = neg
	m.invite = nil
	offer := inv.Offer
	m.mu.Unlock()

	log.Info().Str("module", "call").Str("self", string(m.self)).Str("peer", string(inv.From)).Msg("accepted")
	if offer != nil {
		if err := neg.FeedSignal(offer); err != nil {
			log.Error().Err(err).Str("module", "call").Msg("feed buffered offer")
			m.teardown(true)
			return err
		}
	}
	return nil
}

// Reject declines the pending invite. No media was acquired on this path.
func (m *Machine) Reject() {
	m.mu.Lock()
	if m.state != Ringing || m.invite == nil {
		m.mu.Unlock()
		return
	}
	from := m.invite.From
	m.invite = nil
	m.state = Idle
	m.mu.Unlock()

	log.Info().Str("module", "call").Str("self", string(m.self)).Str("from", string(from)).Msg("rejected")
	m.out.SendEnd(from)
}

// HandleSignal routes one relayed negotiation payload. While Ringing the
// initial offer is buffered next to the invite; in Dialing, Negotiating or
// Connected states counterpart payloads feed the negotiation object in
// arrival order.
func (m *Machine) HandleSignal(from domain.UserID, payload json.RawMessage) {
	m.mu.Lock()
	switch {
	case m.state == Ringing && m.invite != nil && m.invite.From == from:
		m.invite.Offer = payload
		m.mu.Unlock()
		return
	case m.state != Idle && m.peer == from && m.neg != nil:
		// Caller side: the counterpart's first payload means the call was
		// answered and negotiation is underway.
		if m.state == Dialing {
			m.state = Negotiating
			m.stopDialTimerLocked()
		}
		neg := m.neg
		m.mu.Unlock()
		if err := neg.FeedSignal(payload); err != nil {
			log.Error().Err(err).Str("module", "call").Str("self", string(m.self)).Msg("feed signal")
		}
		return
	default:
		m.mu.Unlock()
	}
}

// HandleRemoteEnd processes a received termination envelope: full teardown
// without re-emitting, so two ends never echo forever.
func (m *Machine) HandleRemoteEnd(from domain.UserID) {
	m.mu.Lock()
	relevant := m.state != Idle &&
		(m.peer == from || (m.invite != nil && m.invite.From == from))
	m.mu.Unlock()
	if relevant {
		m.teardown(false)
	}
}

// End hangs up locally from any non-Idle state.
func (m *Machine) End() {
	m.teardown(true)
}

// teardown destroys the negotiation object, releases local media
// synchronously and returns to Idle. notify controls whether a termination
// envelope is sent to the counterpart.
func (m *Machine) teardown(notify bool) {
	m.mu.Lock()
	if m.state == Idle {
		m.mu.Unlock()
		return
	}
	neg := m.neg
	local := m.local
	peer := m.peer
	if peer == "" && m.invite != nil {
		peer = m.invite.From
	}
	m.neg = nil
	m.local = nil
	m.peer = ""
	m.invite = nil
	m.state = Idle
	m.stopDialTimerLocked()
	m.mu.Unlock()

	if neg != nil {
		neg.Destroy()
	}
	if local != nil {
		local.Release()
	}
	if notify && peer != "" {
		m.out.SendEnd(peer)
	}
	log.Info().Str("module", "call").Str("self", string(m.self)).Str("peer", string(peer)).Msg("call ended")
	if m.events.OnEnded != nil {
		m.events.OnEnded(peer)
	}
}

// callbacks builds the negotiator callback set for a call with peer.
// Negotiation failure and close are both treated as a local termination.
func (m *Machine) callbacks(peer domain.UserID) Callbacks {
	return Callbacks{
		OnSignal: func(payload json.RawMessage) {
			m.out.SendSignal(peer, payload)
		},
		OnStream: func(remote MediaStream) {
			m.onStream(peer, remote)
		},
		OnClose: func() {
			m.teardown(true)
		},
		OnError: func(err error) {
			log.Error().Err(err).Str("module", "call").Str("self", string(m.self)).Msg("negotiation failed")
			m.teardown(true)
		},
	}
}

func (m *Machine) onStream(peer domain.UserID, remote MediaStream) {
	m.mu.Lock()
	if m.state != Negotiating && m.state != Dialing {
		m.mu.Unlock()
		return
	}
	m.state = Connected
	m.stopDialTimerLocked()
	m.mu.Unlock()

	log.Info().Str("module", "call").Str("self", string(m.self)).Str("peer", string(peer)).Msg("connected")
	if m.events.OnConnected != nil {
		m.events.OnConnected(peer, remote)
	}
}

func (m *Machine) armDialTimerLocked(peer domain.UserID) {
	if m.dialTimeout <= 0 {
		return
	}
	m.dialTimer = time.AfterFunc(m.dialTimeout, func() {
		m.mu.Lock()
		expired := m.state == Dialing && m.peer == peer
		m.mu.Unlock()
		if expired {
			log.Warn().Str("module", "call").Str("self", string(m.self)).Str("peer", string(peer)).Msg("dial timeout")
			m.teardown(true)
		}
	})
}

func (m *Machine) stopDialTimerLocked() {
	if m.dialTimer != nil {
		m.dialTimer.Stop()
		m.dialTimer = nil
	}
}
