// Package rtc adapts pion/webrtc to the call.Negotiator surface. It is the
// concrete media-negotiation collaborator; the call machine never sees pion
// types, only opaque payloads.
package rtc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/call"
)

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// Media is a local capture handle: the tracks to publish plus a stop hook
// for the underlying capture devices.
type Media struct {
	Tracks []webrtc.TrackLocal
	stop   func()
	once   sync.Once
}

func NewMedia(tracks []webrtc.TrackLocal, stop func()) *Media {
	return &Media{Tracks: tracks, stop: stop}
}

func (m *Media) Release() {
	m.once.Do(func() {
		if m.stop != nil {
			m.stop()
		}
	})
}

// remoteMedia wraps the counterpart's first remote track as the stream
// handle handed to OnStream. Closing the peer connection tears it down, so
// Release is a no-op here.
type remoteMedia struct {
	Track *webrtc.TrackRemote
}

func (remoteMedia) Release() {}

// signalPayload is the wire form of a negotiation unit: either a session
// description or an ICE candidate.
type signalPayload struct {
	Type      string                   `json:"type,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// Negotiator drives one webrtc.PeerConnection for one call attempt.
type Negotiator struct {
	pc *webrtc.PeerConnection
	cb call.Callbacks

	mu        sync.Mutex
	destroyed bool
	streamed  bool
}

// Factory returns a call.NegotiatorFactory backed by pion peer connections.
func Factory(cfg webrtc.Configuration) call.NegotiatorFactory {
	return func(role call.Role, local call.MediaStream, cb call.Callbacks) (call.Negotiator, error) {
		return New(cfg, role, local, cb)
	}
}

func New(cfg webrtc.Configuration, role call.Role, local call.MediaStream, cb call.Callbacks) (*Negotiator, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	n := &Negotiator{pc: pc, cb: cb}

	if media, ok := local.(*Media); ok {
		for _, track := range media.Tracks {
			if _, err := pc.AddTrack(track); err != nil {
				pc.Close()
				return nil, fmt.Errorf("add local track: %w", err)
			}
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n.mu.Lock()
		first := !n.streamed
		n.streamed = true
		n.mu.Unlock()
		log.Info().Str("module", "rtc").Str("kind", track.Kind().String()).Msg("remote track")
		if first && cb.OnStream != nil {
			cb.OnStream(remoteMedia{Track: track})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("state", s.String()).Msg("peer state")
		switch s {
		case webrtc.PeerConnectionStateFailed:
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("peer connection failed"))
			}
		case webrtc.PeerConnectionStateClosed:
			n.mu.Lock()
			wasDestroyed := n.destroyed
			n.mu.Unlock()
			if !wasDestroyed && cb.OnClose != nil {
				cb.OnClose()
			}
		}
	})

	if role == call.RoleInitiator {
		go n.sendOffer()
	}
	return n, nil
}

// sendOffer creates the local offer and emits it once ICE gathering is
// complete, so the whole session description travels as a single payload.
// It runs off the caller's goroutine because gathering can take a while.
func (n *Negotiator) sendOffer() {
	gathered := webrtc.GatheringCompletePromise(n.pc)
	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		n.fail(fmt.Errorf("create offer: %w", err))
		return
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		n.fail(fmt.Errorf("set local offer: %w", err))
		return
	}
	<-gathered
	n.emitLocalDescription()
}

func (n *Negotiator) sendAnswer() {
	gathered := webrtc.GatheringCompletePromise(n.pc)
	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		n.fail(fmt.Errorf("create answer: %w", err))
		return
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		n.fail(fmt.Errorf("set local answer: %w", err))
		return
	}
	<-gathered
	n.emitLocalDescription()
}

// FeedSignal applies one counterpart payload: an offer kicks off an answer,
// an answer completes the exchange, a stray candidate is added to ICE.
func (n *Negotiator) FeedSignal(payload json.RawMessage) error {
	var p signalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode signal: %w", err)
	}

	switch {
	case p.Candidate != nil:
		return n.pc.AddICECandidate(*p.Candidate)
	case p.Type == webrtc.SDPTypeOffer.String():
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
		if err := n.pc.SetRemoteDescription(offer); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		go n.sendAnswer()
		return nil
	case p.Type == webrtc.SDPTypeAnswer.String():
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
		if err := n.pc.SetRemoteDescription(answer); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown signal payload %q", p.Type)
	}
}

func (n *Negotiator) Destroy() {
	n.mu.Lock()
	if n.destroyed {
		n.mu.Unlock()
		return
	}
	n.destroyed = true
	n.mu.Unlock()
	if err := n.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close peer connection")
	}
}

// emitLocalDescription ships the gathered local description unless Destroy
// already won the race.
func (n *Negotiator) emitLocalDescription() {
	n.mu.Lock()
	dead := n.destroyed
	n.mu.Unlock()
	if dead || n.cb.OnSignal == nil {
		return
	}
	desc := n.pc.LocalDescription()
	if desc == nil {
		return
	}
	b, err := json.Marshal(signalPayload{Type: desc.Type.String(), SDP: desc.SDP})
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("encode signal")
		return
	}
	n.cb.OnSignal(b)
}

func (n *Negotiator) fail(err error) {
	n.mu.Lock()
	dead := n.destroyed
	n.mu.Unlock()
	if dead {
		return
	}
	log.Error().Err(err).Str("module", "rtc").Msg("negotiation failed")
	if n.cb.OnError != nil {
		n.cb.OnError(err)
	}
}
