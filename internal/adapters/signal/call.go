package signal

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/core"
	"github.com/pingitup/pingitup/internal/domain"
)

// callTracker remembers which two users a relayed call binds together, so a
// mid-call disconnect can deliver a termination to the counterpart. It is
// bookkeeping only; call state itself lives in the two endpoints.
type callTracker struct {
	mu    sync.Mutex
	peers map[domain.UserID]domain.UserID
}

// link binds a and b unless either is already in a call. A busy party keeps
// its current link; the invite still reaches the callee, whose own busy
// reply settles the attempt.
func (t *callTracker) link(a, b domain.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peers == nil {
		t.peers = make(map[domain.UserID]domain.UserID)
	}
	if _, busy := t.peers[a]; busy {
		return false
	}
	if _, busy := t.peers[b]; busy {
		return false
	}
	t.peers[a] = b
	t.peers[b] = a
	return true
}

// drop removes uid's link and its reverse, returning the counterpart.
func (t *callTracker) drop(uid domain.UserID) (domain.UserID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peer, ok := t.peers[uid]
	if !ok {
		return "", false
	}
	delete(t.peers, uid)
	if t.peers[peer] == uid {
		delete(t.peers, peer)
	}
	return peer, true
}

// dropPair unlinks a and b only while they are linked to each other. A busy
// rejection's termination envelope must not erase the rejecting user's
// record of its real call.
func (t *callTracker) dropPair(a, b domain.UserID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peers[a] == b {
		delete(t.peers, a)
	}
	if t.peers[b] == a {
		delete(t.peers, b)
	}
}

func (ctl *Controller) handleInvite(uid domain.UserID, data []byte) {
	var env core.InviteEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad invite payload")
		return
	}
	if env.ToUserID == "" || env.ToUserID == uid {
		return
	}

	fromName := env.FromName
	if fromName == "" && ctl.Users != nil {
		ctx, cancelFn := context.WithTimeout(context.Background(), time.Second)
		if u, err := ctl.Users.UserByID(ctx, uid); err == nil {
			fromName = u.FullName
		}
		cancelFn()
	}

	if !ctl.calls.link(uid, env.ToUserID) {
		log.Debug().Str("module", "signal").Str("from", string(uid)).
			Str("to", string(env.ToUserID)).Msg("invite to busy party, not tracked")
	}
	ctl.Relay.ForwardInvite(uid, fromName, env.ToUserID)
}

func (ctl *Controller) handleSignal(uid domain.UserID, data []byte) {
	var env core.SignalEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad signal payload")
		return
	}
	if env.ToUserID == "" || env.ToUserID == uid {
		return
	}
	ctl.Relay.ForwardSignal(uid, env.ToUserID, env.Payload)
}

func (ctl *Controller) handleEnd(uid domain.UserID, data []byte) {
	var env core.EndEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad end payload")
		return
	}
	if env.ToUserID == "" || env.ToUserID == uid {
		return
	}
	ctl.calls.dropPair(uid, env.ToUserID)
	ctl.Relay.ForwardEnd(uid, env.ToUserID)
}
