package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pingitup/pingitup/internal/core"
	"github.com/pingitup/pingitup/internal/domain"
)

type regEntry struct {
	ConnID core.ConnID
	Conn   core.SignalConnection
}

// Registry maps a user to its single live connection. One entry per user:
// registering again replaces the previous mapping (the previous connection
// itself is left to its own pump to die).
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.UserID]regEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.UserID]regEntry)}
}

// Register binds uid to the given connection, overwriting any prior mapping.
func (r *Registry) Register(uid domain.UserID, cid core.ConnID, conn core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.conns[uid]; ok && old.ConnID != cid {
		log.Info().Str("module", "app.registry").Str("uid", string(uid)).
			Str("old_cid", string(old.ConnID)).Str("cid", string(cid)).
			Msg("replaced connection")
	}
	r.conns[uid] = regEntry{ConnID: cid, Conn: conn}
}

// Unregister removes the mapping only while cid is still the stored
// connection. A disconnect of a connection that was already replaced by a
// newer registration must not clobber the newer one.
func (r *Registry) Unregister(uid domain.UserID, cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[uid]; ok && e.ConnID == cid {
		delete(r.conns, uid)
		log.Info().Str("module", "app.registry").Str("uid", string(uid)).Str("cid", string(cid)).Msg("unregistered")
	}
}

// Resolve looks up the live connection for uid. ok=false means the user is
// currently unreachable.
func (r *Registry) Resolve(uid domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[uid]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

// ConnIDOf reports the connection id currently bound to uid.
func (r *Registry) ConnIDOf(uid domain.UserID) (core.ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[uid]
	return e.ConnID, ok
}

// SnapshotUserIDs returns the set of currently registered users.
func (r *Registry) SnapshotUserIDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.conns))
	for uid := range r.conns {
		out = append(out, uid)
	}
	return out
}

// Connections snapshots every live connection, for presence fan-out.
func (r *Registry) Connections() []core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SignalConnection, 0, len(r.conns))
	for _, e := range r.conns {
		out = append(out, e.Conn)
	}
	return out
}
