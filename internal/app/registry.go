package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nkoval/parlor/internal/core"
	"github.com/nkoval/parlor/internal/domain"
)

// Session is the immutable binding of one live connection to a
// (room, display name) pair.
type Session struct {
	Code domain.RoomCode
	Name string
	Conn core.SignalConnection
}

type sessionEntry struct {
	Session
	Cancel context.CancelFunc
}

// Registry is the session table: connection id -> bound session.
// Exactly one session per connection; the entry lives for the lifetime
// of the connection.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.ConnID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.ConnID]*sessionEntry)}
}

func (r *Registry) Bind(cid core.ConnID, code domain.RoomCode, name string, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[cid] = &sessionEntry{
		Session: Session{Code: code, Name: name, Conn: conn},
		Cancel:  cancel,
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Str("room", string(code)).Str("name", name).Msg("bound session")
}

func (r *Registry) Unbind(cid core.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("unbind session")
}

// Take looks up and removes a session under one write lock, so exactly one
// caller observes it. The leave protocol must go through Take: a kick and the
// transport's own disconnect can race for the same connection, and only one
// of them may run the leave side effects.
func (r *Registry) Take(cid core.ConnID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[cid]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, cid)
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("took session")
	return e.Session, true
}

func (r *Registry) Get(cid core.ConnID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[cid]; ok {
		return e.Session, true
	}
	return Session{}, false
}

type regSnap struct {
	CID     core.ConnID
	Session Session
}

// MembersOfRoom snapshots the sessions bound to a room so fan-out I/O can
// run without holding the table lock.
func (r *Registry) MembersOfRoom(code domain.RoomCode) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for cid, e := range r.sessions {
		if e.Code == code {
			out = append(out, regSnap{CID: cid, Session: e.Session})
		}
	}
	return out
}

// Cancel fires the session's cancel func, shutting down its transport pumps.
func (r *Registry) Cancel(cid core.ConnID) bool {
	r.mu.RLock()
	e, ok := r.sessions[cid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("cid", string(cid)).Msg("canceled session")
	return true
}
