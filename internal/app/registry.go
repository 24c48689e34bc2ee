package app

import (
	"context"
	"slices"
	"sync"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	User   domain.UserID
	Signal core.SignalConnection
	Cancel context.CancelFunc
}

// Registry tracks relay sockets and which user each one registered as.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
	users    map[domain.UserID]core.SessionID
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
		users:    make(map[domain.UserID]core.SessionID),
	}
}

func (r *Registry) BindSignal(sid core.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Signal: conn, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
}

// Register binds uid to sid. If uid was registered on another socket,
// that socket id is returned so the caller can drop it.
func (r *Registry) Register(sid core.SessionID, uid domain.UserID) (core.SessionID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[sid]
	if !ok {
		return "", false
	}
	if entry.User != "" && entry.User != uid {
		delete(r.users, entry.User)
	}
	prev, replaced := r.users[uid]
	if replaced && prev == sid {
		replaced = false
	}
	if replaced {
		if old, ok := r.sessions[prev]; ok {
			old.User = ""
		}
	}
	entry.User = uid
	r.users[uid] = sid
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(uid)).Msg("registered user")
	return prev, replaced
}

func (r *Registry) UserOf(sid core.SessionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.User == "" {
		return "", false
	}
	return e.User, true
}

func (r *Registry) SignalOf(uid domain.UserID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.users[uid]
	if !ok {
		return nil, false
	}
	e, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	return e.Signal, true
}

// Unbind forgets sid and returns the user it was registered as, if any.
func (r *Registry) Unbind(sid core.SessionID) (domain.UserID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return "", false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	if e.User == "" || r.users[e.User] != sid {
		return "", false
	}
	delete(r.users, e.User)
	return e.User, true
}

func (r *Registry) Online() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.users))
	for uid := range r.users {
		out = append(out, uid)
	}
	slices.Sort(out)
	return out
}

// SignalsExcept snapshots every registered socket but the one of skip.
func (r *Registry) SignalsExcept(skip domain.UserID) []core.SignalConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.SignalConnection, 0, len(r.users))
	for uid, sid := range r.users {
		if uid == skip {
			continue
		}
		if e, ok := r.sessions[sid]; ok {
			out = append(out, e.Signal)
		}
	}
	return out
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
