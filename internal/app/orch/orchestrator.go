// Package orch holds the relay's routing decisions. It never touches
// sockets or JSON; the signal adapter does that with what it returns.
package orch

import (
	"errors"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotRegistered = errors.New("socket is not registered")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrPeerOffline   = errors.New("peer is offline")
	ErrSelfCall      = errors.New("cannot call yourself")
)

type Orchestrator struct {
	Registry *app.Registry
	Calls    *app.CallTable
	Auth     app.Authenticator
}

func New(auth app.Authenticator) *Orchestrator {
	return &Orchestrator{
		Registry: app.NewRegistry(),
		Calls:    app.NewCallTable(),
		Auth:     auth,
	}
}

// Register authenticates sid as uid. A previous socket of the same user
// is kicked.
func (o *Orchestrator) Register(sid core.SessionID, uid domain.UserID, token string) error {
	if o.Auth != nil && !o.Auth.Verify(uid, token) {
		log.Warn().Str("module", "orch").Str("sid", string(sid)).Str("user", string(uid)).Msg("register rejected")
		return ErrAuthFailed
	}
	prev, replaced := o.Registry.Register(sid, uid)
	if replaced {
		log.Info().Str("module", "orch").Str("user", string(uid)).Str("old_sid", string(prev)).Msg("newer registration replaces socket")
		o.KickBySID(prev)
	}
	return nil
}

// Disconnect forgets sid. When it was the live socket of a user, that
// user's calls are torn down and returned so counterparts can be told.
func (o *Orchestrator) Disconnect(sid core.SessionID) (domain.UserID, []app.Call, bool) {
	uid, ok := o.Registry.Unbind(sid)
	if !ok {
		return "", nil, false
	}
	ended := o.Calls.CloseInvolving(uid)
	log.Info().Str("module", "orch").Str("user", string(uid)).Int("ended_calls", len(ended)).Msg("user went offline")
	return uid, ended, true
}

func (o *Orchestrator) KickBySID(sid core.SessionID) {
	o.Registry.Cancel(sid)
}

func (o *Orchestrator) caller(sid core.SessionID) (domain.UserID, error) {
	uid, ok := o.Registry.UserOf(sid)
	if !ok {
		return "", ErrNotRegistered
	}
	return uid, nil
}
