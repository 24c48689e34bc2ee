package orch

import (
	"errors"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/rs/zerolog/log"
)

// Delivery is where a routed message has to go.
type Delivery struct {
	From   domain.UserID
	To     domain.UserID
	Signal core.SignalConnection
}

// PlaceCall records a new call from sid's user to callee and returns the
// callee's socket.
func (o *Orchestrator) PlaceCall(sid core.SessionID, id domain.CallID, callee domain.UserID, kind domain.MediaKind) (Delivery, error) {
	from, err := o.caller(sid)
	if err != nil {
		return Delivery{}, err
	}
	if from == callee {
		return Delivery{}, ErrSelfCall
	}
	conn, ok := o.Registry.SignalOf(callee)
	if !ok {
		return Delivery{From: from, To: callee}, ErrPeerOffline
	}
	if _, err := o.Calls.Open(id, from, callee, kind); err != nil {
		return Delivery{}, err
	}
	log.Info().Str("module", "orch").
		Str("call_id", string(id)).
		Str("caller", string(from)).
		Str("callee", string(callee)).
		Str("kind", string(kind)).
		Msg("call placed")
	return Delivery{From: from, To: callee, Signal: conn}, nil
}

// Route finds the counterpart for a call-scoped message.
func (o *Orchestrator) Route(sid core.SessionID, id domain.CallID) (Delivery, error) {
	from, err := o.caller(sid)
	if err != nil {
		return Delivery{}, err
	}
	to, err := o.Calls.Peer(id, from)
	if err != nil {
		return Delivery{}, err
	}
	conn, ok := o.Registry.SignalOf(to)
	if !ok {
		return Delivery{From: from, To: to}, ErrPeerOffline
	}
	return Delivery{From: from, To: to, Signal: conn}, nil
}

// Answer routes the callee's answer and marks the call answered.
func (o *Orchestrator) Answer(sid core.SessionID, id domain.CallID) (Delivery, error) {
	d, err := o.Route(sid, id)
	if err != nil {
		return d, err
	}
	if err := o.Calls.MarkAnswered(id, d.From); err != nil {
		return Delivery{}, err
	}
	return d, nil
}

// EndCall routes a terminating message and drops the call either way.
func (o *Orchestrator) EndCall(sid core.SessionID, id domain.CallID) (Delivery, error) {
	d, err := o.Route(sid, id)
	if err == nil || errors.Is(err, ErrPeerOffline) {
		o.Calls.Close(id)
		log.Info().Str("module", "orch").Str("call_id", string(id)).Str("by", string(d.From)).Msg("call closed")
	}
	return d, err
}

// ActiveCalls counts answered and ringing calls.
func (o *Orchestrator) ActiveCalls() (answered, ringing int) {
	for _, c := range o.Calls.Snapshot() {
		if c.Answered {
			answered++
		} else {
			ringing++
		}
	}
	return answered, ringing
}
