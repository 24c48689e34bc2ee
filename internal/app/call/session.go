package call

import (
	"time"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/wire"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session is one call. All methods run on the registry dispatcher.
type Session struct {
	id    domain.CallIdentity
	state domain.CallState

	local  *webrtc.SessionDescription
	remote *webrtc.SessionDescription
	offer  *webrtc.SessionDescription // incoming offer, applied on accept

	pending  IceBuffer // remote candidates waiting for the remote description
	outbound IceBuffer // local candidates waiting for our offer or answer to go out

	pc    core.PeerConnection
	owner *Registry
	log   zerolog.Logger

	ringTimer  *time.Timer
	graceTimer *time.Timer
	activeAt   time.Time
}

func newSession(owner *Registry, id domain.CallIdentity, pc core.PeerConnection) *Session {
	return &Session{
		id:    id,
		state: domain.StateIdle,
		pc:    pc,
		owner: owner,
		log: log.With().
			Str("module", "call.session").
			Str("call_id", string(id.CallID)).
			Str("peer", string(id.PeerID)).
			Str("direction", id.Direction.String()).
			Logger(),
	}
}

func (s *Session) Identity() domain.CallIdentity { return s.id }
func (s *Session) State() domain.CallState       { return s.state }

// post schedules fn on the dispatcher; fn is skipped if the session is
// terminal by the time it runs.
func (s *Session) post(op string, fn func()) {
	ok := s.owner.disp.Post(func() {
		if s.state.Terminal() {
			s.log.Debug().Str("op", op).Str("state", s.state.String()).Msg("late callback discarded")
			return
		}
		fn()
	})
	if !ok {
		s.log.Debug().Str("op", op).Msg("dispatcher stopped, callback dropped")
	}
}

func (s *Session) bindTransport() {
	if s.pc == nil {
		return
	}
	s.pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		s.post("local_candidate", func() { s.onLocalCandidate(c) })
	})
	s.pc.OnStateChange(func(st core.TransportState) {
		s.post("transport_state", func() { s.onTransportState(st) })
	})
}

func (s *Session) startOutgoing() {
	if !s.enter(domain.StateRingingOut, domain.ReasonNone, nil) {
		return
	}
	s.armRing()
	if s.pc == nil {
		return
	}
	s.bindTransport()
	s.pc.CreateOffer(func(desc webrtc.SessionDescription, err error) {
		s.post("create_offer", func() { s.onOfferCreated(desc, err) })
	})
}

func (s *Session) startIncoming(offer webrtc.SessionDescription) {
	s.offer = &offer
	if !s.enter(domain.StateRingingIn, domain.ReasonNone, nil) {
		return
	}
	s.armRing()
	s.bindTransport()
}

func (s *Session) onOfferCreated(desc webrtc.SessionDescription, err error) {
	if s.state != domain.StateRingingOut {
		s.violation("offer_created")
		return
	}
	if err != nil {
		s.fail(domain.NegotiationError, "create offer: %v", err)
		return
	}
	s.local = &desc
	s.send(wire.EventOffer, wire.Offer{
		CallID:    s.id.CallID,
		PeerID:    s.id.PeerID,
		SDP:       desc,
		MediaKind: s.id.MediaKind,
	})
	s.flushOutbound()
}

func (s *Session) accept() {
	if s.state != domain.StateRingingIn {
		s.violation("accept")
		return
	}
	if !s.enter(domain.StateNegotiating, domain.ReasonNone, nil) {
		return
	}
	s.stopRing()
	offer := *s.offer
	s.applyRemote(offer, func() {
		s.pc.CreateAnswer(offer, func(desc webrtc.SessionDescription, err error) {
			s.post("create_answer", func() { s.onAnswerCreated(desc, err) })
		})
	})
}

func (s *Session) onAnswerCreated(desc webrtc.SessionDescription, err error) {
	if s.state != domain.StateNegotiating && s.state != domain.StateActive {
		s.violation("answer_created")
		return
	}
	if err != nil {
		s.fail(domain.NegotiationError, "create answer: %v", err)
		return
	}
	s.local = &desc
	s.send(wire.EventAnswer, wire.Answer{CallID: s.id.CallID, SDP: desc})
	s.flushOutbound()
}

func (s *Session) onRemoteAnswer(answer webrtc.SessionDescription) {
	if s.state != domain.StateRingingOut || s.local == nil {
		s.violation("remote_answer")
		return
	}
	if !s.enter(domain.StateNegotiating, domain.ReasonNone, nil) {
		return
	}
	s.stopRing()
	s.applyRemote(answer, nil)
}

// applyRemote sets the remote description, then releases held candidates
// in arrival order before running next.
func (s *Session) applyRemote(desc webrtc.SessionDescription, next func()) {
	s.pc.SetRemoteDescription(desc, func(err error) {
		s.post("set_remote", func() {
			if s.state != domain.StateNegotiating {
				s.violation("remote_applied")
				return
			}
			if err != nil {
				s.fail(domain.NegotiationError, "set remote description: %v", err)
				return
			}
			s.remote = &desc
			held := s.pending.Drain()
			if len(held) > 0 {
				s.log.Debug().Int("count", len(held)).Msg("flushing buffered candidates")
			}
			for _, c := range held {
				s.applyCandidate(c)
			}
			if next != nil {
				next()
			}
		})
	})
}

func (s *Session) onRemoteCandidate(c webrtc.ICECandidateInit) {
	if s.pending.Add(c) {
		s.log.Debug().Int("buffered", s.pending.Len()).Msg("candidate held until remote description")
		return
	}
	s.applyCandidate(c)
}

func (s *Session) applyCandidate(c webrtc.ICECandidateInit) {
	s.pc.AddICECandidate(c, func(err error) {
		if err == nil {
			return
		}
		s.post("add_candidate", func() {
			s.fail(domain.NegotiationError, "add ice candidate: %v", err)
		})
	})
}

func (s *Session) onLocalCandidate(c webrtc.ICECandidateInit) {
	if s.outbound.Add(c) {
		return
	}
	s.sendCandidate(c)
}

func (s *Session) flushOutbound() {
	for _, c := range s.outbound.Drain() {
		s.sendCandidate(c)
	}
}

func (s *Session) sendCandidate(c webrtc.ICECandidateInit) {
	s.send(wire.EventIceCandidate, wire.IceCandidate{
		CallID:    s.id.CallID,
		Candidate: wire.CandidateFromPion(c),
	})
}

func (s *Session) onTransportState(st core.TransportState) {
	switch st {
	case core.TransportConnected:
		if s.state != domain.StateNegotiating {
			return
		}
		s.activeAt = time.Now()
		s.enter(domain.StateActive, domain.ReasonNone, nil)
	case core.TransportFailed:
		switch s.state {
		case domain.StateNegotiating:
			s.fail(domain.NegotiationError, "ice transport failed")
		case domain.StateActive:
			s.fail(domain.MediaError, "ice transport failed")
		}
	case core.TransportDisconnected:
		s.log.Warn().Msg("media transport disconnected")
	}
}

func (s *Session) decline() {
	if s.state != domain.StateRingingIn {
		s.violation("decline")
		return
	}
	s.end(domain.ReasonDeclined, wire.EventDecline)
}

func (s *Session) hangup() {
	switch s.state {
	case domain.StateRingingIn:
		s.decline()
	case domain.StateRingingOut, domain.StateNegotiating, domain.StateActive:
		s.end(domain.ReasonLocalHangup, s.notifyEvent())
	default:
		s.violation("hangup")
	}
}

func (s *Session) onRemoteEnded() {
	s.end(domain.ReasonRemoteHangup, "")
}

// onRemoteRefused handles declined, busy and offline replies to our offer.
func (s *Session) onRemoteRefused(reason domain.EndReason) {
	if s.state != domain.StateRingingOut {
		s.violation(string(reason))
		return
	}
	s.end(reason, "")
}

func (s *Session) onRelayError(code, message string) {
	s.fail(domain.Rejected, "%s: %s", code, message)
}

func (s *Session) armRing() {
	d := s.owner.cfg.RingTimeout
	s.ringTimer = time.AfterFunc(d, func() {
		s.post("ring_timeout", func() {
			if s.state != domain.StateRingingIn && s.state != domain.StateRingingOut {
				return
			}
			s.log.Info().Dur("after", d).Msg("ring timeout")
			s.end(domain.ReasonTimeout, s.notifyEvent())
		})
	})
}

func (s *Session) stopRing() {
	if s.ringTimer != nil {
		s.ringTimer.Stop()
		s.ringTimer = nil
	}
}

func (s *Session) signalingDown() {
	if s.graceTimer != nil {
		return
	}
	grace := s.owner.cfg.DisconnectGrace
	var t *time.Timer
	t = time.AfterFunc(grace, func() {
		s.post("disconnect_grace", func() {
			if s.graceTimer != t {
				return
			}
			s.fail(domain.TransportError, "signaling lost for %s", grace)
		})
	})
	s.graceTimer = t
	s.log.Warn().Dur("grace", grace).Msg("signaling down, waiting for reconnect")
}

func (s *Session) signalingUp() {
	if s.graceTimer == nil {
		return
	}
	s.graceTimer.Stop()
	s.graceTimer = nil
	s.log.Info().Msg("signaling recovered")
}

// peerKnows reports whether the remote side has heard of this call.
func (s *Session) peerKnows() bool {
	return s.id.Direction == domain.Incoming || s.local != nil
}

func (s *Session) notifyEvent() string {
	if !s.peerKnows() {
		return ""
	}
	return wire.EventHangup
}

func (s *Session) end(reason domain.EndReason, notify string) {
	if !s.enter(domain.StateEnded, reason, nil) {
		return
	}
	if notify != "" {
		s.send(notify, wire.CallRef{CallID: s.id.CallID})
	}
	s.release()
}

func (s *Session) fail(kind domain.ErrorKind, format string, args ...any) {
	cerr := domain.NewCallError(kind, format, args...)
	if !s.enter(domain.StateFailed, domain.ReasonNone, cerr) {
		return
	}
	s.log.Error().Str("kind", string(kind)).Str("detail", cerr.Detail).Msg("call failed")
	if kind != domain.TransportError && kind != domain.Rejected {
		if ev := s.notifyEvent(); ev != "" {
			s.send(ev, wire.CallRef{CallID: s.id.CallID})
		}
	}
	s.release()
}

func (s *Session) release() {
	s.stopRing()
	if s.graceTimer != nil {
		s.graceTimer.Stop()
		s.graceTimer = nil
	}
	if n := s.pending.Discard(); n > 0 {
		s.log.Debug().Int("count", n).Msg("discarded pending candidates")
	}
	s.outbound.Discard()
	if s.pc != nil {
		s.pc.Close()
	}
	s.owner.detach(s)
}

func (s *Session) enter(to domain.CallState, reason domain.EndReason, cerr *domain.CallError) bool {
	from := s.state
	if !CanTransition(from, to) {
		s.log.Warn().
			Str("kind", string(domain.ProtocolViolation)).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("transition rejected")
		return false
	}
	s.state = to
	s.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("state")

	kind, _ := eventFor(to)
	ev := domain.CallEvent{
		Kind:     kind,
		Identity: s.id,
		State:    to,
		Reason:   reason,
		Err:      cerr,
		At:       time.Now(),
	}
	if to.Terminal() && !s.activeAt.IsZero() {
		ev.Duration = ev.At.Sub(s.activeAt)
	}
	s.owner.publish(ev)
	return true
}

func (s *Session) violation(op string) {
	s.log.Warn().
		Str("kind", string(domain.ProtocolViolation)).
		Str("op", op).
		Str("state", s.state.String()).
		Msg("event not accepted in current state")
}

func (s *Session) send(event string, payload any) {
	if err := s.owner.channel.Send(event, payload); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("signaling send failed")
	}
}
