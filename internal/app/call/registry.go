package call

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/dkeye/Dial/internal/wire"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrStopped = errors.New("call registry stopped")

const (
	DefaultRingTimeout     = 45 * time.Second
	DefaultDisconnectGrace = 15 * time.Second
)

type Config struct {
	RingTimeout     time.Duration
	DisconnectGrace time.Duration
	QueueSize       int
	NewCallID       func() domain.CallID
}

// Registry owns at most one live call and serializes everything that can
// touch it: relay events, user decisions, media completions and timers.
type Registry struct {
	cfg       Config
	channel   core.SignalingChannel
	factory   core.PeerConnectionFactory
	presenter core.Presenter
	policy    app.Policy
	disp      *Dispatcher
	log       zerolog.Logger

	current *Session
	offline bool
}

func NewRegistry(
	cfg Config,
	channel core.SignalingChannel,
	factory core.PeerConnectionFactory,
	presenter core.Presenter,
	policy app.Policy,
) *Registry {
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = DefaultDisconnectGrace
	}
	if cfg.NewCallID == nil {
		cfg.NewCallID = domain.NewCallID
	}
	if policy == nil {
		policy = app.SimplePolicy{}
	}
	return &Registry{
		cfg:       cfg,
		channel:   channel,
		factory:   factory,
		presenter: presenter,
		policy:    policy,
		disp:      NewDispatcher(cfg.QueueSize),
		log:       log.With().Str("module", "call.registry").Logger(),
	}
}

// Run processes queued work until ctx is done, then ends the live call.
func (r *Registry) Run(ctx context.Context) {
	r.log.Info().Msg("dispatcher started")
	r.disp.Run(ctx, r.shutdown)
	r.log.Info().Msg("dispatcher stopped")
}

func (r *Registry) shutdown() {
	if r.current == nil {
		return
	}
	s := r.current
	s.end(domain.ReasonShutdown, s.notifyEvent())
}

// Deliver queues one relay event. It returns false after Run has returned.
func (r *Registry) Deliver(ev core.SignalingEvent) bool {
	return r.disp.Post(func() { r.handle(ev) })
}

// Decide applies the user's answer to a ringing incoming call.
func (r *Registry) Decide(d core.UserDecision) bool {
	return r.disp.Post(func() {
		s := r.lookup(d.CallID, "decision")
		if s == nil {
			return
		}
		if d.Accepted {
			s.accept()
		} else {
			s.decline()
		}
	})
}

func (r *Registry) Hangup(id domain.CallID) bool {
	return r.disp.Post(func() {
		if s := r.lookup(id, "hangup"); s != nil {
			s.hangup()
		}
	})
}

// Dial starts an outgoing call. It fails with a BusyConflict CallError
// while another call is live.
func (r *Registry) Dial(ctx context.Context, peer domain.UserID, kind domain.MediaKind) (domain.CallID, error) {
	type result struct {
		id  domain.CallID
		err error
	}
	res := make(chan result, 1)
	if !r.disp.Post(func() {
		id, err := r.dial(peer, kind)
		res <- result{id, err}
	}) {
		return "", ErrStopped
	}
	select {
	case out := <-res:
		return out.id, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.disp.Done():
		return "", ErrStopped
	}
}

// Current returns the live call, if any.
func (r *Registry) Current(ctx context.Context) (domain.CallIdentity, domain.CallState, bool) {
	type snap struct {
		id    domain.CallIdentity
		state domain.CallState
		ok    bool
	}
	res := make(chan snap, 1)
	if !r.disp.Post(func() {
		if r.current == nil {
			res <- snap{}
			return
		}
		res <- snap{r.current.id, r.current.state, true}
	}) {
		return domain.CallIdentity{}, domain.StateIdle, false
	}
	select {
	case out := <-res:
		return out.id, out.state, out.ok
	case <-ctx.Done():
	case <-r.disp.Done():
	}
	return domain.CallIdentity{}, domain.StateIdle, false
}

func (r *Registry) dial(peer domain.UserID, kind domain.MediaKind) (domain.CallID, error) {
	if _, err := domain.ParseUserID(string(peer)); err != nil {
		return "", err
	}
	if _, err := domain.ParseMediaKind(string(kind)); err != nil {
		return "", err
	}
	if r.current != nil {
		return "", domain.NewCallError(domain.BusyConflict, "call %s is %s", r.current.id.CallID, r.current.state)
	}
	id := domain.CallIdentity{
		CallID:    r.cfg.NewCallID(),
		PeerID:    peer,
		Direction: domain.Outgoing,
		MediaKind: kind,
	}
	s, err := r.open(id)
	s.startOutgoing()
	if err != nil {
		s.fail(domain.NegotiationError, "create peer connection: %v", err)
		return id.CallID, nil
	}
	if r.offline {
		s.signalingDown()
	}
	return id.CallID, nil
}

func (r *Registry) open(id domain.CallIdentity) (*Session, error) {
	pc, err := r.factory.NewPeerConnection(id)
	if err != nil {
		pc = nil
	}
	s := newSession(r, id, pc)
	r.current = s
	return s, err
}

func (r *Registry) handle(ev core.SignalingEvent) {
	switch e := ev.(type) {
	case core.Connected:
		r.offline = false
		r.log.Info().Msg("signaling connected")
		if r.current != nil {
			r.current.signalingUp()
		}
	case core.Disconnected:
		r.offline = true
		r.log.Warn().AnErr("cause", e.Err).Msg("signaling disconnected")
		if r.current != nil {
			r.current.signalingDown()
		}
	case core.RegistrationAck:
		r.log.Info().Str("user", string(e.UserID)).Msg("registered with relay")
	case core.IncomingCall:
		r.handleIncoming(e)
	case core.MalformedCall:
		r.handleMalformed(e)
	case core.Error:
		if e.CallID == "" {
			r.log.Warn().Str("code", e.Code).Str("message", e.Message).Msg("relay error")
			return
		}
		if s := r.lookup(e.CallID, "error"); s != nil {
			s.onRelayError(e.Code, e.Message)
		}
	case core.PresenceChanged:
		r.log.Info().Str("user", string(e.UserID)).Bool("online", e.Online).Msg("presence")
	case core.OnlineUsers:
		r.log.Info().Int("count", len(e.Users)).Msg("online users")
	case core.CallScoped:
		r.route(e)
	default:
		r.log.Warn().Str("kind", string(domain.ProtocolViolation)).Msgf("unhandled signaling event %T", ev)
	}
}

// route hands an event that names a call to the live session for that call.
func (r *Registry) route(ev core.CallScoped) {
	id := ev.Call()
	if off, ok := ev.(core.PeerOffline); ok && id == "" && r.current != nil && r.current.id.PeerID == off.PeerID {
		id = r.current.id.CallID
	}
	s := r.lookup(id, fmt.Sprintf("%T", ev))
	if s == nil {
		return
	}
	switch e := ev.(type) {
	case core.CallAnswered:
		s.onRemoteAnswer(e.Answer)
	case core.IceCandidate:
		s.onRemoteCandidate(e.Candidate)
	case core.CallEnded:
		s.onRemoteEnded()
	case core.CallDeclined:
		s.onRemoteRefused(domain.ReasonRemoteDeclined)
	case core.CallBusy:
		s.onRemoteRefused(domain.ReasonBusy)
	case core.PeerOffline:
		s.onRemoteRefused(domain.ReasonPeerOffline)
	default:
		s.violation(fmt.Sprintf("%T", ev))
	}
}

// handleMalformed fails the call a bad payload belongs to. A bad offer for
// a call we never opened is refused with a hangup so the caller stops ringing.
func (r *Registry) handleMalformed(e core.MalformedCall) {
	live := r.current != nil && r.current.id.CallID == e.CallID
	if live && e.Event != wire.EventIncomingCall {
		r.current.fail(domain.NegotiationError, "malformed %s: %s", e.Event, e.Detail)
		return
	}
	r.log.Warn().
		Str("kind", string(domain.ProtocolViolation)).
		Str("call_id", string(e.CallID)).
		Str("event", e.Event).
		Str("detail", e.Detail).
		Msg("malformed call payload")
	if live || e.Event != wire.EventIncomingCall {
		return
	}
	if err := r.channel.Send(wire.EventHangup, wire.CallRef{CallID: e.CallID}); err != nil {
		r.log.Warn().Err(err).Msg("hangup for malformed offer not sent")
	}
}

func (r *Registry) handleIncoming(e core.IncomingCall) {
	if r.current != nil {
		if r.current.id.CallID == e.CallID {
			r.log.Warn().
				Str("kind", string(domain.ProtocolViolation)).
				Str("call_id", string(e.CallID)).
				Msg("duplicate incoming-call dropped")
			return
		}
		switch r.policy.OnConflict(r.current.id, e) {
		case app.ReplyBusy:
			r.log.Info().
				Str("kind", string(domain.BusyConflict)).
				Str("call_id", string(e.CallID)).
				Str("caller", string(e.CallerID)).
				Str("live_call", string(r.current.id.CallID)).
				Msg("busy, rejecting incoming call")
			if err := r.channel.Send(wire.EventBusy, wire.CallRef{CallID: e.CallID}); err != nil {
				r.log.Warn().Err(err).Msg("busy reply not sent")
			}
		case app.IgnoreCall:
			r.log.Info().Str("call_id", string(e.CallID)).Msg("incoming call ignored while busy")
		}
		return
	}

	id := domain.CallIdentity{
		CallID:    e.CallID,
		PeerID:    e.CallerID,
		Direction: domain.Incoming,
		MediaKind: e.MediaKind,
	}
	s, err := r.open(id)
	s.startIncoming(e.Offer)
	if err != nil {
		s.fail(domain.NegotiationError, "create peer connection: %v", err)
		return
	}
	if r.offline {
		s.signalingDown()
	}
}

// lookup finds the live session for id; anything else is logged and dropped.
func (r *Registry) lookup(id domain.CallID, op string) *Session {
	if r.current != nil && r.current.id.CallID == id {
		return r.current
	}
	r.log.Warn().
		Str("kind", string(domain.ProtocolViolation)).
		Str("call_id", string(id)).
		Str("op", op).
		Msg("event for unknown call dropped")
	return nil
}

func (r *Registry) detach(s *Session) {
	if r.current == s {
		r.current = nil
	}
}

func (r *Registry) publish(ev domain.CallEvent) {
	if r.presenter != nil {
		r.presenter.OnCallEvent(ev)
	}
}
