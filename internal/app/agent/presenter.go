package agent

import (
	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Presenter logs call events and, when asked to, picks up every incoming
// call. Events are also copied to Events if it is set; a full channel
// drops them.
type Presenter struct {
	AutoAnswer bool
	Events     chan<- domain.CallEvent

	decide func(core.UserDecision) bool
	log    zerolog.Logger
}

func NewPresenter(autoAnswer bool) *Presenter {
	return &Presenter{
		AutoAnswer: autoAnswer,
		log:        log.With().Str("module", "agent.presenter").Logger(),
	}
}

func (p *Presenter) OnCallEvent(ev domain.CallEvent) {
	e := p.log.Info()
	if ev.Kind == domain.EventFailed {
		e = p.log.Warn()
	}
	e = e.Str("call_id", string(ev.Identity.CallID)).
		Str("peer", string(ev.Identity.PeerID)).
		Str("direction", ev.Identity.Direction.String()).
		Str("state", ev.State.String())
	if ev.Reason != domain.ReasonNone {
		e = e.Str("reason", string(ev.Reason))
	}
	if ev.Err != nil {
		e = e.Str("error_kind", string(ev.Err.Kind)).Str("error", ev.Err.Detail)
	}
	if ev.Duration > 0 {
		e = e.Dur("duration", ev.Duration)
	}
	e.Msg(ev.Kind.String())

	if ev.Kind == domain.EventIncomingRinging && p.AutoAnswer && p.decide != nil {
		// runs on the dispatcher; posting back must not block it
		go p.decide(core.UserDecision{CallID: ev.Identity.CallID, Accepted: true})
	}

	if p.Events != nil {
		select {
		case p.Events <- ev:
		default:
		}
	}
}
