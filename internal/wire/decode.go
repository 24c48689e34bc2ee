package wire

import (
	"errors"
	"fmt"

	"github.com/dkeye/Dial/internal/core"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/pion/webrtc/v4"
)

// ErrUnknownEvent is returned for envelopes an endpoint does not understand.
var ErrUnknownEvent = errors.New("unknown event")

// DecodeEvent turns one relay frame into a typed signaling event.
func DecodeEvent(raw []byte) (core.SignalingEvent, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	switch env.Event {
	case EventRegistered:
		var p Registered
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		return core.RegistrationAck{UserID: p.UserID}, nil

	case EventIncomingCall:
		var p IncomingCall
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		if p.CallID == "" {
			return nil, fmt.Errorf("%w: incoming-call needs callId", ErrMalformed)
		}
		if p.CallerID == "" {
			return malformed(env.Event, p.CallID, "missing callerId"), nil
		}
		kind, err := domain.ParseMediaKind(string(p.CallType))
		if err != nil {
			return malformed(env.Event, p.CallID, err.Error()), nil
		}
		if err := validateDescription(p.Offer, webrtc.SDPTypeOffer); err != nil {
			return malformed(env.Event, p.CallID, err.Error()), nil
		}
		return core.IncomingCall{CallID: p.CallID, CallerID: p.CallerID, MediaKind: kind, Offer: p.Offer}, nil

	case EventCallAnswered:
		var p CallAnswered
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		if p.CallID == "" {
			return nil, fmt.Errorf("%w: call-answered needs callId", ErrMalformed)
		}
		if err := validateDescription(p.Answer, webrtc.SDPTypeAnswer); err != nil {
			return malformed(env.Event, p.CallID, err.Error()), nil
		}
		return core.CallAnswered{CallID: p.CallID, Answer: p.Answer}, nil

	case EventIceCandidate:
		var p IceCandidate
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		return core.IceCandidate{CallID: p.CallID, Candidate: p.Candidate.ToPion()}, nil

	case EventCallEnded, EventCallDeclined, EventCallBusy:
		var p CallRef
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		if p.CallID == "" {
			return nil, fmt.Errorf("%w: %s needs callId", ErrMalformed, env.Event)
		}
		switch env.Event {
		case EventCallDeclined:
			return core.CallDeclined{CallID: p.CallID}, nil
		case EventCallBusy:
			return core.CallBusy{CallID: p.CallID}, nil
		}
		return core.CallEnded{CallID: p.CallID}, nil

	case EventUserOffline:
		var p UserOffline
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		return core.PeerOffline{CallID: p.CallID, PeerID: p.TargetUserID}, nil

	case EventUserStatus:
		var p UserStatus
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		return core.PresenceChanged{UserID: p.UserID, Online: p.Status == domain.PresenceOnline}, nil

	case EventOnlineUsers:
		var p OnlineUsers
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		return core.OnlineUsers{Users: p.Users}, nil

	case EventError:
		var p Error
		if err := env.DecodeData(&p); err != nil {
			return nil, err
		}
		return core.Error{CallID: p.CallID, Code: p.Code, Message: p.Message}, nil

	case EventPong:
		return nil, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, env.Event)
}

// malformed keeps a bad call payload addressable so the call it names can
// be failed instead of left waiting.
func malformed(event string, id domain.CallID, detail string) core.MalformedCall {
	return core.MalformedCall{CallID: id, Event: event, Detail: detail}
}
