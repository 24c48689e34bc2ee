// Package wire holds the JSON event format spoken between endpoints and the relay.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/Dial/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Client -> relay.
const (
	EventRegister       = "register"
	EventOffer          = "offer"
	EventAnswer         = "answer"
	EventIceCandidate   = "ice-candidate"
	EventHangup         = "hangup"
	EventDecline        = "decline"
	EventBusy           = "busy"
	EventGetOnlineUsers = "get-online-users"
	EventPing           = "ping"
)

// Relay -> client.
const (
	EventRegistered   = "registered"
	EventIncomingCall = "incoming-call"
	EventCallAnswered = "call-answered"
	EventCallEnded    = "call-ended"
	EventCallDeclined = "call-declined"
	EventCallBusy     = "call-busy"
	EventUserOffline  = "user-offline"
	EventUserStatus   = "user-status"
	EventOnlineUsers  = "online-users"
	EventError        = "error"
	EventPong         = "pong"
)

// Error codes carried by EventError.
const (
	CodeBadPayload    = "BAD_PAYLOAD"
	CodeNotRegistered = "NOT_REGISTERED"
	CodeAuthFailed    = "AUTH_FAILED"
	CodeRateLimited   = "RATE_LIMITED"
	CodeUnknownCall   = "UNKNOWN_CALL"
	CodeUnknownEvent  = "UNKNOWN_EVENT"
)

var ErrMalformed = errors.New("malformed message")

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps payload into an envelope. A nil payload becomes {}.
func Encode(event string, payload any) ([]byte, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s without data", ErrMalformed, e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Event, err)
	}
	return nil
}

type Register struct {
	UserID    domain.UserID `json:"userId"`
	AuthToken string        `json:"authToken"`
}

type Registered struct {
	UserID domain.UserID `json:"userId"`
}

type Offer struct {
	CallID    domain.CallID             `json:"callId"`
	PeerID    domain.UserID             `json:"peerId"`
	SDP       webrtc.SessionDescription `json:"sdp"`
	MediaKind domain.MediaKind          `json:"mediaKind"`
}

type Answer struct {
	CallID domain.CallID             `json:"callId"`
	SDP    webrtc.SessionDescription `json:"sdp"`
}

type CallRef struct {
	CallID domain.CallID `json:"callId"`
}

type IncomingCall struct {
	CallID   domain.CallID             `json:"callId"`
	CallerID domain.UserID             `json:"callerId"`
	CallType domain.MediaKind          `json:"callType"`
	Offer    webrtc.SessionDescription `json:"offer"`
}

type CallAnswered struct {
	CallID domain.CallID             `json:"callId"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type IceCandidate struct {
	CallID    domain.CallID `json:"callId"`
	Candidate Candidate     `json:"candidate"`
}

type UserOffline struct {
	CallID       domain.CallID `json:"callId,omitempty"`
	TargetUserID domain.UserID `json:"targetUserId"`
}

type UserStatus struct {
	UserID domain.UserID   `json:"userId"`
	Status domain.Presence `json:"status"`
}

type OnlineUsers struct {
	Users []domain.UserID `json:"users"`
}

type Error struct {
	CallID  domain.CallID `json:"callId,omitempty"`
	Code    string        `json:"code"`
	Message string        `json:"message"`
}

// Candidate mirrors webrtc.ICECandidateInit field for field.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

func CandidateFromPion(c webrtc.ICECandidateInit) Candidate {
	return Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func (c Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func validateDescription(d webrtc.SessionDescription, want webrtc.SDPType) error {
	if d.Type != want {
		return fmt.Errorf("%w: expected %s description, got %s", ErrMalformed, want, d.Type)
	}
	if d.SDP == "" {
		return fmt.Errorf("%w: empty sdp", ErrMalformed)
	}
	return nil
}

func (o Offer) Validate() error {
	if o.CallID == "" || o.PeerID == "" {
		return fmt.Errorf("%w: offer needs callId and peerId", ErrMalformed)
	}
	if _, err := domain.ParseMediaKind(string(o.MediaKind)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return validateDescription(o.SDP, webrtc.SDPTypeOffer)
}

func (a Answer) Validate() error {
	if a.CallID == "" {
		return fmt.Errorf("%w: answer needs callId", ErrMalformed)
	}
	return validateDescription(a.SDP, webrtc.SDPTypeAnswer)
}

func (c IceCandidate) Validate() error {
	if c.CallID == "" {
		return fmt.Errorf("%w: ice-candidate needs callId", ErrMalformed)
	}
	if c.Candidate.Candidate == "" && c.Candidate.SDPMid == nil && c.Candidate.SDPMLineIndex == nil {
		return fmt.Errorf("%w: empty candidate", ErrMalformed)
	}
	return nil
}
