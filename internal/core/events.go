package core

import (
	"github.com/dkeye/Dial/internal/domain"
	"github.com/pion/webrtc/v4"
)

// SignalingEvent is one inbound relay event. The set of kinds is closed.
type SignalingEvent interface {
	signalingEvent()
}

// CallScoped is implemented by events that belong to a single call.
type CallScoped interface {
	SignalingEvent
	Call() domain.CallID
}

type Connected struct{}

type Disconnected struct {
	Err error
}

type RegistrationAck struct {
	UserID domain.UserID
}

type IncomingCall struct {
	CallID    domain.CallID
	CallerID  domain.UserID
	MediaKind domain.MediaKind
	Offer     webrtc.SessionDescription
}

type CallAnswered struct {
	CallID domain.CallID
	Answer webrtc.SessionDescription
}

type CallEnded struct {
	CallID domain.CallID
}

type CallDeclined struct {
	CallID domain.CallID
}

type CallBusy struct {
	CallID domain.CallID
}

type PeerOffline struct {
	CallID domain.CallID
	PeerID domain.UserID
}

type IceCandidate struct {
	CallID    domain.CallID
	Candidate webrtc.ICECandidateInit
}

// Error is a relay-side rejection. CallID is empty for errors not tied to a call.
type Error struct {
	CallID  domain.CallID
	Code    string
	Message string
}

// MalformedCall reports a call-scoped frame whose payload failed validation.
type MalformedCall struct {
	CallID domain.CallID
	Event  string
	Detail string
}

type PresenceChanged struct {
	UserID domain.UserID
	Online bool
}

type OnlineUsers struct {
	Users []domain.UserID
}

func (Connected) signalingEvent()       {}
func (Disconnected) signalingEvent()    {}
func (RegistrationAck) signalingEvent() {}
func (IncomingCall) signalingEvent()    {}
func (CallAnswered) signalingEvent()    {}
func (CallEnded) signalingEvent()       {}
func (CallDeclined) signalingEvent()    {}
func (CallBusy) signalingEvent()        {}
func (PeerOffline) signalingEvent()     {}
func (IceCandidate) signalingEvent()    {}
func (Error) signalingEvent()           {}
func (MalformedCall) signalingEvent()   {}
func (PresenceChanged) signalingEvent() {}
func (OnlineUsers) signalingEvent()     {}

func (e IncomingCall) Call() domain.CallID  { return e.CallID }
func (e CallAnswered) Call() domain.CallID  { return e.CallID }
func (e CallEnded) Call() domain.CallID     { return e.CallID }
func (e CallDeclined) Call() domain.CallID  { return e.CallID }
func (e CallBusy) Call() domain.CallID      { return e.CallID }
func (e PeerOffline) Call() domain.CallID   { return e.CallID }
func (e IceCandidate) Call() domain.CallID  { return e.CallID }
func (e MalformedCall) Call() domain.CallID { return e.CallID }
